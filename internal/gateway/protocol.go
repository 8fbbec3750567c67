package gateway

import "strings"

// subprotocolsByVersion enumerates the `Sec-WebSocket-Protocol` values
// a charger may offer for each normalized version (§4.H).
var subprotocolsByVersion = map[string][]string{
	"1.6J":  {"ocpp1.6", "ocpp1.6j"},
	"2.0.1": {"ocpp2.0.1"},
	"2.1":   {"ocpp2.1"},
}

// parseSubprotocols splits the raw `Sec-WebSocket-Protocol` header
// value (which may be a single comma-separated value or repeated
// headers already joined by the HTTP layer) into individual tokens.
func parseSubprotocols(header string) []string {
	if header == "" {
		return nil
	}
	raw := strings.Split(header, ",")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// negotiateSubprotocol picks the accepted subprotocol for version from
// the client's offered list, per §4.H: the client must offer at least
// one subprotocol and the accepted value must be a member of the
// version's allowed set. ok is false on no offer or no match.
func negotiateSubprotocol(version string, offered []string) (string, bool) {
	if len(offered) == 0 {
		return "", false
	}
	allowed := subprotocolsByVersion[version]
	for _, want := range allowed {
		for _, got := range offered {
			if strings.EqualFold(want, got) {
				return want, true
			}
		}
	}
	return "", false
}
