// Package gateway implements the connection manager and gateway loop
// (§4.H): WebSocket upgrade, path/subprotocol negotiation, the
// socket↔metadata arena, and per-frame fan-out through the envelope
// codec, schema validator, and version adapters.
package gateway

import (
	"regexp"
	"strings"
)

var chargePointIDPattern = regexp.MustCompile(`^[\w-]{3,}$`)

// suspiciousPathFragments are scanned case-insensitively against the
// raw request path to flood-log and reject common scanner probes
// before they ever reach version/id parsing (§4.H).
var suspiciousPathFragments = []string{
	".env",
	"/etc/passwd",
	"admin",
	"login",
	"wp-admin",
	"phpmyadmin",
	"xmlrpc",
	"select * from",
	"select*from",
	"..",
}

// ParsedPath is the outcome of parsing `/ocpp/{version}/{chargePointId}`.
type ParsedPath struct {
	Version       string // normalized
	ChargePointID string
}

// IsSuspicious reports whether rawPath matches one of the known
// scanner/probe fragments (§4.H).
func IsSuspicious(rawPath string) bool {
	lower := strings.ToLower(rawPath)
	for _, fragment := range suspiciousPathFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// ParsePath parses basePath-prefixed paths of the shape
// `{basePath}/{version}/{chargePointId}`, normalizing version and
// validating the charge point id pattern. ok is false for any
// malformed path, unsupported version, or invalid id.
func ParsePath(basePath, rawPath string, normalize func(string) string, supportedVersions map[string]bool) (ParsedPath, bool) {
	trimmed := strings.TrimPrefix(rawPath, basePath)
	trimmed = strings.Trim(trimmed, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ParsedPath{}, false
	}

	version := normalize(parts[0])
	if !supportedVersions[version] {
		return ParsedPath{}, false
	}

	chargePointID := parts[1]
	if !chargePointIDPattern.MatchString(chargePointID) {
		return ParsedPath{}, false
	}

	return ParsedPath{Version: version, ChargePointID: chargePointID}, true
}
