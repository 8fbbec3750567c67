package auth

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"time"
)

// Fingerprint returns the normalized (colons stripped, upper-case)
// SHA-256 fingerprint of a peer certificate (§4.F.4).
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return strings.ToUpper(strings.ReplaceAll(hex.EncodeToString(sum[:]), ":", ""))
}

// matchesMTLS reports whether cert satisfies any non-revoked, currently
// valid binding on the identity, checking the revocation KV flag and
// the identity's own revoked-fingerprint list, and matching by any of
// fingerprint / subject / SAN / serial (§4.F.4).
func matchesMTLS(id *Identity, cert *x509.Certificate, now time.Time, revokedInKV bool) bool {
	fingerprint := Fingerprint(cert)
	if revokedInKV {
		return false
	}
	for _, revoked := range id.RevokedFingerprints {
		if strings.EqualFold(revoked, fingerprint) {
			return false
		}
	}

	serial := cert.SerialNumber.String()
	san := append([]string{}, cert.DNSNames...)
	san = append(san, cert.EmailAddresses...)

	for _, binding := range id.MTLSBindings {
		if binding.Revoked {
			continue
		}
		if !binding.ValidFrom.IsZero() && now.Before(binding.ValidFrom) {
			continue
		}
		if !binding.ValidTo.IsZero() && now.After(binding.ValidTo) {
			continue
		}

		if strings.EqualFold(binding.Fingerprint, fingerprint) {
			return true
		}
		if binding.Subject != "" && binding.Subject == cert.Subject.CommonName {
			return true
		}
		if binding.Serial != "" && binding.Serial == serial {
			return true
		}
		for _, bsan := range binding.SAN {
			for _, csan := range san {
				if strings.EqualFold(bsan, csan) {
					return true
				}
			}
		}
	}
	return false
}
