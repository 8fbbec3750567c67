// Package auth implements the identity lookup, protocol/IP allow-listing,
// and basic/token/mTLS authentication pipeline (§4.F).
package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
)

// BasicCredential is the salted-hash material for basic auth (§4.F.4).
type BasicCredential struct {
	Username   string `json:"username"`
	SecretHash string `json:"secretHash"`
	SecretSalt string `json:"secretSalt"`
	Algorithm  string `json:"algorithm"` // "sha256" (default) | "sha512"
}

// TokenCredential is the bearer/API-key auth material. Algorithm
// "sha256"/"sha512" (default) compares a salted hash of the presented
// token against TokenHash; Algorithm "jwt" instead verifies the
// presented token as an HMAC-signed JWT using JWTSecret and compares
// its "sub" claim to the charge point id.
type TokenCredential struct {
	TokenHash string `json:"tokenHash,omitempty"`
	Salt      string `json:"salt,omitempty"`
	Algorithm string `json:"algorithm"`
	JWTSecret string `json:"jwtSecret,omitempty"`
}

// MTLSBinding is one certificate binding accepted for an identity.
type MTLSBinding struct {
	Fingerprint string    `json:"fingerprint"` // normalized: colons stripped, upper-case
	Subject     string    `json:"subject"`
	SAN         []string  `json:"san"`
	Serial      string    `json:"serial"`
	ValidFrom   time.Time `json:"validFrom"`
	ValidTo     time.Time `json:"validTo"`
	Revoked     bool      `json:"revoked"`
}

// Identity is the record looked up for a charge point id (§4.F.1, KV
// key `chargers:{id}`).
type Identity struct {
	ChargePointID    string            `json:"chargePointId"`
	StationID        string            `json:"stationId"`
	TenantID         string            `json:"tenantId"`
	Status           string            `json:"status"` // must be "active"
	AllowedProtocols []string          `json:"allowedProtocols,omitempty"`
	AllowedTypes     []string          `json:"allowedTypes,omitempty"` // subset of {basic, token, mtls}
	IPAllowlist      []string          `json:"ipAllowlist,omitempty"`  // verbatim IPs or CIDRs
	Basic            *BasicCredential  `json:"basic,omitempty"`
	Token            *TokenCredential  `json:"token,omitempty"`
	MTLSBindings     []MTLSBinding     `json:"mtlsBindings,omitempty"`
	RevokedFingerprints []string       `json:"revokedFingerprints,omitempty"`
}

// IdentityStore resolves a charge point id to its Identity record.
type IdentityStore interface {
	Lookup(ctx context.Context, chargePointID string) (*Identity, bool, error)
}

// KVIdentityStore reads identities from `chargers:{id}` in the shared
// KV store (§6).
type KVIdentityStore struct {
	store kv.Store
}

// NewKVIdentityStore builds an IdentityStore backed by store.
func NewKVIdentityStore(store kv.Store) *KVIdentityStore {
	return &KVIdentityStore{store: store}
}

func (k *KVIdentityStore) Lookup(ctx context.Context, chargePointID string) (*Identity, bool, error) {
	raw, err := k.store.Get(ctx, "chargers:"+chargePointID)
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, false, err
	}
	return &id, true, nil
}
