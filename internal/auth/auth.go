package auth

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
)

// ErrUnauthenticated is returned for any step failure in §4.F; callers
// must not distinguish further (the spec deliberately collapses every
// failure mode into one outcome to avoid leaking which check failed).
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Request is everything the authenticator needs about one inbound
// connection attempt.
type Request struct {
	ChargePointID string
	Version       string // normalized wire version
	RemoteAddr    string // socket peer address
	Header        http.Header
	PeerCert      *x509.Certificate // nil if the connection is not TLS or presented no client cert
}

// Options configures the pipeline's config-derived defaults (§4.F).
type Options struct {
	RequireExplicitProtocolList bool
	DefaultAllowedModes         []string
	TrustedProxy                bool
	GlobalIPAllowlist           []string
	FloodLogCooldown            time.Duration
}

// Authenticator runs the ordered §4.F pipeline.
type Authenticator struct {
	identities IdentityStore
	store      kv.Store
	opts       Options
	now        func() time.Time
}

// New builds an Authenticator.
func New(identities IdentityStore, store kv.Store, opts Options) *Authenticator {
	return &Authenticator{identities: identities, store: store, opts: opts, now: time.Now}
}

func containsStr(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// Authenticate runs the §4.F steps in order, returning the resolved
// identity on success or ErrUnauthenticated (flood-logged) otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) (*Identity, error) {
	identity, ok, err := a.identities.Lookup(ctx, req.ChargePointID)
	if err != nil || !ok || identity.Status != "active" {
		a.logUnauthenticated(ctx, req)
		return nil, ErrUnauthenticated
	}

	if len(identity.AllowedProtocols) > 0 {
		if !containsStr(identity.AllowedProtocols, req.Version) {
			a.logUnauthenticated(ctx, req)
			return nil, ErrUnauthenticated
		}
	} else if a.opts.RequireExplicitProtocolList {
		a.logUnauthenticated(ctx, req)
		return nil, ErrUnauthenticated
	}

	ip := clientIP(req.Header, req.RemoteAddr, a.opts.TrustedProxy)
	if !matchesAllowlist(ip, a.opts.GlobalIPAllowlist) || !matchesAllowlist(ip, identity.IPAllowlist) {
		a.logUnauthenticated(ctx, req)
		return nil, ErrUnauthenticated
	}

	allowedModes := identity.AllowedTypes
	if len(allowedModes) == 0 {
		allowedModes = a.opts.DefaultAllowedModes
	}

	if ok := a.tryMTLS(ctx, identity, req, allowedModes); ok {
		return identity, nil
	}
	if ok := a.tryToken(identity, req, allowedModes); ok {
		return identity, nil
	}
	if ok := a.tryBasic(identity, req, allowedModes); ok {
		return identity, nil
	}

	a.logUnauthenticated(ctx, req)
	return nil, ErrUnauthenticated
}

func (a *Authenticator) tryBasic(identity *Identity, req Request, allowedModes []string) bool {
	if identity.Basic == nil || !containsStr(allowedModes, "basic") {
		return false
	}
	authz := req.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Basic ") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authz, "Basic "))
	if err != nil {
		return false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return false
	}
	username, password := parts[0], parts[1]
	if username != identity.Basic.Username && username != identity.ChargePointID {
		return false
	}
	computed := saltedHash(identity.Basic.Algorithm, identity.Basic.SecretSalt, password)
	return constantTimeEqual(computed, identity.Basic.SecretHash)
}

func (a *Authenticator) tryToken(identity *Identity, req Request, allowedModes []string) bool {
	if identity.Token == nil || !containsStr(allowedModes, "token") {
		return false
	}
	var presented string
	if authz := req.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		presented = strings.TrimPrefix(authz, "Bearer ")
	} else if apiKey := req.Header.Get("X-Api-Key"); apiKey != "" {
		presented = apiKey
	} else {
		return false
	}

	if identity.Token.Algorithm == "jwt" {
		return verifyJWTBearer(identity, presented)
	}

	computed := saltedHash(identity.Token.Algorithm, identity.Token.Salt, presented)
	return constantTimeEqual(computed, identity.Token.TokenHash)
}

// verifyJWTBearer validates presented as an HMAC-signed JWT under
// identity.Token.JWTSecret and requires its "sub" claim to name this
// charge point.
func verifyJWTBearer(identity *Identity, presented string) bool {
	token, err := jwt.Parse(presented, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(identity.Token.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	sub, _ := claims["sub"].(string)
	return sub == identity.ChargePointID
}

func (a *Authenticator) tryMTLS(ctx context.Context, identity *Identity, req Request, allowedModes []string) bool {
	if req.PeerCert == nil || !containsStr(allowedModes, "mtls") {
		return false
	}

	fingerprint := Fingerprint(req.PeerCert)
	revoked := a.isRevoked(ctx, fingerprint)
	return matchesMTLS(identity, req.PeerCert, a.now(), revoked)
}

func (a *Authenticator) isRevoked(ctx context.Context, fingerprint string) bool {
	_, err := a.store.Get(ctx, "revoked-certs:"+fingerprint)
	if err == nil {
		return true
	}
	if err == kv.ErrNotFound {
		return false
	}
	// KV degraded: fail closed (§7).
	return true
}

func (a *Authenticator) logUnauthenticated(ctx context.Context, req Request) {
	ip := clientIP(req.Header, req.RemoteAddr, a.opts.TrustedProxy)
	ipStr := ""
	if ip != nil {
		ipStr = ip.String()
	}
	key := "log:flood:unauthorized:" + ipStr
	claimed, err := a.store.SetNX(ctx, key, []byte("1"), a.opts.FloodLogCooldown)
	if err != nil || claimed {
		logrus.WithFields(logrus.Fields{
			"chargePointId": req.ChargePointID,
			"remoteAddr":    ipStr,
		}).Warn("rejected unauthenticated connection attempt")
	}
}
