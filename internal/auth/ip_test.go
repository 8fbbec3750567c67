package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeIPStripsPortAndBrackets(t *testing.T) {
	require.Equal(t, "10.0.0.5", normalizeIP("10.0.0.5:1234").String())
	require.Equal(t, "::1", normalizeIP("[::1]:1234").String())
}

func TestNormalizeIPFoldsIPv4MappedIPv6(t *testing.T) {
	require.Equal(t, "10.0.0.5", normalizeIP("::ffff:10.0.0.5").String())
}

func TestNormalizeIPStripsZone(t *testing.T) {
	ip := normalizeIP("fe80::1%eth0")
	require.NotNil(t, ip)
	require.Equal(t, "fe80::1", ip.String())
}

func TestMatchesAllowlistCIDR(t *testing.T) {
	ip := normalizeIP("192.168.1.42")
	require.True(t, matchesAllowlist(ip, []string{"192.168.1.0/24"}))
	require.False(t, matchesAllowlist(ip, []string{"10.0.0.0/8"}))
}

func TestMatchesAllowlistEmptyIsUnrestricted(t *testing.T) {
	require.True(t, matchesAllowlist(nil, nil))
}

func TestClientIPUsesLeftmostXFFWhenTrusted(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	ip := clientIP(h, "10.0.0.1:5555", true)
	require.Equal(t, "203.0.113.5", ip.String())
}

func TestClientIPIgnoresXFFWhenNotTrusted(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-For", "203.0.113.5")
	ip := clientIP(h, "10.0.0.1:5555", false)
	require.Equal(t, "10.0.0.1", ip.String())
}
