package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
)

func TestIsSuspicious(t *testing.T) {
	assert.True(t, IsSuspicious("/ocpp/../etc/passwd"))
	assert.True(t, IsSuspicious("/wp-admin/setup.php"))
	assert.True(t, IsSuspicious("/.env"))
	assert.False(t, IsSuspicious("/ocpp/1.6/CP-001"))
}

func TestParsePath(t *testing.T) {
	supported := supportedVersions

	parsed, ok := ParsePath("/ocpp", "/ocpp/1.6/CP-001", schema.NormalizeVersion, supported)
	assert.True(t, ok)
	assert.Equal(t, "1.6J", parsed.Version)
	assert.Equal(t, "CP-001", parsed.ChargePointID)

	_, ok = ParsePath("/ocpp", "/ocpp/9.9/CP-001", schema.NormalizeVersion, supported)
	assert.False(t, ok, "unsupported version must be rejected")

	_, ok = ParsePath("/ocpp", "/ocpp/1.6/", schema.NormalizeVersion, supported)
	assert.False(t, ok, "missing charge point id must be rejected")

	_, ok = ParsePath("/ocpp", "/ocpp/1.6/a b", schema.NormalizeVersion, supported)
	assert.False(t, ok, "charge point id with a space must be rejected")
}
