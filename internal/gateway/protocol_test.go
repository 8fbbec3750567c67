package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSubprotocols(t *testing.T) {
	assert.Equal(t, []string{"ocpp1.6", "ocpp2.0.1"}, parseSubprotocols("ocpp1.6, ocpp2.0.1"))
	assert.Nil(t, parseSubprotocols(""))
}

func TestNegotiateSubprotocol(t *testing.T) {
	accepted, ok := negotiateSubprotocol("1.6J", []string{"ocpp1.6"})
	assert.True(t, ok)
	assert.Equal(t, "ocpp1.6", accepted)

	_, ok = negotiateSubprotocol("1.6J", []string{"soap1.2"})
	assert.False(t, ok, "an unrelated subprotocol must not negotiate")

	_, ok = negotiateSubprotocol("1.6J", nil)
	assert.False(t, ok, "no offered subprotocol must not negotiate")

	accepted, ok = negotiateSubprotocol("2.0.1", []string{"ocpp1.6", "ocpp2.0.1"})
	assert.True(t, ok)
	assert.Equal(t, "ocpp2.0.1", accepted)
}
