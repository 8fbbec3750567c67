package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueuePendingRespectsLimit(t *testing.T) {
	c := &conn{}

	assert.True(t, c.enqueuePending([]byte("a"), 2))
	assert.True(t, c.enqueuePending([]byte("b"), 2))
	assert.False(t, c.enqueuePending([]byte("c"), 2), "third frame must overflow a limit of 2")
}

func TestTakePendingDrainsAndMarksDraining(t *testing.T) {
	c := &conn{}
	c.enqueuePending([]byte("a"), 10)
	c.enqueuePending([]byte("b"), 10)

	assert.False(t, c.isDraining())
	frames := c.takePending()
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, frames)
	assert.True(t, c.isDraining())

	assert.Empty(t, c.takePending(), "a second drain must see nothing buffered")
}
