package commandbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Bravos-hub/ocpp-gateway/internal/bus/inprocbus"
)

type fakeCloser struct {
	closedChargePointID string
	closedEpoch         int64
	closedReason        string
	calls               int
}

func (f *fakeCloser) CloseIfEpochStale(chargePointID string, newEpoch int64, reason string) {
	f.calls++
	f.closedChargePointID = chargePointID
	f.closedEpoch = newEpoch
	f.closedReason = reason
}

func TestSessionControlRoundTripDeliversForceDisconnect(t *testing.T) {
	b := inprocbus.New()
	ctx := context.Background()

	closer := &fakeCloser{}
	consumer := NewSessionControlConsumer(b, "node-b", closer)
	unsubscribe, err := consumer.Start(ctx)
	require.NoError(t, err)
	defer unsubscribe()

	publisher := NewSessionControlPublisher(b)
	require.NoError(t, publisher.PublishForceDisconnect(ctx, "node-b", ForceDisconnect{
		ChargePointID:  "CP-1",
		NewEpoch:       3,
		NewOwnerNodeID: "node-a",
		Reason:         "session transferred",
	}))

	require.Eventually(t, func() bool { return closer.calls == 1 }, time.Second, time.Millisecond)
	require.Equal(t, "CP-1", closer.closedChargePointID)
	require.EqualValues(t, 3, closer.closedEpoch)
}

func TestSessionControlOnlyReachesTargetNodeTopic(t *testing.T) {
	b := inprocbus.New()
	ctx := context.Background()

	closerB := &fakeCloser{}
	consumerB := NewSessionControlConsumer(b, "node-b", closerB)
	unsubB, err := consumerB.Start(ctx)
	require.NoError(t, err)
	defer unsubB()

	closerC := &fakeCloser{}
	consumerC := NewSessionControlConsumer(b, "node-c", closerC)
	unsubC, err := consumerC.Start(ctx)
	require.NoError(t, err)
	defer unsubC()

	publisher := NewSessionControlPublisher(b)
	require.NoError(t, publisher.PublishForceDisconnect(ctx, "node-b", ForceDisconnect{ChargePointID: "CP-1", NewEpoch: 2}))

	require.Eventually(t, func() bool { return closerB.calls == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 0, closerC.calls)
}
