package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStatus_NeverMovesBackward(t *testing.T) {
	_, err := MessageDelivered.Transition(MessageInTransit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))

	_, err = MessageInTransit.Transition(MessagePending)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = MessageExpired.Transition(MessagePending)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestMessageStatus_ExpiredReachableFromOpenStates(t *testing.T) {
	for _, s := range []MessageStatus{MessagePending, MessageInTransit} {
		next, err := s.Transition(MessageExpired)
		require.NoError(t, err, s)
		assert.Equal(t, MessageExpired, next)
	}
}

func TestMessageStatus_RetryOnlyFromFailed(t *testing.T) {
	next, err := MessageFailed.Transition(MessagePending)
	require.NoError(t, err)
	assert.Equal(t, MessagePending, next)

	_, err = MessageDelivered.Transition(MessagePending)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestSwapStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to SwapStatus
		ok       bool
	}{
		{SwapInitiated, SwapFunded, true},
		{SwapFunded, SwapRedeemed, true},
		{SwapFunded, SwapRefunded, true},
		{SwapExpired, SwapRefunded, true},
		{SwapInitiated, SwapCancelled, true},
		{SwapFunded, SwapInitiated, false},
		{SwapRedeemed, SwapRefunded, false},
		{SwapRefunded, SwapExpired, false},
		{SwapExpired, SwapFunded, false},
		{SwapCancelled, SwapFunded, false},
	}
	for _, c := range cases {
		_, err := c.from.Transition(c.to)
		if c.ok {
			assert.NoError(t, err, "%s -> %s", c.from, c.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidStateTransition, "%s -> %s", c.from, c.to)
		}
	}
}

func TestTransferStatus_TerminalStates(t *testing.T) {
	assert.True(t, TransferCompleted.Terminal())
	assert.True(t, TransferFailed.Terminal())
	assert.False(t, TransferPending.Terminal())

	_, err := TransferCompleted.Transition(TransferFailed)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = TransferInProgress.Transition(TransferPending)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestBridgeMessage_Expired(t *testing.T) {
	created := time.Unix(1_700_000_000, 0)
	msg := &BridgeMessage{Status: MessageInTransit, CreatedAt: created.Unix()}

	assert.False(t, msg.Expired(created.Add(time.Hour), time.Hour))
	assert.True(t, msg.Expired(created.Add(time.Hour+time.Second), time.Hour))

	msg.Status = MessageDelivered
	assert.False(t, msg.Expired(created.Add(2*time.Hour), time.Hour))

	msg.Status = MessagePending
	msg.SubmittedAt = created.Add(time.Hour).Unix()
	assert.False(t, msg.Expired(created.Add(2*time.Hour), time.Hour), "window restarts at SubmittedAt")
	assert.True(t, msg.Expired(created.Add(2*time.Hour+time.Second), time.Hour))
}

func TestAtomicSwap_LegBackfillsOldRecords(t *testing.T) {
	s := &AtomicSwap{InitiatorChain: 1, ParticipantChain: 137}
	leg := s.Leg(137)
	require.NotNil(t, leg)
	assert.Equal(t, LegPending, leg.Status)
	leg.Status = LegLocked
	assert.Equal(t, LegLocked, s.Legs[1].Status)
	assert.Equal(t, int64(1), s.Legs[0].ChainID)
	assert.Nil(t, s.Leg(56))
}

func TestAtomicSwap_TimelockPassed(t *testing.T) {
	s := &AtomicSwap{Timelock: 1_700_000_300}
	assert.False(t, s.TimelockPassed(time.Unix(1_700_000_300, 0)))
	assert.True(t, s.TimelockPassed(time.Unix(1_700_000_301, 0)))
}
