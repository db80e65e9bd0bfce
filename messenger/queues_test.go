package messenger

import (
	"context"
	"testing"
	"time"

	"crossbridge/memstore"
	"crossbridge/relayers"
	"crossbridge/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMessenger_CreateQueueValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.CreateQueue(ctx, QueueRequest{ChainID: 56, MaxSize: 1})
	assert.ErrorIs(t, err, types.ErrUnsupportedChain)
	_, err = f.m.CreateQueue(ctx, QueueRequest{ChainID: 137, Priority: "Urgent", MaxSize: 1})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = f.m.CreateQueue(ctx, QueueRequest{ChainID: 137})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	q, err := f.m.CreateQueue(ctx, QueueRequest{ChainID: 137, MaxSize: 5})
	require.NoError(t, err)
	assert.Equal(t, types.PriorityMedium, q.Priority)
	assert.NotEmpty(t, q.QueueID)
}

func TestMessenger_SendFillsQueuesByPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low, err := f.m.CreateQueue(ctx, QueueRequest{ChainID: 137, Priority: types.PriorityLow, MaxSize: 2})
	require.NoError(t, err)
	high, err := f.m.CreateQueue(ctx, QueueRequest{ChainID: 137, Priority: types.PriorityHigh, MaxSize: 1})
	require.NoError(t, err)

	queues, err := f.m.Queues(ctx, 137)
	require.NoError(t, err)
	require.Len(t, queues, 2)
	assert.Equal(t, high.QueueID, queues[0].QueueID)

	var ids []string
	for j := 0; j < 3; j++ {
		msg, err := f.m.Send(ctx, transferRequest(), senderKey)
		require.NoError(t, err)
		ids = append(ids, msg.MessageID)
	}
	first, err := f.m.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, high.QueueID, first.QueueID)

	queued, err := f.m.QueuedMessages(ctx, low.QueueID)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, ids[1], queued[0].MessageID)
	assert.Equal(t, ids[2], queued[1].MessageID)

	_, err = f.m.Send(ctx, transferRequest(), senderKey)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	// the other direction has no queues and is not bounded
	back := transferRequest()
	back.SourceChain, back.TargetChain = 137, 1
	msg, err := f.m.Send(ctx, back, senderKey)
	require.NoError(t, err)
	assert.Empty(t, msg.QueueID)

	_, err = f.m.QueuedMessages(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMessenger_ClosedMessagesFreeQueueSlots(t *testing.T) {
	f := newFixture(t)
	f.relay.err = types.NewError(types.KindProviderUnavailable, "rpc down")
	ctx := context.Background()

	q, err := f.m.CreateQueue(ctx, QueueRequest{ChainID: 137, MaxSize: 1})
	require.NoError(t, err)

	msg, err := f.m.Send(ctx, transferRequest(), senderKey)
	require.Error(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, q.QueueID, msg.QueueID)

	_, err = f.m.Send(ctx, transferRequest(), senderKey)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = f.m.Cancel(ctx, msg.MessageID, senderKey)
	require.NoError(t, err)

	f.relay.err = nil
	next, err := f.m.Send(ctx, transferRequest(), senderKey)
	require.NoError(t, err)
	assert.Equal(t, q.QueueID, next.QueueID)

	_, err = f.m.Retry(ctx, msg.MessageID, senderKey)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestMessenger_ListInTransitByQueuePriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unqueued, err := f.m.Send(ctx, transferRequest(), senderKey)
	require.NoError(t, err)

	low, err := f.m.CreateQueue(ctx, QueueRequest{ChainID: 137, Priority: types.PriorityLow, MaxSize: 1})
	require.NoError(t, err)
	lowMsg, err := f.m.Send(ctx, transferRequest(), senderKey)
	require.NoError(t, err)
	require.Equal(t, low.QueueID, lowMsg.QueueID)

	critical, err := f.m.CreateQueue(ctx, QueueRequest{ChainID: 137, Priority: types.PriorityCritical, MaxSize: 1})
	require.NoError(t, err)
	critMsg, err := f.m.Send(ctx, transferRequest(), senderKey)
	require.NoError(t, err)
	require.Equal(t, critical.QueueID, critMsg.QueueID)

	msgs, err := f.m.ListInTransit(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, critMsg.MessageID, msgs[0].MessageID)
	assert.Equal(t, lowMsg.MessageID, msgs[1].MessageID)
	assert.Equal(t, unqueued.MessageID, msgs[2].MessageID)
}

func TestMessenger_RelayerRecord(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	store := memstore.New()
	reg := testRegistry(t)
	rels := relayers.New(reg, store, zap.NewNop().Sugar(), relayers.WithClock(clock))
	confirmer := &fakeConfirmer{check: types.TxCheck{Kind: types.ResultInsufficientConfirmations}}
	m := New(reg, store, confirmer, zap.NewNop().Sugar(),
		WithRelay(&fakeRelay{}),
		WithRelayers(rels),
		WithClock(clock),
	)
	ctx := context.Background()

	rel, err := rels.Register(ctx, relayers.RegisterRequest{
		Address:         "0x00000000000000000000000000000000000000c1",
		SupportedChains: []int64{137},
		FeePercentage:   2,
	})
	require.NoError(t, err)

	delivered, err := m.Send(ctx, transferRequest(), senderKey)
	require.NoError(t, err)
	assert.Equal(t, rel.RelayerID, delivered.Relayer)
	lost, err := m.Send(ctx, transferRequest(), senderKey)
	require.NoError(t, err)

	// nobody relays towards chain 1
	back := transferRequest()
	back.SourceChain, back.TargetChain = 137, 1
	orphan, err := m.Send(ctx, back, senderKey)
	require.NoError(t, err)
	assert.Empty(t, orphan.Relayer)

	confirmer.check = types.TxCheck{
		Kind:    types.ResultValid,
		Receipt: &types.Receipt{Success: true, GasUsed: 21_000, EffectiveGasPrice: 30},
	}
	done, err := m.Process(ctx, delivered.MessageID)
	require.NoError(t, err)
	require.True(t, done)

	now = now.Add(2 * time.Hour)
	got, err := m.Get(ctx, lost.MessageID)
	require.NoError(t, err)
	require.Equal(t, types.MessageExpired, got.Status)

	rec, err := rels.Get(ctx, rel.RelayerID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.TotalMessages)
	assert.EqualValues(t, 1, rec.Delivered)
	assert.EqualValues(t, 50, rec.SuccessRate)
}
