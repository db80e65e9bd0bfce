package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crossbridge/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMessages struct {
	inTransit []*types.BridgeMessage
	delivered map[string]bool
	failing   map[string]bool
	processed []string
}

func (f *fakeMessages) ListInTransit(context.Context) ([]*types.BridgeMessage, error) {
	return f.inTransit, nil
}

func (f *fakeMessages) Process(_ context.Context, id string) (bool, error) {
	f.processed = append(f.processed, id)
	if f.failing[id] {
		return false, types.NewError(types.KindProviderUnavailable, "rpc down")
	}
	return f.delivered[id], nil
}

type fakeTransfers struct {
	inProgress []*types.CrossChainTransfer
	outcome    map[string]types.TransferStatus
	completed  []string
}

func (f *fakeTransfers) ListTransfers(_ context.Context, status types.TransferStatus) ([]*types.CrossChainTransfer, error) {
	if status != types.TransferInProgress {
		return nil, errors.New("unexpected status filter")
	}
	return f.inProgress, nil
}

func (f *fakeTransfers) Complete(_ context.Context, id string) (*types.CrossChainTransfer, error) {
	f.completed = append(f.completed, id)
	status, ok := f.outcome[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "transfer %s not found", id)
	}
	return &types.CrossChainTransfer{TransferID: id, Status: status}, nil
}

func TestMessageConfirmer_ConfirmOnce(t *testing.T) {
	msgs := &fakeMessages{
		inTransit: []*types.BridgeMessage{{MessageID: "m1"}, {MessageID: "m2"}, {MessageID: "m3"}},
		delivered: map[string]bool{"m1": true},
		failing:   map[string]bool{"m2": true},
	}
	transfers := &fakeTransfers{
		inProgress: []*types.CrossChainTransfer{{TransferID: "t1"}, {TransferID: "t2"}, {TransferID: "t3"}},
		outcome: map[string]types.TransferStatus{
			"t1": types.TransferCompleted,
			"t2": types.TransferInProgress,
		},
	}
	c := NewMessageConfirmer(msgs, transfers, time.Second, zap.NewNop().Sugar())

	delivered, settled := c.ConfirmOnce(context.Background())
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, settled)
	assert.Equal(t, []string{"m1", "m2", "m3"}, msgs.processed)
	assert.Equal(t, []string{"t1", "t2", "t3"}, transfers.completed)
}

func TestMessageConfirmer_WithoutTransfers(t *testing.T) {
	msgs := &fakeMessages{
		inTransit: []*types.BridgeMessage{{MessageID: "m1"}},
		delivered: map[string]bool{"m1": true},
	}
	c := NewMessageConfirmer(msgs, nil, time.Second, zap.NewNop().Sugar())

	delivered, settled := c.ConfirmOnce(context.Background())
	assert.Equal(t, 1, delivered)
	assert.Zero(t, settled)
}

type fakePruner struct {
	before time.Time
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 3, nil
}

func TestExpirySweeper_RunsEverySweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	pruner := &fakePruner{}
	s := NewExpirySweeper(time.Second, zap.NewNop().Sugar(),
		Sweep{Name: "messages", Run: func(context.Context) (int, error) { return 2, nil }},
		Sweep{Name: "swaps", Run: func(context.Context) (int, error) { return 0, errors.New("store down") }},
		ArchiveSweep(pruner, 24*time.Hour, func() time.Time { return now }),
	)

	counts := s.SweepOnce(context.Background())
	assert.Equal(t, map[string]int{"messages": 2, "swaps": 0, "gas archive": 3}, counts)
	assert.Equal(t, now.Add(-24*time.Hour), pruner.before)
}

type countingPoller struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPoller) Run(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func TestWorker_gasPoller_CancelIsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &countingPoller{}

	assert.NoError(t, Worker_gasPoller(ctx, p, zap.NewNop().Sugar()))
	assert.Equal(t, 1, p.calls)
}

func TestEvery_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	err := every(ctx, time.Millisecond, func(context.Context) {
		runs++
		if runs == 3 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, runs, 3)
}
