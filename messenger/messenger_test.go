package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crossbridge/events"
	"crossbridge/memstore"
	"crossbridge/registry"
	"crossbridge/types"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRelay struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (r *fakeRelay) RelayMessage(_ context.Context, msg *types.BridgeMessage, _ uint64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return fmt.Sprintf("0x%064x", r.calls), nil
}

type fakeConfirmer struct {
	check types.TxCheck
	err   error
}

func (c *fakeConfirmer) CheckTransaction(context.Context, int64, string, uint64) (types.TxCheck, error) {
	return c.check, c.err
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Status)
	}
	return out
}

type fixture struct {
	m         *Messenger
	relay     *fakeRelay
	confirmer *fakeConfirmer
	publisher *capturePublisher
	now       time.Time
}

func testRegistry(t *testing.T) *registry.ChainRegistry {
	t.Helper()
	reg, err := registry.FromConfigs([]types.ChainConfig{
		{ChainID: 1, Name: "Ethereum", RPCURL: "http://eth", BaseGasPrice: 10, MaxGasPrice: 500, TimeoutPeriod: 3600, MinConfirmations: 12},
		{ChainID: 137, Name: "Polygon", RPCURL: "http://polygon", BaseGasPrice: 30, MaxGasPrice: 900, TimeoutPeriod: 1800, MinConfirmations: 64},
	})
	require.NoError(t, err)
	return reg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		relay:     &fakeRelay{},
		confirmer: &fakeConfirmer{check: types.TxCheck{Kind: types.ResultInsufficientConfirmations}},
		publisher: &capturePublisher{},
		now:       time.Unix(1_700_000_000, 0),
	}
	f.m = New(testRegistry(t), memstore.New(), f.confirmer, zap.NewNop().Sugar(),
		WithRelay(f.relay),
		WithPublisher(f.publisher),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

var (
	senderKey, _   = crypto.GenerateKey()
	strangerKey, _ = crypto.GenerateKey()
)

func transferRequest() SendRequest {
	return SendRequest{
		SourceChain: 1,
		TargetChain: 137,
		Recipient:   "0x00000000000000000000000000000000000000b0",
		Type:        types.MessageAssetTransfer,
		Payload:     []byte(`{"amount":"1.5"}`),
	}
}

func TestMessenger_SendSubmitsAndSigns(t *testing.T) {
	f := newFixture(t)

	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.NoError(t, err)
	assert.Equal(t, types.MessageInTransit, msg.Status)
	assert.Equal(t, uint64(1), msg.Nonce)
	assert.Equal(t, crypto.PubkeyToAddress(senderKey.PublicKey).Hex(), msg.Sender)
	assert.NotEmpty(t, msg.SubmitTxHash)
	assert.Equal(t, uint64(30), msg.GasPrice, "target base price without a pricer")
	assert.Len(t, msg.MessageID, 66)
	assert.True(t, f.m.Validate(msg))
	assert.Equal(t, []string{"Pending", "InTransit"}, f.publisher.statuses())

	second, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Nonce)
	assert.NotEqual(t, msg.MessageID, second.MessageID)
}

func TestMessenger_SendRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	req := transferRequest()
	req.TargetChain = 999
	_, err := f.m.Send(context.Background(), req, senderKey)
	assert.ErrorIs(t, err, types.ErrUnsupportedChain)

	req = transferRequest()
	req.Type = "Teleport"
	_, err = f.m.Send(context.Background(), req, senderKey)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	req = transferRequest()
	req.TargetChain = 1
	_, err = f.m.Send(context.Background(), req, senderKey)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = f.m.Send(context.Background(), transferRequest(), nil)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestMessenger_FailedSubmitStaysPendingThenCancel(t *testing.T) {
	f := newFixture(t)
	f.relay.err = types.NewError(types.KindProviderUnavailable, "rpc down")

	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.ErrorIs(t, err, types.ErrProviderUnavailable)
	require.NotNil(t, msg)

	stored, err := f.m.Get(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, types.MessagePending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Contains(t, stored.LastError, "rpc down")

	cancelled, err := f.m.Cancel(context.Background(), msg.MessageID, senderKey)
	require.NoError(t, err)
	assert.Equal(t, types.MessageFailed, cancelled.Status)

	_, err = f.m.Cancel(context.Background(), msg.MessageID, senderKey)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestMessenger_CancelOnlyBySender(t *testing.T) {
	f := newFixture(t)
	f.relay.err = errors.New("boom")

	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.ErrorIs(t, err, types.ErrProviderUnavailable, "foreign relay errors surface as provider errors")

	_, err = f.m.Cancel(context.Background(), msg.MessageID, strangerKey)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	stored, err := f.m.Get(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, types.MessagePending, stored.Status)
}

func TestMessenger_CancelInTransitRejected(t *testing.T) {
	f := newFixture(t)
	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.NoError(t, err)

	_, err = f.m.Cancel(context.Background(), msg.MessageID, senderKey)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestMessenger_ProcessDelivers(t *testing.T) {
	f := newFixture(t)
	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.NoError(t, err)

	ok, err := f.m.Process(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.False(t, ok)

	f.confirmer.check = types.TxCheck{
		Kind:    types.ResultValid,
		Receipt: &types.Receipt{Success: true, GasUsed: 50_000, EffectiveGasPrice: 40},
	}
	f.now = f.now.Add(time.Minute)
	ok, err = f.m.Process(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := f.m.Get(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, types.MessageDelivered, stored.Status)
	assert.Equal(t, f.now.Unix(), stored.ProcessedAt)
	assert.Equal(t, uint64(50_000), stored.GasUsed)
	assert.Equal(t, "2000000", stored.Fee)

	ok, err = f.m.Process(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.True(t, ok, "delivered stays delivered")
}

func TestMessenger_ProcessResubmitsPending(t *testing.T) {
	f := newFixture(t)
	f.relay.err = errors.New("timeout")
	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.Error(t, err)

	f.relay.err = nil
	ok, err := f.m.Process(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := f.m.Get(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, types.MessageInTransit, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
}

func TestMessenger_ProcessSurfacesProviderErrors(t *testing.T) {
	f := newFixture(t)
	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.NoError(t, err)

	f.confirmer.err = types.NewError(types.KindProviderUnavailable, "no endpoint")
	_, err = f.m.Process(context.Background(), msg.MessageID)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
}

func TestMessenger_LazyExpiryAndSweepAgree(t *testing.T) {
	f := newFixture(t)
	inTransit, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.NoError(t, err)
	f.relay.err = errors.New("down")
	pending, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.Error(t, err)

	// chain 1 times out after an hour
	f.now = f.now.Add(time.Hour)
	n, err := f.m.ExpirePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(time.Second)
	got, err := f.m.Get(context.Background(), inTransit.MessageID)
	require.NoError(t, err)
	assert.Equal(t, types.MessageExpired, got.Status)

	n, err = f.m.ExpirePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the pending message was left")

	got, err = f.m.Get(context.Background(), pending.MessageID)
	require.NoError(t, err)
	assert.Equal(t, types.MessageExpired, got.Status)

	_, err = f.m.Process(context.Background(), pending.MessageID)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestMessenger_Retry(t *testing.T) {
	f := newFixture(t)
	f.relay.err = errors.New("down")
	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.Error(t, err)

	_, err = f.m.Retry(context.Background(), msg.MessageID, senderKey)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition, "pending is not failed")

	_, err = f.m.Cancel(context.Background(), msg.MessageID, senderKey)
	require.NoError(t, err)

	_, err = f.m.Retry(context.Background(), msg.MessageID, strangerKey)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	f.relay.err = nil
	retried, err := f.m.Retry(context.Background(), msg.MessageID, senderKey)
	require.NoError(t, err)
	assert.Equal(t, types.MessageInTransit, retried.Status)
	assert.Zero(t, retried.GasUsed)
	assert.Empty(t, retried.LastError)
}

func TestMessenger_RetryKeepsCreatedAt(t *testing.T) {
	f := newFixture(t)
	f.relay.err = errors.New("down")
	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.Error(t, err)
	created := msg.CreatedAt
	_, err = f.m.Cancel(context.Background(), msg.MessageID, senderKey)
	require.NoError(t, err)

	f.now = f.now.Add(50 * time.Minute)
	f.relay.err = nil
	retried, err := f.m.Retry(context.Background(), msg.MessageID, senderKey)
	require.NoError(t, err)
	assert.Equal(t, created, retried.CreatedAt)
	assert.Equal(t, f.now.Unix(), retried.SubmittedAt)

	// an hour after the original send, but inside the retried window
	f.now = f.now.Add(30 * time.Minute)
	got, err := f.m.Get(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, types.MessageInTransit, got.Status)
	assert.Equal(t, created, got.CreatedAt)

	f.now = f.now.Add(31 * time.Minute)
	got, err = f.m.Get(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, types.MessageExpired, got.Status)
}

func TestMessenger_VerifyRejectsTampering(t *testing.T) {
	f := newFixture(t)
	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.NoError(t, err)
	require.NoError(t, f.m.Verify(msg))

	tampered := *msg
	tampered.Payload = []byte(`{"amount":"1500"}`)
	assert.ErrorIs(t, f.m.Verify(&tampered), types.ErrInvalidSignature)

	forged := *msg
	forged.Sender = crypto.PubkeyToAddress(strangerKey.PublicKey).Hex()
	assert.False(t, f.m.Validate(&forged))

	unknown := *msg
	unknown.TargetChain = 56
	assert.ErrorIs(t, f.m.Verify(&unknown), types.ErrUnsupportedChain)

	f.now = f.now.Add(2 * time.Hour)
	assert.False(t, f.m.Validate(msg))
}

type fixedPricer uint64

func (p fixedPricer) Predict(int64) (uint64, error) { return uint64(p), nil }

func TestMessenger_GasPrice(t *testing.T) {
	f := newFixture(t)
	WithPricer(fixedPricer(77))(f.m)

	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), msg.GasPrice)

	req := transferRequest()
	req.GasPrice = 5000
	msg, err = f.m.Send(context.Background(), req, senderKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), msg.GasPrice, "clamped to the target maximum")
}

func TestMessenger_Listings(t *testing.T) {
	f := newFixture(t)
	reqs := []SendRequest{transferRequest(), transferRequest(), transferRequest()}
	reqs[2].Type = types.MessageGeneric
	reqs[2].Recipient = "0x00000000000000000000000000000000000000c0"

	msgs, err := f.m.SendBatch(context.Background(), reqs, senderKey)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{msgs[0].Nonce, msgs[1].Nonce, msgs[2].Nonce})

	byRecipient, err := f.m.ListByRecipient(context.Background(), "0x00000000000000000000000000000000000000B0")
	require.NoError(t, err)
	assert.Len(t, byRecipient, 2)

	generic, err := f.m.ListByType(context.Background(), types.MessageGeneric)
	require.NoError(t, err)
	require.Len(t, generic, 1)
	assert.Equal(t, msgs[2].MessageID, generic[0].MessageID)

	inTransit, err := f.m.ListInTransit(context.Background())
	require.NoError(t, err)
	assert.Len(t, inTransit, 3)
}

func TestMessenger_WithoutRelayMessagesWait(t *testing.T) {
	f := newFixture(t)
	f.m.relay = nil

	msg, err := f.m.Send(context.Background(), transferRequest(), senderKey)
	require.NoError(t, err)
	assert.Equal(t, types.MessagePending, msg.Status)

	_, err = f.m.Process(context.Background(), msg.MessageID)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
}
