package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crossbridge/hashing"
	"crossbridge/memstore"
	"crossbridge/registry"
	"crossbridge/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b2"
	carol = "0x00000000000000000000000000000000000000c3"
)

// fakeHTLC behaves like the contract: each leg moves once and a repeated
// call reverts.
type fakeHTLC struct {
	mu       sync.Mutex
	onchain  map[string]types.LegStatus
	failOnce map[string]error // keyed by op/chainID
	locks    []types.HTLCLeg
	claims   []int64
	refunds  []int64
	lockErr  error
	claimErr error
}

func (h *fakeHTLC) failNext(op string, chainID int64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failOnce == nil {
		h.failOnce = make(map[string]error)
	}
	h.failOnce[fmt.Sprintf("%s/%d", op, chainID)] = err
}

func (h *fakeHTLC) call(op, swapID string, chainID int64, from, to types.LegStatus, persistent error) error {
	if persistent != nil {
		return persistent
	}
	if err, ok := h.failOnce[fmt.Sprintf("%s/%d", op, chainID)]; ok {
		delete(h.failOnce, fmt.Sprintf("%s/%d", op, chainID))
		return err
	}
	if h.onchain == nil {
		h.onchain = make(map[string]types.LegStatus)
	}
	key := fmt.Sprintf("%s/%d", swapID, chainID)
	if cur := h.onchain[key]; cur != from {
		return fmt.Errorf("execution reverted: %s on chain %d, leg is %q", op, chainID, cur)
	}
	h.onchain[key] = to
	return nil
}

func (h *fakeHTLC) Lock(_ context.Context, leg types.HTLCLeg) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call("lock", leg.SwapID, leg.ChainID, "", types.LegLocked, h.lockErr); err != nil {
		return "", err
	}
	h.locks = append(h.locks, leg)
	return fmt.Sprintf("lock-%d", leg.ChainID), nil
}

func (h *fakeHTLC) Claim(_ context.Context, chainID int64, swapID string, _ []byte) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call("claim", swapID, chainID, types.LegLocked, types.LegClaimed, h.claimErr); err != nil {
		return "", err
	}
	h.claims = append(h.claims, chainID)
	return fmt.Sprintf("claim-%d", chainID), nil
}

func (h *fakeHTLC) Refund(_ context.Context, chainID int64, swapID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call("refund", swapID, chainID, types.LegLocked, types.LegRefunded, nil); err != nil {
		return "", err
	}
	h.refunds = append(h.refunds, chainID)
	return fmt.Sprintf("refund-%d", chainID), nil
}

func legStatuses(sw *types.AtomicSwap) []types.LegStatus {
	out := make([]types.LegStatus, 0, len(sw.Legs))
	for _, leg := range sw.Legs {
		out = append(out, leg.Status)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	e     *Engine
	htlc  *fakeHTLC
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.FromConfigs([]types.ChainConfig{
		{ChainID: 1, Name: "Ethereum", RPCURL: "http://eth", MaxGasPrice: 100},
		{ChainID: 137, Name: "Polygon", RPCURL: "http://polygon", MaxGasPrice: 100, MaxTimelock: 86400},
	})
	require.NoError(t, err)
	f := &fixture{htlc: &fakeHTLC{}, clock: &clock{now: time.Unix(1_700_000_000, 0)}}
	f.e = New(reg, memstore.New(), zap.NewNop().Sugar(), WithHTLC(f.htlc), WithClock(f.clock.Now))
	return f
}

func request(timelock int64) CreateRequest {
	return CreateRequest{
		Initiator:        alice,
		Participant:      bob,
		InitiatorChain:   1,
		ParticipantChain: 137,
		InitiatorAsset:   types.SwapAsset{Amount: "1000000000000000000", Decimals: 18},
		ParticipantAsset: types.SwapAsset{TokenAddress: "0x2791bca1f2de4661ed88a30c99a7a9449aa84174", Amount: "2500000000", Decimals: 6},
		TimelockSeconds:  timelock,
	}
}

func (f *fixture) funded(t *testing.T, timelock int64) (*types.AtomicSwap, string) {
	t.Helper()
	sw, secret, err := f.e.Create(context.Background(), request(timelock))
	require.NoError(t, err)
	_, err = f.e.Participate(context.Background(), sw.SwapID, bob)
	require.NoError(t, err)
	return sw, secret
}

func TestEngine_CreateCommitsToSecret(t *testing.T) {
	f := newFixture(t)

	sw, secret, err := f.e.Create(context.Background(), request(300))
	require.NoError(t, err)
	assert.Equal(t, types.SwapInitiated, sw.Status)
	assert.Equal(t, f.clock.Now().Unix()+300, sw.Timelock)

	raw, err := hexutil.Decode(secret)
	require.NoError(t, err)
	require.Len(t, raw, 32)
	h, _ := hashing.NewHasher(hashing.Keccak256)
	assert.Equal(t, h.Sum(raw).Hex(), sw.SecretHash)

	stored, err := f.e.Get(context.Background(), sw.SwapID)
	require.NoError(t, err)
	assert.NotContains(t, fmt.Sprintf("%+v", stored), secret[2:])
}

func TestEngine_CreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(r *CreateRequest){
		"below min timelock":   func(r *CreateRequest) { r.TimelockSeconds = 30 },
		"above target maximum": func(r *CreateRequest) { r.TimelockSeconds = 2 * 86400 },
		"same chain":           func(r *CreateRequest) { r.ParticipantChain = 1 },
		"bad initiator":        func(r *CreateRequest) { r.Initiator = "alice" },
		"self swap":            func(r *CreateRequest) { r.Participant = alice },
		"zero amount":          func(r *CreateRequest) { r.InitiatorAsset.Amount = "0" },
		"decimal amount":       func(r *CreateRequest) { r.ParticipantAsset.Amount = "2.5" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := request(300)
			mutate(&r)
			_, _, err := f.e.Create(context.Background(), r)
			assert.ErrorIs(t, err, types.ErrInvalidArgument)
		})
	}

	r := request(300)
	r.ParticipantChain = 999
	_, _, err := f.e.Create(context.Background(), r)
	assert.ErrorIs(t, err, types.ErrUnsupportedChain)
}

func TestEngine_RedeemSettlesBothLegs(t *testing.T) {
	f := newFixture(t)
	sw, secret := f.funded(t, 300)
	require.Len(t, f.htlc.locks, 2)
	assert.Equal(t, int64(1), f.htlc.locks[0].ChainID)
	assert.True(t, types.SameAddress(bob, f.htlc.locks[0].Counterparty))
	assert.Equal(t, int64(137), f.htlc.locks[1].ChainID)
	assert.True(t, types.SameAddress(alice, f.htlc.locks[1].Counterparty))

	redeemed, err := f.e.Redeem(context.Background(), sw.SwapID, secret)
	require.NoError(t, err)
	assert.Equal(t, types.SwapRedeemed, redeemed.Status)
	assert.Equal(t, []int64{1, 137}, f.htlc.claims)
	assert.Equal(t, []types.LegStatus{types.LegClaimed, types.LegClaimed}, legStatuses(redeemed))
	assert.Equal(t, "lock-137", redeemed.Legs[1].LockTx)
	assert.Equal(t, "claim-137", redeemed.Legs[1].SettleTx)

	_, err = f.e.Redeem(context.Background(), sw.SwapID, secret)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestEngine_RedeemRequiresMatchingSecret(t *testing.T) {
	f := newFixture(t)
	sw, _ := f.funded(t, 300)

	wrong := hexutil.Encode(make([]byte, 32))
	_, err := f.e.Redeem(context.Background(), sw.SwapID, wrong)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = f.e.Redeem(context.Background(), sw.SwapID, "0x1234")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	got, err := f.e.Get(context.Background(), sw.SwapID)
	require.NoError(t, err)
	assert.Equal(t, types.SwapFunded, got.Status)
	assert.Empty(t, f.htlc.claims)
}

func TestEngine_RedeemNotFundedRejected(t *testing.T) {
	f := newFixture(t)
	sw, secret, err := f.e.Create(context.Background(), request(300))
	require.NoError(t, err)

	_, err = f.e.Redeem(context.Background(), sw.SwapID, secret)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestEngine_ClaimFailureKeepsSwapFunded(t *testing.T) {
	f := newFixture(t)
	sw, secret := f.funded(t, 300)
	f.htlc.claimErr = types.NewError(types.KindProviderUnavailable, "polygon down")

	_, err := f.e.Redeem(context.Background(), sw.SwapID, secret)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)

	got, err := f.e.Get(context.Background(), sw.SwapID)
	require.NoError(t, err)
	assert.Equal(t, types.SwapFunded, got.Status)
}

func TestEngine_ExpiredSwapRefundsToInitiator(t *testing.T) {
	f := newFixture(t)
	sw, secret := f.funded(t, 300)

	f.clock.Advance(301 * time.Second)
	_, err := f.e.Redeem(context.Background(), sw.SwapID, secret)
	assert.ErrorIs(t, err, types.ErrTimelockExpired)

	got, err := f.e.Get(context.Background(), sw.SwapID)
	require.NoError(t, err)
	assert.Equal(t, types.SwapExpired, got.Status)

	_, err = f.e.Refund(context.Background(), sw.SwapID, bob)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	refunded, err := f.e.Refund(context.Background(), sw.SwapID, alice)
	require.NoError(t, err)
	assert.Equal(t, types.SwapRefunded, refunded.Status)
	assert.Equal(t, []int64{1, 137}, f.htlc.refunds)

	_, err = f.e.Refund(context.Background(), sw.SwapID, alice)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestEngine_RefundBeforeTimelock(t *testing.T) {
	f := newFixture(t)
	sw, _ := f.funded(t, 300)

	f.clock.Advance(300 * time.Second)
	_, err := f.e.Refund(context.Background(), sw.SwapID, alice)
	assert.ErrorIs(t, err, types.ErrTimelockNotExpired)
}

func TestEngine_RefundUnfundedSkipsChain(t *testing.T) {
	f := newFixture(t)
	sw, _, err := f.e.Create(context.Background(), request(300))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	refunded, err := f.e.Refund(context.Background(), sw.SwapID, alice)
	require.NoError(t, err)
	assert.Equal(t, types.SwapRefunded, refunded.Status)
	assert.Empty(t, f.htlc.refunds)
}

func TestEngine_ParticipantSetOnce(t *testing.T) {
	f := newFixture(t)
	r := request(300)
	r.Participant = ""
	sw, _, err := f.e.Create(context.Background(), r)
	require.NoError(t, err)

	_, err = f.e.Fund(context.Background(), sw.SwapID)
	assert.ErrorIs(t, err, types.ErrInvalidArgument, "nobody to fund with")

	_, err = f.e.Participate(context.Background(), sw.SwapID, alice)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	f.htlc.lockErr = errors.New("nonce too low")
	_, err = f.e.Participate(context.Background(), sw.SwapID, carol)
	require.Error(t, err)
	got, err := f.e.Get(context.Background(), sw.SwapID)
	require.NoError(t, err)
	assert.Empty(t, got.Participant, "a failed lock leaves the swap untouched")
	assert.Equal(t, types.SwapInitiated, got.Status)

	f.htlc.lockErr = nil
	funded, err := f.e.Participate(context.Background(), sw.SwapID, carol)
	require.NoError(t, err)
	assert.Equal(t, types.SwapFunded, funded.Status)
	assert.True(t, types.SameAddress(carol, funded.Participant))

	_, err = f.e.Participate(context.Background(), sw.SwapID, bob)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)

	mine, err := f.e.ListByUser(context.Background(), carol)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestEngine_OtherParticipantRejected(t *testing.T) {
	f := newFixture(t)
	sw, _, err := f.e.Create(context.Background(), request(300))
	require.NoError(t, err)

	_, err = f.e.Participate(context.Background(), sw.SwapID, carol)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestEngine_Cancel(t *testing.T) {
	f := newFixture(t)
	sw, _, err := f.e.Create(context.Background(), request(300))
	require.NoError(t, err)

	_, err = f.e.Cancel(context.Background(), sw.SwapID, bob)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	cancelled, err := f.e.Cancel(context.Background(), sw.SwapID, alice)
	require.NoError(t, err)
	assert.Equal(t, types.SwapCancelled, cancelled.Status)

	_, err = f.e.Participate(context.Background(), sw.SwapID, bob)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)

	funded, _ := f.funded(t, 300)
	_, err = f.e.Cancel(context.Background(), funded.SwapID, alice)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestEngine_CommandsAfterExpiry(t *testing.T) {
	f := newFixture(t)
	sw, _, err := f.e.Create(context.Background(), request(300))
	require.NoError(t, err)
	f.clock.Advance(301 * time.Second)

	_, err = f.e.Participate(context.Background(), sw.SwapID, bob)
	assert.ErrorIs(t, err, types.ErrTimelockExpired)
	_, err = f.e.Cancel(context.Background(), sw.SwapID, alice)
	assert.ErrorIs(t, err, types.ErrTimelockExpired)
}

func TestEngine_RedeemRefundRaceIsDeterministic(t *testing.T) {
	for _, tc := range []struct {
		name      string
		advance   time.Duration
		want      types.SwapStatus
		redeemErr error
		refundErr error
	}{
		{"at the timelock redeem wins", 300 * time.Second, types.SwapRedeemed, nil, types.ErrTimelockNotExpired},
		{"past the timelock refund wins", 301 * time.Second, types.SwapRefunded, types.ErrTimelockExpired, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			sw, secret := f.funded(t, 300)
			f.clock.Advance(tc.advance)

			var wg sync.WaitGroup
			var redeemErr, refundErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, redeemErr = f.e.Redeem(context.Background(), sw.SwapID, secret)
			}()
			go func() {
				defer wg.Done()
				_, refundErr = f.e.Refund(context.Background(), sw.SwapID, alice)
			}()
			wg.Wait()

			if tc.redeemErr == nil {
				assert.NoError(t, redeemErr)
			} else {
				assert.ErrorIs(t, redeemErr, tc.redeemErr)
			}
			if tc.refundErr == nil {
				assert.NoError(t, refundErr)
			} else {
				assert.ErrorIs(t, refundErr, tc.refundErr)
			}
			got, err := f.e.Get(context.Background(), sw.SwapID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
		})
	}
}

func TestEngine_LegFailureResumesWithoutResending(t *testing.T) {
	const (
		pending  = types.LegPending
		locked   = types.LegLocked
		claimed  = types.LegClaimed
		refunded = types.LegRefunded
	)
	down := types.NewError(types.KindProviderUnavailable, "rpc timeout")
	for _, tc := range []struct {
		op         string
		failing    int64
		status     types.SwapStatus
		afterFail  []types.LegStatus
		final      types.SwapStatus
		afterRetry []types.LegStatus
	}{
		{"lock", 1, types.SwapInitiated, []types.LegStatus{pending, pending}, types.SwapFunded, []types.LegStatus{locked, locked}},
		{"lock", 137, types.SwapInitiated, []types.LegStatus{locked, pending}, types.SwapFunded, []types.LegStatus{locked, locked}},
		{"claim", 1, types.SwapFunded, []types.LegStatus{locked, locked}, types.SwapRedeemed, []types.LegStatus{claimed, claimed}},
		{"claim", 137, types.SwapFunded, []types.LegStatus{claimed, locked}, types.SwapRedeemed, []types.LegStatus{claimed, claimed}},
		{"refund", 1, types.SwapExpired, []types.LegStatus{locked, locked}, types.SwapRefunded, []types.LegStatus{refunded, refunded}},
		{"refund", 137, types.SwapExpired, []types.LegStatus{refunded, locked}, types.SwapRefunded, []types.LegStatus{refunded, refunded}},
	} {
		t.Run(fmt.Sprintf("%s fails on chain %d", tc.op, tc.failing), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			var sw *types.AtomicSwap
			var secret string
			if tc.op == "lock" {
				var err error
				sw, secret, err = f.e.Create(ctx, request(300))
				require.NoError(t, err)
			} else {
				sw, secret = f.funded(t, 300)
			}
			if tc.op == "refund" {
				f.clock.Advance(301 * time.Second)
			}

			run := func() (*types.AtomicSwap, error) {
				switch tc.op {
				case "lock":
					return f.e.Participate(ctx, sw.SwapID, bob)
				case "claim":
					return f.e.Redeem(ctx, sw.SwapID, secret)
				default:
					return f.e.Refund(ctx, sw.SwapID, alice)
				}
			}

			f.htlc.failNext(tc.op, tc.failing, down)
			_, err := run()
			require.ErrorIs(t, err, types.ErrProviderUnavailable)

			saved, err := f.e.store.GetSwap(ctx, sw.SwapID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, saved.Status)
			assert.Equal(t, tc.afterFail, legStatuses(saved))

			// a resent leg would revert in the contract
			done, err := run()
			require.NoError(t, err)
			assert.Equal(t, tc.final, done.Status)
			assert.Equal(t, tc.afterRetry, legStatuses(done))

			saved, err = f.e.store.GetSwap(ctx, sw.SwapID)
			require.NoError(t, err)
			assert.Equal(t, tc.final, saved.Status)
			switch tc.op {
			case "lock":
				assert.Len(t, f.htlc.locks, 2)
				assert.True(t, types.SameAddress(bob, saved.Participant))
			case "claim":
				assert.Equal(t, []int64{1, 137}, f.htlc.claims)
			default:
				assert.Equal(t, []int64{1, 137}, f.htlc.refunds)
			}
		})
	}
}

func TestEngine_PartialClaimRefundsTheOtherLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sw, secret := f.funded(t, 300)

	f.htlc.failNext("claim", 137, types.NewError(types.KindProviderUnavailable, "rpc timeout"))
	_, err := f.e.Redeem(ctx, sw.SwapID, secret)
	require.Error(t, err)

	f.clock.Advance(301 * time.Second)
	_, err = f.e.Redeem(ctx, sw.SwapID, secret)
	assert.ErrorIs(t, err, types.ErrTimelockExpired)

	refunded, err := f.e.Refund(ctx, sw.SwapID, alice)
	require.NoError(t, err)
	assert.Equal(t, types.SwapRefunded, refunded.Status)
	assert.Equal(t, []types.LegStatus{types.LegClaimed, types.LegRefunded}, legStatuses(refunded))
	assert.Equal(t, []int64{137}, f.htlc.refunds)
}

func TestEngine_CancelRejectedWithLockedLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sw, _, err := f.e.Create(ctx, request(300))
	require.NoError(t, err)

	f.htlc.failNext("lock", 137, errors.New("nonce too low"))
	_, err = f.e.Participate(ctx, sw.SwapID, bob)
	require.Error(t, err)

	_, err = f.e.Cancel(ctx, sw.SwapID, alice)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)

	_, err = f.e.Participate(ctx, sw.SwapID, carol)
	assert.ErrorIs(t, err, types.ErrUnauthorized, "the participant was saved with the first lock")
}

func TestEngine_SettledSwapsPastTimelock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	redeemed, secret := f.funded(t, 300)
	_, err := f.e.Redeem(ctx, redeemed.SwapID, secret)
	require.NoError(t, err)
	cancelled, _, err := f.e.Create(ctx, request(300))
	require.NoError(t, err)
	_, err = f.e.Cancel(ctx, cancelled.SwapID, alice)
	require.NoError(t, err)

	f.clock.Advance(301 * time.Second)
	_, err = f.e.Redeem(ctx, redeemed.SwapID, secret)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition, "a redeemed swap reports its status")
	_, err = f.e.Redeem(ctx, cancelled.SwapID, secret)
	assert.ErrorIs(t, err, types.ErrTimelockExpired)
	_, err = f.e.Participate(ctx, cancelled.SwapID, bob)
	assert.ErrorIs(t, err, types.ErrTimelockExpired)
}

func TestEngine_ExpireSwapsAndListActive(t *testing.T) {
	f := newFixture(t)
	short, _, err := f.e.Create(context.Background(), request(120))
	require.NoError(t, err)
	long, _ := f.funded(t, 3600)

	active, err := f.e.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 2)

	f.clock.Advance(10 * time.Minute)
	active, err = f.e.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, long.SwapID, active[0].SwapID)

	n, err := f.e.ExpireSwaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.e.ExpireSwaps(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.e.store.GetSwap(context.Background(), short.SwapID)
	require.NoError(t, err)
	assert.Equal(t, types.SwapExpired, got.Status)
}
