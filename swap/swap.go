// Package swap runs hash time-locked atomic swaps between two parties on
// two chains.
package swap

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"crossbridge/address"
	"crossbridge/events"
	"crossbridge/hashing"
	"crossbridge/keylock"
	"crossbridge/metrics"
	"crossbridge/registry"
	"crossbridge/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const secretSize = 32

type Engine struct {
	registry  *registry.ChainRegistry
	store     Store
	htlc      HTLC
	publisher events.Publisher
	metrics   *metrics.Metrics
	logs      *zap.SugaredLogger
	locks     *keylock.Locker
	now       func() time.Time
	random    io.Reader
}

type Option func(*Engine)

// WithHTLC enables the on-chain legs. Without it swaps are only tracked.
func WithHTLC(h HTLC) Option {
	return func(e *Engine) { e.htlc = h }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(reg *registry.ChainRegistry, store Store, logs *zap.SugaredLogger, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		store:    store,
		logs:     logs,
		locks:    keylock.New(),
		now:      time.Now,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type CreateRequest struct {
	Initiator        string
	Participant      string
	InitiatorChain   int64
	ParticipantChain int64
	InitiatorAsset   types.SwapAsset
	ParticipantAsset types.SwapAsset
	TimelockSeconds  int64
}

func lockKey(id string) string {
	return "swap:" + id
}

func checkAsset(side string, a types.SwapAsset) error {
	n, ok := new(big.Int).SetString(a.Amount, 10)
	if !ok || n.Sign() <= 0 {
		return types.NewError(types.KindInvalidArgument, "%s amount %q must be a positive integer in base units", side, a.Amount)
	}
	if a.TokenAddress != "" {
		if err := address.Validate(types.ChainKindEVM, a.TokenAddress); err != nil {
			return types.WrapError(types.KindInvalidArgument, err, "%s token", side)
		}
	}
	return nil
}

func checkTimelock(seconds int64, chains ...types.ChainConfig) error {
	for _, c := range chains {
		if seconds < c.MinTimelock || seconds > c.MaxTimelock {
			return types.NewError(types.KindInvalidArgument, "timelock of %ds is outside [%d, %d] for chain %d", seconds, c.MinTimelock, c.MaxTimelock, c.ChainID)
		}
	}
	return nil
}

// check validates a request and returns the initiator and participant chains.
func (e *Engine) check(req CreateRequest) (ic, pc types.ChainConfig, err error) {
	ic, err = e.registry.Supported(req.InitiatorChain)
	if err != nil {
		return ic, pc, err
	}
	pc, err = e.registry.Supported(req.ParticipantChain)
	if err != nil {
		return ic, pc, err
	}
	if ic.ChainID == pc.ChainID {
		return ic, pc, types.NewError(types.KindInvalidArgument, "both legs are on chain %d", ic.ChainID)
	}
	if err := address.Validate(ic.Kind, req.Initiator); err != nil {
		return ic, pc, err
	}
	if req.Participant != "" {
		if err := address.Validate(pc.Kind, req.Participant); err != nil {
			return ic, pc, err
		}
		if types.SameAddress(req.Participant, req.Initiator) {
			return ic, pc, types.NewError(types.KindInvalidArgument, "participant must differ from initiator")
		}
	}
	if err := checkAsset("initiator", req.InitiatorAsset); err != nil {
		return ic, pc, err
	}
	if err := checkAsset("participant", req.ParticipantAsset); err != nil {
		return ic, pc, err
	}
	return ic, pc, checkTimelock(req.TimelockSeconds, ic, pc)
}

// secret draws a fresh secret and hashes it with the initiator chain's algorithm.
func (e *Engine) secret(ic types.ChainConfig) (secret []byte, hash string, err error) {
	hasher, err := hashing.NewHasher(ic.HashAlgorithm)
	if err != nil {
		return nil, "", types.WrapError(types.KindInternal, err, "chain %d", ic.ChainID)
	}
	secret = make([]byte, secretSize)
	if _, err := io.ReadFull(e.random, secret); err != nil {
		return nil, "", fmt.Errorf("error generating swap secret: %w", err)
	}
	return secret, hasher.Sum(secret).Hex(), nil
}

// Create opens a swap and returns it with the secret. The secret is not
// kept; only its hash under the initiator chain's algorithm is stored.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*types.AtomicSwap, string, error) {
	ic, pc, err := e.check(req)
	if err != nil {
		return nil, "", err
	}
	secret, hash, err := e.secret(ic)
	if err != nil {
		return nil, "", err
	}
	sw, err := e.create(ctx, req, ic, pc, hash)
	if err != nil {
		return nil, "", err
	}
	return sw, hexutil.Encode(secret), nil
}

func (e *Engine) create(ctx context.Context, req CreateRequest, ic, pc types.ChainConfig, secretHash string) (*types.AtomicSwap, error) {
	now := e.now()
	sw := &types.AtomicSwap{
		SwapID:           uuid.New().String(),
		Initiator:        address.Normalize(ic.Kind, req.Initiator),
		InitiatorChain:   ic.ChainID,
		ParticipantChain: pc.ChainID,
		InitiatorAsset:   req.InitiatorAsset,
		ParticipantAsset: req.ParticipantAsset,
		SecretHash:       secretHash,
		Timelock:         now.Unix() + req.TimelockSeconds,
		Status:           types.SwapInitiated,
		CreatedAt:        now.Unix(),
		Legs: []types.SwapLeg{
			{ChainID: ic.ChainID, Status: types.LegPending},
			{ChainID: pc.ChainID, Status: types.LegPending},
		},
	}
	if req.Participant != "" {
		sw.Participant = address.Normalize(pc.Kind, req.Participant)
	}
	if err := e.store.CreateSwap(ctx, sw); err != nil {
		return nil, err
	}
	e.logs.Infow("swap created", "swapId", sw.SwapID, "initiatorChain", sw.InitiatorChain, "participantChain", sw.ParticipantChain, "timelock", sw.Timelock)
	e.notify(ctx, sw)
	return sw, nil
}

func (e *Engine) move(ctx context.Context, sw *types.AtomicSwap, to types.SwapStatus) error {
	prev := sw.Status
	next, err := prev.Transition(to)
	if err != nil {
		return err
	}
	sw.Status = next
	if err := e.store.UpdateSwap(ctx, sw, prev); err != nil {
		sw.Status = prev
		return err
	}
	e.logs.Infow("swap status changed", "swapId", sw.SwapID, "from", prev, "to", next)
	e.notify(ctx, sw)
	return nil
}

func (e *Engine) notify(ctx context.Context, sw *types.AtomicSwap) {
	e.metrics.Transition(string(events.EntitySwap), string(sw.Status))
	events.Emit(ctx, e.publisher, e.logs,
		events.New(events.EntitySwap, sw.SwapID, sw.InitiatorChain, string(sw.Status), e.now(), sw))
}

func expirable(sw *types.AtomicSwap) bool {
	return sw.Status == types.SwapInitiated || sw.Status == types.SwapFunded
}

// backfill gives records stored without per-leg state the state their
// status implies.
func backfill(sw *types.AtomicSwap) {
	if len(sw.Legs) != 0 {
		return
	}
	status := types.LegPending
	if sw.FundedAt != 0 {
		status = types.LegLocked
	}
	sw.Legs = []types.SwapLeg{
		{ChainID: sw.InitiatorChain, Status: status},
		{ChainID: sw.ParticipantChain, Status: status},
	}
}

// load reads a swap and applies lazy expiry; the caller holds its lock.
func (e *Engine) load(ctx context.Context, id string) (*types.AtomicSwap, error) {
	sw, err := e.store.GetSwap(ctx, id)
	if err != nil {
		return nil, err
	}
	backfill(sw)
	if expirable(sw) && sw.TimelockPassed(e.now()) {
		if err := e.move(ctx, sw, types.SwapExpired); err != nil {
			return nil, err
		}
	}
	return sw, nil
}

func timelockExpired(sw *types.AtomicSwap) error {
	return types.NewError(types.KindTimelockExpired, "swap %s expired at %s", sw.SwapID, time.Unix(sw.Timelock, 0).UTC().Format(time.RFC3339))
}

// active loads a swap for a command that is only valid before its timelock.
// Past the timelock only a Redeemed swap reports its status; everything else
// is TimelockExpired, whoever got there first.
func (e *Engine) active(ctx context.Context, id string) (*types.AtomicSwap, error) {
	sw, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sw.Status != types.SwapRedeemed && (sw.Status == types.SwapExpired || sw.TimelockPassed(e.now())) {
		return nil, timelockExpired(sw)
	}
	return sw, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*types.AtomicSwap, error) {
	sw, err := e.store.GetSwap(ctx, id)
	if err != nil {
		return nil, err
	}
	if !expirable(sw) || !sw.TimelockPassed(e.now()) {
		backfill(sw)
		return sw, nil
	}
	unlock := e.locks.Lock(lockKey(id))
	defer unlock()
	return e.load(ctx, id)
}

func (e *Engine) legs(sw *types.AtomicSwap) [2]types.HTLCLeg {
	initiatorLeg := types.HTLCLeg{
		ChainID:      sw.InitiatorChain,
		SwapID:       sw.SwapID,
		Counterparty: sw.Participant,
		Asset:        sw.InitiatorAsset,
		SecretHash:   sw.SecretHash,
		Timelock:     sw.Timelock,
	}
	participantLeg := types.HTLCLeg{
		ChainID:      sw.ParticipantChain,
		SwapID:       sw.SwapID,
		Counterparty: sw.Initiator,
		Asset:        sw.ParticipantAsset,
		SecretHash:   sw.SecretHash,
		Timelock:     sw.Timelock,
	}
	return [2]types.HTLCLeg{initiatorLeg, participantLeg}
}

// advance runs call on every leg in state from and moves it to state to.
// With an HTLC the swap is saved after each call, so a retry resumes with
// the legs that are left and never repeats a call that already landed.
func (e *Engine) advance(ctx context.Context, sw *types.AtomicSwap, op string, from, to types.LegStatus, call func(types.HTLCLeg) (string, error)) error {
	for _, leg := range e.legs(sw) {
		state := sw.Leg(leg.ChainID)
		if state == nil || state.Status != from {
			continue
		}
		var txHash string
		if e.htlc != nil {
			h, err := call(leg)
			if err != nil {
				e.logs.Errorw("error on swap leg", "op", op, "swapId", sw.SwapID, "chainId", leg.ChainID, "error", err)
				return err
			}
			txHash = h
		}
		state.Status = to
		if to == types.LegLocked {
			state.LockTx = txHash
		} else {
			state.SettleTx = txHash
		}
		if e.htlc == nil {
			continue
		}
		if err := e.store.UpdateSwap(ctx, sw, sw.Status); err != nil {
			e.logs.Errorw("error saving swap leg", "op", op, "swapId", sw.SwapID, "chainId", leg.ChainID, "txHash", txHash, "error", err)
			return err
		}
		e.logs.Infow("swap leg settled", "op", op, "swapId", sw.SwapID, "chainId", leg.ChainID, "leg", to, "txHash", txHash)
	}
	return nil
}

func (e *Engine) anyLeg(sw *types.AtomicSwap, status types.LegStatus) bool {
	for _, leg := range sw.Legs {
		if leg.Status == status {
			return true
		}
	}
	return false
}

// Participate joins participant to an Initiated swap and locks both legs.
// The participant is set once; later calls must name the same address. It is
// saved with the first lock, and a call after a partial failure only locks
// the legs still pending.
func (e *Engine) Participate(ctx context.Context, id, participant string) (*types.AtomicSwap, error) {
	unlock := e.locks.Lock(lockKey(id))
	defer unlock()

	sw, err := e.active(ctx, id)
	if err != nil {
		return nil, err
	}
	if sw.Status != types.SwapInitiated {
		return nil, types.NewError(types.KindInvalidStateTransition, "swap %s is %s, only initiated swaps can be funded", id, sw.Status)
	}

	switch {
	case sw.Participant == "" && participant == "":
		return nil, types.NewError(types.KindInvalidArgument, "swap %s has no participant", id)
	case sw.Participant == "":
		pc, err := e.registry.Supported(sw.ParticipantChain)
		if err != nil {
			return nil, err
		}
		if err := address.Validate(pc.Kind, participant); err != nil {
			return nil, err
		}
		if types.SameAddress(participant, sw.Initiator) {
			return nil, types.NewError(types.KindInvalidArgument, "participant must differ from initiator")
		}
		sw.Participant = address.Normalize(pc.Kind, participant)
	case participant != "" && !types.SameAddress(participant, sw.Participant):
		return nil, types.NewError(types.KindUnauthorized, "swap %s belongs to another participant", id)
	}

	err = e.advance(ctx, sw, "lock", types.LegPending, types.LegLocked, func(leg types.HTLCLeg) (string, error) {
		return e.htlc.Lock(ctx, leg)
	})
	if err != nil {
		return nil, err
	}
	sw.FundedAt = e.now().Unix()
	if err := e.move(ctx, sw, types.SwapFunded); err != nil {
		return nil, err
	}
	return sw, nil
}

// Fund locks both legs of a swap whose participant is already known.
func (e *Engine) Fund(ctx context.Context, id string) (*types.AtomicSwap, error) {
	return e.Participate(ctx, id, "")
}

// Redeem settles a Funded swap against its secret. Both legs are claimed on
// chain before the swap is marked Redeemed; a leg already claimed by an
// earlier call is skipped.
func (e *Engine) Redeem(ctx context.Context, id, secretHex string) (*types.AtomicSwap, error) {
	unlock := e.locks.Lock(lockKey(id))
	defer unlock()

	sw, err := e.active(ctx, id)
	if err != nil {
		return nil, err
	}
	if sw.Status != types.SwapFunded {
		return nil, types.NewError(types.KindInvalidStateTransition, "swap %s is %s, only funded swaps can be redeemed", id, sw.Status)
	}
	secret, err := hexutil.Decode(secretHex)
	if err != nil || len(secret) != secretSize {
		return nil, types.NewError(types.KindInvalidArgument, "secret must be 0x-prefixed %d-byte hex", secretSize)
	}
	hasher, err := e.registry.Hasher(sw.InitiatorChain)
	if err != nil {
		return nil, err
	}
	if hasher.Sum(secret).Hex() != sw.SecretHash {
		return nil, types.NewError(types.KindInvalidArgument, "secret does not match the hash of swap %s", id)
	}

	err = e.advance(ctx, sw, "claim", types.LegLocked, types.LegClaimed, func(leg types.HTLCLeg) (string, error) {
		return e.htlc.Claim(ctx, leg.ChainID, sw.SwapID, secret)
	})
	if err != nil {
		return nil, err
	}
	sw.SettledAt = e.now().Unix()
	if err := e.move(ctx, sw, types.SwapRedeemed); err != nil {
		return nil, err
	}
	return sw, nil
}

// Refund returns the assets of an unredeemed swap to their owners once the
// timelock has passed. Only the initiator may ask. Only legs still locked
// are refunded, so claimed legs and legs refunded by an earlier call are
// left alone.
func (e *Engine) Refund(ctx context.Context, id, caller string) (*types.AtomicSwap, error) {
	unlock := e.locks.Lock(lockKey(id))
	defer unlock()

	sw, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !types.SameAddress(caller, sw.Initiator) {
		return nil, types.NewError(types.KindUnauthorized, "only the initiator may refund swap %s", id)
	}
	if !sw.TimelockPassed(e.now()) {
		return nil, types.NewError(types.KindTimelockNotExpired, "swap %s is locked until %s", id, time.Unix(sw.Timelock, 0).UTC().Format(time.RFC3339))
	}
	if sw.Status.Settled() {
		return nil, types.NewError(types.KindInvalidStateTransition, "swap %s is already %s", id, sw.Status)
	}

	err = e.advance(ctx, sw, "refund", types.LegLocked, types.LegRefunded, func(leg types.HTLCLeg) (string, error) {
		return e.htlc.Refund(ctx, leg.ChainID, sw.SwapID)
	})
	if err != nil {
		return nil, err
	}
	sw.SettledAt = e.now().Unix()
	if err := e.move(ctx, sw, types.SwapRefunded); err != nil {
		return nil, err
	}
	return sw, nil
}

// Cancel withdraws an Initiated swap before anyone funded it.
func (e *Engine) Cancel(ctx context.Context, id, caller string) (*types.AtomicSwap, error) {
	unlock := e.locks.Lock(lockKey(id))
	defer unlock()

	sw, err := e.active(ctx, id)
	if err != nil {
		return nil, err
	}
	if !types.SameAddress(caller, sw.Initiator) {
		return nil, types.NewError(types.KindUnauthorized, "only the initiator may cancel swap %s", id)
	}
	if sw.Status != types.SwapInitiated {
		return nil, types.NewError(types.KindInvalidStateTransition, "swap %s is %s, only initiated swaps can be cancelled", id, sw.Status)
	}
	if e.anyLeg(sw, types.LegLocked) {
		return nil, types.NewError(types.KindInvalidStateTransition, "swap %s has a locked leg, refund it after the timelock", id)
	}
	sw.SettledAt = e.now().Unix()
	if err := e.move(ctx, sw, types.SwapCancelled); err != nil {
		return nil, err
	}
	return sw, nil
}

func (e *Engine) ListByUser(ctx context.Context, addr string) ([]*types.AtomicSwap, error) {
	return e.store.ListSwapsByUser(ctx, addr)
}

// ListActive returns Initiated and Funded swaps whose timelock has not passed.
func (e *Engine) ListActive(ctx context.Context) ([]*types.AtomicSwap, error) {
	var out []*types.AtomicSwap
	now := e.now()
	for _, status := range []types.SwapStatus{types.SwapInitiated, types.SwapFunded} {
		swaps, err := e.store.ListSwaps(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, sw := range swaps {
			if !sw.TimelockPassed(now) {
				out = append(out, sw)
			}
		}
	}
	return out, nil
}

// ExpireSwaps moves every open swap past its timelock to Expired.
func (e *Engine) ExpireSwaps(ctx context.Context) (int, error) {
	n := 0
	for _, status := range []types.SwapStatus{types.SwapInitiated, types.SwapFunded} {
		swaps, err := e.store.ListSwaps(ctx, status)
		if err != nil {
			return n, err
		}
		for _, sw := range swaps {
			if !sw.TimelockPassed(e.now()) {
				continue
			}
			moved, err := e.expire(ctx, sw.SwapID)
			if err != nil {
				return n, err
			}
			if moved {
				n++
			}
		}
	}
	return n, nil
}

func (e *Engine) expire(ctx context.Context, id string) (bool, error) {
	unlock := e.locks.Lock(lockKey(id))
	defer unlock()
	sw, err := e.store.GetSwap(ctx, id)
	if err != nil {
		return false, err
	}
	if !expirable(sw) || !sw.TimelockPassed(e.now()) {
		return false, nil
	}
	return true, e.move(ctx, sw, types.SwapExpired)
}
