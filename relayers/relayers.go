// Package relayers keeps the registry of relay operators: the chains each one
// serves, its fee and its delivery record.
package relayers

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"crossbridge/address"
	"crossbridge/keylock"
	"crossbridge/registry"
	"crossbridge/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxFeePercentage = 100

// Store persists relayers; updates must fail when the stored status is no
// longer prev.
type Store interface {
	CreateRelayer(ctx context.Context, r *types.Relayer) error
	GetRelayer(ctx context.Context, id string) (*types.Relayer, error)
	UpdateRelayer(ctx context.Context, r *types.Relayer, prev types.RelayerStatus) error
	ListRelayers(ctx context.Context, status types.RelayerStatus) ([]*types.Relayer, error)
}

type Registry struct {
	chains *registry.ChainRegistry
	store  Store
	logs   *zap.SugaredLogger
	locks  *keylock.Locker
	now    func() time.Time
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(chains *registry.ChainRegistry, store Store, logs *zap.SugaredLogger, opts ...Option) *Registry {
	r := &Registry{chains: chains, store: store, logs: logs, locks: keylock.New(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID is derived from the operator address, so an address registers once.
func ID(addr string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("relayer:"+strings.ToLower(addr))).String()
}

type RegisterRequest struct {
	Address         string  `json:"address"`
	SupportedChains []int64 `json:"supportedChains"`
	FeePercentage   uint32  `json:"feePercentage"`
}

// Register adds an active relayer with a perfect record.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*types.Relayer, error) {
	if err := address.Validate(types.ChainKindEVM, req.Address); err != nil {
		return nil, err
	}
	if len(req.SupportedChains) == 0 {
		return nil, types.NewError(types.KindInvalidArgument, "a relayer must support at least one chain")
	}
	if req.FeePercentage > maxFeePercentage {
		return nil, types.NewError(types.KindInvalidArgument, "fee of %d%% is above %d%%", req.FeePercentage, maxFeePercentage)
	}
	chains := slices.Clone(req.SupportedChains)
	slices.Sort(chains)
	chains = slices.Compact(chains)
	for _, id := range chains {
		if _, err := r.chains.Supported(id); err != nil {
			return nil, err
		}
	}

	addr := address.Normalize(types.ChainKindEVM, req.Address)
	rel := &types.Relayer{
		RelayerID:       ID(addr),
		Address:         addr,
		SupportedChains: chains,
		FeePercentage:   req.FeePercentage,
		Status:          types.RelayerActive,
		SuccessRate:     100,
		RegisteredAt:    r.now().Unix(),
	}
	if err := r.store.CreateRelayer(ctx, rel); err != nil {
		return nil, err
	}
	r.logs.Infow("relayer registered", "relayerId", rel.RelayerID, "address", addr, "chains", chains, "fee", rel.FeePercentage)
	return rel, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*types.Relayer, error) {
	return r.store.GetRelayer(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]*types.Relayer, error) {
	return r.store.ListRelayers(ctx, "")
}

// SetActive switches a relayer on or off; inactive relayers are never
// selected.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) (*types.Relayer, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rel, err := r.store.GetRelayer(ctx, id)
	if err != nil {
		return nil, err
	}
	to := types.RelayerInactive
	if active {
		to = types.RelayerActive
	}
	if rel.Status == to {
		return rel, nil
	}
	prev := rel.Status
	if rel.Status, err = prev.Transition(to); err != nil {
		return nil, err
	}
	if err := r.store.UpdateRelayer(ctx, rel, prev); err != nil {
		return nil, err
	}
	r.logs.Infow("relayer status changed", "relayerId", id, "from", prev, "to", to)
	return rel, nil
}

// ForChain returns the active relayers of a chain, best first: highest
// success rate, then lowest fee.
func (r *Registry) ForChain(ctx context.Context, chainID int64) ([]*types.Relayer, error) {
	active, err := r.store.ListRelayers(ctx, types.RelayerActive)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Relayer, 0, len(active))
	for _, rel := range active {
		if rel.Supports(chainID) {
			out = append(out, rel)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.FeePercentage != b.FeePercentage {
			return a.FeePercentage < b.FeePercentage
		}
		return a.RelayerID < b.RelayerID
	})
	return out, nil
}

// Select returns the best relayer for a chain, NotFound when none serves it.
func (r *Registry) Select(ctx context.Context, chainID int64) (*types.Relayer, error) {
	candidates, err := r.ForChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, types.NewError(types.KindNotFound, "no active relayer for chain %d", chainID)
	}
	return candidates[0], nil
}

// RecordOutcome counts one finished message against a relayer.
func (r *Registry) RecordOutcome(ctx context.Context, id string, delivered bool) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	rel, err := r.store.GetRelayer(ctx, id)
	if err != nil {
		return err
	}
	rel.TotalMessages++
	if delivered {
		rel.Delivered++
	}
	rel.SuccessRate = uint32(rel.Delivered * 100 / rel.TotalMessages)
	if err := r.store.UpdateRelayer(ctx, rel, rel.Status); err != nil {
		return err
	}
	r.logs.Debugw("relayer outcome recorded", "relayerId", id, "delivered", delivered, "successRate", rel.SuccessRate)
	return nil
}
