// Package registry keeps the static per-chain configuration every other
// component reads from.
package registry

import (
	"slices"
	"sync"

	"crossbridge/hashing"
	"crossbridge/types"
)

type ChainRegistry struct {
	mu     sync.RWMutex
	chains map[int64]types.ChainConfig
}

func New() *ChainRegistry {
	return &ChainRegistry{chains: make(map[int64]types.ChainConfig)}
}

// FromConfigs registers every config, stopping at the first rejected one.
func FromConfigs(configs []types.ChainConfig) (*ChainRegistry, error) {
	r := New()
	for _, c := range configs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func validate(c types.ChainConfig) error {
	if c.ChainID < 0 {
		return types.NewError(types.KindInvalidArgument, "chain id %d is negative", c.ChainID)
	}
	if c.Name == "" {
		return types.NewError(types.KindInvalidArgument, "chain %d has no name", c.ChainID)
	}
	if c.RPCURL == "" {
		return types.NewError(types.KindInvalidArgument, "chain %d has no rpc url", c.ChainID)
	}
	if c.Kind != types.ChainKindEVM && c.Kind != types.ChainKindUTXO {
		return types.NewError(types.KindInvalidArgument, "chain %d has unknown kind %q", c.ChainID, c.Kind)
	}
	if c.MaxGasPrice < c.BaseGasPrice {
		return types.NewError(types.KindInvalidArgument, "chain %d max gas price below base gas price", c.ChainID)
	}
	if c.TrustLevel < 0 || c.TrustLevel > 100 {
		return types.NewError(types.KindInvalidArgument, "chain %d trust level outside 0..100", c.ChainID)
	}
	if c.MinTimelock > c.MaxTimelock {
		return types.NewError(types.KindInvalidArgument, "chain %d min timelock above max timelock", c.ChainID)
	}
	if _, err := hashing.NewHasher(c.HashAlgorithm); err != nil {
		return types.WrapError(types.KindInvalidArgument, err, "chain %d", c.ChainID)
	}
	if _, err := hashing.NewScheme(c.SignatureScheme); err != nil {
		return types.WrapError(types.KindInvalidArgument, err, "chain %d", c.ChainID)
	}
	return nil
}

// Register adds a chain; ids are unique.
func (r *ChainRegistry) Register(c types.ChainConfig) error {
	c = c.Clone()
	c.ApplyDefaults()
	if err := validate(c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chains[c.ChainID]; ok {
		return types.NewError(types.KindInvalidArgument, "chain %d already registered", c.ChainID)
	}
	r.chains[c.ChainID] = c
	return nil
}

func (r *ChainRegistry) Get(chainID int64) (types.ChainConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	if !ok {
		return types.ChainConfig{}, types.NewError(types.KindNotFound, "chain %d is not registered", chainID)
	}
	return c.Clone(), nil
}

// Supported resolves a chain for an operation, reporting UnsupportedChain
// rather than NotFound.
func (r *ChainRegistry) Supported(chainID int64) (types.ChainConfig, error) {
	c, err := r.Get(chainID)
	if err != nil {
		return c, types.NewError(types.KindUnsupportedChain, "chain %d is not supported", chainID)
	}
	return c, nil
}

// List returns every chain ordered by id.
func (r *ChainRegistry) List() []types.ChainConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ChainConfig, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b types.ChainConfig) int {
		switch {
		case a.ChainID < b.ChainID:
			return -1
		case a.ChainID > b.ChainID:
			return 1
		}
		return 0
	})
	return out
}

func (r *ChainRegistry) Hasher(chainID int64) (hashing.Hasher, error) {
	c, err := r.Supported(chainID)
	if err != nil {
		return nil, err
	}
	return hashing.NewHasher(c.HashAlgorithm)
}

func (r *ChainRegistry) Scheme(chainID int64) (hashing.Scheme, error) {
	c, err := r.Supported(chainID)
	if err != nil {
		return nil, err
	}
	return hashing.NewScheme(c.SignatureScheme)
}
