package gas

import (
	"sort"
	"sync"

	"crossbridge/types"
)

// Strategy scales the blended gas price of a chain.
type Strategy interface {
	Name() types.GasStrategy
	Multiplier(chain types.ChainConfig) float64
}

type fixedStrategy struct {
	name       types.GasStrategy
	multiplier float64
}

func (s fixedStrategy) Name() types.GasStrategy { return s.name }

func (s fixedStrategy) Multiplier(types.ChainConfig) float64 { return s.multiplier }

// balancedStrategy uses the multiplier tuned per chain.
type balancedStrategy struct{}

func (balancedStrategy) Name() types.GasStrategy { return types.StrategyBalanced }

func (balancedStrategy) Multiplier(c types.ChainConfig) float64 {
	if c.GasMultiplier <= 0 {
		return 1
	}
	return c.GasMultiplier
}

func Conservative() Strategy { return fixedStrategy{types.StrategyConservative, 0.9} }

func Balanced() Strategy { return balancedStrategy{} }

func Aggressive() Strategy { return fixedStrategy{types.StrategyAggressive, 1.25} }

// Fixed builds a strategy with a constant multiplier.
func Fixed(name types.GasStrategy, multiplier float64) Strategy {
	return fixedStrategy{name, multiplier}
}

type Strategies struct {
	mu    sync.RWMutex
	byKey map[types.GasStrategy]Strategy
}

// NewStrategies holds the default conservative, balanced and aggressive strategies.
func NewStrategies() *Strategies {
	s := &Strategies{byKey: make(map[types.GasStrategy]Strategy)}
	s.Register(Conservative())
	s.Register(Balanced())
	s.Register(Aggressive())
	return s
}

// Register adds or replaces a strategy under its name.
func (s *Strategies) Register(st Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[st.Name()] = st
}

func (s *Strategies) Get(name types.GasStrategy) (Strategy, error) {
	if name == "" {
		name = types.StrategyBalanced
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byKey[name]
	if !ok {
		return nil, types.NewError(types.KindInvalidArgument, "unknown gas strategy %q", name)
	}
	return st, nil
}

func (s *Strategies) Names() []types.GasStrategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.GasStrategy, 0, len(s.byKey))
	for k := range s.byKey {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
