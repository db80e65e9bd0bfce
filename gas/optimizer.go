// Package gas keeps a rolling fee history per chain and turns it into price
// predictions and strategy-scaled recommendations.
package gas

import (
	"context"
	"math"
	"math/big"
	"strings"
	"time"

	"crossbridge/metrics"
	"crossbridge/registry"
	"crossbridge/ttlcache"
	"crossbridge/types"

	"go.uber.org/zap"
)

const (
	DefaultResultTTL = 30 * time.Second
	// predictionWindow is how many recent samples feed a prediction
	predictionWindow = 10
	archiveLookback  = 7 * 24 * time.Hour
)

// Archive serves hour-of-day averages from long-term storage.
type Archive interface {
	HourlyAverages(ctx context.Context, chainID int64, from time.Time) (map[int]uint64, map[int]int, error)
}

type cacheKey struct {
	chainID  int64
	amount   string
	strategy types.GasStrategy
	token    bool
}

type Optimizer struct {
	registry   *registry.ChainRegistry
	history    *History
	strategies *Strategies
	archive    Archive
	cache      *ttlcache.Cache[cacheKey, types.GasOptimizationResult]
	metrics    *metrics.Metrics
	logs       *zap.SugaredLogger
	now        func() time.Time
}

type Option func(*Optimizer)

func WithArchive(a Archive) Option {
	return func(o *Optimizer) { o.archive = a }
}

func WithStrategies(s *Strategies) Option {
	return func(o *Optimizer) { o.strategies = s }
}

func WithResultTTL(ttl time.Duration) Option {
	return func(o *Optimizer) {
		if ttl > 0 {
			o.cache = ttlcache.New[cacheKey, types.GasOptimizationResult](ttl)
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Optimizer) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

func NewOptimizer(reg *registry.ChainRegistry, history *History, logs *zap.SugaredLogger, opts ...Option) *Optimizer {
	o := &Optimizer{
		registry:   reg,
		history:    history,
		strategies: NewStrategies(),
		cache:      ttlcache.New[cacheKey, types.GasOptimizationResult](DefaultResultTTL),
		logs:       logs,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cache.WithClock(o.now)
	return o
}

func (o *Optimizer) History() *History {
	return o.history
}

// predict is the mean of samples plus the mean successive delta.
func predict(samples []types.GasSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s.GasPrice)
	}
	mean := sum / float64(len(samples))
	if len(samples) < 2 {
		return mean
	}
	var deltas float64
	for i := 1; i < len(samples); i++ {
		deltas += float64(samples[i].GasPrice) - float64(samples[i-1].GasPrice)
	}
	return mean + deltas/float64(len(samples)-1)
}

func clampFloat(c types.ChainConfig, price float64) uint64 {
	if price <= 0 {
		return c.ClampGasPrice(0)
	}
	if price >= math.MaxUint64 {
		return c.ClampGasPrice(math.MaxUint64)
	}
	return c.ClampGasPrice(uint64(math.Round(price)))
}

// Predict returns the expected next gas price of a chain within its bounds.
func (o *Optimizer) Predict(chainID int64) (uint64, error) {
	chain, err := o.registry.Supported(chainID)
	if err != nil {
		return 0, err
	}
	samples := o.history.Recent(chainID, predictionWindow)
	if len(samples) == 0 {
		return 0, types.NewError(types.KindProviderUnavailable, "no gas samples for chain %d yet", chainID)
	}
	price := clampFloat(chain, predict(samples))
	o.metrics.GasPredicted(chainID, price)
	return price, nil
}

func gasLimit(c types.ChainConfig, token string) uint64 {
	limit := c.BaseTransferGas
	if token != "" {
		limit += c.TokenTransferGas
	}
	return limit
}

func checkAmount(amount string) (string, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	if !ok || r.Sign() <= 0 {
		return "", types.NewError(types.KindInvalidArgument, "amount %q must be a positive decimal", amount)
	}
	return r.RatString(), nil
}

func cost(limit, price uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(limit), new(big.Int).SetUint64(price))
}

// Optimize recommends a gas price and limit for moving amount on a chain.
// The recommended price never leaves the chain's gas price bounds and never
// exceeds the unoptimized baseline.
func (o *Optimizer) Optimize(chainID int64, amount string, strategy types.GasStrategy, token string) (types.GasOptimizationResult, error) {
	chain, err := o.registry.Supported(chainID)
	if err != nil {
		return types.GasOptimizationResult{}, err
	}
	normalized, err := checkAmount(amount)
	if err != nil {
		return types.GasOptimizationResult{}, err
	}
	st, err := o.strategies.Get(strategy)
	if err != nil {
		return types.GasOptimizationResult{}, err
	}

	key := cacheKey{chainID: chainID, amount: normalized, strategy: st.Name(), token: token != ""}
	if res, ok := o.cache.Get(key); ok {
		return res, nil
	}

	samples := o.history.Recent(chainID, predictionWindow)
	current := float64(chain.BaseGasPrice)
	predicted := current
	var baseFee uint64
	if n := len(samples); n > 0 {
		current = float64(samples[n-1].GasPrice)
		baseFee = samples[n-1].BaseFee
		predicted = float64(clampFloat(chain, predict(samples)))
	}

	m := st.Multiplier(chain)
	baseline := clampFloat(chain, current*m)
	price := clampFloat(chain, (current+predicted)/2*m)
	fellBack := false
	if price >= baseline {
		price = baseline
		fellBack = true
	}

	limit := gasLimit(chain, token)
	estimated := cost(limit, baseline)
	optimized := cost(limit, price)
	savings := new(big.Int).Sub(estimated, optimized)
	pct := 0.0
	if estimated.Sign() > 0 {
		pct, _ = new(big.Rat).SetFrac(new(big.Int).Mul(savings, big.NewInt(100)), estimated).Float64()
	}

	res := types.GasOptimizationResult{
		ChainID:           chainID,
		GasLimit:          limit,
		GasPrice:          price,
		EstimatedCost:     estimated,
		OptimizedCost:     optimized,
		Savings:           savings,
		SavingsPercentage: pct,
		Strategy:          st.Name(),
		Confidence:        confidence(len(samples)),
		FellBack:          fellBack,
	}
	if baseFee > 0 {
		tip := uint64(0)
		if price > baseFee {
			tip = price - baseFee
		}
		res.MaxPriorityFeePerGas = tip
		res.MaxFeePerGas = chain.ClampGasPrice(2*baseFee + tip)
	}

	o.cache.Set(key, res)
	o.metrics.GasOptimized(chainID, string(st.Name()), pct)
	return res, nil
}

// confidence grows with the samples behind a recommendation.
func confidence(samples int) float64 {
	if samples > predictionWindow {
		samples = predictionWindow
	}
	if samples == 0 {
		return 10
	}
	return 50 + 4.5*float64(samples)
}

// hourlyAverages prefers the archive and falls back to the in-memory window.
func (o *Optimizer) hourlyAverages(ctx context.Context, chainID int64) (map[int]uint64, map[int]int, error) {
	if o.archive != nil {
		avgs, counts, err := o.archive.HourlyAverages(ctx, chainID, o.now().Add(-archiveLookback))
		if err != nil {
			return nil, nil, types.WrapError(types.KindProviderUnavailable, err, "gas archive")
		}
		if len(avgs) > 0 {
			return avgs, counts, nil
		}
	}
	avgs, counts := types.BucketByHour(o.history.Recent(chainID, 0))
	return avgs, counts, nil
}

// PredictOptimalWindow returns the historically cheapest UTC hour starting
// within maxWait from now. Ties go to the earliest hour.
func (o *Optimizer) PredictOptimalWindow(ctx context.Context, chainID int64, maxWait time.Duration) (types.OptimalWindow, error) {
	if _, err := o.registry.Supported(chainID); err != nil {
		return types.OptimalWindow{}, err
	}
	if maxWait < 0 {
		return types.OptimalWindow{}, types.NewError(types.KindInvalidArgument, "maxWait must not be negative")
	}
	if maxWait > 24*time.Hour {
		maxWait = 24 * time.Hour
	}
	avgs, counts, err := o.hourlyAverages(ctx, chainID)
	if err != nil {
		return types.OptimalWindow{}, err
	}

	now := o.now().UTC()
	startOfHour := now.Truncate(time.Hour)
	best := types.OptimalWindow{ChainID: chainID, Hour: -1}
	for offset := 0; time.Duration(offset)*time.Hour <= maxWait && offset < 24; offset++ {
		start := startOfHour.Add(time.Duration(offset) * time.Hour)
		avg, ok := avgs[start.Hour()]
		if !ok {
			continue
		}
		if best.Hour == -1 || avg < best.AveragePrice {
			best.Hour = start.Hour()
			best.AveragePrice = avg
			best.Samples = counts[start.Hour()]
			best.StartsAt = start
			if offset == 0 {
				best.StartsAt = now
			}
		}
	}
	if best.Hour == -1 {
		return types.OptimalWindow{}, types.NewError(types.KindNotFound, "no gas history for chain %d within %s", chainID, maxWait)
	}
	return best, nil
}
