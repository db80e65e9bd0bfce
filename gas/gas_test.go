package gas

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"crossbridge/chainrpc"
	"crossbridge/registry"
	"crossbridge/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

func testRegistry(t *testing.T) *registry.ChainRegistry {
	t.Helper()
	reg, err := registry.FromConfigs([]types.ChainConfig{
		{ChainID: 1, Name: "Ethereum", RPCURL: "http://eth", BaseGasPrice: 10, MaxGasPrice: 1000},
		{ChainID: 137, Name: "Polygon", RPCURL: "http://polygon", BaseGasPrice: 30, MaxGasPrice: 500, GasMultiplier: 1.1},
	})
	require.NoError(t, err)
	return reg
}

func fill(h *History, chainID int64, prices ...uint64) {
	for i, p := range prices {
		h.Add(chainID, types.GasSample{
			Timestamp:   testNow.Add(time.Duration(i-len(prices)) * time.Minute).Unix(),
			GasPrice:    p,
			BlockNumber: uint64(1000 + i),
		})
	}
}

func newOptimizer(t *testing.T, prices ...uint64) (*Optimizer, *time.Time) {
	t.Helper()
	now := testNow
	h := NewHistory(100)
	fill(h, 1, prices...)
	o := NewOptimizer(testRegistry(t), h, zap.NewNop().Sugar(), WithClock(func() time.Time { return now }))
	return o, &now
}

func TestHistory_BoundedWindow(t *testing.T) {
	h := NewHistory(3)
	fill(h, 1, 1, 2, 3, 4, 5)
	assert.Equal(t, 3, h.Len(1))

	recent := h.Recent(1, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(4), recent[0].GasPrice)
	assert.Equal(t, uint64(5), recent[1].GasPrice)

	latest, ok := h.Latest(1)
	require.True(t, ok)
	assert.Equal(t, uint64(5), latest.GasPrice)

	_, ok = h.Latest(137)
	assert.False(t, ok)
}

func TestHistory_SameBlockReplaces(t *testing.T) {
	h := NewHistory(10)
	h.Add(1, types.GasSample{BlockNumber: 7, GasPrice: 10})
	h.Add(1, types.GasSample{BlockNumber: 7, GasPrice: 12})
	assert.Equal(t, 1, h.Len(1))
	latest, _ := h.Latest(1)
	assert.Equal(t, uint64(12), latest.GasPrice)
}

func TestPredict_TrendAdjustedMean(t *testing.T) {
	o, _ := newOptimizer(t, 100, 110, 120)
	p, err := o.Predict(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), p)
}

func TestPredict_UsesLastTenSamples(t *testing.T) {
	o, _ := newOptimizer(t, 900, 900, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100)
	p, err := o.Predict(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), p)
}

func TestPredict_ClampedAndErrors(t *testing.T) {
	o, _ := newOptimizer(t, 900, 1500, 2500)
	p, err := o.Predict(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), p)

	_, err = o.Predict(137)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
	_, err = o.Predict(56)
	assert.ErrorIs(t, err, types.ErrUnsupportedChain)
}

func TestOptimize_FallingMarketSaves(t *testing.T) {
	o, _ := newOptimizer(t, 300, 100, 100)

	res, err := o.Optimize(1, "1.5", types.StrategyBalanced, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), res.GasLimit)
	assert.Equal(t, uint64(84), res.GasPrice)
	assert.False(t, res.FellBack)
	assert.Equal(t, big.NewInt(2_100_000), res.EstimatedCost)
	assert.Equal(t, big.NewInt(1_764_000), res.OptimizedCost)
	assert.Equal(t, big.NewInt(336_000), res.Savings)
	assert.InDelta(t, 16.0, res.SavingsPercentage, 1e-9)
	assert.Equal(t, types.StrategyBalanced, res.Strategy)
}

func TestOptimize_StrategiesScale(t *testing.T) {
	o, _ := newOptimizer(t, 300, 100, 100)

	cons, err := o.Optimize(1, "1", types.StrategyConservative, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(75), cons.GasPrice)

	aggr, err := o.Optimize(1, "1", types.StrategyAggressive, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(104), aggr.GasPrice)

	_, err = o.Optimize(1, "1", "reckless", "")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestOptimize_RisingMarketFallsBack(t *testing.T) {
	o, _ := newOptimizer(t, 80, 90, 100)

	res, err := o.Optimize(1, "2", "", "")
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.Equal(t, uint64(100), res.GasPrice)
	assert.Zero(t, res.Savings.Sign())
	assert.Zero(t, res.SavingsPercentage)
}

func TestOptimize_NeverLeavesBounds(t *testing.T) {
	for _, prices := range [][]uint64{{5000, 6000, 7000}, {1, 1, 1}, {}} {
		o, _ := newOptimizer(t, prices...)
		for _, st := range []types.GasStrategy{types.StrategyConservative, types.StrategyBalanced, types.StrategyAggressive} {
			res, err := o.Optimize(1, "10", st, "")
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.GasPrice, uint64(10), "%v %s", prices, st)
			assert.LessOrEqual(t, res.GasPrice, uint64(1000), "%v %s", prices, st)
			assert.GreaterOrEqual(t, res.Savings.Sign(), 0)
		}
	}
}

func TestOptimize_TokenAllowanceAndEIP1559(t *testing.T) {
	o, _ := newOptimizer(t, 300, 100)
	o.history.Add(1, types.GasSample{Timestamp: testNow.Unix(), GasPrice: 100, BaseFee: 60, BlockNumber: 2000})

	res, err := o.Optimize(1, "1", types.StrategyBalanced, "0x2791bca1f2de4661ed88a30c99a7a9449aa84174")
	require.NoError(t, err)
	assert.Equal(t, uint64(86000), res.GasLimit)
	assert.Equal(t, uint64(84), res.GasPrice)
	assert.Equal(t, uint64(24), res.MaxPriorityFeePerGas)
	assert.Equal(t, uint64(144), res.MaxFeePerGas)
}

func TestOptimize_CachedForThirtySeconds(t *testing.T) {
	o, now := newOptimizer(t, 300, 100, 100)

	first, err := o.Optimize(1, "1.50", types.StrategyBalanced, "")
	require.NoError(t, err)
	o.history.Add(1, types.GasSample{GasPrice: 900, BlockNumber: 5000})

	again, err := o.Optimize(1, "1.5", types.StrategyBalanced, "")
	require.NoError(t, err)
	assert.Equal(t, first.GasPrice, again.GasPrice, "equal amounts share a cache entry")

	*now = now.Add(31 * time.Second)
	fresh, err := o.Optimize(1, "1.5", types.StrategyBalanced, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.GasPrice, fresh.GasPrice)
}

func TestOptimize_RejectsBadInput(t *testing.T) {
	o, _ := newOptimizer(t, 100)
	for _, amount := range []string{"", "-1", "0", "abc"} {
		_, err := o.Optimize(1, amount, types.StrategyBalanced, "")
		assert.ErrorIs(t, err, types.ErrInvalidArgument, amount)
	}
	_, err := o.Optimize(56, "1", types.StrategyBalanced, "")
	assert.ErrorIs(t, err, types.ErrUnsupportedChain)
}

func TestOptimize_BalancedUsesChainMultiplier(t *testing.T) {
	o, _ := newOptimizer(t)
	fill(o.history, 137, 100, 100)
	res, err := o.Optimize(137, "1", types.StrategyBalanced, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(110), res.GasPrice)
}

func atHour(h *History, chainID int64, hour int, price uint64, block uint64) {
	ts := time.Date(2026, 3, 1, hour, 15, 0, 0, time.UTC)
	h.Add(chainID, types.GasSample{Timestamp: ts.Unix(), GasPrice: price, BlockNumber: block})
}

func TestPredictOptimalWindow_FromHistory(t *testing.T) {
	o, _ := newOptimizer(t)
	atHour(o.history, 1, 10, 100, 1)
	atHour(o.history, 1, 12, 50, 2)
	atHour(o.history, 1, 15, 20, 3)
	atHour(o.history, 1, 9, 5, 4)

	w, err := o.PredictOptimalWindow(context.Background(), 1, 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 12, w.Hour)
	assert.Equal(t, uint64(50), w.AveragePrice)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), w.StartsAt)

	w, err = o.PredictOptimalWindow(context.Background(), 1, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 15, w.Hour)

	w, err = o.PredictOptimalWindow(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, w.Hour)
	assert.Equal(t, testNow, w.StartsAt)
}

func TestPredictOptimalWindow_NoHistory(t *testing.T) {
	o, _ := newOptimizer(t)
	_, err := o.PredictOptimalWindow(context.Background(), 1, time.Hour)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = o.PredictOptimalWindow(context.Background(), 1, -time.Hour)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

type fakeArchive struct {
	from time.Time
}

func (a *fakeArchive) HourlyAverages(_ context.Context, _ int64, from time.Time) (map[int]uint64, map[int]int, error) {
	a.from = from
	return map[int]uint64{11: 40, 12: 45}, map[int]int{11: 7, 12: 3}, nil
}

func TestPredictOptimalWindow_PrefersArchive(t *testing.T) {
	a := &fakeArchive{}
	o := NewOptimizer(testRegistry(t), NewHistory(10), zap.NewNop().Sugar(),
		WithArchive(a), WithClock(func() time.Time { return testNow }))

	w, err := o.PredictOptimalWindow(context.Background(), 1, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 11, w.Hour)
	assert.Equal(t, 7, w.Samples)
	assert.Equal(t, testNow.Add(-7*24*time.Hour), a.from)
}

type fakeClient struct {
	id     int64
	sample types.GasSample
	err    error
}

func (c fakeClient) ChainID() int64 { return c.id }

func (fakeClient) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func (fakeClient) TransactionByHash(context.Context, string) (bool, error) { return false, nil }

func (fakeClient) TransactionReceipt(context.Context, string) (*types.Receipt, error) {
	return nil, types.ErrNotFound
}

func (c fakeClient) LatestGasSample(context.Context) (types.GasSample, error) {
	return c.sample, c.err
}

type captureAppender struct {
	mu      sync.Mutex
	samples map[int64][]types.GasSample
}

func (a *captureAppender) Append(_ context.Context, chainID int64, s types.GasSample) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples[chainID] = append(a.samples[chainID], s)
	return nil
}

func TestPoller_PollOnce(t *testing.T) {
	station := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"safeLow":{"maxPriorityFee":30,"maxFee":30.5},"standard":{"maxPriorityFee":32.1,"maxFee":42.5},"fast":{"maxPriorityFee":40,"maxFee":50},"estimatedBaseFee":10.4,"blockNumber":123}`))
	}))
	defer station.Close()

	pool := chainrpc.NewPool(
		fakeClient{id: 1, sample: types.GasSample{GasPrice: 20, BlockNumber: 10, Timestamp: testNow.Unix()}},
		fakeClient{id: 137, sample: types.GasSample{GasPrice: 31, BlockNumber: 11}},
		fakeClient{id: 56, err: types.NewError(types.KindProviderUnavailable, "down")},
	)
	h := NewHistory(10)
	archive := &captureAppender{samples: map[int64][]types.GasSample{}}
	p := NewPoller(pool, h, time.Second, zap.NewNop().Sugar(),
		WithAppender(archive),
		WithFeed(137, NewStationFeed(station.URL)),
		WithPollerClock(func() time.Time { return testNow }),
	)

	err := p.PollOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)

	eth, ok := h.Latest(1)
	require.True(t, ok)
	assert.Equal(t, uint64(20), eth.GasPrice)

	polygon, ok := h.Latest(137)
	require.True(t, ok)
	assert.Equal(t, uint64(42_500_000_000), polygon.GasPrice)
	assert.Equal(t, testNow.Unix(), polygon.Timestamp, "missing timestamps take the poll time")

	assert.Len(t, archive.samples[1], 1)
	assert.Len(t, archive.samples[137], 1)
	assert.Zero(t, h.Len(56))
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	pool := chainrpc.NewPool(fakeClient{id: 1, sample: types.GasSample{GasPrice: 20, BlockNumber: 1}})
	p := NewPoller(pool, NewHistory(10), time.Millisecond, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestStationFeed_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewStationFeed(srv.URL).GasPrice(context.Background())
	assert.Error(t, err)
}

func TestStrategies_RegisterCustom(t *testing.T) {
	s := NewStrategies()
	assert.Equal(t, []types.GasStrategy{"aggressive", "balanced", "conservative"}, s.Names())

	s.Register(Fixed("urgent", 2))
	st, err := s.Get("urgent")
	require.NoError(t, err)
	assert.Equal(t, 2.0, st.Multiplier(types.ChainConfig{}))

	st, err = s.Get("")
	require.NoError(t, err)
	assert.Equal(t, types.StrategyBalanced, st.Name())
	assert.Equal(t, 1.0, st.Multiplier(types.ChainConfig{}))
}
