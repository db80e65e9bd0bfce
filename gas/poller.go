package gas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crossbridge/chainrpc"
	"crossbridge/metrics"
	"crossbridge/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultPollInterval = 15 * time.Second

type ClientSource interface {
	For(chainID int64) (chainrpc.Client, error)
	ChainIDs() []int64
}

// Appender persists samples beyond the in-memory window.
type Appender interface {
	Append(ctx context.Context, chainID int64, s types.GasSample) error
}

// Poller samples every chain on an interval and feeds the history.
type Poller struct {
	clients  ClientSource
	history  *History
	archive  Appender
	feeds    map[int64]Feed
	metrics  *metrics.Metrics
	logs     *zap.SugaredLogger
	interval time.Duration
	now      func() time.Time
}

type PollerOption func(*Poller)

func WithAppender(a Appender) PollerOption {
	return func(p *Poller) { p.archive = a }
}

// WithFeed overrides the node price of one chain with an external feed.
func WithFeed(chainID int64, f Feed) PollerOption {
	return func(p *Poller) { p.feeds[chainID] = f }
}

func WithPollerMetrics(m *metrics.Metrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

func WithPollerClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

func NewPoller(clients ClientSource, history *History, interval time.Duration, logs *zap.SugaredLogger, opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		clients:  clients,
		history:  history,
		feeds:    make(map[int64]Feed),
		logs:     logs,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logs.Infow("gas poller started", "interval", p.interval, "chains", p.clients.ChainIDs())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.PollOnce(ctx); err != nil {
			p.logs.Warnw("gas poll incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logs.Infow("gas poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce samples every chain concurrently. A failing chain does not stop
// the others; failures are joined into the result.
func (p *Poller) PollOnce(ctx context.Context) error {
	ids := p.clients.ChainIDs()
	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := p.sample(ctx, id); err != nil {
				errs[i] = fmt.Errorf("chain %d: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (p *Poller) sample(ctx context.Context, chainID int64) error {
	client, err := p.clients.For(chainID)
	if err != nil {
		return err
	}
	s, err := client.LatestGasSample(ctx)
	if err != nil {
		return err
	}
	if feed, ok := p.feeds[chainID]; ok {
		price, err := feed.GasPrice(ctx)
		if err != nil {
			p.logs.Warnw("gas feed failed, keeping node price", "chainId", chainID, "error", err)
		} else {
			s.GasPrice = price
		}
	}
	if s.Timestamp == 0 {
		s.Timestamp = p.now().Unix()
	}

	p.history.Add(chainID, s)
	p.metrics.GasSampled(chainID, s.GasPrice)
	if p.archive != nil {
		if err := p.archive.Append(ctx, chainID, s); err != nil {
			p.logs.Warnw("error archiving gas sample", "chainId", chainID, "error", err)
		}
	}
	return nil
}
