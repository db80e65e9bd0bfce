package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweep expires or prunes one kind of record and reports how many it touched.
type Sweep struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

type messageExpirer interface {
	ExpirePending(ctx context.Context) (int, error)
}

type swapExpirer interface {
	ExpireSwaps(ctx context.Context) (int, error)
}

type resultPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type archivePruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

func MessageSweep(m messageExpirer) Sweep {
	return Sweep{Name: "messages", Run: m.ExpirePending}
}

func SwapSweep(s swapExpirer) Sweep {
	return Sweep{Name: "swaps", Run: s.ExpireSwaps}
}

// ResultSweep drops cached transaction checks and verification results past
// their TTL.
func ResultSweep(p resultPurger) Sweep {
	return Sweep{Name: "verification results", Run: p.PurgeExpired}
}

// ArchiveSweep drops archived gas samples older than retain.
func ArchiveSweep(a archivePruner, retain time.Duration, now func() time.Time) Sweep {
	return Sweep{Name: "gas archive", Run: func(ctx context.Context) (int, error) {
		n, err := a.Prune(ctx, now().Add(-retain))
		return int(n), err
	}}
}

// ExpirySweeper runs the sweeps on an interval. The message and swap sweeps
// use the same expiry predicates as the lazy checks on access.
type ExpirySweeper struct {
	sweeps   []Sweep
	interval time.Duration
	logs     *zap.SugaredLogger
}

func NewExpirySweeper(interval time.Duration, logs *zap.SugaredLogger, sweeps ...Sweep) *ExpirySweeper {
	return &ExpirySweeper{sweeps: sweeps, interval: interval, logs: logs}
}

// SweepOnce runs every sweep; a failing sweep does not stop the others.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) map[string]int {
	counts := make(map[string]int, len(s.sweeps))
	for _, sw := range s.sweeps {
		n, err := sw.Run(ctx)
		if err != nil {
			s.logs.Errorw("Error running sweep", "sweep", sw.Name, "error", err)
		}
		counts[sw.Name] = n
		if n > 0 {
			s.logs.Infow("sweep done", "sweep", sw.Name, "count", n)
		}
	}
	return counts
}

func Worker_expirySweep(ctx context.Context, s *ExpirySweeper) error {
	s.logs.Infow("Starting expiry sweeper", "interval", s.interval)
	return every(ctx, s.interval, func(ctx context.Context) {
		s.SweepOnce(ctx)
	})
}
