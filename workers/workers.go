// Package workers runs the long-lived loops of the bridge service: the HTTP
// API, gas sampling, message confirmation and expiry sweeps. Every worker
// returns when its context is cancelled.
package workers

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// every runs f immediately and then on each tick until ctx ends.
func every(ctx context.Context, interval time.Duration, f func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		f(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type GasPoller interface {
	Run(ctx context.Context) error
}

// Worker_gasPoller samples gas prices until ctx ends.
func Worker_gasPoller(ctx context.Context, p GasPoller, logs *zap.SugaredLogger) error {
	err := p.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logs.Errorw("gas poller exited", "error", err)
		return err
	}
	return nil
}
