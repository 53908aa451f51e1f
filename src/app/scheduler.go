package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger routes scheduler logs through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("scheduler: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("scheduler: "+msg, append(keysAndValues, "error", err)...)
}

// newScheduler runs job on a standard five-field cron spec with ctx, so
// cancelling ctx stops a run in progress. A run that is still in progress
// when the next tick fires makes that tick a no-op.
func newScheduler(ctx context.Context, spec string, logger *slog.Logger, job func(ctx context.Context)) (*cron.Cron, error) {
	l := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc(spec, func() { job(ctx) }); err != nil {
		return nil, fmt.Errorf("schedule sync %q: %w", spec, err)
	}
	return c, nil
}
