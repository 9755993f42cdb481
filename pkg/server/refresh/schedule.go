package refresh

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/StrathCole/cardprice/pkg/logging"
)

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// tick runs one scheduled pass. A pass already started elsewhere, such as
// a manual refresh, is left alone.
func (r *Refresher) tick(ctx context.Context) {
	if r.Running() {
		r.logger.Debug("Skipping scheduled refresh, a pass is in progress")
		return
	}
	if _, err := r.Run(ctx); err != nil {
		r.logger.Error("Scheduled refresh failed", "error", err)
	}
}

// Schedule runs the refresher on a cron spec until ctx is done. Runs that
// would overlap a still running pass are skipped.
func (r *Refresher) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	cl := cronLogger{logger: r.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := c.AddFunc(spec, func() { r.tick(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}

	c.Start()
	r.logger.Info("Refresh scheduled", "schedule", spec)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
