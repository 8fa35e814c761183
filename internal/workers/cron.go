// Package workers runs the background loops of the bot: periodic jobs, the ledger
// event consumer and the Telegram update poller.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one periodic unit of work.
type Job func(ctx context.Context) error

// Runner schedules jobs at fixed intervals. A job still running when its next
// activation comes is skipped.
type Runner struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewRunner(log zerolog.Logger) *Runner {
	l := cronLogger{log: log}
	return &Runner{
		cron: cron.New(cron.WithLogger(l), cron.WithChain(cron.SkipIfStillRunning(l))),
		log:  log,
	}
}

// Every registers job under name. ctx is handed to every run.
func (r *Runner) Every(ctx context.Context, name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	if _, err := r.cron.AddFunc("@every "+interval.String(), r.wrap(ctx, name, job)); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	r.log.Info().Str("job", name).Dur("interval", interval).Msg("job scheduled")
	return nil
}

func (r *Runner) wrap(ctx context.Context, name string, job Job) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job(ctx); err != nil {
			r.log.Error().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("job failed")
			return
		}
		r.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job done")
	}
}

func (r *Runner) Start() { r.cron.Start() }

// Stop stops scheduling and waits for running jobs, at most until ctx ends.
func (r *Runner) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		r.log.Warn().Msg("jobs still running at shutdown")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
