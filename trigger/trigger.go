// Package trigger runs a job on a recurring schedule with a fixed retry policy.
package trigger

import (
	"context"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// RunFunc is one invocation of the scheduled job.
type RunFunc func(context.Context) error

// Policy describes when the job runs and how failures are retried.
type Policy struct {
	// Schedule is a standard cron expression or descriptor such as "@daily".
	Schedule string

	// Retries is the number of extra attempts after a failed invocation.
	Retries int

	// RetryDelay is the fixed wait before each retry.
	RetryDelay time.Duration

	// Location is the time zone of Schedule. Nil means UTC.
	Location *time.Location
}

// DefaultPolicy runs once a day and retries once after five minutes.
func DefaultPolicy() Policy {
	return Policy{
		Schedule:   "@daily",
		Retries:    1,
		RetryDelay: 5 * time.Minute,
		Location:   time.UTC,
	}
}

// Trigger invokes a RunFunc according to a Policy.
// Runs never overlap and missed periods are not caught up.
type Trigger struct {
	policy   Policy
	run      RunFunc
	schedule cron.Schedule
	logger   zerolog.Logger
}

// New validates p and builds a Trigger for run.
func New(run RunFunc, p Policy, logger zerolog.Logger) (*Trigger, error) {
	if run == nil {
		return nil, xerrors.New("run func is nil")
	}
	if p.Retries < 0 {
		return nil, xerrors.Errorf("retries must not be negative: %d", p.Retries)
	}
	if p.Location == nil {
		p.Location = time.UTC
	}

	s, err := cron.ParseStandard(p.Schedule)
	if err != nil {
		return nil, xerrors.Errorf("invalid schedule %q: %w", p.Schedule, err)
	}

	return &Trigger{
		policy:   p,
		run:      run,
		schedule: s,
		logger:   logger.With().Str("component", "trigger").Logger(),
	}, nil
}

// Fire invokes the job once, retrying failures per the policy.
// It returns the last error when every attempt failed.
func (t *Trigger) Fire(ctx context.Context) error {
	r := retrier.New(retrier.ConstantBackoff(t.policy.Retries, t.policy.RetryDelay), nil)

	attempt := 0
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		l := t.logger.With().Int("attempt", attempt).Logger()

		l.Info().Msg("invoking job")
		if err := t.run(l.WithContext(ctx)); err != nil {
			l.Warn().Err(err).Msg("job attempt failed")
			return err
		}
		return nil
	})
	if err != nil {
		t.logger.Error().Err(err).Int("attempts", attempt).Msg("job failed")
		return xerrors.Errorf("job failed after %d attempts: %w", attempt, err)
	}

	t.logger.Info().Int("attempts", attempt).Msg("job succeeded")
	return nil
}

// Next returns the first scheduled time after now.
func (t *Trigger) Next(now time.Time) time.Time {
	return t.schedule.Next(now.In(t.policy.Location))
}

// Start runs the schedule until ctx is done. It waits for a running
// invocation to finish before returning.
func (t *Trigger) Start(ctx context.Context) error {
	cl := cronLogger{t.logger}
	c := cron.New(
		cron.WithLocation(t.policy.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	c.Schedule(t.schedule, cron.FuncJob(func() {
		_ = t.Fire(ctx)
	}))

	t.logger.Info().
		Str("schedule", t.policy.Schedule).
		Time("next", t.Next(time.Now())).
		Msg("trigger started")

	c.Start()
	<-ctx.Done()

	<-c.Stop().Done()
	t.logger.Info().Msg("trigger stopped")

	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
