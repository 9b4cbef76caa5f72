package salesetl

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Option configures a Job.
type Option interface {
	apply(*Job) error
}

type optionFunc func(*Job) error

func (f optionFunc) apply(j *Job) error {
	return f(j)
}

// WithPrettyLogging configures the Job to print human friendly logs.
func WithPrettyLogging() Option {
	return optionFunc(func(j *Job) error {
		j.prettyLogging = true
		return nil
	})
}

// WithLogLevel configures the log level. Available values are "trace",
// "debug", "info", "warn", "error", "fatal", "panic" and "disabled".
func WithLogLevel(level string) Option {
	return optionFunc(func(j *Job) error {
		lv, err := zerolog.ParseLevel(level)
		if err != nil {
			return xerrors.Errorf("failed to parse log level %q: %w", level, err)
		}
		j.logLevel = lv
		return nil
	})
}

// WithLogWriter configures where logs are written. Defaults to stderr.
func WithLogWriter(w io.Writer) Option {
	return optionFunc(func(j *Job) error {
		j.logWriter = w
		return nil
	})
}

// WithConcurrency configures how many row batches are coerced at once.
func WithConcurrency(n int) Option {
	return optionFunc(func(j *Job) error {
		if n < 1 {
			return xerrors.Errorf("concurrency must be positive: %d", n)
		}
		j.Transform.Concurrency = n
		return nil
	})
}

// WithRegisterer registers the Job's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return optionFunc(func(j *Job) error {
		j.registerer = reg
		return nil
	})
}

// WithTolerateFailures makes Run log failures and return a nil error.
// The failure is still reported in the Result.
func WithTolerateFailures() Option {
	return optionFunc(func(j *Job) error {
		j.TolerateFailures = true
		return nil
	})
}
