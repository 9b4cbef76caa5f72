package salesetl

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/xerrors"
)

const previewRows = 5

// Job extracts a sales export, cleans it and replaces the destination table with it.
type Job struct {
	// Name is the job's name used in logs, metrics and notifications.
	Name string

	// Parser parses the export. Nil selects a parser by the source's file extension.
	Parser Parser

	// Encoding decodes the export before parsing. Nil reads UTF-8.
	Encoding encoding.Encoding

	Transform TransformOptions

	// MaxDroppedRatio fails the run before loading when more than this share
	// of records is dropped. Zero disables the check.
	MaxDroppedRatio float64

	// TolerateFailures makes Run return a nil error for failed runs.
	TolerateFailures bool

	Extractor Extractor
	Loader    Loader
	Notifier  Notifier
	Metrics   *Metrics

	// OnTransformed is called with the cleaned dataset before it is loaded.
	OnTransformed func(context.Context, *Dataset)

	logger        *zerolog.Logger
	prettyLogging bool
	logLevel      zerolog.Level
	logWriter     io.Writer
	registerer    prometheus.Registerer
}

// New builds a Job with no extractor or loader. Callers set them before Run.
func New(opts ...Option) (*Job, error) {
	j := &Job{
		Name:      "salesetl",
		logLevel:  zerolog.InfoLevel,
		logWriter: os.Stderr,
	}

	for _, o := range opts {
		if err := o.apply(j); err != nil {
			return nil, xerrors.Errorf("failed to apply option: %w", err)
		}
	}

	w := j.logWriter
	if j.prettyLogging {
		w = zerolog.ConsoleWriter{Out: j.logWriter, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).Level(j.logLevel).With().Timestamp().Logger()
	j.logger = &logger

	j.Metrics = NewMetrics(j.registerer)

	return j, nil
}

// NewFromConfig builds a Job with the extractor, parser, loader and notifier described by cfg.
func NewFromConfig(ctx context.Context, cfg *Config, opts ...Option) (*Job, error) {
	base := []Option{WithLogLevel(cfg.Log.Level)}
	if cfg.Log.Pretty {
		base = append(base, WithPrettyLogging())
	}
	if cfg.TolerateFailures {
		base = append(base, WithTolerateFailures())
	}

	j, err := New(append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	j.Name = cfg.Name
	j.MaxDroppedRatio = cfg.Transform.MaxDroppedRatio

	concurrency := j.Transform.Concurrency
	j.Transform = cfg.Transform.Options()
	if concurrency > 0 {
		j.Transform.Concurrency = concurrency
	}

	if cfg.Input.Format != "" && cfg.Input.Format != "auto" {
		p, err := ParserFor(cfg.Input.Format, cfg.Input.Path)
		if err != nil {
			return nil, err
		}
		j.Parser = p
	}

	enc, err := lookupEncoding(cfg.Input.Encoding)
	if err != nil {
		return nil, err
	}
	j.Encoding = enc

	j.Extractor = &Extractors{
		File:    &FileExtractor{Root: cfg.Input.Root},
		Storage: &lazyStorageExtractor{},
	}

	loader, err := newLoader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	j.Loader = loader

	if cfg.Slack.Token != "" {
		j.Notifier = &SlackNotifier{
			Channel:   cfg.Slack.Channel,
			IconEmoji: cfg.Slack.IconEmoji,
			Username:  cfg.Slack.Username,
			Token:     cfg.Slack.Token,
		}
	}

	return j, nil
}

func newLoader(ctx context.Context, cfg *Config) (Loader, error) {
	switch cfg.Destination {
	case DestinationPostgres:
		return NewPostgresLoader(cfg.Postgres, cfg.Table)
	case DestinationSQLite:
		return NewSQLiteLoader(cfg.SQLite.Path, cfg.Table)
	case DestinationBigQuery:
		return NewBigQueryLoader(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, cfg.Table)
	}
	return nil, xerrors.Errorf("unknown destination %q", cfg.Destination)
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, xerrors.Errorf("unknown input encoding %q: %w", name, err)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

// Logger returns the Job's logger.
func (j *Job) Logger() zerolog.Logger {
	if j.logger == nil {
		return zerolog.Nop()
	}
	return *j.logger
}

// Run extracts src, transforms it and loads the result. Each phase runs only
// when the previous one succeeded.
//
// The returned Result is never nil. The error is the Result's error unless
// TolerateFailures is set, in which case failures are only logged and reported.
func (j *Job) Run(ctx context.Context, src Source) (*Result, error) {
	res := &Result{
		RunID:       uuid.NewString(),
		Job:         j.Name,
		Source:      src,
		Status:      StatusSucceeded,
		DropReasons: map[string]int{},
		StartedAt:   time.Now(),
	}

	l := j.Logger().With().
		Str("job", j.Name).
		Str("run_id", res.RunID).
		Str("source", src.FullPath()).
		Logger()
	ctx = l.WithContext(withRunID(withStartedTime(ctx, res.StartedAt), res.RunID))

	l.Info().Msg("starting ETL process")

	if phase, err := j.run(ctx, src, res); err != nil {
		res.fail(phase, err)
	}
	res.FinishedAt = time.Now()

	j.Metrics.observe(res)
	j.notify(ctx, res)

	if res.Succeeded() {
		l.Info().
			Int("loaded", res.Loaded).
			Int("dropped", res.Dropped).
			Dur("duration", res.Duration()).
			Msg("ETL process finished")
		return res, nil
	}

	l.Error().Err(res.Err).Str("phase", string(res.Phase)).Msg("ETL process failed")
	if j.TolerateFailures {
		return res, nil
	}
	return res, res.Err
}

func (j *Job) run(ctx context.Context, src Source, res *Result) (Phase, error) {
	l := zerolog.Ctx(ctx)

	if j.Extractor == nil || j.Loader == nil {
		return PhaseExtract, xerrors.New("job has no extractor or loader")
	}

	r, closer, err := j.Extractor.Extract(ctx, src)
	if err != nil {
		return PhaseExtract, xerrors.Errorf("failed to extract: %w", err)
	}
	defer closer()

	parser := j.Parser
	if parser == nil {
		if parser, err = ParserFor("auto", src.Name); err != nil {
			return PhaseParse, err
		}
	}

	records, err := parser(ctx, j.decode(r))
	if err != nil {
		return PhaseParse, xerrors.Errorf("failed to parse: %w", err)
	}

	table, err := NewTable(records)
	if err != nil {
		return PhaseParse, xerrors.Errorf("failed to parse: %w", err)
	}
	res.Extracted = table.Len()

	l.Info().Int("rows", table.Len()).Int("columns", len(table.Columns)).Msg("successfully loaded data")

	ds, err := Transform(ctx, table, j.Transform)
	if err != nil {
		return PhaseTransform, xerrors.Errorf("failed to transform: %w", err)
	}
	res.Dropped = ds.Dropped
	for k, v := range ds.DropReasons {
		res.DropReasons[k] = v
	}

	if j.MaxDroppedRatio > 0 && ds.Extracted > 0 {
		ratio := float64(ds.Dropped) / float64(ds.Extracted)
		if ratio > j.MaxDroppedRatio {
			return PhaseTransform, xerrors.Errorf(
				"%d of %d records dropped (%.3f > %.3f): %w",
				ds.Dropped, ds.Extracted, ratio, j.MaxDroppedRatio, ErrTooManyDropped)
		}
	}

	logPreview(ctx, ds)
	if j.OnTransformed != nil {
		j.OnTransformed(ctx, ds)
	}

	l.Info().Int("rows", ds.Len()).Strs("columns", ds.Columns).Msg("loading data")

	if err := j.Loader.Load(ctx, ds); err != nil {
		return PhaseLoad, xerrors.Errorf("failed to load: %w", err)
	}
	res.Loaded = ds.Len()

	return "", nil
}

// Close releases the extractor and the loader when they hold clients or connections.
func (j *Job) Close() error {
	return closeAll(j.Extractor, j.Loader)
}

func closeAll(vs ...interface{}) error {
	var first error
	for _, v := range vs {
		c, ok := v.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = xerrors.Errorf("failed to close %T: %w", v, err)
		}
	}
	return first
}

func (j *Job) decode(r io.Reader) io.Reader {
	var dec transform.Transformer = transform.Nop
	if j.Encoding != nil {
		dec = j.Encoding.NewDecoder()
	}
	return transform.NewReader(r, unicode.BOMOverride(dec))
}

func (j *Job) notify(ctx context.Context, res *Result) {
	if j.Notifier == nil {
		return
	}
	if err := j.Notifier.Notify(ctx, res); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to notify result")
	}
}

func logPreview(ctx context.Context, ds *Dataset) {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() > zerolog.DebugLevel {
		return
	}

	for i := 0; i < ds.Len() && i < previewRows; i++ {
		l.Debug().Int("row", i).Strs("values", ds.Strings(i, "")).Msg("sample data after transformation")
	}
}

// lazyStorageExtractor builds the Cloud Storage client on first use.
type lazyStorageExtractor struct {
	mu   sync.Mutex
	once sync.Once
	ex   *StorageExtractor
	err  error
}

func (e *lazyStorageExtractor) Extract(ctx context.Context, src Source) (io.Reader, func(), error) {
	e.once.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.ex, e.err = NewStorageExtractor(context.WithoutCancel(ctx))
	})
	if e.err != nil {
		return nil, nil, e.err
	}
	return e.ex.Extract(ctx, src)
}

func (e *lazyStorageExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ex == nil {
		return nil
	}
	return e.ex.Close()
}
