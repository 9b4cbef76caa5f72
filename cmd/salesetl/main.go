package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"go.nownabe.dev/salesetl"
	"go.nownabe.dev/salesetl/contrib/profiles"
	"go.nownabe.dev/salesetl/trigger"
)

type rootFlags struct {
	config   string
	envFile  string
	logLevel string
	pretty   bool
	input    string
	bucket   string
	profile  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}

	root := &cobra.Command{
		Use:          "salesetl",
		Short:        "Load the retail sales export into the sales_data table",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "salesetl.yaml", "config file; missing file is ignored")
	pf.StringVar(&f.envFile, "env-file", "", "dotenv file loaded before the config")
	pf.StringVar(&f.logLevel, "log-level", "", "log level overriding the config")
	pf.BoolVar(&f.pretty, "pretty", false, "human friendly logs")
	pf.StringVar(&f.input, "input", "", "input path or object name overriding the config")
	pf.StringVar(&f.bucket, "bucket", "", "Cloud Storage bucket of the input")
	pf.StringVar(&f.profile, "profile", "", "input profile ("+fmt.Sprint(profiles.Names())+")")

	root.AddCommand(newRunCmd(f), newScheduleCmd(f))

	return root
}

func newRunCmd(f *rootFlags) *cobra.Command {
	var preview int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the job once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			cfg, job, err := build(ctx, f, reg)
			if err != nil {
				return err
			}
			defer closeJob(job)

			if preview > 0 {
				job.OnTransformed = func(_ context.Context, ds *salesetl.Dataset) {
					renderPreview(ds, preview)
				}
			}

			res, runErr := job.Run(ctx, cfg.Input.Source())
			renderResult(res)

			if cfg.Metrics.Pushgateway != "" {
				if err := push.New(cfg.Metrics.Pushgateway, cfg.Name).Gatherer(reg).Push(); err != nil {
					l := job.Logger()
					l.Warn().Err(err).Msg("failed to push metrics")
				}
			}

			return runErr
		},
	}

	cmd.Flags().IntVar(&preview, "preview", 0, "print the first N transformed rows")

	return cmd
}

func newScheduleCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the job on its schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			cfg, job, err := build(ctx, f, reg)
			if err != nil {
				return err
			}
			defer closeJob(job)

			loc, err := time.LoadLocation(cfg.Schedule.Timezone)
			if err != nil {
				return xerrors.Errorf("invalid schedule.timezone %q: %w", cfg.Schedule.Timezone, err)
			}

			run := func(ctx context.Context) error {
				_, err := job.Run(ctx, cfg.Input.Source())
				return err
			}

			tr, err := trigger.New(run, trigger.Policy{
				Schedule:   cfg.Schedule.Cron,
				Retries:    cfg.Schedule.Retries,
				RetryDelay: cfg.Schedule.RetryDelay,
				Location:   loc,
			}, job.Logger())
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.Metrics.Listen,
				Handler:           metricsMux(reg),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					l := job.Logger()
					l.Error().Err(err).Msg("metrics server stopped")
				}
			}()
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()

			return tr.Start(ctx)
		},
	}
}

func build(ctx context.Context, f *rootFlags, reg prometheus.Registerer) (*salesetl.Config, *salesetl.Job, error) {
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil {
			return nil, nil, xerrors.Errorf("failed to load %s: %w", f.envFile, err)
		}
	}

	cfg, err := salesetl.LoadConfig(f.config)
	if err != nil {
		return nil, nil, err
	}

	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.pretty {
		cfg.Log.Pretty = true
	}
	if f.input != "" {
		cfg.Input.Path = f.input
	}
	if f.bucket != "" {
		cfg.Input.Bucket = f.bucket
	}
	if f.profile != "" {
		cfg.Input.Profile = f.profile
	}

	p, err := profiles.Lookup(cfg.Input.Profile)
	if err != nil {
		return nil, nil, err
	}

	job, err := salesetl.NewFromConfig(ctx, cfg, salesetl.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	p.Apply(job)

	return cfg, job, nil
}

func closeJob(job *salesetl.Job) {
	if err := job.Close(); err != nil {
		l := job.Logger()
		l.Warn().Err(err).Msg("failed to close job")
	}
}

func metricsMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

func renderPreview(ds *salesetl.Dataset, n int) {
	fmt.Println("Sample data after transformation:")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(ds.Columns)
	table.SetAutoWrapText(false)
	for i := 0; i < ds.Len() && i < n; i++ {
		table.Append(ds.Strings(i, "NULL"))
	}
	table.Render()
}

func renderResult(res *salesetl.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"run", "status", "phase", "extracted", "dropped", "loaded", "duration"})
	table.Append([]string{
		res.RunID,
		string(res.Status),
		string(res.Phase),
		strconv.Itoa(res.Extracted),
		strconv.Itoa(res.Dropped),
		strconv.Itoa(res.Loaded),
		res.Duration().Round(time.Millisecond).String(),
	})
	table.Render()
}
