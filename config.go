package salesetl

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/xerrors"
)

// EnvPrefix prefixes environment variables read by LoadConfig.
// Nested keys are separated by a double underscore, e.g. SALESETL_INPUT__PATH.
const EnvPrefix = "SALESETL_"

// legacyEnv maps the DB_* connection variables to config keys.
var legacyEnv = map[string]string{
	"DB_HOST":     "postgres.host",
	"DB_NAME":     "postgres.database",
	"DB_USER":     "postgres.user",
	"DB_PASSWORD": "postgres.password",
	"DB_PORT":     "postgres.port",
}

const defaultRetries = 1

// Destination names.
const (
	DestinationPostgres = "postgres"
	DestinationSQLite   = "sqlite3"
	DestinationBigQuery = "bigquery"
)

// Config configures a Job.
type Config struct {
	Name        string `koanf:"name"`
	Destination string `koanf:"destination"` // postgres|sqlite3|bigquery
	Table       string `koanf:"table"`

	Input     InputConfig     `koanf:"input"`
	Transform TransformConfig `koanf:"transform"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	SQLite    SQLiteConfig    `koanf:"sqlite"`
	BigQuery  BigQueryConfig  `koanf:"bigquery"`
	Schedule  ScheduleConfig  `koanf:"schedule"`
	Slack     SlackConfig     `koanf:"slack"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`

	// TolerateFailures logs failed runs without returning an error to the caller.
	TolerateFailures bool `koanf:"tolerate_failures"`
}

// InputConfig describes where the export is and how to read it.
type InputConfig struct {
	Path     string `koanf:"path"`
	Bucket   string `koanf:"bucket"`
	Root     string `koanf:"root"`
	Format   string `koanf:"format"`   // csv|tsv|xls|auto
	Encoding string `koanf:"encoding"` // WHATWG encoding name
	Profile  string `koanf:"profile"`
}

// Source returns the configured source.
func (c InputConfig) Source() Source {
	return Source{Bucket: c.Bucket, Name: c.Path}
}

// TransformConfig tunes the transform phase.
type TransformConfig struct {
	DateLayouts     []string `koanf:"date_layouts"`
	CleanNumbers    bool     `koanf:"clean_numbers"`
	Concurrency     int      `koanf:"concurrency"`
	BatchSize       int      `koanf:"batch_size"`
	MaxDroppedRatio float64  `koanf:"max_dropped_ratio"`
}

// Options converts c into TransformOptions.
func (c TransformConfig) Options() TransformOptions {
	return TransformOptions{
		DateLayouts:  c.DateLayouts,
		CleanNumbers: c.CleanNumbers,
		Concurrency:  c.Concurrency,
		BatchSize:    c.BatchSize,
	}
}

// PostgresConfig holds the destination connection parameters.
type PostgresConfig struct {
	Host           string        `koanf:"host"`
	Database       string        `koanf:"database"`
	User           string        `koanf:"user"`
	Password       string        `koanf:"password"`
	Port           int           `koanf:"port"`
	SSLMode        string        `koanf:"sslmode"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// DefaultPostgresConfig returns the connection parameters used when nothing is configured.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:           "retail-db",
		Database:       "retail_sales_db",
		User:           "postgres",
		Password:       "postgres",
		Port:           5432,
		SSLMode:        "disable",
		ConnectTimeout: 10 * time.Second,
	}
}

// Address returns host:port.
func (c PostgresConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DSN returns a postgres:// connection URL.
func (c PostgresConfig) DSN() string {
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Address(),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// SQLiteConfig configures the sqlite3 destination.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// BigQueryConfig configures the bigquery destination.
type BigQueryConfig struct {
	Project string `koanf:"project"`
	Dataset string `koanf:"dataset"`
}

// ScheduleConfig configures the trigger.
type ScheduleConfig struct {
	Cron       string        `koanf:"cron"`
	Retries    int           `koanf:"retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
	Timezone   string        `koanf:"timezone"`
}

// SlackConfig configures the Slack notifier. Empty token disables it.
type SlackConfig struct {
	Token     string `koanf:"token"`
	Channel   string `koanf:"channel"`
	Username  string `koanf:"username"`
	IconEmoji string `koanf:"icon_emoji"`
}

// MetricsConfig configures metrics exposition.
type MetricsConfig struct {
	Listen      string `koanf:"listen"`
	Pushgateway string `koanf:"pushgateway"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// LoadConfig merges the YAML file at path (if present) with environment variables and defaults.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	// Zero is a valid retry count, so the default is set before any source is read.
	if err := k.Set("schedule.retries", defaultRetries); err != nil {
		return nil, xerrors.Errorf("failed to set defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, xerrors.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, xerrors.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, xerrors.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Schedule.Retries = defaultRetries
	cfg.applyDefaults()
	return cfg
}

func envKey(s string) string {
	if key, ok := legacyEnv[s]; ok {
		return key
	}
	if !strings.HasPrefix(s, EnvPrefix) {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "retail_sales_etl"
	}
	if c.Destination == "" {
		c.Destination = DestinationPostgres
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}

	if c.Input.Path == "" {
		c.Input.Path = DefaultInputPath
	}
	if c.Input.Format == "" {
		c.Input.Format = "auto"
	}
	if c.Input.Encoding == "" {
		c.Input.Encoding = "utf-8"
	}

	d := DefaultPostgresConfig()
	if c.Postgres.Host == "" {
		c.Postgres.Host = d.Host
	}
	if c.Postgres.Database == "" {
		c.Postgres.Database = d.Database
	}
	if c.Postgres.User == "" {
		c.Postgres.User = d.User
	}
	if c.Postgres.Password == "" {
		c.Postgres.Password = d.Password
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = d.Port
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = d.SSLMode
	}
	if c.Postgres.ConnectTimeout == 0 {
		c.Postgres.ConnectTimeout = d.ConnectTimeout
	}

	if c.SQLite.Path == "" {
		c.SQLite.Path = "sales.db"
	}

	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "@daily"
	}
	if c.Schedule.RetryDelay == 0 {
		c.Schedule.RetryDelay = 5 * time.Minute
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks values which have no usable default.
func (c *Config) Validate() error {
	switch c.Destination {
	case DestinationPostgres, DestinationSQLite:
	case DestinationBigQuery:
		if c.BigQuery.Project == "" || c.BigQuery.Dataset == "" {
			return xerrors.New("bigquery destination needs bigquery.project and bigquery.dataset")
		}
	default:
		return xerrors.Errorf("unknown destination %q", c.Destination)
	}

	if c.Schedule.Retries < 0 {
		return xerrors.Errorf("schedule.retries must not be negative: %d", c.Schedule.Retries)
	}
	if r := c.Transform.MaxDroppedRatio; r < 0 || r > 1 {
		return xerrors.Errorf("transform.max_dropped_ratio must be within [0, 1]: %v", r)
	}

	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("%s: %s -> %s.%s", c.Name, c.Input.Source().FullPath(), c.Destination, c.Table)
}
