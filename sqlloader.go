package salesetl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	// sqlite3 is the local destination.
	_ "github.com/mattn/go-sqlite3"
)

// DefaultTable is the destination table name.
const DefaultTable = "sales_data"

// Dialect is a SQL destination flavor.
type Dialect string

// Supported dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

var columnTypes = map[Dialect]map[ColumnType]string{
	DialectPostgres: {
		TypeString:    "TEXT",
		TypeTimestamp: "TIMESTAMP",
		TypeNumeric:   "NUMERIC",
		TypeInteger:   "BIGINT",
		TypeFloat:     "DOUBLE PRECISION",
	},
	DialectSQLite: {
		TypeString:    "TEXT",
		TypeTimestamp: "TIMESTAMP",
		TypeNumeric:   "NUMERIC",
		TypeInteger:   "INTEGER",
		TypeFloat:     "REAL",
	},
}

// SQLLoader replaces a relational table with the dataset inside one transaction.
type SQLLoader struct {
	DB      *sqlx.DB
	Dialect Dialect
	Table   string
}

// NewPostgresLoader builds a loader writing into table on the database described by cfg.
// No connection is made until Load.
func NewPostgresLoader(cfg PostgresConfig, table string) (*SQLLoader, error) {
	db, err := sqlx.Open(string(DialectPostgres), cfg.DSN())
	if err != nil {
		return nil, xerrors.Errorf("failed to open postgres %s: %w", cfg.Address(), err)
	}

	return &SQLLoader{DB: db, Dialect: DialectPostgres, Table: table}, nil
}

// NewSQLiteLoader builds a loader writing into table of the SQLite database at path.
func NewSQLiteLoader(path, table string) (*SQLLoader, error) {
	db, err := sqlx.Open(string(DialectSQLite), path)
	if err != nil {
		return nil, xerrors.Errorf("failed to open sqlite %s: %w", path, err)
	}

	return &SQLLoader{DB: db, Dialect: DialectSQLite, Table: table}, nil
}

// Load drops and recreates the table, then bulk inserts every record.
// Nothing is changed when any step fails.
func (l *SQLLoader) Load(ctx context.Context, ds *Dataset) error {
	lg := log.Ctx(ctx).With().Str("table", l.table()).Str("dialect", string(l.Dialect)).Logger()

	if err := l.DB.PingContext(ctx); err != nil {
		lg.Error().Err(err).Msg("failed to connect to destination")
		return xerrors.Errorf("failed to connect to %s: %w", l.Dialect, err)
	}

	tx, err := l.DB.BeginTxx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range l.replaceStatements(ds) {
		lg.Debug().Str("sql", stmt).Msg("exec")
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return xerrors.Errorf("failed to recreate table %s: %w", l.table(), err)
		}
	}

	switch l.Dialect {
	case DialectPostgres:
		err = l.copyIn(ctx, tx, ds)
	default:
		err = l.insert(ctx, tx, ds)
	}
	if err != nil {
		return err
	}

	var count int
	if err := tx.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+quoteTable(l.table())); err != nil {
		return xerrors.Errorf("failed to count loaded rows: %w", err)
	}
	if count != ds.Len() {
		return xerrors.Errorf("loaded %d rows into %s, expected %d", count, l.table(), ds.Len())
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("failed to commit: %w", err)
	}

	ev := lg.Info().Int("rows", count)
	if started, ok := StartedTimeFrom(ctx); ok {
		ev = ev.Dur("elapsed", time.Since(started))
	}
	ev.Msg("data successfully loaded")

	return nil
}

// Close closes the database handle.
func (l *SQLLoader) Close() error {
	return l.DB.Close()
}

func (l *SQLLoader) table() string {
	if l.Table == "" {
		return DefaultTable
	}
	return l.Table
}

func (l *SQLLoader) replaceStatements(ds *Dataset) []string {
	types := columnTypes[l.Dialect]
	if types == nil {
		types = columnTypes[DialectPostgres]
	}

	defs := make([]string, 0, len(ds.Columns))
	for _, c := range ds.Schema() {
		def := pq.QuoteIdentifier(c.Name) + " " + types[c.Type]
		if c.Required {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	table := quoteTable(l.table())

	return []string{
		"DROP TABLE IF EXISTS " + table,
		fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", ")),
	}
}

func (l *SQLLoader) copyIn(ctx context.Context, tx *sqlx.Tx, ds *Dataset) error {
	query := pq.CopyIn(l.table(), ds.Columns...)
	if schema, table, ok := strings.Cut(l.table(), "."); ok {
		query = pq.CopyInSchema(schema, table, ds.Columns...)
	}

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return xerrors.Errorf("failed to prepare copy: %w", err)
	}
	defer stmt.Close()

	for i := range ds.Records {
		if _, err := stmt.ExecContext(ctx, ds.Values(i)...); err != nil {
			return xerrors.Errorf("failed to copy record %d: %w", i, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return xerrors.Errorf("failed to flush copy: %w", err)
	}

	return nil
}

func (l *SQLLoader) insert(ctx context.Context, tx *sqlx.Tx, ds *Dataset) error {
	cols := make([]string, len(ds.Columns))
	marks := make([]string, len(ds.Columns))
	for i, c := range ds.Columns {
		cols[i] = pq.QuoteIdentifier(c)
		marks[i] = "?"
	}

	query := tx.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteTable(l.table()), strings.Join(cols, ", "), strings.Join(marks, ", ")))

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return xerrors.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range ds.Records {
		if _, err := stmt.ExecContext(ctx, ds.Values(i)...); err != nil {
			return xerrors.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	return nil
}

func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
