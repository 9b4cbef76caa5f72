package salesetl

import (
	"bytes"
	"context"
	"encoding/csv"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Loader loads a cleaned dataset into a destination table, replacing its contents.
type Loader interface {
	Load(context.Context, *Dataset) error
}

const bigQueryNullMarker = `\N`

// BigQueryLoader loads datasets into a BigQuery table with a truncating load job.
type BigQueryLoader struct {
	client *bigquery.Client
	table  *bigquery.Table
}

// NewBigQueryLoader builds a loader for project.dataset.table.
func NewBigQueryLoader(ctx context.Context, project, dataset, table string) (*BigQueryLoader, error) {
	bq, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, xerrors.Errorf("failed to build bigquery client for %s: %w", project, err)
	}

	return &BigQueryLoader{client: bq, table: bq.Dataset(dataset).Table(table)}, nil
}

// Close closes the BigQuery client.
func (l *BigQueryLoader) Close() error {
	return l.client.Close()
}

// Load writes ds as CSV into a load job which truncates the table.
func (l *BigQueryLoader) Load(ctx context.Context, ds *Dataset) error {
	lg := log.Ctx(ctx)

	buf, err := datasetCSV(ds, bigQueryNullMarker)
	if err != nil {
		lg.Error().Err(err).Msg("failed to write csv")
		return xerrors.Errorf("failed to write csv: %w", err)
	}

	rs := bigquery.NewReaderSource(buf)
	rs.Schema = bigQuerySchema(ds)
	rs.NullMarker = bigQueryNullMarker

	loader := l.table.LoaderFrom(rs)
	loader.WriteDisposition = bigquery.WriteTruncate
	loader.CreateDisposition = bigquery.CreateIfNeeded
	if id, ok := RunIDFrom(ctx); ok {
		loader.JobID = "salesetl_" + id
	}

	job, err := loader.Run(ctx)
	if err != nil {
		lg.Error().Err(err).Msg("failed to run bigquery load job")
		return xerrors.Errorf("failed to run load job: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		lg.Error().Err(err).Msg("failed to wait job")
		return xerrors.Errorf("failed to wait load job %s: %w", job.ID(), err)
	}

	if status.Err() != nil {
		lg.Error().Interface("errors", status.Errors).Msg("failed to load csv")
		return xerrors.Errorf("load job %s failed: %w", job.ID(), status.Err())
	}

	lg.Info().Int("rows", ds.Len()).Str("table", l.table.FullyQualifiedName()).Msg("data loaded into bigquery")

	return nil
}

func bigQuerySchema(ds *Dataset) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(ds.Columns))

	for _, c := range ds.Schema() {
		var t bigquery.FieldType
		switch c.Type {
		case TypeTimestamp:
			t = bigquery.DateTimeFieldType
		case TypeNumeric:
			t = bigquery.BigNumericFieldType
		case TypeInteger:
			t = bigquery.IntegerFieldType
		case TypeFloat:
			t = bigquery.FloatFieldType
		default:
			t = bigquery.StringFieldType
		}

		schema = append(schema, &bigquery.FieldSchema{Name: c.Name, Type: t, Required: c.Required})
	}

	return schema
}

func datasetCSV(ds *Dataset, null string) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	for i := range ds.Records {
		if err := w.Write(ds.Strings(i, null)); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf, w.Error()
}
