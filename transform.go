package salesetl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const (
	defaultBatchSize   = 1000
	defaultConcurrency = 1
)

// DefaultRenames maps normalized export column names to the cleaned table's names.
var DefaultRenames = map[string]string{
	"invoice_no":   ColTransactionID,
	"invoice_date": ColDate,
	"category":     ColProductCategory,
	"price":        ColPricePerUnit,
}

// DefaultDateLayouts are tried in order when parsing the date column. Slash dates are month first.
var DefaultDateLayouts = []string{
	"1/2/2006",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"2006-1-2",
	"2006-1-2 15:04",
	"2006-1-2 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/1/2",
	"2006/1/2 15:04:05",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// requiredColumns are the columns a record must have non-null to be kept,
// in the order used to attribute a drop.
var requiredColumns = []string{
	ColTransactionID,
	ColDate,
	ColQuantity,
	ColPricePerUnit,
	ColProductCategory,
}

// naValues are the cell values read as null.
var naValues = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

var numberCleaner = strings.NewReplacer(",", "", "$", "", "¥", "", "€", "", "£", "", "円", "", " ", "")

// TransformOptions tunes Transform. The zero value uses the defaults.
type TransformOptions struct {
	// Renames maps normalized input names to output names. Nil means DefaultRenames.
	Renames map[string]string

	// DateLayouts are tried in order to parse the date column. Nil means DefaultDateLayouts.
	DateLayouts []string

	// CleanNumbers strips thousands separators and currency marks before numeric coercion.
	CleanNumbers bool

	// Concurrency is the number of row batches coerced at once.
	Concurrency int

	// BatchSize is the number of rows in a batch.
	BatchSize int
}

func (o TransformOptions) withDefaults() TransformOptions {
	if o.Renames == nil {
		o.Renames = DefaultRenames
	}
	if len(o.DateLayouts) == 0 {
		o.DateLayouts = DefaultDateLayouts
	}
	if o.Concurrency < 1 {
		o.Concurrency = defaultConcurrency
	}
	if o.BatchSize < 1 {
		o.BatchSize = defaultBatchSize
	}
	return o
}

// NormalizeColumnName lowercases name and replaces spaces with underscores.
func NormalizeColumnName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// CleanNumber removes thousands separators, currency marks and spaces from s.
func CleanNumber(s string) string {
	return numberCleaner.Replace(s)
}

// Transform cleans a raw export table into a Dataset.
//
// Column names are normalized and renamed, the date, quantity and price
// columns are coerced, total_amount is derived, records with a null required
// field are dropped, and total_sales_per_order is the sum of total_amount
// over records sharing a transaction_id.
func Transform(ctx context.Context, t *Table, opts TransformOptions) (*Dataset, error) {
	l := log.Ctx(ctx)
	opts = opts.withDefaults()

	columns, err := resolveColumns(t.Columns, opts.Renames)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			return nil, xerrors.Errorf("%s: %w", c, ErrMissingColumn)
		}
	}

	c := &coercer{columns: columns, index: index, opts: opts}
	records := make([]*Record, t.Len())
	reasons := make([]string, t.Len())

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Concurrency)

	for start := 0; start < t.Len(); start += opts.BatchSize {
		start := start
		end := start + opts.BatchSize
		if end > t.Len() {
			end = t.Len()
		}

		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				records[i], reasons[i] = c.coerce(t.Rows[i])
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, xerrors.Errorf("failed to coerce rows: %w", err)
	}

	ds := &Dataset{
		Columns:     outputColumns(columns),
		Records:     make([]*Record, 0, t.Len()),
		Extracted:   t.Len(),
		DropReasons: map[string]int{},
	}

	for i, r := range records {
		if r == nil {
			ds.Dropped++
			ds.DropReasons[reasons[i]]++
			l.Debug().Int("row", i+1).Str("null_field", reasons[i]).Msg("dropped record")
			continue
		}
		ds.Records = append(ds.Records, r)
	}

	sumByOrder(ds.Records)

	l.Info().
		Int("extracted", ds.Extracted).
		Int("kept", ds.Len()).
		Int("dropped", ds.Dropped).
		Msg("data transformation complete")

	return ds, nil
}

// resolveColumns normalizes and renames the header.
func resolveColumns(header []string, renames map[string]string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]string, len(header))

	for i, h := range header {
		name := NormalizeColumnName(h)
		if name == "" {
			name = unnamedColumn(i)
		}
		if renamed, ok := renames[name]; ok {
			name = renamed
		}

		if prev, ok := seen[name]; ok {
			return nil, xerrors.Errorf("%q and %q both map to %q: %w", prev, h, name, ErrDuplicateColumn)
		}
		seen[name] = h
		columns[i] = name
	}

	return columns, nil
}

// unnamedColumn names a blank header cell after its position, e.g. the index
// column of a DataFrame export becomes "unnamed:_0".
func unnamedColumn(i int) string {
	return NormalizeColumnName(fmt.Sprintf("Unnamed: %d", i))
}

func outputColumns(columns []string) []string {
	out := append([]string(nil), columns...)

	for _, derived := range []string{ColTotalAmount, ColTotalSalesPerOrder} {
		found := false
		for _, c := range columns {
			if c == derived {
				found = true
				break
			}
		}
		if !found {
			out = append(out, derived)
		}
	}

	return out
}

type coercer struct {
	columns []string
	index   map[string]int
	opts    TransformOptions
}

// coerce converts one raw row. It returns a nil record and the name of the
// first null required field when the row must be dropped.
func (c *coercer) coerce(row []string) (*Record, string) {
	cell := func(name string) string { return row[c.index[name]] }

	id := cell(ColTransactionID)
	if isNA(id) {
		return nil, ColTransactionID
	}

	date, ok := parseDate(cell(ColDate), c.opts.DateLayouts)
	if !ok {
		return nil, ColDate
	}

	qty, ok := parseNumber(cell(ColQuantity), c.opts.CleanNumbers)
	if !ok {
		return nil, ColQuantity
	}

	price, ok := parseNumber(cell(ColPricePerUnit), c.opts.CleanNumbers)
	if !ok {
		return nil, ColPricePerUnit
	}

	category := cell(ColProductCategory)
	if isNA(category) {
		return nil, ColProductCategory
	}

	r := &Record{
		TransactionID:   id,
		Date:            date,
		ProductCategory: category,
		Quantity:        qty,
		PricePerUnit:    price,
		TotalAmount:     qty.Mul(price),
		Extra:           map[string]string{},
	}

	for i, name := range c.columns {
		if _, fixed := fixedColumnTypes[name]; fixed {
			continue
		}
		if v := row[i]; !isNA(v) {
			r.Extra[name] = v
		}
	}

	return r, ""
}

func sumByOrder(records []*Record) {
	totals := make(map[string]decimal.Decimal)
	for _, r := range records {
		totals[r.TransactionID] = totals[r.TransactionID].Add(r.TotalAmount)
	}
	for _, r := range records {
		r.TotalSalesPerOrder = totals[r.TransactionID]
	}
}

func isNA(v string) bool {
	if _, ok := naValues[v]; ok {
		return true
	}
	return strings.TrimSpace(v) == ""
}

func parseNumber(v string, clean bool) (decimal.Decimal, bool) {
	if isNA(v) {
		return decimal.Decimal{}, false
	}

	s := strings.TrimSpace(v)
	if clean {
		s = CleanNumber(s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func parseDate(v string, layouts []string) (time.Time, bool) {
	if isNA(v) {
		return time.Time{}, false
	}

	s := strings.TrimSpace(v)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
