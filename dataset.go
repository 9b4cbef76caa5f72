package salesetl

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Column names of the cleaned sales table.
const (
	ColTransactionID      = "transaction_id"
	ColDate               = "date"
	ColProductCategory    = "product_category"
	ColQuantity           = "quantity"
	ColPricePerUnit       = "price_per_unit"
	ColTotalAmount        = "total_amount"
	ColTotalSalesPerOrder = "total_sales_per_order"
)

// ColumnType is the semantic type of a cleaned column.
type ColumnType int

// Column types. Pass-through columns are inferred as TypeInteger, TypeFloat or TypeString.
const (
	TypeString ColumnType = iota
	TypeTimestamp
	TypeNumeric
	TypeInteger
	TypeFloat
)

func (t ColumnType) String() string {
	switch t {
	case TypeTimestamp:
		return "timestamp"
	case TypeNumeric:
		return "numeric"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	}
	return "string"
}

// Column describes one column of the cleaned table.
type Column struct {
	Name string
	Type ColumnType

	// Required columns are never null in a Dataset.
	Required bool
}

var fixedColumnTypes = map[string]ColumnType{
	ColTransactionID:      TypeString,
	ColDate:               TypeTimestamp,
	ColProductCategory:    TypeString,
	ColQuantity:           TypeNumeric,
	ColPricePerUnit:       TypeNumeric,
	ColTotalAmount:        TypeNumeric,
	ColTotalSalesPerOrder: TypeNumeric,
}

// Record is one cleaned sales record.
type Record struct {
	TransactionID      string
	Date               time.Time
	ProductCategory    string
	Quantity           decimal.Decimal
	PricePerUnit       decimal.Decimal
	TotalAmount        decimal.Decimal
	TotalSalesPerOrder decimal.Decimal

	// Extra holds pass-through columns by normalized name. Null cells are absent.
	Extra map[string]string
}

// Dataset is the cleaned table produced by Transform.
type Dataset struct {
	// Columns lists output column names in table order.
	Columns []string
	Records []*Record

	// Extracted is the number of raw rows read.
	Extracted int
	// Dropped is the number of rows excluded for a null required field.
	Dropped int
	// DropReasons counts dropped rows by the first required field found null.
	DropReasons map[string]int

	schema []Column
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Schema returns the column types in table order.
func (d *Dataset) Schema() []Column {
	if d.schema == nil {
		d.schema = d.inferSchema()
	}
	return d.schema
}

func (d *Dataset) inferSchema() []Column {
	cols := make([]Column, len(d.Columns))

	for i, name := range d.Columns {
		if t, ok := fixedColumnTypes[name]; ok {
			cols[i] = Column{Name: name, Type: t, Required: name != ColTotalSalesPerOrder}
			continue
		}
		cols[i] = Column{Name: name, Type: d.inferExtraType(name)}
	}

	return cols
}

func (d *Dataset) inferExtraType(name string) ColumnType {
	t := TypeInteger
	seen := false

	for _, r := range d.Records {
		v, ok := r.Extra[name]
		if !ok {
			continue
		}
		seen = true

		if t == TypeInteger {
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				continue
			}
			t = TypeFloat
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return TypeString
		}
	}

	if !seen {
		return TypeString
	}
	return t
}

// Values returns the typed values of record i in table order. Null cells are nil.
func (d *Dataset) Values(i int) []interface{} {
	r := d.Records[i]
	schema := d.Schema()
	vs := make([]interface{}, len(schema))

	for j, c := range schema {
		switch c.Name {
		case ColTransactionID:
			vs[j] = r.TransactionID
		case ColDate:
			vs[j] = r.Date
		case ColProductCategory:
			vs[j] = r.ProductCategory
		case ColQuantity:
			vs[j] = r.Quantity
		case ColPricePerUnit:
			vs[j] = r.PricePerUnit
		case ColTotalAmount:
			vs[j] = r.TotalAmount
		case ColTotalSalesPerOrder:
			vs[j] = r.TotalSalesPerOrder
		default:
			vs[j] = extraValue(r.Extra, c)
		}
	}

	return vs
}

// Strings returns record i rendered as text in table order. Null cells are rendered as null.
func (d *Dataset) Strings(i int, null string) []string {
	vs := d.Values(i)
	ss := make([]string, len(vs))

	for j, v := range vs {
		switch v := v.(type) {
		case nil:
			ss[j] = null
		case string:
			ss[j] = v
		case time.Time:
			ss[j] = v.Format("2006-01-02 15:04:05")
		case decimal.Decimal:
			ss[j] = v.String()
		case int64:
			ss[j] = strconv.FormatInt(v, 10)
		case float64:
			ss[j] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}

	return ss
}

func extraValue(extra map[string]string, c Column) interface{} {
	v, ok := extra[c.Name]
	if !ok {
		return nil
	}

	switch c.Type {
	case TypeInteger:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case TypeFloat:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return v
}
