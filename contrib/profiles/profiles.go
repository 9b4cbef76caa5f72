// Package profiles provides pre-configured input shapes for known sales exports.
package profiles

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/xerrors"

	"go.nownabe.dev/salesetl"
)

// Profile describes how an export is parsed and which columns map to the cleaned table.
type Profile struct {
	Name string

	Parser       salesetl.Parser
	Encoding     encoding.Encoding
	Renames      map[string]string
	DateLayouts  []string
	CleanNumbers bool
}

// Apply configures j to read exports of this profile. Nil fields keep j's settings.
func (p Profile) Apply(j *salesetl.Job) {
	if p.Parser != nil {
		j.Parser = p.Parser
	}
	if p.Encoding != nil {
		j.Encoding = p.Encoding
	}
	if p.Renames != nil {
		j.Transform.Renames = p.Renames
	}
	if p.DateLayouts != nil {
		j.Transform.DateLayouts = p.DateLayouts
	}
	if p.CleanNumbers {
		j.Transform.CleanNumbers = true
	}
}

// Default reads CSV exports with the default column names and month-first dates.
func Default() Profile {
	return Profile{Name: "default"}
}

// CustomerShopping reads the Kaggle customer shopping dataset
// (customer_shopping_data.csv). Its invoice dates are day first, e.g. 24/10/2021.
func CustomerShopping() Profile {
	return Profile{
		Name:   "customer_shopping",
		Parser: salesetl.CSVParser(),
		DateLayouts: []string{
			"2/1/2006",
			"2/1/2006 15:04",
			"2006-1-2",
		},
	}
}

// WorkbookExport reads the first sheet of an .xls sales report exported from
// a POS back office. Amounts carry thousands separators and currency marks.
func WorkbookExport() Profile {
	return Profile{
		Name:   "workbook_export",
		Parser: salesetl.XLSParser(0),
		Renames: map[string]string{
			"receipt_no":    salesetl.ColTransactionID,
			"sales_date":    salesetl.ColDate,
			"item_category": salesetl.ColProductCategory,
			"unit_price":    salesetl.ColPricePerUnit,
			"qty":           salesetl.ColQuantity,
		},
		DateLayouts: []string{
			"2006/1/2",
			"2006/1/2 15:04",
			"1-2-06",
			time.RFC3339,
		},
		CleanNumbers: true,
	}
}

var registry = map[string]func() Profile{
	"default":           Default,
	"customer_shopping": CustomerShopping,
	"workbook_export":   WorkbookExport,
}

// Lookup returns the profile registered as name. Empty name is the default profile.
func Lookup(name string) (Profile, error) {
	if name == "" {
		return Default(), nil
	}

	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return Profile{}, xerrors.Errorf("unknown profile %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(), nil
}

// Names returns the registered profile names in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
