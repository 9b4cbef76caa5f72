package profiles_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.nownabe.dev/salesetl"
	"go.nownabe.dev/salesetl/contrib/profiles"
)

func Test_Lookup(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		expect string
		e      bool
	}{
		{name: "", expect: "default"},
		{name: "default", expect: "default"},
		{name: "Customer_Shopping", expect: "customer_shopping"},
		{name: "workbook_export", expect: "workbook_export"},
		{name: "unknown", e: true},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			p, err := profiles.Lookup(c.name)
			if c.e {
				if err == nil {
					t.Errorf("Expected error didn't occur")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if p.Name != c.expect {
				t.Errorf("expected profile %q, but %q", c.expect, p.Name)
			}
		})
	}
}

func Test_CustomerShopping_DayFirstDates(t *testing.T) {
	t.Parallel()

	j, err := salesetl.New(salesetl.WithLogLevel("disabled"))
	if err != nil {
		t.Fatal(err)
	}
	profiles.CustomerShopping().Apply(j)

	table := &salesetl.Table{
		Columns: []string{"invoice_no", "customer_id", "category", "quantity", "price", "invoice_date"},
		Rows: [][]string{
			{"I138884", "C241288", "Clothing", "5", "1500.4", "24/10/2021"},
			{"I317333", "C111565", "Shoes", "3", "1800.51", "5/8/2022"},
		},
	}

	ds, err := salesetl.Transform(context.Background(), table, j.Transform)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if ds.Len() != 2 {
		t.Fatalf("Size of records should be 2, but %d", ds.Len())
	}

	expected := []time.Time{
		time.Date(2021, 10, 24, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 8, 5, 0, 0, 0, 0, time.UTC),
	}
	for i, e := range expected {
		if !ds.Records[i].Date.Equal(e) {
			t.Errorf("records[%d].Date should be %s, but %s", i, e, ds.Records[i].Date)
		}
	}
}

func Test_WorkbookExport_Renames(t *testing.T) {
	t.Parallel()

	j, err := salesetl.New(salesetl.WithLogLevel("disabled"))
	if err != nil {
		t.Fatal(err)
	}
	profiles.WorkbookExport().Apply(j)

	if !j.Transform.CleanNumbers {
		t.Errorf("CleanNumbers should be enabled")
	}

	table := &salesetl.Table{
		Columns: []string{"Receipt No", "Sales Date", "Item Category", "Qty", "Unit Price", "Store"},
		Rows: [][]string{
			{"R-1", "2023/01/05", "Toys", "2", "$1,250.50", "Shibuya"},
		},
	}

	ds, err := salesetl.Transform(context.Background(), table, j.Transform)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if ds.Len() != 1 {
		t.Fatalf("Size of records should be 1, but %d", ds.Len())
	}

	r := ds.Records[0]
	if r.TransactionID != "R-1" {
		t.Errorf(`TransactionID should be "R-1", but %q`, r.TransactionID)
	}
	if r.TotalAmount.String() != "2501" {
		t.Errorf(`TotalAmount should be "2501", but %q`, r.TotalAmount.String())
	}
	if r.Extra["store"] != "Shibuya" {
		t.Errorf(`Extra["store"] should be "Shibuya", but %q`, r.Extra["store"])
	}
}

func Test_WorkbookExport_Workbook(t *testing.T) {
	t.Parallel()

	j, err := salesetl.New(salesetl.WithLogLevel("disabled"))
	if err != nil {
		t.Fatal(err)
	}
	p := profiles.WorkbookExport()
	p.Apply(j)

	f, err := os.Open(filepath.Join("..", "..", "testdata", "sales_export.xls"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	records, err := p.Parser(context.Background(), f)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	table, err := salesetl.NewTable(records)
	if err != nil {
		t.Fatal(err)
	}

	ds, err := salesetl.Transform(context.Background(), table, j.Transform)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// The row without a receipt number is dropped, not shifted into the wrong columns.
	if ds.Len() != 2 {
		t.Fatalf("Size of records should be 2, but %d", ds.Len())
	}
	if ds.DropReasons[salesetl.ColTransactionID] != 1 {
		t.Errorf("drop reasons should count 1 transaction_id, but %v", ds.DropReasons)
	}

	for i, r := range ds.Records {
		if r.TransactionID != "R001" {
			t.Errorf(`records[%d].TransactionID should be "R001", but %q`, i, r.TransactionID)
		}
		if r.TotalSalesPerOrder.String() != "57.5" {
			t.Errorf(`records[%d].TotalSalesPerOrder should be "57.5", but %q`, i, r.TotalSalesPerOrder.String())
		}
	}
	if ds.Records[0].Extra["store"] != "Kanyon" {
		t.Errorf(`Extra["store"] should be "Kanyon", but %q`, ds.Records[0].Extra["store"])
	}
}
