package salesetl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_CSVParser(t *testing.T) {
	body := "Invoice No,Category,Price\nA1,\"Toys, Games\",10\nA2,Books\n"

	actual, err := CSVParser()(context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := [][]string{
		{"Invoice No", "Category", "Price"},
		{"A1", "Toys, Games", "10"},
		{"A2", "Books"},
	}
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func Test_DelimitedParser(t *testing.T) {
	actual, err := DelimitedParser('\t')(context.Background(), strings.NewReader("a\tb\n1\t2\n"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if diff := cmp.Diff([][]string{{"a", "b"}, {"1", "2"}}, actual); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func Test_PartialCSVParser(t *testing.T) {
	t.Parallel()

	cases := []struct {
		skipHeadRows uint
		skipTailRows uint
		sep          string
		body         string
		expect       [][]string
	}{
		{
			skipHeadRows: 3,
			skipTailRows: 3,
			sep:          "\n",
			body:         "foo\n\nbar\n1,2,3\n4,5,6\n\nbaz\nqux",
			expect:       [][]string{{"1", "2", "3"}, {"4", "5", "6"}},
		},
		{
			skipHeadRows: 0,
			skipTailRows: 3,
			sep:          "\n",
			body:         "1,2,3\n4,5,6\n\nbaz\nqux",
			expect:       [][]string{{"1", "2", "3"}, {"4", "5", "6"}},
		},
		{
			skipHeadRows: 3,
			skipTailRows: 0,
			sep:          "\n",
			body:         "foo\n\nbar\n1,2,3\n4,5,6\n",
			expect:       [][]string{{"1", "2", "3"}, {"4", "5", "6"}},
		},
		{
			skipHeadRows: 3,
			skipTailRows: 3,
			sep:          "\r\n",
			body:         "foo\r\n\r\nbar\r\n1,2,3\r\n4,5,6\r\n\r\nbaz\r\nqux",
			expect:       [][]string{{"1", "2", "3"}, {"4", "5", "6"}},
		},
	}

	ctx := context.Background()
	for _, c := range cases {
		c := c
		t.Run(
			fmt.Sprintf("head=%d,tail=%d,sep=%q", c.skipHeadRows, c.skipTailRows, c.sep),
			func(t *testing.T) {
				t.Parallel()

				f := PartialCSVParser(c.skipHeadRows, c.skipTailRows, c.sep)
				actual, err := f(ctx, bytes.NewReader([]byte(c.body)))
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}

				if diff := cmp.Diff(c.expect, actual); diff != "" {
					t.Errorf("records mismatch (-want +got):\n%s", diff)
				}
			},
		)
	}
}

func Test_PartialCSVParser_TooShort(t *testing.T) {
	_, err := PartialCSVParser(3, 3, "\n")(context.Background(), strings.NewReader("a\nb"))
	if !errors.Is(err, ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, but %v", err)
	}
}

func Test_XLSParser(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "sales_export.xls"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	actual, err := XLSParser(0)(context.Background(), f)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// The second data row has no receipt number; its cells must stay under their headers.
	expected := [][]string{
		{"Receipt No", "Sales Date", "Item Category", "Qty", "Unit Price", "Store"},
		{"R001", "2023/1/1", "Toys", "2", "10", "Kanyon"},
		{"", "2023/1/2", "Books", "1", "5", "Forum Istanbul"},
		{"R001", "2023/1/1", "Shoes", "3", "12.5", ""},
	}
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func Test_XLSParser_NoSheet(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "sales_export.xls"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := XLSParser(1)(context.Background(), f); !errors.Is(err, errNoSheet) {
		t.Errorf("expected errNoSheet, but %v", err)
	}
}

func Test_XLSParser_Invalid(t *testing.T) {
	_, err := XLSParser(0)(context.Background(), strings.NewReader("not a workbook"))
	if err == nil {
		t.Error("expected error but no error occurred")
	}
}

func Test_ParserFor(t *testing.T) {
	cases := []struct {
		format  string
		name    string
		records int
		err     bool
	}{
		{format: "auto", name: "data/raw/sales_data.csv", records: 2},
		{format: "", name: "sales.CSV", records: 2},
		{format: "auto", name: "sales", records: 2},
		{format: "tsv", name: "sales.csv", records: 1},
		{format: "auto", name: "sales.parquet", err: true},
		{format: "json", name: "sales.csv", err: true},
	}

	for _, c := range cases {
		c := c
		t.Run(c.format+":"+c.name, func(t *testing.T) {
			t.Parallel()

			p, err := ParserFor(c.format, c.name)
			if c.err {
				if err == nil {
					t.Error("expected error but no error occurred")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			records, err := p(context.Background(), strings.NewReader("a,b\n1,2\n"))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(records[0]) == 0 || len(records) != 2 {
				t.Fatalf("expected 2 records, but %d", len(records))
			}
			if c.records == 1 && len(records[0]) != 1 {
				t.Errorf("tsv should not split on commas, but %v", records[0])
			}
			if c.records == 2 && len(records[0]) != 2 {
				t.Errorf("csv should split on commas, but %v", records[0])
			}
		})
	}
}

func Test_NewTable(t *testing.T) {
	tb, err := NewTable([][]string{{"a", "b", "c"}, {"1"}, {"1", "2", "3"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if tb.Len() != 2 {
		t.Errorf("tb.Len() should be 2, but %d", tb.Len())
	}
	if diff := cmp.Diff([]string{"1", "", ""}, tb.Rows[0]); diff != "" {
		t.Errorf("short row should be padded (-want +got):\n%s", diff)
	}

	errCases := map[string][][]string{
		"empty":      nil,
		"blank head": {{"", " "}},
		"wide row":   {{"a"}, {"1", "2"}},
	}
	for name, records := range errCases {
		if _, err := NewTable(records); !errors.Is(err, ErrMalformedInput) {
			t.Errorf("%s: expected ErrMalformedInput, but %v", name, err)
		}
	}
}
