package salesetl

import (
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/google/go-cmp/cmp"
)

func Test_bigQuerySchema(t *testing.T) {
	ds := testDataset(t,
		[]string{"A1", "1/1/2023", "Toys", "2", "10", "Kanyon"},
	)

	schema := bigQuerySchema(ds)

	type field struct {
		Name     string
		Type     bigquery.FieldType
		Required bool
	}
	actual := make([]field, len(schema))
	for i, f := range schema {
		actual[i] = field{f.Name, f.Type, f.Required}
	}

	expected := []field{
		{"transaction_id", bigquery.StringFieldType, true},
		{"date", bigquery.DateTimeFieldType, true},
		{"product_category", bigquery.StringFieldType, true},
		{"quantity", bigquery.BigNumericFieldType, true},
		{"price_per_unit", bigquery.BigNumericFieldType, true},
		{"shopping_mall", bigquery.StringFieldType, false},
		{"total_amount", bigquery.BigNumericFieldType, true},
		{"total_sales_per_order", bigquery.BigNumericFieldType, false},
	}

	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
}

func Test_datasetCSV(t *testing.T) {
	ds := testDataset(t,
		[]string{"A1", "1/1/2023", "Toys, Games", "2", "10", ""},
		[]string{"A1", "1/1/2023 13:45", "Books", "0.5", "3", "Kanyon"},
	)

	buf, err := datasetCSV(ds, bigQueryNullMarker)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := "A1,2023-01-01 00:00:00,\"Toys, Games\",2,10,\\N,20,21.5\n" +
		"A1,2023-01-01 13:45:00,Books,0.5,3,Kanyon,1.5,21.5\n"
	if diff := cmp.Diff(expected, buf.String()); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}
