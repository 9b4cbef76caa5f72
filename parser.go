package salesetl

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"gitlab.com/osaki-lab/iowrapper"
	"golang.org/x/xerrors"
)

// Parser parses an export into records. The first record is the header.
type Parser func(context.Context, io.Reader) ([][]string, error)

// CSVParser provides a parser for comma separated exports.
func CSVParser() Parser {
	return DelimitedParser(',')
}

// DelimitedParser provides a parser for delimited text using comma as the field separator.
func DelimitedParser(comma rune) Parser {
	return func(_ context.Context, r io.Reader) ([][]string, error) {
		cr := csv.NewReader(r)
		cr.Comma = comma
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true

		records, err := cr.ReadAll()
		if err != nil {
			return nil, xerrors.Errorf("failed to read as CSV: %v: %w", err, ErrMalformedInput)
		}

		return records, nil
	}
}

// PartialCSVParser provides a parser which ignores skipHead leading lines and
// skipTail trailing lines split by sep. POS tools often put banners around the body.
func PartialCSVParser(skipHead, skipTail uint, sep string) Parser {
	return func(ctx context.Context, r io.Reader) ([][]string, error) {
		body, err := io.ReadAll(bufio.NewReader(r))
		if err != nil {
			return nil, xerrors.Errorf("failed to read: %w", err)
		}

		lines := strings.Split(strings.TrimSuffix(string(body), sep), sep)
		if uint(len(lines)) < skipHead+skipTail {
			return nil, xerrors.Errorf("only %d lines: %w", len(lines), ErrMalformedInput)
		}
		lines = lines[skipHead : uint(len(lines))-skipTail]

		return CSVParser()(ctx, strings.NewReader(strings.Join(lines, sep)))
	}
}

// XLSParser provides a parser for legacy Excel workbooks. It reads the sheet at index sheet.
func XLSParser(sheet int) Parser {
	getRow := func(s *xls.WorkSheet, i int) (r *xls.Row, ok bool) {
		defer func() {
			if recover() != nil {
				r, ok = nil, false
			}
		}()

		r = s.Row(i)
		return r, r != nil
	}

	return func(_ context.Context, r io.Reader) ([][]string, error) {
		wb, err := xls.OpenReader(iowrapper.NewSeeker(r), "utf-8")
		if err != nil {
			return nil, xerrors.Errorf("failed to open xls file: %v: %w", err, ErrMalformedInput)
		}

		s := wb.GetSheet(sheet)
		if s == nil {
			return nil, xerrors.Errorf("sheet %d: %w", sheet, errNoSheet)
		}

		// Cells are read from column A so blank leading cells keep their position.
		// Rows reporting fewer cells than the header are read to the header's width.
		records := [][]string{}
		width := 0
		for i := 0; i <= int(s.MaxRow); i++ {
			row, ok := getRow(s, i)
			if !ok {
				continue
			}

			n := row.LastCol()
			if n < width {
				n = width
			}

			record := make([]string, n)
			for col := 0; col < n; col++ {
				record[col] = row.Col(col)
			}

			if isBlankRecord(record) {
				continue
			}
			if width == 0 {
				width = len(record)
			}
			records = append(records, record)
		}

		return records, nil
	}
}

// ParserFor selects a parser by format name. "auto" (or empty) chooses by the extension of name.
func ParserFor(format, name string) (Parser, error) {
	f := strings.ToLower(format)
	if f == "" || f == "auto" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	}

	switch f {
	case "csv", "txt", "":
		return CSVParser(), nil
	case "tsv":
		return DelimitedParser('\t'), nil
	case "xls":
		return XLSParser(0), nil
	}

	return nil, xerrors.Errorf("unsupported input format %q", f)
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
