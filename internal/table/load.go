package table

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"clonecore/pkg/domain"
)

// ErrUnsupportedInput is returned by Load when the source is neither a table
// nor a readable delimited file.
var ErrUnsupportedInput = errors.New("input is not a record table and file does not exist")

// missingTokens are read as missing values.
var missingTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-nan": {}, "NULL": {}, "null": {}, "None": {}, "<NA>": {},
}

// textColumns are never inferred as numeric or boolean.
var textColumns = map[string]struct{}{
	domain.ColumnSequenceID: {}, domain.ColumnCellID: {}, domain.ColumnSampleID: {}, domain.DefaultCloneKey: {},
	domain.ColumnLocus: {}, domain.ColumnProductive: {},
}

// Load builds a RecordTable from an existing table (copied), a column slice,
// a reader of tab-separated text, or a path to a tab-separated file
// (optionally gzip-compressed with a .gz suffix).
func Load(src any) (*RecordTable, error) {
	switch s := src.(type) {
	case *RecordTable:
		if s == nil {
			return nil, ErrUnsupportedInput
		}
		return New(s.Export())
	case []Column:
		return New(s)
	case io.Reader:
		return ReadTSV(s)
	case string:
		info, err := os.Stat(s)
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedInput, s)
		}
		return ReadFile(s)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedInput, src)
	}
}

// ReadFile loads a tab-separated file.
func ReadFile(path string) (*RecordTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	t, err := ReadTSV(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// ReadTSV parses tab-separated text with a header row and infers column kinds.
func ReadTSV(r io.Reader) (*RecordTable, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.ReuseRecord = false
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.SchemaError{Missing: []string{domain.ColumnSequenceID}, Hint: "input is empty"}
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	raw := make([][]string, len(header))
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		for i := range header {
			cell := ""
			if i < len(rec) {
				cell = rec[i]
			}
			raw[i] = append(raw[i], cell)
		}
	}
	columns := make([]Column, len(header))
	for i, name := range header {
		columns[i] = inferColumn(strings.TrimSpace(name), raw[i])
	}
	return New(columns)
}

func inferColumn(name string, cells []string) Column {
	kind := KindString
	if _, text := textColumns[name]; !text {
		kind = inferKind(cells)
	}
	values := make([]Value, len(cells))
	for i, cell := range cells {
		values[i] = parseCell(cell, kind)
	}
	return Column{Name: name, Kind: kind, Values: values}
}

func inferKind(cells []string) Kind {
	sawValue := false
	allBool, allNumber := true, true
	for _, cell := range cells {
		if _, missing := missingTokens[cell]; missing {
			continue
		}
		sawValue = true
		if _, ok := parseBool(cell); !ok {
			allBool = false
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			allNumber = false
		}
		if !allBool && !allNumber {
			return KindString
		}
	}
	switch {
	case !sawValue:
		return KindString
	case allBool:
		return KindBool
	case allNumber:
		return KindNumber
	default:
		return KindString
	}
}

func parseCell(cell string, kind Kind) Value {
	if _, missing := missingTokens[cell]; missing {
		return Missing()
	}
	switch kind {
	case KindBool:
		b, _ := parseBool(cell)
		return Bool(b)
	case KindNumber:
		f, _ := strconv.ParseFloat(cell, 64)
		return Number(f)
	default:
		return String(cell)
	}
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "True", "TRUE", "true":
		return true, true
	case "False", "FALSE", "false":
		return false, true
	}
	return false, false
}

// WriteTSV writes the table as tab-separated text with a header row.
func WriteTSV(w io.Writer, t *RecordTable) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'
	if err := writer.Write(t.Columns()); err != nil {
		return err
	}
	record := make([]string, len(t.columns))
	for row := 0; row < t.length; row++ {
		for i, col := range t.columns {
			record[i] = col.Values[row].Text()
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
