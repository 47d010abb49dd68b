package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrEmptyCSV is returned when the input has no header row.
var ErrEmptyCSV = errors.New("no columns to parse from input")

// ReadCSV parses comma-separated text with a header row.
//
// Each column is typed independently: if every non-empty cell parses as a
// number the column holds float64, if every non-empty cell is a boolean
// literal it holds bool, otherwise it holds strings. Empty cells are nil.
// Duplicate header names are suffixed ".1", ".2" and so on.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	columns := dedupe(header)

	var raw [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(raw)+1, err)
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		if len(rec) > len(columns) {
			return nil, fmt.Errorf("row %d: expected %d fields, saw %d", len(raw)+1, len(columns), len(rec))
		}
		for len(rec) < len(columns) {
			rec = append(rec, "")
		}
		raw = append(raw, rec)
	}

	rows := make([][]any, len(raw))
	for i := range rows {
		rows[i] = make([]any, len(columns))
	}
	for c := range columns {
		kind := inferColumn(raw, c)
		for r, rec := range raw {
			rows[r][c] = convertCell(rec[c], kind)
		}
	}

	return &Table{columns: columns, rows: rows}, nil
}

// WriteCSV writes the table as CSV with a header row and no index column.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return err
	}
	rec := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, v := range row {
			rec[i] = FormatCell(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV returns the table serialized with WriteCSV.
func (t *Table) CSV() []byte {
	var buf bytes.Buffer
	// bytes.Buffer writes never fail.
	_ = t.WriteCSV(&buf)
	return buf.Bytes()
}

type cellKind int

const (
	kindEmpty cellKind = iota
	kindNumber
	kindBool
	kindString
)

func inferColumn(raw [][]string, c int) cellKind {
	kind := kindEmpty
	for _, rec := range raw {
		s := strings.TrimSpace(rec[c])
		if s == "" {
			continue
		}
		var k cellKind
		switch {
		case isNumber(s):
			k = kindNumber
		case isBool(s):
			k = kindBool
		default:
			return kindString
		}
		if kind == kindEmpty {
			kind = k
		} else if kind != k {
			return kindString
		}
	}
	return kind
}

func convertCell(s string, kind cellKind) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	switch kind {
	case kindNumber:
		f, _ := strconv.ParseFloat(trimmed, 64)
		return f
	case kindBool:
		return strings.EqualFold(trimmed, "true")
	default:
		return s
	}
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	// ParseFloat accepts "Inf" and "NaN" spellings and hex forms.
	lower := strings.ToLower(s)
	return !strings.Contains(lower, "inf") && !strings.Contains(lower, "nan") && !strings.HasPrefix(strings.TrimLeft(lower, "+-"), "0x")
}

func isBool(s string) bool {
	return strings.EqualFold(s, "true") || strings.EqualFold(s, "false")
}

func dedupe(header []string) []string {
	out := make([]string, len(header))
	counts := make(map[string]int, len(header))
	taken := make(map[string]bool, len(header))
	for i, h := range header {
		name := h
		for taken[name] {
			counts[h]++
			name = fmt.Sprintf("%s.%d", h, counts[h])
		}
		taken[name] = true
		out[i] = name
	}
	return out
}
