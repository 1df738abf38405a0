// Package model holds the data types shared by the import pipeline stages.
package model

import "strings"

// HeaderRowOffset converts a 0-based data row index into the 1-based row
// number shown in the spreadsheet (one header row).
const HeaderRowOffset = 2

// Sheet is a parsed spreadsheet: the header row and every data row.
type Sheet struct {
	Headers []string    `json:"headers"`
	Rows    []SourceRow `json:"rows"`
}

// SourceRow is one spreadsheet data row, keyed by raw header.
type SourceRow struct {
	Index   int               `json:"index"`
	// Line is the 1-based spreadsheet row, counting dropped blank rows.
	// Zero falls back to Index + HeaderRowOffset.
	Line    int               `json:"line,omitempty"`
	Headers []string          `json:"-"`
	Cells   map[string]string `json:"cells"`
}

// NewSourceRow pairs headers with values. Missing trailing values are empty.
func NewSourceRow(index int, headers, values []string) SourceRow {
	cells := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(values) {
			cells[h] = values[i]
		} else {
			cells[h] = ""
		}
	}
	return SourceRow{Index: index, Headers: headers, Cells: cells}
}

// Value returns the raw cell under header, or "" if absent.
func (r SourceRow) Value(header string) string {
	return r.Cells[header]
}

// Trimmed returns the whitespace-trimmed cell under header.
func (r SourceRow) Trimmed(header string) string {
	return strings.TrimSpace(r.Cells[header])
}

// FileRow is the 1-based spreadsheet row number used in operator messages.
func (r SourceRow) FileRow() int {
	if r.Line > 0 {
		return r.Line
	}
	return r.Index + HeaderRowOffset
}

// Blank reports whether every cell is empty after trimming.
func (r SourceRow) Blank() bool {
	for _, v := range r.Cells {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
