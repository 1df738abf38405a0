// Package fetcher parses uploaded spreadsheets and downloads remote images.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lab-inventory/internal/model"
)

var (
	// ErrEmptySheet is returned for a file without a header row or without
	// any non-blank data row.
	ErrEmptySheet = eris.New("fetcher: spreadsheet has no data rows")
	// ErrUnsupportedFormat is returned for file names with an unknown extension.
	ErrUnsupportedFormat = eris.New("fetcher: unsupported spreadsheet format")
)

// MaxSheetBytes caps the size of an uploaded spreadsheet.
const MaxSheetBytes = 32 << 20

// ParseSheet reads the first sheet of an .xlsx, .csv or .tsv file. The first
// row is the header row. Blank header cells are named "Column N", repeated
// headers get a " (2)", " (3)" suffix and fully blank data rows are dropped.
func ParseSheet(ctx context.Context, name string, r io.Reader) (*model.Sheet, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSheetBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read upload")
	}
	if len(data) > MaxSheetBytes {
		return nil, eris.Errorf("fetcher: %s exceeds %d bytes", name, MaxSheetBytes)
	}

	var rows [][]string
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm":
		rows, err = ReadXLSX(data, XLSXOptions{})
	case ".csv", ".tsv", ".txt":
		rows, err = ReadCSV(ctx, data)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "extension %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return BuildSheet(rows)
}

// BuildSheet turns raw rows into a Sheet. See ParseSheet for the header and
// blank-row rules.
func BuildSheet(rows [][]string) (*model.Sheet, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	width := 0
	for _, r := range rows {
		width = max(width, lastNonBlank(r)+1)
	}
	if width == 0 {
		return nil, ErrEmptySheet
	}

	headers := uniqueHeaders(rows[0], width)
	sheet := &model.Sheet{Headers: headers}
	for i, r := range rows[1:] {
		if lastNonBlank(r) < 0 {
			continue
		}
		row := model.NewSourceRow(len(sheet.Rows), headers, r)
		row.Line = i + 2
		sheet.Rows = append(sheet.Rows, row)
	}
	if len(sheet.Rows) == 0 {
		return nil, ErrEmptySheet
	}
	return sheet, nil
}

// uniqueHeaders names blank headers "Column N" and renames repeats with a
// " (2)", " (3)" suffix, skipping suffixed names that already appear in the
// header row.
func uniqueHeaders(raw []string, width int) []string {
	headers := make([]string, width)
	present := make(map[string]bool, width)
	for i := range headers {
		h := ""
		if i < len(raw) {
			h = strings.TrimSpace(raw[i])
		}
		if h == "" {
			h = fmt.Sprintf("Column %d", i+1)
		}
		headers[i] = h
		present[strings.ToLower(h)] = true
	}

	used := make(map[string]bool, width)
	for i, h := range headers {
		name := h
		for n := 2; used[strings.ToLower(name)]; n++ {
			candidate := fmt.Sprintf("%s (%d)", h, n)
			if present[strings.ToLower(candidate)] {
				continue
			}
			name = candidate
		}
		used[strings.ToLower(name)] = true
		headers[i] = name
	}
	return headers
}

func lastNonBlank(r []string) int {
	for i := len(r) - 1; i >= 0; i-- {
		if strings.TrimSpace(r[i]) != "" {
			return i
		}
	}
	return -1
}
