// Package materialize merges cell values, enrichment, curated images and
// schema defaults into canonical records.
package materialize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/lab-inventory/internal/mapping"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// Options carries the record metadata attached to every row.
type Options struct {
	DepartmentID string
	CreatedBy    string
}

// Defaults applied to fields that are still NULL after merging.
var defaults = map[schema.Field]any{
	schema.FieldStatus:          "available",
	schema.FieldCondition:       "good",
	schema.FieldCurrentQuantity: 0,
	schema.FieldIsBorrowable:    true,
	schema.FieldUnit:            "pcs",
}

// Default returns the value applied to f when nothing else supplies one.
func Default(f schema.Field) (any, bool) {
	v, ok := defaults[f]
	return v, ok
}

// Row builds the canonical record for one source row. Precedence, highest
// first: coerced cell value, enrichment value, defaults. A non-empty image
// selection replaces the image fields regardless of the other sources.
func Row(row model.SourceRow, m *mapping.Mapping, enr *model.EnrichmentRecord, selected []model.Image, opts Options) model.CanonicalRecord {
	rec := model.CanonicalRecord{
		Row:          row.Index,
		Line:         row.FileRow(),
		Values:       make(map[schema.Field]any, len(schema.Fields())),
		DepartmentID: opts.DepartmentID,
		CreatedBy:    opts.CreatedBy,
	}

	for _, f := range schema.Fields() {
		var v any
		if h, ok := m.HeaderFor(f); ok {
			v = Coerce(f, row.Value(h))
		}
		if v == nil {
			if ev, ok := enr.Get(f); ok {
				v = Coerce(f, toString(ev.Value))
			}
		}
		rec.Values[f] = v
	}

	if len(selected) > 0 {
		rec.Images = append([]model.Image(nil), selected...)
		rec.Values[schema.FieldImageURL] = selected[0].URL
	}

	for f, d := range defaults {
		if rec.Values[f] == nil {
			rec.Values[f] = d
		}
	}
	return rec
}

// Coerce converts a raw cell to the Go value stored for f: string, int,
// float64 or bool, or nil for NULL.
func Coerce(f schema.Field, raw string) any {
	s := strings.TrimSpace(raw)
	switch f.Kind() {
	case schema.KindInteger:
		if s == "" {
			return nil
		}
		n, ok := parseInteger(s)
		if !ok {
			return 0
		}
		return n
	case schema.KindDecimal:
		n, ok := schema.ParseNumber(s)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		return n
	case schema.KindBoolean:
		switch strings.ToLower(s) {
		case "true", "yes", "1":
			return true
		case "false", "no", "0":
			return false
		default:
			return nil
		}
	case schema.KindEnum:
		if v, ok := schema.NormalizeEnum(f, s); ok {
			return v
		}
		return nil
	case schema.KindDate:
		if d, ok := parseDate(s); ok {
			return d
		}
		return nil
	default:
		if s == "" {
			return nil
		}
		return s
	}
}

// parseInteger accepts integral numbers within the INTEGER column range,
// including spreadsheet renderings such as "25.0" and "1,000".
func parseInteger(s string) (int, bool) {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int(n), true
	}
	f, ok := schema.ParseNumber(s)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2 Jan 2006",
	"January 2, 2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// excelEpoch is day zero of the 1900 date system as used by spreadsheets.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// parseDate returns s as YYYY-MM-DD. Day-first layouts are tried before
// month-first ones; spreadsheet serial numbers are accepted.
func parseDate(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 2958466 {
		days := int(serial)
		return excelEpoch.AddDate(0, 0, days).Format("2006-01-02"), true
	}
	return "", false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
