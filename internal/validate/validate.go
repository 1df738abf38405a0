// Package validate produces per-row structural warnings for parsed rows.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lab-inventory/internal/mapping"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// ErrNameUnmapped is reported when no header maps to the name field. It is
// the only issue that blocks a commit.
var ErrNameUnmapped = eris.New("validate: no column is mapped to the item name")

// Issue is one validation finding. Row is the 1-based spreadsheet row
// number, or 0 for file-level issues.
type Issue struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Report is the outcome of validating a sheet.
type Report struct {
	Issues []Issue `json:"issues"`
	// Blocking is set when the name column is unmapped.
	Blocking bool `json:"blocking"`
}

// Err returns ErrNameUnmapped when the report blocks commit.
func (r Report) Err() error {
	if r.Blocking {
		return ErrNameUnmapped
	}
	return nil
}

// Rows checks rows against m. It never mutates rows and never stops at the
// first problem, except when the name field is unmapped: then a single
// row-0 issue is returned.
func Rows(rows []model.SourceRow, m *mapping.Mapping) Report {
	if !m.Has(schema.FieldName) {
		return Report{
			Issues:   []Issue{{Row: 0, Field: schema.FieldName.Key(), Message: ErrNameUnmapped.Error()}},
			Blocking: true,
		}
	}

	var rep Report
	seenCodes := make(map[string]int)
	codeHeader, hasCode := m.HeaderFor(schema.FieldItemCode)

	for _, row := range rows {
		n := row.FileRow()
		add := func(f schema.Field, msg string) {
			rep.Issues = append(rep.Issues, Issue{Row: n, Field: f.Key(), Message: msg})
		}

		for _, tf := range schema.Catalog() {
			if !tf.Required {
				continue
			}
			h, ok := m.HeaderFor(tf.Field)
			if !ok || row.Trimmed(h) == "" {
				add(tf.Field, fmt.Sprintf("%s is required", tf.Label))
			}
		}

		if hasCode {
			if code := row.Trimmed(codeHeader); code != "" {
				if first, dup := seenCodes[code]; dup {
					add(schema.FieldItemCode, fmt.Sprintf("item code %q already used in row %d", code, first))
				} else {
					seenCodes[code] = n
				}
			}
		}

		for _, f := range []schema.Field{schema.FieldStatus, schema.FieldSafetyLevel} {
			h, ok := m.HeaderFor(f)
			if !ok {
				continue
			}
			v := row.Trimmed(h)
			if v == "" {
				continue
			}
			if _, ok := schema.NormalizeEnum(f, v); !ok {
				add(f, fmt.Sprintf("%s %q must be one of %s", f.Label(), v, strings.Join(schema.EnumValues(f), ", ")))
			}
		}

		for _, f := range schema.Fields() {
			if !schema.IsNumeric(f) {
				continue
			}
			h, ok := m.HeaderFor(f)
			if !ok {
				continue
			}
			v := row.Trimmed(h)
			if v == "" {
				continue
			}
			num, ok := schema.ParseNumber(v)
			switch {
			case !ok || math.IsNaN(num) || math.IsInf(num, 0):
				add(f, fmt.Sprintf("%s %q is not a number", f.Label(), v))
			case num < 0:
				add(f, fmt.Sprintf("%s cannot be negative", f.Label()))
			}
		}
	}
	return rep
}
