package model

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/lab-inventory/internal/schema"
)

// CanonicalRecord is the fully merged, coerced record for one source row.
// Values holds an entry for every catalog field; nil means NULL.
type CanonicalRecord struct {
	Row          int                  `json:"row"`
	// Line is the spreadsheet row number; zero falls back to Row.
	Line         int                  `json:"line,omitempty"`
	Values       map[schema.Field]any `json:"values"`
	Images       []Image              `json:"images,omitempty"`
	DepartmentID string               `json:"department_id"`
	CreatedBy    string               `json:"created_by,omitempty"`
}

// FileRow is the spreadsheet row number the record came from.
func (r CanonicalRecord) FileRow() int {
	if r.Line > 0 {
		return r.Line
	}
	return r.Row + HeaderRowOffset
}

// Text returns the value of f as a trimmed string, or "" for NULL and
// non-string values.
func (r CanonicalRecord) Text(f schema.Field) string {
	s, _ := r.Values[f].(string)
	return strings.TrimSpace(s)
}

// ConflictKey returns the upsert conflict key, or "" if the record has none.
func (r CanonicalRecord) ConflictKey() string {
	return r.Text(schema.ConflictField)
}

// Extra columns written alongside the catalog fields.
const (
	ColumnDepartmentID = "department_id"
	ColumnCreatedBy    = "created_by"
	ColumnImages       = "images"
)

// Columns returns the store columns written for every record, catalog fields
// first in declaration order.
func Columns() []string {
	cols := make([]string, 0, len(schema.Fields())+3)
	for _, f := range schema.Fields() {
		cols = append(cols, f.Key())
	}
	return append(cols, ColumnDepartmentID, ColumnCreatedBy, ColumnImages)
}

// RowValues returns the record's values aligned with Columns(). Images are
// encoded as a JSON array; an empty created-by becomes NULL.
func (r CanonicalRecord) RowValues() ([]any, error) {
	vals := make([]any, 0, len(schema.Fields())+3)
	for _, f := range schema.Fields() {
		vals = append(vals, r.Values[f])
	}

	images := r.Images
	if images == nil {
		images = []Image{}
	}
	encoded, err := json.Marshal(images)
	if err != nil {
		return nil, err
	}

	var createdBy any
	if r.CreatedBy != "" {
		createdBy = r.CreatedBy
	}
	return append(vals, r.DepartmentID, createdBy, string(encoded)), nil
}
