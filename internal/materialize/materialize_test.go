package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lab-inventory/internal/mapping"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

func setup(headers []string, values []string) (model.SourceRow, *mapping.Mapping) {
	return model.NewSourceRow(0, headers, values), mapping.AutoMap(headers, schema.DefaultVocabulary().Aliases)
}

func TestRow_ScenarioA(t *testing.T) {
	row, m := setup([]string{"Item Name", "SKU", "Qty"}, []string{"Beaker 500ml", "BKR-500", "25"})

	rec := Row(row, m, nil, nil, Options{DepartmentID: "dept-1", CreatedBy: "user-9"})

	assert.Equal(t, "Beaker 500ml", rec.Values[schema.FieldName])
	assert.Equal(t, "BKR-500", rec.Values[schema.FieldItemCode])
	assert.Equal(t, 25, rec.Values[schema.FieldCurrentQuantity])
	assert.Equal(t, "available", rec.Values[schema.FieldStatus])
	assert.Equal(t, "good", rec.Values[schema.FieldCondition])
	assert.Equal(t, "pcs", rec.Values[schema.FieldUnit])
	assert.Equal(t, true, rec.Values[schema.FieldIsBorrowable])
	assert.Nil(t, rec.Values[schema.FieldDescription])
	assert.Nil(t, rec.Values[schema.FieldPrice])
	assert.Equal(t, "dept-1", rec.DepartmentID)
	assert.Equal(t, "user-9", rec.CreatedBy)
	assert.Len(t, rec.Values, len(schema.Fields()))
}

func TestRow_ExplicitBeatsEnrichment(t *testing.T) {
	row, m := setup([]string{"Name", "Description", "Qty"}, []string{"Beaker", "User text", ""})
	enr := model.NewEnrichmentRecord()
	enr.Set(schema.FieldDescription, "Online text", model.SourceOnline)
	enr.Set(schema.FieldCurrentQuantity, 7, model.SourceOnline)
	enr.Set(schema.FieldItemCode, "BE-001", model.SourceAuto)

	rec := Row(row, m, enr, nil, Options{})

	assert.Equal(t, "User text", rec.Values[schema.FieldDescription])
	assert.Equal(t, 7, rec.Values[schema.FieldCurrentQuantity])
	assert.Equal(t, "BE-001", rec.Values[schema.FieldItemCode])
}

func TestRow_EnrichmentBeatsDefaults(t *testing.T) {
	row, m := setup([]string{"Name", "Status"}, []string{"Beaker", "unknown-status"})
	enr := model.NewEnrichmentRecord()
	enr.Set(schema.FieldStatus, "maintenance", model.SourceManual)

	rec := Row(row, m, enr, nil, Options{})

	// The invalid explicit value coerces to NULL, so enrichment fills it.
	assert.Equal(t, "maintenance", rec.Values[schema.FieldStatus])
}

func TestRow_SelectedImagesAlwaysWin(t *testing.T) {
	row, m := setup([]string{"Name", "Image URL"}, []string{"Beaker", "https://user.example.com/b.png"})
	enr := model.NewEnrichmentRecord()
	enr.Set(schema.FieldImageURL, "https://enriched.example.com/x.png", model.SourceOnline)
	selected := []model.Image{
		{URL: "https://curated.example.com/1.png", Source: "web"},
		{URL: "https://curated.example.com/2.png", Source: "web"},
	}

	rec := Row(row, m, enr, selected, Options{})

	assert.Equal(t, "https://curated.example.com/1.png", rec.Values[schema.FieldImageURL])
	assert.Equal(t, selected, rec.Images)

	selected[0].URL = "mutated"
	assert.NotEqual(t, "mutated", rec.Images[0].URL)
}

func TestRow_EmptySelectionKeepsCellImage(t *testing.T) {
	row, m := setup([]string{"Name", "Image URL"}, []string{"Beaker", "https://user.example.com/b.png"})

	rec := Row(row, m, nil, []model.Image{}, Options{})

	assert.Equal(t, "https://user.example.com/b.png", rec.Values[schema.FieldImageURL])
	assert.Empty(t, rec.Images)
}

func TestRow_DefaultsOnlyWhenUnset(t *testing.T) {
	headers := []string{"Name", "Status", "Condition", "Qty", "Borrowable", "Unit"}
	row, m := setup(headers, []string{"Beaker", "In Use", "FAIR", "0", "no", "box"})

	rec := Row(row, m, nil, nil, Options{})

	assert.Equal(t, "in_use", rec.Values[schema.FieldStatus])
	assert.Equal(t, "fair", rec.Values[schema.FieldCondition])
	assert.Equal(t, 0, rec.Values[schema.FieldCurrentQuantity])
	assert.Equal(t, false, rec.Values[schema.FieldIsBorrowable])
	assert.Equal(t, "box", rec.Values[schema.FieldUnit])
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name  string
		field schema.Field
		raw   string
		want  any
	}{
		{"int", schema.FieldCurrentQuantity, "25", 25},
		{"int float form", schema.FieldCurrentQuantity, "25.0", 25},
		{"int thousands", schema.FieldCurrentQuantity, "1,000", 1000},
		{"int blank", schema.FieldCurrentQuantity, "  ", nil},
		{"int garbage defaults", schema.FieldCurrentQuantity, "lots", 0},
		{"int fraction defaults", schema.FieldMinimumQuantity, "2.5", 0},
		{"int max", schema.FieldCurrentQuantity, "2147483647", 2147483647},
		{"int overflow defaults", schema.FieldCurrentQuantity, "5000000000", 0},
		{"int underflow defaults", schema.FieldCurrentQuantity, "-5000000000", 0},
		{"int overflow thousands defaults", schema.FieldCurrentQuantity, "5,000,000,000", 0},
		{"decimal", schema.FieldPrice, "12.50", 12.5},
		{"decimal thousands", schema.FieldPrice, "1,250.75", 1250.75},
		{"decimal garbage", schema.FieldPrice, "n/a", nil},
		{"decimal NaN", schema.FieldPrice, "NaN", nil},
		{"bool yes", schema.FieldIsBorrowable, "Yes", true},
		{"bool 0", schema.FieldIsBorrowable, "0", false},
		{"bool unknown", schema.FieldIsBorrowable, "maybe", nil},
		{"enum", schema.FieldSafetyLevel, "HIGH", "high"},
		{"enum invalid", schema.FieldSafetyLevel, "extreme", nil},
		{"date iso", schema.FieldPurchaseDate, "2024-03-15", "2024-03-15"},
		{"date day first", schema.FieldPurchaseDate, "15/03/2024", "2024-03-15"},
		{"date serial", schema.FieldPurchaseDate, "45366", "2024-03-15"},
		{"date garbage", schema.FieldPurchaseDate, "someday", nil},
		{"text trimmed", schema.FieldLocation, "  Cabinet A2 ", "Cabinet A2"},
		{"text blank", schema.FieldNotes, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coerce(tt.field, tt.raw))
		})
	}
}

func TestDefault(t *testing.T) {
	v, ok := Default(schema.FieldUnit)
	require.True(t, ok)
	assert.Equal(t, "pcs", v)

	_, ok = Default(schema.FieldName)
	assert.False(t, ok)
}

func TestRow_KeepsSpreadsheetLine(t *testing.T) {
	row, m := setup([]string{"Name"}, []string{"Beaker"})
	row.Line = 7

	rec := Row(row, m, nil, nil, Options{})

	assert.Equal(t, 0, rec.Row)
	assert.Equal(t, 7, rec.FileRow())
}
