package schema

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func TestCatalog_DeclarationOrder(t *testing.T) {
	cat := Catalog()
	require.Len(t, cat, int(fieldCount))
	for i, tf := range cat {
		assert.Equal(t, Field(i), tf.Field, "catalog entry %d out of order", i)
		assert.NotEmpty(t, tf.Key)
		assert.NotEmpty(t, tf.Label)
	}
}

func TestCatalog_OnlyNameRequired(t *testing.T) {
	for _, tf := range Catalog() {
		assert.Equal(t, tf.Field == FieldName, tf.Required, tf.Key)
	}
}

func TestCatalog_KeysUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, tf := range Catalog() {
		assert.False(t, seen[tf.Key], "duplicate key %s", tf.Key)
		seen[tf.Key] = true
	}
}

func TestParseField(t *testing.T) {
	f, ok := ParseField(" Item_Code ")
	require.True(t, ok)
	assert.Equal(t, FieldItemCode, f)

	_, ok = ParseField("nope")
	assert.False(t, ok)
}

func TestField_InvalidString(t *testing.T) {
	assert.Equal(t, "unknown", Field(-1).String())
	assert.Equal(t, "unknown", fieldCount.String())
	assert.Equal(t, "current_quantity", FieldCurrentQuantity.String())
}

func TestNormalizeEnum(t *testing.T) {
	tests := []struct {
		field Field
		in    string
		want  string
		ok    bool
	}{
		{FieldStatus, "Available", "available", true},
		{FieldStatus, "In Use", "in_use", true},
		{FieldStatus, "in-use", "in_use", true},
		{FieldStatus, "lost", "", false},
		{FieldSafetyLevel, " HIGH ", "high", true},
		{FieldCondition, "Broken", "broken", true},
		{FieldName, "anything", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeEnum(tt.field, tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "item code", NormalizeHeader("  Item_Code "))
	assert.Equal(t, "descripcion", NormalizeHeader("Descripción"))
	assert.Equal(t, "unit price", NormalizeHeader("Unit   Price"))
	assert.Equal(t, "", NormalizeHeader("   "))
}

func TestDefaultVocabulary_IsACopy(t *testing.T) {
	a := DefaultVocabulary()
	a.Aliases[FieldName].Aliases[0] = "mutated"
	a.SafetyRules[0].Keywords[0] = "mutated"

	b := DefaultVocabulary()
	assert.Equal(t, "item name", b.Aliases[FieldName].Aliases[0])
	assert.Equal(t, "acid", b.SafetyRules[0].Keywords[0])
	assert.Equal(t, "low", b.DefaultSafety)
}

func TestParseVocabulary_MergesOverrides(t *testing.T) {
	v, err := ParseVocabulary([]byte(`
aliases:
  item_code:
    - "Barcode"
item_types:
  - category: Tool
    keywords: ["Wrench"]
safety_levels:
  - category: medium
    keywords: ["laser"]
`))
	require.NoError(t, err)

	assert.Contains(t, v.Aliases[FieldItemCode].Aliases, "barcode")
	assert.Equal(t, KeywordRule{Category: "tool", Keywords: []string{"wrench"}}, v.ItemTypeRules[0])
	assert.Equal(t, "medium", v.SafetyRules[0].Category)
	assert.Len(t, v.ItemTypeRules, len(defaultItemTypeRules)+1)
}

func TestParseVocabulary_UnknownField(t *testing.T) {
	_, err := ParseVocabulary([]byte("aliases:\n  colour: [\"color\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestParseVocabulary_InvalidCategory(t *testing.T) {
	_, err := ParseVocabulary([]byte("safety_levels:\n  - category: extreme\n    keywords: [\"x\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid")
}

func TestClassify_FirstRuleWins(t *testing.T) {
	v := DefaultVocabulary()

	cat, ok := Classify(v.ItemTypeRules, "Sodium Hydroxide pellets in glass bottle")
	require.True(t, ok)
	assert.Equal(t, "chemical", cat)

	cat, ok = Classify(v.SafetyRules, "Ethanol 96% with Hydrochloric ACID traces")
	require.True(t, ok)
	assert.Equal(t, "high", cat)

	_, ok = Classify(v.SafetyRules, "Plastic ruler")
	assert.False(t, ok)

	_, ok = Classify(v.ItemTypeRules, "   ")
	assert.False(t, ok)
}

func TestWriteTemplate_HeaderMatchesCatalog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)

	sheet := f.Sheets[0]
	assert.Equal(t, TemplateSheetName, sheet.Name)
	require.Len(t, sheet.Rows, 1+len(TemplateExamples()))

	var header []string
	for _, c := range sheet.Rows[0].Cells {
		header = append(header, c.String())
	}
	assert.Equal(t, Labels(), header)
	assert.Equal(t, "Beaker 500ml", sheet.Rows[1].Cells[FieldName].String())
}
