package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lab-inventory/internal/schema"
)

func TestAutoMap_CommonHeaders(t *testing.T) {
	headers := []string{"Item Name", "SKU", "Qty"}
	m := AutoMap(headers, schema.DefaultVocabulary().Aliases)

	assert.Equal(t, map[string]string{
		"Item Name": "name",
		"SKU":       "item_code",
		"Qty":       "current_quantity",
	}, m.Assignments())
}

func TestAutoMap_TemplateLabelsMapToOwnFields(t *testing.T) {
	m := AutoMap(schema.Labels(), schema.DefaultVocabulary().Aliases)

	for _, tf := range schema.Catalog() {
		got, ok := m.Field(tf.Label)
		require.True(t, ok, "label %q was skipped", tf.Label)
		assert.Equal(t, tf.Field, got, "label %q", tf.Label)
	}
}

func TestAutoMap_UnknownHeaderSkipped(t *testing.T) {
	m := AutoMap([]string{"Name", "Zzyzx"}, schema.DefaultVocabulary().Aliases)

	_, ok := m.Field("Zzyzx")
	assert.False(t, ok)
	assert.Equal(t, Skip, m.Assignments()["Zzyzx"])
}

func TestAutoMap_NormalizesHeaders(t *testing.T) {
	m := AutoMap([]string{"  ITEM_NAME ", "Descripción"}, schema.DefaultVocabulary().Aliases)

	f, ok := m.Field("  ITEM_NAME ")
	require.True(t, ok)
	assert.Equal(t, schema.FieldName, f)

	f, ok = m.Field("Descripción")
	require.True(t, ok)
	assert.Equal(t, schema.FieldDescription, f)
}

func TestAutoMap_FieldTakenOnce(t *testing.T) {
	m := AutoMap([]string{"Name", "Product Name"}, schema.DefaultVocabulary().Aliases)

	f, ok := m.Field("Name")
	require.True(t, ok)
	assert.Equal(t, schema.FieldName, f)

	_, ok = m.Field("Product Name")
	assert.False(t, ok, "second header cannot reuse the name field")
}

func TestAutoMap_GreedyOrderDependence(t *testing.T) {
	aliases := schema.DefaultVocabulary().Aliases

	// Containment match: "brand name" contains "name", which is tried first.
	first := AutoMap([]string{"Brand Name", "Item Name"}, aliases)
	f, ok := first.Field("Brand Name")
	require.True(t, ok)
	assert.Equal(t, schema.FieldName, f)
	_, ok = first.Field("Item Name")
	assert.False(t, ok)

	second := AutoMap([]string{"Item Name", "Brand Name"}, aliases)
	f, ok = second.Field("Item Name")
	require.True(t, ok)
	assert.Equal(t, schema.FieldName, f)
	f, ok = second.Field("Brand Name")
	require.True(t, ok)
	assert.Equal(t, schema.FieldBrand, f)
}

func TestAutoMap_Deterministic(t *testing.T) {
	headers := []string{"Nama Barang", "Kode", "Jumlah", "Harga", "Satuan", "Lokasi"}
	aliases := schema.DefaultVocabulary().Aliases

	a := AutoMap(headers, aliases).Assignments()
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, AutoMap(headers, aliases).Assignments())
	}
	assert.Equal(t, "name", a["Nama Barang"])
	assert.Equal(t, "item_code", a["Kode"])
	assert.Equal(t, "current_quantity", a["Jumlah"])
	assert.Equal(t, "price", a["Harga"])
	assert.Equal(t, "unit", a["Satuan"])
	assert.Equal(t, "location", a["Lokasi"])
}

func TestAutoMap_VocabularyOverride(t *testing.T) {
	v, err := schema.ParseVocabulary([]byte("aliases:\n  location:\n    - Lemari\n"))
	require.NoError(t, err)

	m := AutoMap([]string{"Lemari"}, v.Aliases)
	f, ok := m.Field("Lemari")
	require.True(t, ok)
	assert.Equal(t, schema.FieldLocation, f)
}

func TestMapping_SetMovesField(t *testing.T) {
	m := New([]string{"A", "B"})
	require.NoError(t, m.Set("A", schema.FieldName))
	require.NoError(t, m.Set("B", schema.FieldName))

	_, ok := m.Field("A")
	assert.False(t, ok)
	h, ok := m.HeaderFor(schema.FieldName)
	require.True(t, ok)
	assert.Equal(t, "B", h)
}

func TestMapping_SetByName(t *testing.T) {
	m := New([]string{"A"})
	require.NoError(t, m.SetByName("A", "brand"))
	assert.True(t, m.Has(schema.FieldBrand))

	require.NoError(t, m.SetByName("A", "SKIP"))
	assert.False(t, m.Has(schema.FieldBrand))

	assert.Error(t, m.SetByName("A", "color"))
	assert.Error(t, m.SetByName("Z", "brand"))
}

func TestMapping_Frozen(t *testing.T) {
	m := New([]string{"A"})
	m.Freeze()

	assert.True(t, m.Frozen())
	assert.ErrorIs(t, m.Set("A", schema.FieldName), ErrFrozen)
	assert.ErrorIs(t, m.SetSkip("A"), ErrFrozen)
}

func TestMapping_HeadersCopied(t *testing.T) {
	headers := []string{"A", "B"}
	m := New(headers)
	headers[0] = "changed"

	assert.Equal(t, []string{"A", "B"}, m.Headers())
}
