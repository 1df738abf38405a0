// Package schema declares the fixed inventory target schema: the closed set of
// importable fields, their kinds and groups, enum vocabularies, header aliases
// and the keyword tables used by local enrichment heuristics.
package schema

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Field identifies one destination attribute of an inventory item.
type Field int

// Fields in catalog declaration order. The order is significant: the column
// mapper tries fields in this order and the template export writes labels in
// this order. More specific fields are declared before the generic fields
// whose aliases they contain (price before unit, minimum before current
// quantity).
const (
	FieldName Field = iota
	FieldItemCode
	FieldSerialNumber
	FieldBrand
	FieldCatalogNumber
	FieldDescription
	FieldItemType
	FieldSafetyLevel
	FieldStatus
	FieldCondition
	FieldMinimumQuantity
	FieldCurrentQuantity
	FieldPrice
	FieldUnit
	FieldLocation
	FieldSupplier
	FieldPurchaseDate
	FieldIsBorrowable
	FieldImageURL
	FieldNotes

	fieldCount
)

// Kind is the coercion family of a field.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindDecimal
	KindBoolean
	KindEnum
	KindDate
)

// Group clusters fields for display in the mapping step.
type Group string

const (
	GroupIdentity       Group = "identity"
	GroupClassification Group = "classification"
	GroupStock          Group = "stock"
	GroupPurchase       Group = "purchase"
	GroupMedia          Group = "media"
	GroupOther          Group = "other"
)

// TargetField is an immutable catalog entry.
type TargetField struct {
	Field    Field
	Key      string // column name in the record store
	Label    string // template header
	Required bool
	Group    Group
	Kind     Kind
	Example  string
}

var catalog = [fieldCount]TargetField{
	FieldName:            {FieldName, "name", "Item Name", true, GroupIdentity, KindText, "Beaker 500ml"},
	FieldItemCode:        {FieldItemCode, "item_code", "Item Code", false, GroupIdentity, KindText, "BKR-500"},
	FieldSerialNumber:    {FieldSerialNumber, "serial_number", "Serial Number", false, GroupIdentity, KindText, "SN-2024-0001"},
	FieldBrand:           {FieldBrand, "brand", "Brand", false, GroupIdentity, KindText, "Pyrex"},
	FieldCatalogNumber:   {FieldCatalogNumber, "catalog_number", "Catalog Number", false, GroupIdentity, KindText, "1000-500"},
	FieldDescription:     {FieldDescription, "description", "Description", false, GroupIdentity, KindText, "Low form griffin beaker, borosilicate glass"},
	FieldItemType:        {FieldItemType, "item_type", "Item Type", false, GroupClassification, KindEnum, "glassware"},
	FieldSafetyLevel:     {FieldSafetyLevel, "safety_level", "Safety Level", false, GroupClassification, KindEnum, "low"},
	FieldStatus:          {FieldStatus, "status", "Status", false, GroupClassification, KindEnum, "available"},
	FieldCondition:       {FieldCondition, "condition", "Condition", false, GroupClassification, KindEnum, "good"},
	FieldMinimumQuantity: {FieldMinimumQuantity, "minimum_quantity", "Minimum Quantity", false, GroupStock, KindInteger, "5"},
	FieldCurrentQuantity: {FieldCurrentQuantity, "current_quantity", "Quantity", false, GroupStock, KindInteger, "25"},
	FieldPrice:           {FieldPrice, "price", "Unit Price", false, GroupPurchase, KindDecimal, "12.50"},
	FieldUnit:            {FieldUnit, "unit", "Unit", false, GroupStock, KindText, "pcs"},
	FieldLocation:        {FieldLocation, "location", "Location", false, GroupStock, KindText, "Cabinet A2"},
	FieldSupplier:        {FieldSupplier, "supplier", "Supplier", false, GroupPurchase, KindText, "Lab Supplies Co"},
	FieldPurchaseDate:    {FieldPurchaseDate, "purchase_date", "Purchase Date", false, GroupPurchase, KindDate, "2024-03-15"},
	FieldIsBorrowable:    {FieldIsBorrowable, "is_borrowable", "Borrowable", false, GroupOther, KindBoolean, "yes"},
	FieldImageURL:        {FieldImageURL, "image_url", "Image URL", false, GroupMedia, KindText, ""},
	FieldNotes:           {FieldNotes, "notes", "Notes", false, GroupOther, KindText, ""},
}

// Fields returns every field in declaration order.
func Fields() []Field {
	out := make([]Field, fieldCount)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// Catalog returns the target field catalog in declaration order.
func Catalog() []TargetField {
	out := make([]TargetField, fieldCount)
	copy(out, catalog[:])
	return out
}

// Valid reports whether f is a declared field.
func (f Field) Valid() bool {
	return f >= 0 && f < fieldCount
}

// Target returns the catalog entry for f.
func (f Field) Target() TargetField {
	if !f.Valid() {
		return TargetField{Field: f}
	}
	return catalog[f]
}

// Key returns the store column name of f.
func (f Field) Key() string { return f.Target().Key }

// Label returns the template header of f.
func (f Field) Label() string { return f.Target().Label }

// Kind returns the coercion family of f.
func (f Field) Kind() Kind { return f.Target().Kind }

func (f Field) String() string {
	if !f.Valid() {
		return "unknown"
	}
	return catalog[f].Key
}

// MarshalText encodes f as its store column name.
func (f Field) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, eris.Errorf("schema: invalid field %d", int(f))
	}
	return []byte(catalog[f].Key), nil
}

// UnmarshalText decodes a store column name.
func (f *Field) UnmarshalText(b []byte) error {
	parsed, ok := ParseField(string(b))
	if !ok {
		return eris.Errorf("schema: unknown field %q", string(b))
	}
	*f = parsed
	return nil
}

// ParseField resolves a store column name (case-insensitive) to a Field.
func ParseField(key string) (Field, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, tf := range catalog {
		if tf.Key == key {
			return tf.Field, true
		}
	}
	return 0, false
}

// Labels returns the template header row in declaration order.
func Labels() []string {
	out := make([]string, fieldCount)
	for i, tf := range catalog {
		out[i] = tf.Label
	}
	return out
}

// UniqueFields are the fields backed by unique constraints in the record store.
// FieldItemCode is also the upsert conflict target.
var UniqueFields = []Field{FieldItemCode, FieldSerialNumber}

// ConflictField is the column used as the upsert conflict target.
const ConflictField = FieldItemCode
