package schema

import (
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Enum vocabularies. The first entry of SafetyLevels is the lowest risk tier.
var (
	Statuses     = []string{"available", "in_use", "maintenance", "damaged", "disposed"}
	Conditions   = []string{"good", "fair", "poor", "broken"}
	ItemTypes    = []string{"equipment", "instrument", "glassware", "chemical", "consumable", "tool"}
	SafetyLevels = []string{"low", "medium", "high"}
)

// EnumValues returns the allowed values of an enum field, or nil for other kinds.
func EnumValues(f Field) []string {
	switch f {
	case FieldStatus:
		return Statuses
	case FieldCondition:
		return Conditions
	case FieldItemType:
		return ItemTypes
	case FieldSafetyLevel:
		return SafetyLevels
	default:
		return nil
	}
}

// NormalizeEnum returns the canonical spelling of v for enum field f, matching
// case-insensitively and treating spaces and dashes as underscores.
func NormalizeEnum(f Field, v string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(v))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for _, allowed := range EnumValues(f) {
		if s == allowed {
			return allowed, true
		}
	}
	return "", false
}

// AliasEntry lists the lowercase aliases for one field.
type AliasEntry struct {
	Field   Field
	Aliases []string
}

// AliasTable is ordered by catalog declaration order.
type AliasTable []AliasEntry

// KeywordRule maps a category to the keywords that select it.
type KeywordRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// Vocabulary bundles the alias table with the heuristic keyword tables.
type Vocabulary struct {
	Aliases       AliasTable
	ItemTypeRules []KeywordRule
	SafetyRules   []KeywordRule
	DefaultSafety string
}

var defaultAliases = map[Field][]string{
	FieldName:            {"item name", "name", "product name", "nama barang", "nama alat", "nama"},
	FieldItemCode:        {"item code", "code", "kode", "sku", "product code", "asset tag"},
	FieldSerialNumber:    {"serial number", "serial", "s/n", "nomor seri"},
	FieldBrand:           {"brand", "merk", "merek", "manufacturer"},
	FieldCatalogNumber:   {"catalog number", "catalogue", "catalog", "cat no", "cat. no", "part number"},
	FieldDescription:     {"description", "desc", "deskripsi", "specification", "spesifikasi", "details"},
	FieldItemType:        {"item type", "type", "category", "kategori", "jenis"},
	FieldSafetyLevel:     {"safety level", "safety", "hazard", "risk", "bahaya"},
	FieldStatus:          {"status"},
	FieldCondition:       {"condition", "kondisi"},
	FieldMinimumQuantity: {"minimum quantity", "min qty", "minimum", "min stock", "reorder level", "stok minimum"},
	FieldCurrentQuantity: {"quantity", "qty", "stock", "stok", "jumlah", "amount", "count"},
	FieldPrice:           {"unit price", "price", "harga", "cost"},
	FieldUnit:            {"unit", "satuan", "uom"},
	FieldLocation:        {"location", "lokasi", "room", "ruang", "storage", "shelf"},
	FieldSupplier:        {"supplier", "vendor", "pemasok", "distributor"},
	FieldPurchaseDate:    {"purchase date", "date", "tanggal", "acquired"},
	FieldIsBorrowable:    {"borrowable", "loanable", "can borrow", "dapat dipinjam", "pinjam"},
	FieldImageURL:        {"image url", "image", "photo", "picture", "gambar", "foto"},
	FieldNotes:           {"notes", "note", "remarks", "keterangan", "catatan", "comment"},
}

var defaultItemTypeRules = []KeywordRule{
	{Category: "chemical", Keywords: []string{"acid", "hydroxide", "chloride", "sulfate", "nitrate", "ethanol", "methanol", "acetone", "reagent", "buffer", "solvent", "indicator"}},
	{Category: "glassware", Keywords: []string{"beaker", "flask", "pipette", "burette", "test tube", "cylinder", "petri", "funnel", "glass", "vial"}},
	{Category: "instrument", Keywords: []string{"microscope", "spectrophotometer", "balance", "ph meter", "thermometer", "analyzer", "chromatograph", "multimeter"}},
	{Category: "equipment", Keywords: []string{"centrifuge", "incubator", "oven", "autoclave", "hot plate", "stirrer", "shaker", "fume hood", "refrigerator", "freezer"}},
	{Category: "consumable", Keywords: []string{"glove", "mask", "tissue", "filter paper", "tip", "swab", "cotton", "parafilm", "label"}},
	{Category: "tool", Keywords: []string{"spatula", "tweezer", "forceps", "scissors", "clamp", "rack", "brush", "tongs"}},
}

// Safety rules are declared highest risk first so the first match is the most
// conservative classification.
var defaultSafetyRules = []KeywordRule{
	{Category: "high", Keywords: []string{"acid", "hydroxide", "cyanide", "mercury", "formaldehyde", "benzene", "chloroform", "toxic", "corrosive", "flammable", "radioactive", "peroxide"}},
	{Category: "medium", Keywords: []string{"ethanol", "methanol", "acetone", "autoclave", "hot plate", "bunsen", "centrifuge", "oven", "heater", "uv lamp", "compressed gas"}},
}

// DefaultVocabulary returns a fresh copy of the compiled-in vocabulary.
func DefaultVocabulary() *Vocabulary {
	v := &Vocabulary{
		Aliases:       make(AliasTable, 0, fieldCount),
		ItemTypeRules: cloneRules(defaultItemTypeRules),
		SafetyRules:   cloneRules(defaultSafetyRules),
		DefaultSafety: SafetyLevels[0],
	}
	for _, f := range Fields() {
		aliases := append([]string(nil), defaultAliases[f]...)
		v.Aliases = append(v.Aliases, AliasEntry{Field: f, Aliases: aliases})
	}
	return v
}

func cloneRules(rules []KeywordRule) []KeywordRule {
	out := make([]KeywordRule, len(rules))
	for i, r := range rules {
		out[i] = KeywordRule{Category: r.Category, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}

// vocabularyFile is the YAML layout of a vocabulary override file.
type vocabularyFile struct {
	Aliases      map[string][]string `yaml:"aliases"`
	ItemTypes    []KeywordRule       `yaml:"item_types"`
	SafetyLevels []KeywordRule       `yaml:"safety_levels"`
}

// LoadVocabulary reads a YAML override file and merges it into the default
// vocabulary. Aliases are appended to the field's list; keyword rules are
// prepended so they take precedence over the compiled-in rules.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read vocabulary %s", path)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary merges YAML override content into the default vocabulary.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var file vocabularyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "schema: parse vocabulary")
	}

	v := DefaultVocabulary()
	for key, extra := range file.Aliases {
		f, ok := ParseField(key)
		if !ok {
			return nil, eris.Errorf("schema: vocabulary: unknown field %q", key)
		}
		for _, a := range extra {
			if n := NormalizeHeader(a); n != "" {
				v.Aliases[f].Aliases = append(v.Aliases[f].Aliases, n)
			}
		}
	}

	rules, err := checkRules(FieldItemType, file.ItemTypes)
	if err != nil {
		return nil, err
	}
	v.ItemTypeRules = append(rules, v.ItemTypeRules...)

	rules, err = checkRules(FieldSafetyLevel, file.SafetyLevels)
	if err != nil {
		return nil, err
	}
	v.SafetyRules = append(rules, v.SafetyRules...)

	return v, nil
}

func checkRules(f Field, rules []KeywordRule) ([]KeywordRule, error) {
	out := make([]KeywordRule, 0, len(rules))
	for _, r := range rules {
		cat, ok := NormalizeEnum(f, r.Category)
		if !ok {
			return nil, eris.Errorf("schema: vocabulary: %q is not a valid %s", r.Category, f)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kws = append(kws, k)
			}
		}
		out = append(out, KeywordRule{Category: cat, Keywords: kws})
	}
	return out, nil
}

// Classify returns the category of the first rule with a keyword contained in
// text (case-insensitive).
func Classify(rules []KeywordRule, text string) (string, bool) {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	for _, r := range rules {
		for _, k := range r.Keywords {
			if strings.Contains(text, k) {
				return r.Category, true
			}
		}
	}
	return "", false
}

// NormalizeHeader trims, lowercases and folds accents; underscores become
// spaces and runs of whitespace collapse to one space.
func NormalizeHeader(h string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(fold, h)
	if err != nil {
		s = h
	}
	s = strings.ToLower(strings.ReplaceAll(s, "_", " "))
	return strings.Join(strings.Fields(s), " ")
}
