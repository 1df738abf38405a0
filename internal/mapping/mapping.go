// Package mapping assigns raw spreadsheet headers to target schema fields.
package mapping

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lab-inventory/internal/schema"
)

// Skip is the target name of a header that is not imported.
const Skip = "skip"

// ErrFrozen is returned when a frozen mapping is edited.
var ErrFrozen = eris.New("mapping: mapping is frozen")

// Mapping assigns each raw header to a field or to skip. At most one header
// maps to a given field. A Mapping is editable during the map phase and
// frozen once validation starts.
type Mapping struct {
	headers []string
	fields  map[string]schema.Field
	frozen  bool
}

// New returns a mapping with every header skipped.
func New(headers []string) *Mapping {
	return &Mapping{
		headers: append([]string(nil), headers...),
		fields:  make(map[string]schema.Field, len(headers)),
	}
}

// Headers returns the raw headers in file order.
func (m *Mapping) Headers() []string {
	return append([]string(nil), m.headers...)
}

// Field returns the field a header maps to; false means skip.
func (m *Mapping) Field(header string) (schema.Field, bool) {
	f, ok := m.fields[header]
	return f, ok
}

// HeaderFor returns the header mapped to f.
func (m *Mapping) HeaderFor(f schema.Field) (string, bool) {
	for _, h := range m.headers {
		if got, ok := m.fields[h]; ok && got == f {
			return h, true
		}
	}
	return "", false
}

// Has reports whether some header maps to f.
func (m *Mapping) Has(f schema.Field) bool {
	_, ok := m.HeaderFor(f)
	return ok
}

// Set maps header to f. A header previously holding f is moved to skip, so
// the one-header-per-field invariant holds after every edit.
func (m *Mapping) Set(header string, f schema.Field) error {
	if m.frozen {
		return ErrFrozen
	}
	if !f.Valid() {
		return eris.Errorf("mapping: invalid field %d", int(f))
	}
	if !m.known(header) {
		return eris.Errorf("mapping: unknown header %q", header)
	}
	if prev, ok := m.HeaderFor(f); ok {
		delete(m.fields, prev)
	}
	m.fields[header] = f
	return nil
}

// SetSkip maps header to skip.
func (m *Mapping) SetSkip(header string) error {
	if m.frozen {
		return ErrFrozen
	}
	if !m.known(header) {
		return eris.Errorf("mapping: unknown header %q", header)
	}
	delete(m.fields, header)
	return nil
}

// SetByName maps header to the field with the given store key, or to skip
// when name is "skip".
func (m *Mapping) SetByName(header, name string) error {
	if strings.EqualFold(strings.TrimSpace(name), Skip) {
		return m.SetSkip(header)
	}
	f, ok := schema.ParseField(name)
	if !ok {
		return eris.Errorf("mapping: unknown field %q", name)
	}
	return m.Set(header, f)
}

// Freeze makes the mapping read-only.
func (m *Mapping) Freeze() { m.frozen = true }

// Frozen reports whether the mapping is read-only.
func (m *Mapping) Frozen() bool { return m.frozen }

// Assignments returns header → field key (or "skip") for every header.
func (m *Mapping) Assignments() map[string]string {
	out := make(map[string]string, len(m.headers))
	for _, h := range m.headers {
		if f, ok := m.fields[h]; ok {
			out[h] = f.Key()
		} else {
			out[h] = Skip
		}
	}
	return out
}

func (m *Mapping) known(header string) bool {
	for _, h := range m.headers {
		if h == header {
			return true
		}
	}
	return false
}
