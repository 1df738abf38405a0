package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodePrefix(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Beaker 500ml", "B5"},
		{"hydrochloric acid 37%", "HA"},
		{"Microscope", "MI"},
		{"X", "X"},
		{"  ", "IT"},
		{"ção-fino", "ÇF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodePrefix(tt.name))
		})
	}
}

func TestCodeGenerator_SkipsTaken(t *testing.T) {
	g := NewCodeGenerator([]string{"ha-001", "HA-003"})

	assert.Equal(t, "HA-002", g.Next("Hydrochloric Acid"))
	assert.Equal(t, "HA-004", g.Next("Hydrochloric Acid"))
	assert.Equal(t, "MI-001", g.Next("Microscope"))
}

func TestCodeGenerator_Reserve(t *testing.T) {
	g := NewCodeGenerator(nil)
	g.Reserve("B5-001")
	g.Reserve("")

	assert.Equal(t, "B5-002", g.Next("Beaker 500ml"))
}
