package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_IgnoresKeyOrder(t *testing.T) {
	a := map[string]any{"entity_number": "0200.065.765", "language": "2", "denomination": "Acme"}
	b := map[string]any{"denomination": "Acme", "entity_number": "0200.065.765", "language": "2"}

	assert.Equal(t, Generate(a), Generate(b))
	assert.Len(t, Generate(a), 64)
}

func TestGenerate_DetectsValueChange(t *testing.T) {
	a := map[string]any{"denomination": "Acme"}
	b := map[string]any{"denomination": "Acme NV"}

	assert.NotEqual(t, Generate(a), Generate(b))
}

func TestGenerate_NilDiffersFromEmpty(t *testing.T) {
	assert.NotEqual(t, Generate(map[string]any{"box": nil}), Generate(map[string]any{"box": ""}))
}

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{name: "eight", n: 8, want: 8},
		{name: "zero returns full", n: 0, want: 64},
		{name: "too long returns full", n: 100, want: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Short("Acme", tt.n), tt.want)
		})
	}

	assert.Equal(t, Short("Acme", 8), Short("Acme", 8))
	assert.NotEqual(t, Short("Acme", 8), Short("acme", 8))
}
