package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs(t *testing.T) {
	gen := NewSequentialIDs("")
	assert.Equal(t, "tick-0001", gen.Generate())
	assert.Equal(t, "tick-0002", gen.Generate())

	custom := NewSequentialIDs("scenario")
	assert.Equal(t, "scenario-0001", custom.Generate())
}

func TestFixedIDs(t *testing.T) {
	gen := NewFixedIDs("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
