package jobq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDGeneratorProducesUniqueIDs(t *testing.T) {
	g := UUIDGenerator{}
	a, b := g.NewID(), g.NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestULIDGeneratorProducesUniqueSortableIDs(t *testing.T) {
	g := ULIDGenerator{}
	a, b := g.NewID(), g.NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 26)
}
