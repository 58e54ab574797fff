package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHexDeterministic(t *testing.T) {
	t.Parallel()

	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	assert.Equal(t, want, Hex([]byte("hello world")))
	assert.Equal(t, want, Hex([]byte("hello world")))
}

func TestShort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "b94d27b9934d", Short("hello world", 12))
	assert.Len(t, Short("hello world", 0), 64)
	assert.Len(t, Short("hello world", 100), 64)
}
