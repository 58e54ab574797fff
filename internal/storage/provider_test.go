package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend(" Mongo ")
	require.NoError(t, err)
	assert.Equal(t, BackendMongo, b)

	b, err = ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, b)

	_, err = ParseBackend("sqlite")
	assert.Error(t, err)
}
