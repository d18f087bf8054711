package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionPoolReusesConnections(t *testing.T) {
	pool := &ConnectionPool{}

	a, err := pool.GetConnection("127.0.0.1:1")
	require.NoError(t, err)
	b, err := pool.GetConnection("127.0.0.1:1")
	require.NoError(t, err)
	c, err := pool.GetConnection("127.0.0.1:2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	require.NoError(t, pool.Close())
	_, ok := pool.getConnection("127.0.0.1:1")
	assert.False(t, ok)
}

func TestHostnameFallback(t *testing.T) {
	assert.NotEmpty(t, Hostname("fallback"))
}
