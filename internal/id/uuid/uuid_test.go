package uuid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIDProducesUniqueValues(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	a, err := gen.NewID()
	require.NoError(t, err)
	b, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 36)
}
