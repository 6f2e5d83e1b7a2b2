package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicEmbedIsStableAndNormalized(t *testing.T) {
	e := NewDeterministic(32, 7)
	out, err := e.Embed(context.Background(), []string{"hello world", "hello world"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, out[0], out[1])

	var sum float64
	for _, x := range out[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestDeterministicEmbedDiffersAcrossTexts(t *testing.T) {
	e := NewDeterministic(32, 0)
	out, err := e.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.NotEqual(t, out[0], out[1])
}
