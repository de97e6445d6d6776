package tokencount

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounter_CountsNonTrivialText(t *testing.T) {
	c, err := NewCounter("gpt-4o-mini")
	require.NoError(t, err)
	require.Greater(t, c.Count("the quick brown fox jumps over the lazy dog"), 0)
}

func TestCounter_UnknownModelFallsBackToCl100kBase(t *testing.T) {
	c, err := NewCounter("claude-sonnet-4-5-20250929")
	require.NoError(t, err)
	require.Greater(t, c.Count("hello world"), 0)
}

func TestCounter_EmptyTextIsZeroTokens(t *testing.T) {
	c, err := NewCounter("gpt-4o-mini")
	require.NoError(t, err)
	require.Equal(t, 0, c.Count(""))
}

func TestCounter_NilCounterFallsBackToRoughEstimate(t *testing.T) {
	var c *Counter
	require.Equal(t, len("abcdefgh")/4, c.Count("abcdefgh"))
}
