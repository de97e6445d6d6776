package bm25

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoad_RoundTripsPostingsAndScores(t *testing.T) {
	idx := NewIndex("kb1")
	idx.Upsert("c1", "the go programming language")
	idx.Upsert("c2", "go concurrency patterns")

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	loaded, err := Load(&buf, "kb1")
	require.NoError(t, err)
	require.Equal(t, idx.N(), loaded.N())
	require.Equal(t, TokenizerVersion, int(loaded.TokenizerVersion))

	want := idx.Search("go", 10)
	got := loaded.Search("go", 10)
	require.Equal(t, want, got)
}

func TestLoad_RejectsBadMagic(t *testing.T) {
	_, err := Load(strings.NewReader("not a valid bm25 file at all"), "kb1")
	require.ErrorIs(t, err, ErrCorruptIndex)
}

func TestLoad_RejectsTruncatedFile(t *testing.T) {
	idx := NewIndex("kb1")
	idx.Upsert("c1", "alpha beta gamma")

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	truncated := buf.Bytes()[:buf.Len()/2]
	_, err := Load(bytes.NewReader(truncated), "kb1")
	require.ErrorIs(t, err, ErrCorruptIndex)
}
