package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToChromem(t *testing.T) {
	store, err := New(context.Background(), Config{})
	require.NoError(t, err)
	require.Equal(t, "chromem", store.Name())
}

func TestNew_UnknownBackendErrors(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "nonexistent"})
	require.Error(t, err)
}
