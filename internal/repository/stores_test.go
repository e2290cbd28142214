package repository

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Merlotec/jdsite/internal/store"
)

func newTestStores(t *testing.T) *Stores {
	t.Helper()

	env, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	stores, err := NewStores(env, zerolog.Nop())
	require.NoError(t, err)
	return stores
}
