package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Merlotec/jdsite/internal/apperr"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store[record] {
	t.Helper()

	env, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	backend, err := env.Backend("records")
	require.NoError(t, err)

	return New[record]("records", backend, zerolog.Nop())
}

func TestStoreInsertFetch(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert("a", record{Name: "alpha", Count: 1}))

	got, err := s.Fetch("a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alpha", got.Name)

	missing, err := s.Fetch("b")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreFetchCorruptSurfacesDeserialize(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.backend.Put([]byte("bad"), []byte("{not json")))

	_, err := s.Fetch("bad")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDeserialize))
}

func TestStoreRemoveReturnsPrevious(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert("a", record{Name: "alpha"}))

	prev, err := s.Remove("a")
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "alpha", prev.Name)

	// Second removal is a no-op.
	prev, err = s.Remove("a")
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestStoreRemoveCorruptDeletesAndReturnsNil(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.backend.Put([]byte("bad"), []byte("{not json")))

	prev, err := s.Remove("bad")
	require.NoError(t, err)
	assert.Nil(t, prev)

	found, err := s.Contains("bad")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreRemoveSilentIdempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert("a", record{Name: "alpha"}))
	require.NoError(t, s.RemoveSilent("a"))
	require.NoError(t, s.RemoveSilent("a"))

	found, err := s.Contains("a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreForEachSkipsCorrupt(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert("a", record{Name: "alpha"}))
	require.NoError(t, s.backend.Put([]byte("bad"), []byte("{not json")))
	require.NoError(t, s.Insert("c", record{Name: "gamma"}))

	var seen []string
	require.NoError(t, s.ForEach(func(key string, v record) error {
		seen = append(seen, v.Name)
		return nil
	}))
	assert.ElementsMatch(t, []string{"alpha", "gamma"}, seen)
}

func TestStoreRetain(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert("a", record{Name: "alpha", Count: 1}))
	require.NoError(t, s.Insert("b", record{Name: "beta", Count: 2}))
	require.NoError(t, s.backend.Put([]byte("bad"), []byte("{not json")))

	require.NoError(t, s.Retain(false, func(_ string, v record) bool {
		return v.Count > 1
	}))

	found, err := s.Contains("a")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.Contains("b")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.Contains("bad")
	require.NoError(t, err)
	assert.False(t, found, "corrupt entries are dropped when keepCorrupt is false")
}

func TestGuardWritesBackOnlyWhenDirty(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert("a", record{Name: "alpha", Count: 1}))

	guard, err := s.WriteLock("a")
	require.NoError(t, err)
	require.NotNil(t, guard.Value())
	require.NoError(t, guard.Release())

	guard, err = s.WriteLock("a")
	require.NoError(t, err)
	guard.Set(record{Name: "alpha", Count: 2})
	require.NoError(t, guard.Release())

	// Release twice is safe.
	require.NoError(t, guard.Release())

	got, err := s.Fetch("a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Count)
}

func TestWriteLockSerialisesWriters(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert("counter", record{Count: 0}))

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			guard, err := s.WriteLock("counter")
			if err != nil {
				return
			}
			v := guard.Value()
			guard.Set(record{Count: v.Count + 1})
			_ = guard.Release()
		}()
	}
	wg.Wait()

	got, err := s.Fetch("counter")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, writers, got.Count)
}

func TestForEachWriteSkipsCorrupt(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert("a", record{Name: "alpha", Count: 1}))
	require.NoError(t, s.backend.Put([]byte("bad"), []byte("{not json")))

	var visited []string
	require.NoError(t, s.ForEachWrite(func(key string, g *Guard[record]) error {
		visited = append(visited, key)
		g.Set(record{Name: g.Value().Name, Count: g.Value().Count + 1})
		return nil
	}))
	assert.Equal(t, []string{"a"}, visited)

	got, err := s.Fetch("a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
}
