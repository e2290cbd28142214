package service

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Merlotec/jdsite/internal/apperr"
)

func newTestAssets(t *testing.T) *AssetService {
	t.Helper()
	return NewAssetService(filepath.Join(t.TempDir(), "sections"), zerolog.Nop())
}

func TestAssetSaveCollisionPolicy(t *testing.T) {
	assets := newTestAssets(t)
	sectionID := uuid.New()

	first, err := assets.Save(sectionID, "a.png", strings.NewReader("one"))
	require.NoError(t, err)
	assert.Equal(t, "a.png", first)

	second, err := assets.Save(sectionID, "a.png", strings.NewReader("two"))
	require.NoError(t, err)
	assert.Equal(t, "a0.png", second)

	third, err := assets.Save(sectionID, "a.png", strings.NewReader("three"))
	require.NoError(t, err)
	assert.Equal(t, "a1.png", third)

	names, err := assets.List(sectionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "a0.png", "a1.png"}, names)

	raw, err := os.ReadFile(filepath.Join(assets.Dir(sectionID), "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(raw), "collisions never overwrite the original")
}

func TestAssetSaveConcurrentSameName(t *testing.T) {
	assets := newTestAssets(t)
	sectionID := uuid.New()

	// Saves racing on the same name must land on distinct paths with their
	// payloads intact.
	const writers = 8
	stored := make([]string, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored[i], errs[i] = assets.Save(sectionID, "a.png", strings.NewReader(strconv.Itoa(i)))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[string]bool, writers)
	for _, name := range stored {
		assert.False(t, seen[name], "stored name %q handed out twice", name)
		seen[name] = true
	}

	for i, name := range stored {
		raw, err := os.ReadFile(filepath.Join(assets.Dir(sectionID), name))
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(i), string(raw))
	}
}

func TestAssetDeleteFileIdempotent(t *testing.T) {
	assets := newTestAssets(t)
	sectionID := uuid.New()

	_, err := assets.Save(sectionID, "photo.jpg", strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, assets.DeleteFile(sectionID, "photo.jpg"))
	require.NoError(t, assets.DeleteFile(sectionID, "photo.jpg"))

	names, err := assets.List(sectionID)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestAssetListMissingDirectory(t *testing.T) {
	assets := newTestAssets(t)

	names, err := assets.List(uuid.New())
	require.NoError(t, err)
	assert.Nil(t, names)
}

func TestAssetRemoveDir(t *testing.T) {
	assets := newTestAssets(t)
	sectionID := uuid.New()

	_, err := assets.Save(sectionID, "photo.jpg", strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, assets.RemoveDir(sectionID))
	require.NoError(t, assets.RemoveDir(sectionID))

	_, err = os.Stat(assets.Dir(sectionID))
	assert.True(t, os.IsNotExist(err))
}

func TestAssetOrphanDirs(t *testing.T) {
	assets := newTestAssets(t)

	kept := uuid.New()
	orphan := uuid.New()
	_, err := assets.Save(kept, "a.txt", strings.NewReader("x"))
	require.NoError(t, err)
	_, err = assets.Save(orphan, "b.txt", strings.NewReader("y"))
	require.NoError(t, err)

	orphans, err := assets.OrphanDirs(func(id uuid.UUID) bool { return id == kept })
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{orphan}, orphans)
}

func TestSanitizeFilename(t *testing.T) {
	got, err := SanitizeFilename("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "passwd", got)

	got, err = SanitizeFilename("..\\..\\evil.png")
	require.NoError(t, err)
	assert.Equal(t, "evil.png", got)

	got, err = SanitizeFilename("my photo (1).png")
	require.NoError(t, err)
	assert.Equal(t, "my photo 1.png", got)

	_, err = SanitizeFilename("...")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	_, err = SanitizeFilename("///")
	require.Error(t, err)
}
