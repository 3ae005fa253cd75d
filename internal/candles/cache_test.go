package candles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadCacheFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1m", "tokenX.csv")

	series := SortAndDedup([]Candle{mkCandle(100, 1), mkCandle(200, 2)})
	require.NoError(t, writeCacheFile(path, series))

	got, err := readCacheFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 2.0, got[1].Close)
}

func TestResolveLayoutPrefersPrimary(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, writeCacheFile(primaryPath(root, "1m", "tokenX"), Series{mkCandle(100, 1)}))
	require.NoError(t, writeCacheFile(legacyPath(root, "1m", "tokenX"), Series{mkCandle(200, 2)}))

	l, path := resolveLayout(root, "1m", "tokenX")
	assert.Equal(t, layoutPrimary, l)
	assert.Equal(t, primaryPath(root, "1m", "tokenX"), path)
}

func TestLoadFromCacheMigratesLegacyLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, writeCacheFile(legacyPath(root, "1m", "tokenX"), Series{mkCandle(100, 1)}))

	series, hit, err := loadFromCache(root, "1m", "tokenX")
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, series, 1)

	_, err = os.Stat(primaryPath(root, "1m", "tokenX"))
	assert.NoError(t, err, "legacy read should opportunistically write the primary layout")
}

func TestLoadFromCacheMissReturnsNoHit(t *testing.T) {
	root := t.TempDir()
	_, hit, err := loadFromCache(root, "1m", "nonexistent")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSaveToCacheAlwaysWritesPrimaryLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, saveToCache(root, "1m", "tokenX", Series{mkCandle(100, 1)}))

	_, err := os.Stat(primaryPath(root, "1m", "tokenX"))
	assert.NoError(t, err)

	_, err = os.Stat(legacyPath(root, "1m", "tokenX"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadCacheFileMissingReturnsError(t *testing.T) {
	_, err := readCacheFile(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
