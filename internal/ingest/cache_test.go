package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"routetrace/internal/logger"
)

func TestLoadFileWritesAndReusesCache(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	path := filepath.Join(dir, "tiny.osm.pbf")
	require.NoError(t, os.WriteFile(path, samplePBF(t), 0o644))
	opts := []Option{WithCache(cacheDir), WithLogger(logger.Discard())}

	first, err := LoadFile(context.Background(), path, opts...)
	require.NoError(t, err)
	cached := filepath.Join(cacheDir, "tiny.osm.pbf.entries.json")
	require.FileExists(t, cached)

	second, err := LoadFile(context.Background(), path, opts...)
	require.NoError(t, err)
	require.Equal(t, first.Stats, second.Stats)
	require.Equal(t, first.Entries, second.Entries)

	// a cache hit never touches the decoder: corrupt the map, keep its size and time
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, make([]byte, info.Size()), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))
	third, err := LoadFile(context.Background(), path, opts...)
	require.NoError(t, err)
	require.Equal(t, first.Entries, third.Entries)
}

func TestLoadFileCacheInvalidatedBySourceChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.osm")
	require.NoError(t, os.WriteFile(path, []byte(sampleOSM), 0o644))
	opts := []Option{WithCache(dir), WithLogger(logger.Discard())}

	_, err := LoadFile(context.Background(), path, opts...)
	require.NoError(t, err)

	// drop way 11 and move the clock so the cached copy no longer matches
	trimmed := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
 <node id="1" lat="51.5" lon="-0.1"/>
 <node id="2" lat="51.5" lon="-0.099"/>
 <way id="10"><nd ref="1"/><nd ref="2"/></way>
</osm>`)
	require.NoError(t, os.WriteFile(path, trimmed, 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	m, err := LoadFile(context.Background(), path, opts...)
	require.NoError(t, err)
	require.Equal(t, Stats{Nodes: 2, Ways: 1, Edges: 1}, m.Stats)
}

func TestCachePathPerFilter(t *testing.T) {
	o := newOptions([]Option{WithCache("/c")})
	require.Equal(t, filepath.Join("/c", "london.osm.pbf.entries.json"), cachePath(o, "/data/london.osm.pbf"))

	o = newOptions([]Option{WithCache("/c"), HighwaysOnly()})
	require.Equal(t, filepath.Join("/c", "london.osm.pbf.highways.entries.json"), cachePath(o, "/data/london.osm.pbf"))

	o = newOptions([]Option{WithCache("/c"), WithWayFilter(func(map[string]string) bool { return true })})
	require.Empty(t, cachePath(o, "/data/london.osm.pbf"))

	require.Empty(t, cachePath(newOptions(nil), "/data/london.osm.pbf"))
}

func TestReadCacheRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "m.osm")
	require.NoError(t, os.WriteFile(src, []byte(sampleOSM), 0o644))
	info, err := os.Stat(src)
	require.NoError(t, err)

	bad := filepath.Join(dir, "m.osm.entries.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"entries":{"type":"FeatureCollection","features":[]},"size":1}`), 0o644))
	_, ok := readCache(bad, info, "")
	require.False(t, ok)

	require.NoError(t, os.WriteFile(bad, []byte(`not json`), 0o644))
	_, ok = readCache(bad, info, "")
	require.False(t, ok)

	_, ok = readCache(filepath.Join(dir, "missing.json"), info, "")
	require.False(t, ok)
}
