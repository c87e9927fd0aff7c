package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"routetrace/internal/geo"
	"routetrace/internal/index"
)

// cacheDoc is the on-disk form of a loaded map. The source size and
// modification time must match for the cache to be used.
type cacheDoc struct {
	Source  string                     `json:"source"`
	Size    int64                      `json:"size"`
	ModTime int64                      `json:"modTime"`
	Filter  string                     `json:"filter,omitempty"`
	Stats   Stats                      `json:"stats"`
	Entries *geojson.FeatureCollection `json:"entries"`
}

// cachePath names the cache file after the map file and the way filter.
// It returns "" when the load cannot be cached.
func cachePath(o options, mapPath string) string {
	if o.cacheDir == "" || (o.filter != nil && o.filterName == "") {
		return ""
	}
	name := filepath.Base(mapPath)
	if o.filterName != "" {
		name += "." + o.filterName
	}
	return filepath.Join(o.cacheDir, name+".entries.json")
}

func readCache(path string, src os.FileInfo, filter string) (*Map, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var doc cacheDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Entries == nil {
		return nil, false
	}
	if doc.Size != src.Size() || doc.ModTime != src.ModTime().UnixNano() || doc.Filter != filter {
		return nil, false
	}
	entries := make([]index.Entry, 0, len(doc.Entries.Features))
	for _, f := range doc.Entries.Features {
		key, _ := f.Properties["key"].(string)
		switch g := f.Geometry.(type) {
		case orb.Point:
			entries = append(entries, index.PointEntry(key, g))
		case orb.LineString:
			if len(g) != 2 {
				return nil, false
			}
			idStr, _ := f.Properties["id"].(string)
			id, err := strconv.ParseUint(idStr, 10, 64)
			if err != nil {
				return nil, false
			}
			entries = append(entries, index.EdgeEntry(key, geo.NewEdge(g[0], g[1], id)))
		default:
			return nil, false
		}
	}
	return &Map{Entries: entries, Stats: doc.Stats}, true
}

// writeCache stores m next to other cached maps. The file is renamed into
// place so readers never see a partial write.
func writeCache(path string, src os.FileInfo, filter string, m *Map) error {
	fc := geojson.NewFeatureCollection()
	for _, e := range m.Entries {
		var f *geojson.Feature
		if e.Kind == index.KindEdge {
			f = geojson.NewFeature(orb.LineString{e.Edge.A, e.Edge.B})
			f.Properties["id"] = strconv.FormatUint(e.Edge.ID, 10)
		} else {
			f = geojson.NewFeature(e.Point)
		}
		f.Properties["key"] = e.Key
		fc.Append(f)
	}
	data, err := json.Marshal(cacheDoc{
		Source:  src.Name(),
		Size:    src.Size(),
		ModTime: src.ModTime().UnixNano(),
		Filter:  filter,
		Stats:   m.Stats,
		Entries: fc,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entries-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("install map cache: %w", err)
	}
	return nil
}
