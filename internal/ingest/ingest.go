// Package ingest reads map data (OSM PBF, OSM XML, GeoJSON) into index
// entries. Every node becomes a point feature and every pair of consecutive
// way nodes an edge feature keyed by its way. Entries are accumulated first
// and the index is built once at the end.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"routetrace/internal/geo"
	"routetrace/internal/index"
)

type Format int

const (
	FormatUnknown Format = iota
	FormatPBF
	FormatXML
	FormatGeoJSON
)

func (f Format) String() string {
	switch f {
	case FormatPBF:
		return "pbf"
	case FormatXML:
		return "osm-xml"
	case FormatGeoJSON:
		return "geojson"
	}
	return "unknown"
}

var ErrUnknownFormat = errors.New("unrecognised map file format")

// DetectFormat picks a decoder from the file name.
func DetectFormat(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".pbf"):
		return FormatPBF
	case strings.HasSuffix(name, ".osm"), strings.HasSuffix(name, ".xml"):
		return FormatXML
	case strings.HasSuffix(name, ".geojson"), strings.HasSuffix(name, ".json"):
		return FormatGeoJSON
	}
	return FormatUnknown
}

// Stats describes what a load produced.
type Stats struct {
	Nodes          int `json:"nodes"`
	Ways           int `json:"ways"`
	FilteredWays   int `json:"filteredWays"`
	Edges          int `json:"edges"`
	DuplicateEdges int `json:"duplicateEdges"`
	MissingNodes   int `json:"missingNodes"`
}

// WayFilter decides whether a way contributes edges.
type WayFilter func(tags map[string]string) bool

type options struct {
	filter     WayFilter
	filterName string
	workers    int
	cacheDir   string
	log        *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type Option func(*options)

// WithWayFilter sets a custom filter. Loads with a custom filter are never
// cached.
func WithWayFilter(f WayFilter) Option {
	return func(o *options) { o.filter, o.filterName = f, "" }
}

// WithDecodeWorkers sets PBF decoder parallelism.
func WithDecodeWorkers(n int) Option { return func(o *options) { o.workers = n } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithCache makes LoadFile keep decoded entries under dir, one file per map
// file name and filter. A cache file is reused while the map file's size and
// modification time are unchanged.
func WithCache(dir string) Option { return func(o *options) { o.cacheDir = dir } }

// HighwaysOnly keeps ways tagged as roads, leaving out foot paths.
func HighwaysOnly() Option {
	return func(o *options) { o.filter, o.filterName = highways, "highways" }
}

func highways(tags map[string]string) bool {
	switch tags["highway"] {
	case "", "footway", "path", "steps", "pedestrian", "bridleway":
		return false
	}
	return true
}

// Map is the result of a load, ready for index.Build.
type Map struct {
	Entries []index.Entry
	Stats   Stats
}

// Index builds the spatial index over the loaded entries.
func (m *Map) Index() (*index.Index, error) { return index.Build(m.Entries) }

// LoadFile opens path and decodes it according to its extension, going
// through the entry cache when one is configured.
func LoadFile(ctx context.Context, path string, opts ...Option) (*Map, error) {
	f := DetectFormat(path)
	if f == FormatUnknown {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	o := newOptions(opts)
	cached := cachePath(o, path)
	var info os.FileInfo
	if cached != "" {
		if info, err = fh.Stat(); err != nil {
			return nil, err
		}
		if m, ok := readCache(cached, info, o.filterName); ok {
			o.log.Info("map_cache_hit", "path", cached, "entries", len(m.Entries))
			return m, nil
		}
	}

	m, err := Load(ctx, fh, f, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cached != "" {
		if err := writeCache(cached, info, o.filterName, m); err != nil {
			o.log.Warn("map_cache_write_failed", "path", cached, "err", err)
		} else {
			o.log.Info("map_cache_written", "path", cached, "entries", len(m.Entries))
		}
	}
	return m, nil
}

// Load decodes r in the given format.
func Load(ctx context.Context, r io.Reader, f Format, opts ...Option) (*Map, error) {
	o := newOptions(opts)
	c := newCollector(o)
	var err error
	switch f {
	case FormatPBF:
		err = decodePBF(ctx, r, c)
	case FormatXML:
		err = decodeXML(ctx, r, c)
	case FormatGeoJSON:
		err = decodeGeoJSON(r, c)
	default:
		err = ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}
	m := c.emit()
	o.log.Info("map_loaded",
		"format", f.String(),
		"nodes", m.Stats.Nodes,
		"ways", m.Stats.Ways,
		"edges", m.Stats.Edges,
		"duplicate_edges", m.Stats.DuplicateEdges,
		"missing_nodes", m.Stats.MissingNodes,
	)
	return m, nil
}

type way struct {
	key   string
	nodes []int64
}

// collector holds decoded nodes and ways until every node is known.
type collector struct {
	opts      options
	nodes     map[int64]orb.Point
	nodeOrder []int64
	ways      []way
	lines     []line
	stats     Stats
}

// line is a way whose coordinates are already resolved (GeoJSON input).
type line struct {
	key string
	pts []orb.Point
}

func newCollector(o options) *collector {
	return &collector{opts: o, nodes: make(map[int64]orb.Point)}
}

func (c *collector) addNode(id int64, lon, lat float64) {
	if _, dup := c.nodes[id]; !dup {
		c.nodeOrder = append(c.nodeOrder, id)
	}
	c.nodes[id] = orb.Point{lon, lat}
}

func (c *collector) addWay(id int64, refs []int64, tags map[string]string) {
	if c.opts.filter != nil && !c.opts.filter(tags) {
		c.stats.FilteredWays++
		return
	}
	c.ways = append(c.ways, way{key: fmt.Sprintf("way/%d", id), nodes: refs})
}

func (c *collector) addLine(key string, pts []orb.Point, tags map[string]string) {
	if c.opts.filter != nil && !c.opts.filter(tags) {
		c.stats.FilteredWays++
		return
	}
	c.lines = append(c.lines, line{key: key, pts: pts})
}

func (c *collector) emit() *Map {
	st := c.stats
	entries := make([]index.Entry, 0, len(c.nodeOrder)+len(c.ways)*2)
	for _, id := range c.nodeOrder {
		p := c.nodes[id]
		if !geo.Valid(p) {
			continue
		}
		entries = append(entries, index.PointEntry(fmt.Sprintf("node/%d", id), p))
		st.Nodes++
	}

	seen := make(map[[2]orb.Point]struct{})
	addEdge := func(key string, a, b orb.Point) {
		e := geo.NewEdge(a, b, 0)
		if !e.Valid() || e.A == e.B {
			return
		}
		k := e.Segment()
		if _, dup := seen[k]; dup {
			st.DuplicateEdges++
			return
		}
		seen[k] = struct{}{}
		entries = append(entries, index.EdgeEntry(key, e))
		st.Edges++
	}

	for _, w := range c.ways {
		st.Ways++
		var prev orb.Point
		havePrev := false
		for _, ref := range w.nodes {
			p, ok := c.nodes[ref]
			if !ok {
				st.MissingNodes++
				c.opts.log.Warn("way_node_missing", "way", w.key, "node", ref)
				havePrev = false
				continue
			}
			if havePrev {
				addEdge(w.key, prev, p)
			}
			prev, havePrev = p, true
		}
	}
	for _, l := range c.lines {
		st.Ways++
		for i := 1; i < len(l.pts); i++ {
			addEdge(l.key, l.pts[i-1], l.pts[i])
		}
	}
	return &Map{Entries: entries, Stats: st}
}
