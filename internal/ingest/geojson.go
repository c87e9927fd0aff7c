package ingest

import (
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// decodeGeoJSON reads a FeatureCollection. Points become point features;
// line strings and polygon rings become chains of edges keyed by the
// feature id, or by position when the feature has none.
func decodeGeoJSON(r io.Reader, c *collector) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return err
	}
	nextNode := int64(1)
	for i, f := range fc.Features {
		key := featureKey(f, i)
		tags := stringProps(f.Properties)
		switch g := f.Geometry.(type) {
		case orb.Point:
			c.addNode(nextNode, g[0], g[1])
			nextNode++
		case orb.MultiPoint:
			for _, p := range g {
				c.addNode(nextNode, p[0], p[1])
				nextNode++
			}
		case orb.LineString:
			c.addLine(key, g, tags)
		case orb.MultiLineString:
			for _, ls := range g {
				c.addLine(key, ls, tags)
			}
		case orb.Polygon:
			for _, ring := range g {
				c.addLine(key, ring, tags)
			}
		}
	}
	return nil
}

func featureKey(f *geojson.Feature, i int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return fmt.Sprintf("feature/%d", i)
}

func stringProps(p geojson.Properties) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
