package ingest

import (
	"context"
	"io"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmxml"
)

func decodeXML(ctx context.Context, r io.Reader, c *collector) error {
	sc := osmxml.New(ctx, r)
	defer sc.Close()
	for sc.Scan() {
		switch obj := sc.Object().(type) {
		case *osm.Node:
			c.addNode(int64(obj.ID), obj.Lon, obj.Lat)
		case *osm.Way:
			refs := make([]int64, len(obj.Nodes))
			for i, wn := range obj.Nodes {
				refs[i] = int64(wn.ID)
			}
			c.addWay(int64(obj.ID), refs, obj.Tags.Map())
		}
	}
	return sc.Err()
}
