package csvfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"routetrace/internal/integrations"
	"routetrace/internal/route"
)

// Source reads one "x,y" pair per line. Blank lines and lines starting with
// '#' are ignored.
type Source struct {
	R io.Reader
}

func (Source) Name() string { return "csv" }

func (s Source) ReadShape(ctx context.Context) ([]orb.Point, error) {
	cr := csv.NewReader(s.R)
	cr.Comment = '#'
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true
	var pts []orb.Point
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		x, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: x: %w", line, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: y: %w", line, err)
		}
		pts = append(pts, orb.Point{x, y})
	}
	if len(pts) == 0 {
		return nil, integrations.ErrNoShape
	}
	return pts, nil
}

// Sink writes one "lat,lon" line per snapped point.
type Sink struct {
	W io.Writer
}

func (Sink) Name() string { return "csv" }

func (s Sink) WriteRoute(ctx context.Context, r route.Route, _ integrations.RouteMeta) error {
	bw := bufio.NewWriter(s.W)
	for _, p := range r.Points {
		if err := ctx.Err(); err != nil {
			return err
		}
		bw.WriteString(strconv.FormatFloat(p.Lat(), 'f', 7, 64))
		bw.WriteByte(',')
		bw.WriteString(strconv.FormatFloat(p.Lon(), 'f', 7, 64))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
