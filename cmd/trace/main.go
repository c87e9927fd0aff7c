// Command trace fits a drawn shape onto a road map and prints the snapped
// route.
//
//	trace -map city.osm.pbf -points shape.csv [-out csv|geojson] [-config trace.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"routetrace/internal/buildinfo"
	"routetrace/internal/config"
	"routetrace/internal/ingest"
	"routetrace/internal/integrations"
	"routetrace/internal/integrations/csvfile"
	"routetrace/internal/integrations/geojsonfile"
	"routetrace/internal/logger"
	"routetrace/internal/opt"
	"routetrace/internal/shape"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "trace:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	mapPath := fs.String("map", "", "map file (.osm.pbf, .osm, .geojson)")
	pointsPath := fs.String("points", "points", "shape file with one x,y pair per line")
	out := fs.String("out", "csv", "output format: csv or geojson")
	cfgPath := fs.String("config", "", "YAML config file")
	highways := fs.Bool("highways", false, "only trace along roads")
	seed := fs.Int64("seed", 0, "random seed (0 picks one)")
	version := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *version {
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}

	log := logger.Setup()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *mapPath == "" {
		*mapPath = cfg.MapPath
	}
	if *mapPath == "" {
		return errors.New("-map or MAP_PATH is required")
	}
	oc := cfg.Optimizer
	if *seed != 0 {
		oc.Seed = *seed
	}

	var sink integrations.RouteSink
	switch *out {
	case "csv":
		sink = csvfile.Sink{W: stdout}
	case "geojson":
		sink = geojsonfile.Sink{W: stdout, Indent: true}
	default:
		return fmt.Errorf("unknown output format %q", *out)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fh, err := os.Open(*pointsPath)
	if err != nil {
		return err
	}
	var src integrations.ShapeSource = csvfile.Source{R: fh}
	pts, err := src.ReadShape(ctx)
	_ = fh.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", *pointsPath, err)
	}
	tpl, err := shape.NewTemplate(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", *pointsPath, err)
	}

	loadOpts := []ingest.Option{ingest.WithLogger(log)}
	if *highways || cfg.HighwaysOnly {
		loadOpts = append(loadOpts, ingest.HighwaysOnly())
	}
	if cfg.MapCacheDir != "" {
		loadOpts = append(loadOpts, ingest.WithCache(cfg.MapCacheDir))
	}
	m, err := ingest.LoadFile(ctx, *mapPath, loadOpts...)
	if err != nil {
		return err
	}
	idx, err := m.Index()
	if err != nil {
		return err
	}
	log.Info("map_loaded", "entries", idx.Len(), "edges", m.Stats.Edges, "nodes", m.Stats.Nodes)

	c, err := opt.New(idx, tpl, oc, opt.WithLogger(log))
	if err != nil {
		return err
	}
	res, err := c.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if !res.Best.Valid() {
		return fmt.Errorf("no placement found after %d generations: %v", res.Generations, res.Best.Err())
	}
	f := res.Best.Fitness()
	tr := res.Best.Transform()
	log.Info("trace_done", "fitness", f, "scale", tr.Scale, "generations", res.Generations, "elapsed", res.Elapsed.Round(time.Millisecond))
	return sink.WriteRoute(context.WithoutCancel(ctx), res.Route, integrations.RouteMeta{Fitness: &f, Scale: tr.Scale, Center: tr.Center})
}
