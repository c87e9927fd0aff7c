package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"routetrace/internal/api"
	"routetrace/internal/buildinfo"
	"routetrace/internal/config"
	"routetrace/internal/ingest"
	"routetrace/internal/logger"
	"routetrace/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *version {
		fmt.Println(buildinfo.String())
		return
	}

	log := logger.Setup()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Error("config_invalid", "err", err)
		os.Exit(1)
	}
	if cfg.MapPath == "" {
		log.Error("config_invalid", "err", "MAP_PATH is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadOpts := []ingest.Option{ingest.WithLogger(log)}
	if cfg.HighwaysOnly {
		loadOpts = append(loadOpts, ingest.HighwaysOnly())
	}
	if cfg.MapCacheDir != "" {
		loadOpts = append(loadOpts, ingest.WithCache(cfg.MapCacheDir))
	}
	start := time.Now()
	m, err := ingest.LoadFile(ctx, cfg.MapPath, loadOpts...)
	if err != nil {
		log.Error("map_load_failed", "path", cfg.MapPath, "err", err)
		os.Exit(1)
	}
	idx, err := m.Index()
	if err != nil {
		log.Error("index_build_failed", "err", err)
		os.Exit(1)
	}
	log.Info("map_loaded", "path", cfg.MapPath, "entries", idx.Len(), "edges", m.Stats.Edges, "nodes", m.Stats.Nodes, "elapsed_ms", time.Since(start).Milliseconds())

	metrics.RegisterDefault()
	srvDeps, err := api.NewServer(ctx, cfg, idx, log)
	if err != nil {
		log.Error("server_init_failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = srvDeps.Close() }()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srvDeps.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	worker := srvDeps.NewWorker()
	worker.Start()

	errc := make(chan error, 1)
	go func() {
		log.Info("api_listening", "addr", srv.Addr, "version", buildinfo.Version)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server_error", "err", err)
		}
	case <-ctx.Done():
		log.Info("shutting_down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown_incomplete", "err", err)
	}
	worker.Close()
}
