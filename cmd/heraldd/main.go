package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talaria-bio/herald/internal/config"
	"github.com/talaria-bio/herald/internal/kv"
	"github.com/talaria-bio/herald/internal/observability"
	"github.com/talaria-bio/herald/internal/store"
	"github.com/talaria-bio/herald/internal/validation"
)

// kvCompactionInterval paces the backend's copy-compact routine.
// spec.md §6's environment table has no knob for this — background
// compaction is framed as "the backend's concern" — so this is an
// implementation default, not a spec-named option.
const kvCompactionInterval = 6 * time.Hour

func main() {
	observAddr := flag.String("observ-addr", "127.0.0.1:8081", "health/metrics server address")
	homeDir := flag.String("home-dir", "", "override HERALD_HOME_DIR")
	flag.Parse()

	logger := observability.NewLogger("heraldd", "1.0.0", os.Stdout)

	if err := validation.ValidateAddr(*observAddr); err != nil {
		logger.Fatal(err, "invalid -observ-addr")
	}

	cfg := config.FromEnv()
	if *homeDir != "" {
		cfg.HomeDir = *homeDir
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err, "invalid configuration")
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("1.0.0")

	if shutdown, err := observability.InitTracing(context.Background(), "heraldd"); err == nil {
		defer shutdown(context.Background())
	}

	logger.Info("herald daemon starting")
	logger.Info("home directory: " + cfg.HomeDir)

	st, err := store.Open(cfg, logger, metrics)
	if err != nil {
		logger.Fatal(err, "failed to open store")
	}
	defer st.Close()

	healthChecker.RegisterCheck("kv_backend", observability.KVBackendCheck(func() error {
		return st.KV.Snapshot(func(*kv.Snapshot) error { return nil })
	}))
	healthChecker.RegisterCheck("disk_space", observability.DiskSpaceCheck(cfg.HomeDir, 1<<30))
	healthChecker.RegisterCheck("filter", observability.FilterCheck(st.FilterLoadedFromDisk, st.Filter.ApproximatedSize(), cfg.ExpectedSequences))

	stop := make(chan struct{})
	go st.PersistFilterLoop(cfg.BloomPersistInterval, stop)
	go st.CompactionLoop(kvCompactionInterval, stop)

	go startObservabilityServer(*observAddr, metrics, healthChecker, logger)

	logger.Info("herald daemon running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	close(stop)
	if err := st.PersistFilter(); err != nil {
		logger.Error(err, "final filter persistence failed")
	}
	logger.Info("herald daemon stopped")
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())

	server := &http.Server{Addr: addr, ReadHeaderTimeout: 5 * time.Second, Handler: mux}
	logger.Info("observability server listening on " + addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}
