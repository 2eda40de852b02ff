package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geoforge/chunkplane/internal/cache/assetcache"
	"github.com/geoforge/chunkplane/internal/config"
	"github.com/geoforge/chunkplane/internal/invalidation/kafkaconsumer"
	"github.com/geoforge/chunkplane/internal/logger"
	"github.com/geoforge/chunkplane/internal/observability"
	"github.com/geoforge/chunkplane/internal/retrieve"
	"github.com/geoforge/chunkplane/internal/sysinfo"
	"github.com/geoforge/chunkplane/internal/worker"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	coordURL := flag.String("coordinator", "", "coordinator base URL (overrides COORDINATOR_URL)")
	workerID := flag.String("id", "", "worker id (defaults to a fresh UUID)")
	flag.Parse()

	cfg := config.FromEnv()
	if *coordURL != "" {
		cfg.CoordinatorURL = *coordURL
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "worker",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("bad configuration", "err", err)
		return 1
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = assetcache.DefaultDir()
	}
	cache, err := assetcache.New(cacheDir)
	if err != nil {
		appLog.Error("asset cache unavailable", "dir", cacheDir, "err", err)
		return 1
	}

	transport, err := buildTransport(cfg.DownloadMethod)
	if err != nil {
		appLog.Error("transport setup failed", "err", err)
		return 1
	}
	fetch, err := retrieve.New(appLog, transport, retrieve.Options{
		Endpoints:  cfg.Endpoints,
		Fallbacks:  cfg.Fallbacks,
		Cache:      cache,
		HotEntries: cfg.HotEntries,
	})
	if err != nil {
		appLog.Error("retriever setup failed", "err", err)
		return 1
	}

	proc, err := worker.NewFileProcessor(cfg.OutputDir)
	if err != nil {
		appLog.Error("output setup failed", "err", err)
		return 1
	}

	caps := sysinfo.Detect().Capabilities()
	agent := worker.NewAgent(worker.NewClient(cfg.CoordinatorURL), fetch, proc, appLog, worker.AgentConfig{
		ID:           *workerID,
		Capabilities: caps,
		PollInterval: cfg.PollInterval,
		MaxBackoff:   cfg.PollBackoffMax,
	})

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting worker",
		"worker_id", agent.ID(),
		"version", Version,
		"coordinator", cfg.CoordinatorURL,
		"cache_dir", cacheDir,
		"download_method", cfg.DownloadMethod,
		"cpu_cores", caps.CPUCores,
		"memory_gb", caps.MemoryGB)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			appLog.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.FromEnv(), appLog, cache)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	err = agent.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("worker exited with error", "err", err)
		return 1
	}
	appLog.Info("worker stopped")
	return 0
}

func buildTransport(method string) (retrieve.Transport, error) {
	switch method {
	case "curl", "wget":
		return retrieve.NewExecTransport(method)
	default:
		return retrieve.NewHTTPTransport(), nil
	}
}
