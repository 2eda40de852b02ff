// chunkcache is the operator CLI for the asset cache and the planner:
// pre-download geodata, inspect or clear cached entries, and preview how a
// region would be partitioned.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/geoforge/chunkplane/internal/cache/assetcache"
	"github.com/geoforge/chunkplane/internal/config"
	"github.com/geoforge/chunkplane/internal/invalidation"
	"github.com/geoforge/chunkplane/internal/logger"
	"github.com/geoforge/chunkplane/internal/model"
	"github.com/geoforge/chunkplane/internal/plan"
	"github.com/geoforge/chunkplane/internal/retrieve"
	"github.com/geoforge/chunkplane/internal/work"
)

func main() {
	os.Exit(run())
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: chunkcache <command> [flags]

commands:
  download  -bbox minLat,minLng,maxLat,maxLng    fetch and cache a region
  load      -bbox ...                            verify a region is cached
  plan      -bbox ...                            preview the chunk split
  list                                           list cached entries
  clear     -bbox ... | -all                     drop cached entries
  invalidate -bbox ... [-op update]              broadcast an invalidation event
  size                                           total cache size on disk
`)
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return 2
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg := config.FromEnv()
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Component: "chunkcache",
	}, os.Stderr)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "download":
		return cmdDownload(ctx, args, cfg, cache, appLog)
	case "load":
		return cmdLoad(args, cfg, cache, appLog)
	case "plan":
		return cmdPlan(ctx, args, cfg)
	case "list":
		return cmdList(cache)
	case "clear":
		return cmdClear(args, cache, appLog)
	case "invalidate":
		return cmdInvalidate(args, cfg, appLog)
	case "size":
		return cmdSize(cache)
	default:
		usage()
		return 2
	}
}

// consoleSink prints milestones to stderr. Interactive follows the
// -non-interactive flag: scripts and CI want a hard exit on data failures,
// a human at a terminal wants the error back.
type consoleSink struct {
	interactive bool
}

func (s consoleSink) Progress(percent float64, message string) {
	if message != "" {
		fmt.Fprintf(os.Stderr, "[%3.0f%%] %s\n", percent, message)
	}
}

func (s consoleSink) Error(message string) {
	fmt.Fprintf(os.Stderr, "error: %s\n", message)
}

func (s consoleSink) Interactive() bool { return s.interactive }

func newRetriever(cfg config.Config, cache *assetcache.Cache, appLog *slog.Logger, nonInteractive bool) (*retrieve.Retriever, error) {
	var transport retrieve.Transport
	var err error
	switch cfg.DownloadMethod {
	case "curl", "wget":
		transport, err = retrieve.NewExecTransport(cfg.DownloadMethod)
		if err != nil {
			return nil, err
		}
	default:
		transport = retrieve.NewHTTPTransport()
	}
	return retrieve.New(appLog, transport, retrieve.Options{
		Endpoints: cfg.Endpoints,
		Fallbacks: cfg.Fallbacks,
		Cache:     cache,
		Sink:      consoleSink{interactive: !nonInteractive},
	})
}

func cmdDownload(ctx context.Context, args []string, cfg config.Config, cache *assetcache.Cache, appLog *slog.Logger) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	bboxFlag := fs.String("bbox", "", "region: minLat,minLng,maxLat,maxLng")
	nonInteractive := fs.Bool("non-interactive", false, "exit non-zero on data failures")
	_ = fs.Parse(args)

	bbox, err := parseBBox(*bboxFlag)
	if err != nil {
		appLog.Error("bad -bbox flag", "err", err)
		return 1
	}

	r, err := newRetriever(cfg, cache, appLog, *nonInteractive)
	if err != nil {
		appLog.Error("retriever setup failed", "err", err)
		return 1
	}

	lat, lng := bbox.Center()
	if name, err := retrieve.AreaName(ctx, lat, lng); err == nil && name != "" {
		fmt.Fprintf(os.Stderr, "downloading geodata for %s\n", name)
	}

	meta, err := r.DownloadOnly(ctx, bbox)
	if err != nil {
		return 1
	}
	fmt.Printf("cached %d bytes for %s (checksum %s)\n", meta.DataSize, bbox, meta.Checksum)
	return 0
}

func cmdLoad(args []string, cfg config.Config, cache *assetcache.Cache, appLog *slog.Logger) int {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	bboxFlag := fs.String("bbox", "", "region: minLat,minLng,maxLat,maxLng")
	nonInteractive := fs.Bool("non-interactive", false, "exit non-zero on data failures")
	_ = fs.Parse(args)

	bbox, err := parseBBox(*bboxFlag)
	if err != nil {
		appLog.Error("bad -bbox flag", "err", err)
		return 1
	}

	r, err := newRetriever(cfg, cache, appLog, *nonInteractive)
	if err != nil {
		appLog.Error("retriever setup failed", "err", err)
		return 1
	}

	payload, meta, err := r.LoadCached(bbox)
	if err != nil {
		return 1
	}
	fmt.Printf("cached entry for %s: %d bytes, downloaded %s via %s\n",
		bbox, len(payload), time.Unix(meta.Timestamp, 0).Format(time.RFC3339), meta.DownloadMethod)
	return 0
}

func cmdPlan(ctx context.Context, args []string, cfg config.Config) int {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	bboxFlag := fs.String("bbox", "", "region: minLat,minLng,maxLat,maxLng")
	_ = fs.Parse(args)

	bbox, err := parseBBox(*bboxFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -bbox flag: %v\n", err)
		return 1
	}

	units, err := plan.Split(bbox, plan.Config{
		ChunkSizeDegrees: cfg.ChunkSize,
		OverlapDegrees:   cfg.Overlap,
	}, work.DefaultSettings())
	if err != nil {
		fmt.Fprintf(os.Stderr, "planning failed: %v\n", err)
		return 1
	}
	stats := plan.Aggregate(units)

	lat, lng := bbox.Center()
	if name, err := retrieve.AreaName(ctx, lat, lng); err == nil && name != "" {
		fmt.Printf("region: %s\n", name)
	}
	fmt.Printf("chunks: %d (%.4f x %.4f degrees each, %.4f overlap)\n",
		stats.TotalChunks, cfg.ChunkSize, cfg.ChunkSize, cfg.Overlap)
	fmt.Printf("estimated time: %.0fs total, %.0fs per chunk\n",
		stats.EstimatedTotalTime, stats.EstimatedTimePerChunk)
	for _, u := range units {
		fmt.Printf("  %-12s %s\n", u.ChunkID, u.BBox)
	}
	return 0
}

func cmdList(cache *assetcache.Cache) int {
	entries, err := cache.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Println("cache is empty")
		return 0
	}
	for _, meta := range entries {
		fmt.Printf("%-45s %10d bytes  %s  via %s\n",
			meta.BBox, meta.DataSize, time.Unix(meta.Timestamp, 0).Format(time.RFC3339), meta.DownloadMethod)
	}
	return 0
}

func cmdClear(args []string, cache *assetcache.Cache, appLog *slog.Logger) int {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	bboxFlag := fs.String("bbox", "", "region: minLat,minLng,maxLat,maxLng")
	all := fs.Bool("all", false, "clear the whole cache")
	_ = fs.Parse(args)

	if *all {
		if err := cache.ClearAll(); err != nil {
			appLog.Error("clear failed", "err", err)
			return 1
		}
		fmt.Println("cache cleared")
		return 0
	}

	bbox, err := parseBBox(*bboxFlag)
	if err != nil {
		appLog.Error("need -bbox or -all", "err", err)
		return 1
	}
	if err := cache.Clear(bbox); err != nil {
		appLog.Error("clear failed", "err", err)
		return 1
	}
	fmt.Printf("cleared %s\n", bbox)
	return 0
}

// cmdInvalidate tells every cache-holding node that a region's geodata
// changed. Local clears stay local; this is the distributed path.
func cmdInvalidate(args []string, cfg config.Config, appLog *slog.Logger) int {
	fs := flag.NewFlagSet("invalidate", flag.ExitOnError)
	bboxFlag := fs.String("bbox", "", "region: minLat,minLng,maxLat,maxLng")
	op := fs.String("op", "update", "event op: insert|update|delete")
	_ = fs.Parse(args)

	bbox, err := parseBBox(*bboxFlag)
	if err != nil {
		appLog.Error("bad -bbox flag", "err", err)
		return 1
	}

	pub, err := invalidation.NewPublisher(
		strings.Split(cfg.Invalidation.Brokers, ","), cfg.Invalidation.Topic, "chunkcache")
	if err != nil {
		appLog.Error("kafka publisher unavailable", "err", err)
		return 1
	}
	defer func() { _ = pub.Close() }()

	if err := pub.Publish(*op, bbox); err != nil {
		appLog.Error("publish failed", "err", err)
		return 1
	}
	fmt.Printf("published %s invalidation for %s\n", *op, bbox)
	return 0
}

func cmdSize(cache *assetcache.Cache) int {
	n, err := cache.Size()
	if err != nil {
		fmt.Fprintf(os.Stderr, "size failed: %v\n", err)
		return 1
	}
	fmt.Printf("%d bytes (%.1f MB) in %s\n", n, float64(n)/(1024*1024), cache.Root())
	return 0
}

func parseBBox(s string) (model.BBox, error) {
	if strings.TrimSpace(s) == "" {
		return model.BBox{}, fmt.Errorf("missing bbox")
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BBox{}, fmt.Errorf("expected 4 comma-separated values: minLat,minLng,maxLat,maxLng")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		vals[i] = f
	}
	return model.NewBBox(vals[0], vals[1], vals[2], vals[3])
}
