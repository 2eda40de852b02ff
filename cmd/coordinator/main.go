package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/geoforge/chunkplane/internal/config"
	"github.com/geoforge/chunkplane/internal/coord"
	"github.com/geoforge/chunkplane/internal/logger"
	"github.com/geoforge/chunkplane/internal/model"
	"github.com/geoforge/chunkplane/internal/observability"
	"github.com/geoforge/chunkplane/internal/plan"
	"github.com/geoforge/chunkplane/internal/server"
	"github.com/geoforge/chunkplane/internal/work"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	bboxFlag := flag.String("bbox", "", "region to partition: minLat,minLng,maxLat,maxLng")
	scale := flag.Float64("scale", 1.0, "world scale")
	terrain := flag.Bool("terrain", false, "enable terrain generation")
	interior := flag.Bool("interior", true, "enable building interiors")
	roof := flag.Bool("roof", true, "enable building roofs")
	groundLevel := flag.Int("ground-level", -62, "base ground level")
	flag.Parse()

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "coordinator",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("bad configuration", "err", err)
		return 1
	}
	if *bboxFlag == "" {
		appLog.Error("missing required -bbox flag")
		return 1
	}
	region, err := parseBBox(*bboxFlag)
	if err != nil {
		appLog.Error("bad -bbox flag", "err", err)
		return 1
	}

	settings := work.Settings{
		Scale:       *scale,
		Terrain:     *terrain,
		Interior:    *interior,
		Roof:        *roof,
		GroundLevel: *groundLevel,
	}
	units, err := plan.Split(region, plan.Config{
		ChunkSizeDegrees: cfg.ChunkSize,
		OverlapDegrees:   cfg.Overlap,
	}, settings)
	if err != nil {
		appLog.Error("planning failed", "err", err)
		return 1
	}
	stats := plan.Aggregate(units)

	runID := cfg.RunID
	if runID == "" {
		// Derived from the region so re-running the same area resumes it.
		runID = "run_" + strings.NewReplacer(",", "_", ".", "_", "-", "m").Replace(region.String())
	}

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting coordinator",
		"addr", cfg.Addr,
		"version", Version,
		"run_id", runID,
		"region", region.String(),
		"chunks", stats.TotalChunks,
		"estimated_total_secs", fmt.Sprintf("%.0f", stats.EstimatedTotalTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := coord.Options{
		StaleAfter:  cfg.StaleAfter,
		LocalityRes: cfg.LocalityRes,
		Logger:      appLog,
	}

	if cfg.RedisAddr != "" {
		claims, err := coord.NewRedisClaims(ctx, cfg.RedisAddr, cfg.RedisPrefix, cfg.RedisClaimTTL)
		if err != nil {
			appLog.Error("redis claim store unavailable", "err", err)
			return 1
		}
		defer func() { _ = claims.Close() }()
		opts.Claims = claims
		appLog.Info("using redis claim store", "addr", cfg.RedisAddr)
	}

	if cfg.JournalPath != "" {
		journal, err := coord.OpenJournal(cfg.JournalPath)
		if err != nil {
			appLog.Error("journal unavailable", "err", err)
			return 1
		}
		defer func() { _ = journal.Close() }()
		opts.Journal = journal
		appLog.Info("journaling enabled", "path", cfg.JournalPath)
	}

	c, err := coord.New(runID, units, opts)
	if err != nil {
		appLog.Error("coordinator setup failed", "err", err)
		return 1
	}
	go c.RunReclaimer(ctx, cfg.ReclaimInterval)

	if err := server.Run(ctx, cfg.Addr, appLog, c); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("coordinator stopped")
	return 0
}

func parseBBox(s string) (model.BBox, error) {
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
