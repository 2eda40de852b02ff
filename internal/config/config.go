// Package config loads runtime configuration from the environment with
// sensible defaults, so every binary boots with zero flags in dev.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig marks configuration that parsed but cannot be used.
var ErrConfig = errors.New("invalid configuration")

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr     string
	LogLevel string
	// LogConsole switches to human-readable console output.
	LogConsole bool

	CacheDir string

	// RedisAddr enables the shared claim store when non-empty. Empty keeps
	// claims in process memory.
	RedisAddr     string
	RedisPrefix   string
	RedisClaimTTL time.Duration

	Invalidation InvalidationCfg

	// Planner knobs, in degrees.
	ChunkSize   float64
	Overlap     float64
	LocalityRes int

	RunID       string
	JournalPath string

	StaleAfter      time.Duration
	ReclaimInterval time.Duration

	// Geodata retrieval.
	Endpoints      []string
	Fallbacks      []string
	DownloadMethod string
	HotEntries     int

	// Worker side.
	CoordinatorURL string
	PollInterval   time.Duration
	PollBackoffMax time.Duration
	OutputDir      string
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8095"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),

		CacheDir: getenv("CACHE_DIR", ""),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPrefix:   getenv("REDIS_PREFIX", "chunkplane"),
		RedisClaimTTL: getduration("REDIS_CLAIM_TTL", 30*time.Minute),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "geodata-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "chunkplane-invalidator"),
		},

		ChunkSize:   getfloat("CHUNK_SIZE_DEGREES", 0.01),
		Overlap:     getfloat("CHUNK_OVERLAP_DEGREES", 0.001),
		LocalityRes: getint("LOCALITY_RES", 6),

		RunID:       getenv("RUN_ID", ""),
		JournalPath: getenv("JOURNAL_PATH", ""),

		StaleAfter:      getduration("STALE_AFTER", 30*time.Minute),
		ReclaimInterval: getduration("RECLAIM_INTERVAL", time.Minute),

		Endpoints:      getlist("GEODATA_ENDPOINTS", nil),
		Fallbacks:      getlist("GEODATA_FALLBACKS", nil),
		DownloadMethod: getenv("DOWNLOAD_METHOD", "native"),
		HotEntries:     getint("HOT_ENTRIES", 8),

		CoordinatorURL: getenv("COORDINATOR_URL", "http://localhost:8095"),
		PollInterval:   getduration("POLL_INTERVAL", 2*time.Second),
		PollBackoffMax: getduration("POLL_BACKOFF_MAX", 30*time.Second),
		OutputDir:      getenv("OUTPUT_DIR", "out"),
	}
}

// Validate rejects values that parsed but make no sense. Errors wrap
// ErrConfig.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be > 0, got %v", ErrConfig, c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap must be >= 0, got %v", ErrConfig, c.Overlap)
	}
	if c.LocalityRes < 0 || c.LocalityRes > 15 {
		return fmt.Errorf("%w: locality resolution must be in [0,15], got %d", ErrConfig, c.LocalityRes)
	}
	switch c.DownloadMethod {
	case "native", "curl", "wget":
	default:
		return fmt.Errorf("%w: unknown download method %q", ErrConfig, c.DownloadMethod)
	}
	if c.HotEntries < 0 {
		return fmt.Errorf("%w: hot entries must be >= 0, got %d", ErrConfig, c.HotEntries)
	}
	if c.Invalidation.Enabled && c.Invalidation.Brokers == "" {
		return fmt.Errorf("%w: invalidation enabled without kafka brokers", ErrConfig)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getlist parses a comma-separated value, dropping empty entries.
func getlist(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
