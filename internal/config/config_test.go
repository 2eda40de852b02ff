package config

import (
	"errors"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8095" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.ChunkSize != 0.01 || cfg.Overlap != 0.001 {
		t.Fatalf("planner defaults = %v / %v", cfg.ChunkSize, cfg.Overlap)
	}
	if cfg.DownloadMethod != "native" {
		t.Fatalf("download method = %q", cfg.DownloadMethod)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("redis should default to disabled, got %q", cfg.RedisAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9000")
	t.Setenv("CHUNK_SIZE_DEGREES", "0.05")
	t.Setenv("STALE_AFTER", "5m")
	t.Setenv("GEODATA_ENDPOINTS", "https://a.example/api, https://b.example/api,")
	t.Setenv("INVALIDATION_ENABLED", "true")

	cfg := FromEnv()
	if cfg.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.ChunkSize != 0.05 {
		t.Fatalf("chunk size = %v", cfg.ChunkSize)
	}
	if cfg.StaleAfter != 5*time.Minute {
		t.Fatalf("stale after = %v", cfg.StaleAfter)
	}
	if len(cfg.Endpoints) != 2 || cfg.Endpoints[1] != "https://b.example/api" {
		t.Fatalf("endpoints = %v", cfg.Endpoints)
	}
	if !cfg.Invalidation.Enabled {
		t.Fatal("invalidation should be enabled")
	}
}

func TestFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("CHUNK_SIZE_DEGREES", "not-a-number")
	t.Setenv("STALE_AFTER", "soon")
	t.Setenv("HOT_ENTRIES", "many")

	cfg := FromEnv()
	if cfg.ChunkSize != 0.01 {
		t.Fatalf("chunk size = %v, want default", cfg.ChunkSize)
	}
	if cfg.StaleAfter != 30*time.Minute {
		t.Fatalf("stale after = %v, want default", cfg.StaleAfter)
	}
	if cfg.HotEntries != 8 {
		t.Fatalf("hot entries = %d, want default", cfg.HotEntries)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }, false},
		{"negative overlap", func(c *Config) { c.Overlap = -0.001 }, false},
		{"locality res too high", func(c *Config) { c.LocalityRes = 16 }, false},
		{"unknown download method", func(c *Config) { c.DownloadMethod = "ftp" }, false},
		{"curl method", func(c *Config) { c.DownloadMethod = "curl" }, true},
		{"negative hot entries", func(c *Config) { c.HotEntries = -1 }, false},
		{"invalidation without brokers", func(c *Config) {
			c.Invalidation.Enabled = true
			c.Invalidation.Brokers = ""
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := FromEnv()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatal("want validation error")
				}
				if !errors.Is(err, ErrConfig) {
					t.Fatalf("error should wrap ErrConfig, got %v", err)
				}
			}
		})
	}
}
