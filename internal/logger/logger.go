// Package logger builds the zerolog backend and carries request-scoped
// fields through context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	Component string
}

type ctxKey string

const (
	ctxReqIDKey  ctxKey = "request_id"
	ctxWorkerKey ctxKey = "worker_id"
	ctxChunkKey  ctxKey = "chunk_id"
	ctxComponent ctxKey = "component"
)

func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return context.WithValue(ctx, ctxReqIDKey, reqID)
}

func WithWorkerID(ctx context.Context, workerID string) context.Context {
	if workerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxWorkerKey, workerID)
}

func WithChunkID(ctx context.Context, chunkID string) context.Context {
	if chunkID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxChunkKey, chunkID)
}

func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxComponent, component)
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out)

	lvl := strings.ToLower(strings.TrimSpace(cfg.Level))
	switch lvl {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx := base.With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return ctx.Logger()
}

// FromContext returns a child logger with context fields applied.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	var base zerolog.Logger
	if parent == nil {
		base = zerolog.New(io.Discard)
	} else {
		base = *parent
	}
	w := base.With()
	if v, ok := ctx.Value(ctxReqIDKey).(string); ok && v != "" {
		w = w.Str("request_id", v)
	}
	if v, ok := ctx.Value(ctxWorkerKey).(string); ok && v != "" {
		w = w.Str("worker_id", v)
	}
	if v, ok := ctx.Value(ctxChunkKey).(string); ok && v != "" {
		w = w.Str("chunk_id", v)
	}
	if v, ok := ctx.Value(ctxComponent).(string); ok && v != "" {
		w = w.Str("component", v)
	}
	l := w.Logger()
	return &l
}
