// Package worker runs the pull loop: register with the coordinator, fetch
// geodata for each assigned chunk, process it, and report the outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/geoforge/chunkplane/internal/protocol"
	"github.com/geoforge/chunkplane/internal/retrieve"
	"github.com/geoforge/chunkplane/internal/work"
)

// Processor turns one chunk's geodata into an artifact and returns where
// it was written.
type Processor interface {
	Process(ctx context.Context, unit work.Unit, payload []byte) (resultLocation string, err error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, unit work.Unit, payload []byte) (string, error)

func (f ProcessorFunc) Process(ctx context.Context, unit work.Unit, payload []byte) (string, error) {
	return f(ctx, unit, payload)
}

type AgentConfig struct {
	// ID defaults to a fresh UUID.
	ID           string
	Capabilities protocol.WorkerCapabilities
	PollInterval time.Duration
	MaxBackoff   time.Duration
}

// Agent is one worker process. It holds at most one chunk at a time; the
// coordinator piggybacks the next assignment on each submitted result, so
// a busy run needs no idle polling at all.
type Agent struct {
	id     string
	caps   protocol.WorkerCapabilities
	client *Client
	fetch  *retrieve.Retriever
	proc   Processor
	logger *slog.Logger
	poll   time.Duration
	maxOff time.Duration
}

func NewAgent(client *Client, fetch *retrieve.Retriever, proc Processor, logger *slog.Logger, cfg AgentConfig) *Agent {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Agent{
		id:     cfg.ID,
		caps:   cfg.Capabilities,
		client: client,
		fetch:  fetch,
		proc:   proc,
		logger: logger.With("worker_id", cfg.ID),
		poll:   cfg.PollInterval,
		maxOff: cfg.MaxBackoff,
	}
}

func (a *Agent) ID() string { return a.id }

// Run blocks until the context ends or the run completes. Completion is
// observed through the status endpoint once polling comes up empty.
func (a *Agent) Run(ctx context.Context) error {
	reg, err := a.client.Register(ctx, protocol.RegisterWorkerRequest{
		WorkerID:     a.id,
		Capabilities: a.caps,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.logger.Info("registered", "coordinator_id", reg.CoordinatorID)

	backoff := a.poll
	var next *work.Unit

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		unit := next
		next = nil
		if unit == nil {
			resp, err := a.client.RequestWork(ctx, a.id)
			if err != nil {
				a.logger.Warn("request-work failed", "err", err)
				if !a.sleep(ctx, backoff) {
					return ctx.Err()
				}
				backoff = min(backoff*2, a.maxOff)
				continue
			}
			unit = resp.WorkUnit
		}

		if unit == nil {
			st, err := a.client.Status(ctx)
			if err == nil && st.TotalChunks > 0 && st.Pending == 0 && st.InProgress == 0 {
				a.logger.Info("run complete", "completed", st.Completed, "failed", st.Failed)
				return nil
			}
			if !a.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, a.maxOff)
			continue
		}
		backoff = a.poll

		result := a.processUnit(ctx, *unit)
		sub, err := a.client.SubmitResult(ctx, protocol.SubmitResultRequest{
			WorkerID: a.id,
			Result:   result,
		})
		if err != nil {
			// A conflict means the chunk was reclaimed while we worked on
			// it; anything else is worth one log line either way. The next
			// poll starts a fresh cycle.
			a.logger.Warn("submit failed", "chunk_id", result.ChunkID, "err", err)
			continue
		}
		next = sub.NextWork
	}
}

func (a *Agent) processUnit(ctx context.Context, unit work.Unit) work.Result {
	log := a.logger.With("chunk_id", unit.ChunkID)
	log.Info("processing chunk", "bbox", unit.BBox.String())
	start := time.Now()

	payload, err := a.fetch.Fetch(ctx, unit.BBox)
	if err != nil {
		log.Error("geodata fetch failed", "err", err)
		return failedResult(unit, start, fmt.Errorf("fetch geodata: %w", err))
	}

	loc, err := a.proc.Process(ctx, unit, payload)
	if err != nil {
		log.Error("processing failed", "err", err)
		return failedResult(unit, start, err)
	}

	log.Info("chunk completed", "result_location", loc, "elapsed", time.Since(start))
	return work.Result{
		ChunkID:        unit.ChunkID,
		Status:         work.StatusCompleted,
		ResultLocation: loc,
		ProcessingTime: time.Since(start).Seconds(),
	}
}

func failedResult(unit work.Unit, start time.Time, err error) work.Result {
	return work.Result{
		ChunkID:        unit.ChunkID,
		Status:         work.StatusFailed,
		Error:          err.Error(),
		ProcessingTime: time.Since(start).Seconds(),
	}
}

func (a *Agent) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
