// Package protocol defines the coordinator-worker message schemas. The
// messages are transport-agnostic JSON records; the HTTP binding lives in
// internal/server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/geoforge/chunkplane/internal/work"
)

// ErrMalformed wraps any decode failure of a persisted or wire record.
var ErrMalformed = errors.New("malformed message")

// WorkerCapabilities is reported at registration and may be refreshed by
// re-registering.
type WorkerCapabilities struct {
	OS       string `json:"os"`
	CPUCores int    `json:"cpu_cores"`
	MemoryGB int    `json:"memory_gb"`
}

type RegisterWorkerRequest struct {
	WorkerID     string             `json:"worker_id"`
	Capabilities WorkerCapabilities `json:"capabilities"`
}

type RegisterWorkerResponse struct {
	Status        string `json:"status"`
	CoordinatorID string `json:"coordinator_id"`
}

type WorkRequest struct {
	WorkerID string `json:"worker_id"`
}

// WorkResponse carries the next unit, or nothing when no work is
// available. A unit without a data URL is legal: the worker falls back to
// its own fetch path.
type WorkResponse struct {
	WorkUnit *work.Unit `json:"work_unit,omitempty"`
	DataURL  string     `json:"data_url,omitempty"`
}

type SubmitResultRequest struct {
	WorkerID string      `json:"worker_id"`
	Result   work.Result `json:"result"`
}

// SubmitResultResponse piggybacks the next assignment to save a round
// trip.
type SubmitResultResponse struct {
	Status   string     `json:"status"`
	NextWork *work.Unit `json:"next_work,omitempty"`
}

type StatusRequest struct{}

type StatusResponse struct {
	TotalChunks int                    `json:"total_chunks"`
	Completed   int                    `json:"completed"`
	InProgress  int                    `json:"in_progress"`
	Pending     int                    `json:"pending"`
	Failed      int                    `json:"failed"`
	Workers     WorkerStatusSummary    `json:"workers"`
	ChunkStatus map[string]work.Status `json:"chunk_status"`
}

type WorkerStatusSummary struct {
	Active  int            `json:"active"`
	Idle    int            `json:"idle"`
	Workers []WorkerStatus `json:"workers"`
}

// WorkerStatus describes one worker. CurrentChunk is set exactly when the
// worker holds an assigned or in-progress unit.
type WorkerStatus struct {
	WorkerID        string             `json:"worker_id"`
	CurrentChunk    string             `json:"current_chunk,omitempty"`
	ChunksCompleted int                `json:"chunks_completed"`
	Capabilities    WorkerCapabilities `json:"capabilities"`
}

// Decode reads one JSON message into dst, wrapping failures so callers can
// distinguish malformed input from application errors.
func Decode(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
