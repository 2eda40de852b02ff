// Package coord owns chunk assignment and aggregate status for one
// partition run. Workers never talk to each other; every lifecycle move
// flows through the coordinator.
package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	h3 "github.com/uber/h3-go/v4"

	"github.com/geoforge/chunkplane/internal/observability"
	"github.com/geoforge/chunkplane/internal/plan"
	"github.com/geoforge/chunkplane/internal/protocol"
	"github.com/geoforge/chunkplane/internal/work"
)

var (
	// ErrUnknownWorker is returned for requests from a worker that never
	// registered.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrNotAssigned rejects a result for a chunk the submitting worker
	// does not currently hold.
	ErrNotAssigned = errors.New("chunk not assigned to this worker")
)

type chunkRecord struct {
	unit      work.Unit
	status    work.Status
	worker    string
	startedAt time.Time
	cell      h3.Cell
}

type workerRecord struct {
	caps            protocol.WorkerCapabilities
	currentChunk    string
	chunksCompleted int
	lastCell        h3.Cell
}

type Options struct {
	// Claims defaults to an in-process store.
	Claims ClaimStore

	// Journal enables resumable runs when non-nil.
	Journal *Journal

	// StaleAfter bounds how long a dispatched chunk may sit without a
	// result before ReclaimStale re-mints it. Zero disables reclaim.
	StaleAfter time.Duration

	// LocalityRes is the H3 resolution for assignment locality.
	LocalityRes int

	Logger *slog.Logger
}

type Coordinator struct {
	id          string
	runID       string
	logger      *slog.Logger
	claims      ClaimStore
	journal     *Journal
	staleAfter  time.Duration
	localityRes int
	now         func() time.Time // for tests

	mu      sync.RWMutex
	order   []string
	chunks  map[string]*chunkRecord
	workers map[string]*workerRecord
	results map[string]work.Result
}

// New loads a planned partition run. When a journal is configured,
// terminal outcomes recorded under runID are replayed so completed chunks
// are not re-dispatched.
func New(runID string, units []work.Unit, opts Options) (*Coordinator, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if len(units) == 0 {
		return nil, errors.New("no work units")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	claims := opts.Claims
	if claims == nil {
		claims = NewMemClaims()
	}
	res := opts.LocalityRes
	if res <= 0 {
		res = plan.DefaultLocalityRes
	}

	c := &Coordinator{
		id:          uuid.NewString(),
		runID:       runID,
		logger:      logger,
		claims:      claims,
		journal:     opts.Journal,
		staleAfter:  opts.StaleAfter,
		localityRes: res,
		now:         time.Now,
		chunks:      make(map[string]*chunkRecord, len(units)),
		workers:     make(map[string]*workerRecord),
		results:     make(map[string]work.Result),
	}

	// Order chunks by locality cell (first appearance) so adjacent chunks
	// cluster together, keeping row-major order within a cell.
	seen := make(map[h3.Cell][]string)
	var cellOrder []h3.Cell
	for _, u := range units {
		if _, dup := c.chunks[u.ChunkID]; dup {
			return nil, fmt.Errorf("duplicate chunk id %q", u.ChunkID)
		}
		cell, err := plan.LocalityCell(u, res)
		if err != nil {
			cell = 0
		}
		if _, ok := seen[cell]; !ok {
			cellOrder = append(cellOrder, cell)
		}
		seen[cell] = append(seen[cell], u.ChunkID)
		c.chunks[u.ChunkID] = &chunkRecord{unit: u, status: work.StatusPending, cell: cell}
	}
	for _, cell := range cellOrder {
		c.order = append(c.order, seen[cell]...)
	}

	if c.journal != nil {
		terminal, err := c.journal.Terminal(runID)
		if err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		for chunkID, status := range terminal {
			rec, ok := c.chunks[chunkID]
			if !ok {
				// Journal from a different region or config; ignore.
				continue
			}
			rec.status = status
		}
		if n := len(terminal); n > 0 {
			logger.Info("resumed run from journal", "run_id", runID, "terminal_chunks", n)
		}
	}

	c.publishGauges()
	return c, nil
}

func (c *Coordinator) ID() string { return c.id }

// Register is idempotent: re-registering the same worker updates its
// capabilities and succeeds, never errors.
func (c *Coordinator) Register(req protocol.RegisterWorkerRequest) protocol.RegisterWorkerResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.workers[req.WorkerID]
	if !ok {
		rec = &workerRecord{}
		c.workers[req.WorkerID] = rec
	}
	rec.caps = req.Capabilities

	observability.IncDispatch("register")
	c.logger.Info("worker registered",
		"worker_id", req.WorkerID,
		"os", req.Capabilities.OS,
		"cpu_cores", req.Capabilities.CPUCores)
	return protocol.RegisterWorkerResponse{Status: "registered", CoordinatorID: c.id}
}

// RequestWork hands the worker its next chunk, or an empty response when
// nothing is pending. A worker that already holds a chunk gets the same
// unit again, so a crashed-and-restarted worker can pick up where it was.
func (c *Coordinator) RequestWork(ctx context.Context, workerID string) (protocol.WorkResponse, error) {
	c.mu.RLock()
	w, ok := c.workers[workerID]
	if !ok {
		c.mu.RUnlock()
		return protocol.WorkResponse{}, fmt.Errorf("%w: %q", ErrUnknownWorker, workerID)
	}
	if w.currentChunk != "" {
		unit := c.chunks[w.currentChunk].unit
		c.mu.RUnlock()
		return protocol.WorkResponse{WorkUnit: &unit}, nil
	}
	c.mu.RUnlock()

	unit, err := c.claimNext(ctx, workerID)
	if err != nil {
		return protocol.WorkResponse{}, err
	}
	if unit == nil {
		return protocol.WorkResponse{}, nil
	}
	return protocol.WorkResponse{WorkUnit: unit}, nil
}

// claimNext scans pending chunks, preferring the cell the worker last
// worked in, and claims the first one it wins.
func (c *Coordinator) claimNext(ctx context.Context, workerID string) (*work.Unit, error) {
	candidates := c.pendingCandidates(workerID)

	for _, chunkID := range candidates {
		won, err := c.claims.Claim(ctx, chunkID, workerID)
		if err != nil {
			return nil, fmt.Errorf("claim %q: %w", chunkID, err)
		}
		if !won {
			observability.IncDispatch("claim_conflict")
			continue
		}

		c.mu.Lock()
		rec := c.chunks[chunkID]
		if rec.status != work.StatusPending {
			// Lost a race with a reclaim cycle; free the claim and move on.
			c.mu.Unlock()
			_ = c.claims.Release(ctx, chunkID)
			continue
		}

		var err2 error
		rec.status, err2 = rec.status.Transition(work.StatusAssigned)
		if err2 == nil {
			rec.status, err2 = rec.status.Transition(work.StatusInProgress)
		}
		if err2 != nil {
			c.mu.Unlock()
			_ = c.claims.Release(ctx, chunkID)
			return nil, err2
		}
		rec.worker = workerID
		rec.startedAt = c.now()
		c.workers[workerID].currentChunk = chunkID
		unit := rec.unit
		c.publishGaugesLocked()
		c.mu.Unlock()

		c.record(chunkID, work.StatusAssigned, workerID)
		c.record(chunkID, work.StatusInProgress, workerID)
		observability.IncDispatch("claim")
		c.logger.Debug("chunk dispatched", "chunk_id", chunkID, "worker_id", workerID)
		return &unit, nil
	}
	return nil, nil
}

// pendingCandidates returns pending chunk ids, the worker's last locality
// cell first.
func (c *Coordinator) pendingCandidates(workerID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lastCell := c.workers[workerID].lastCell
	var preferred, rest []string
	for _, chunkID := range c.order {
		rec := c.chunks[chunkID]
		if rec.status != work.StatusPending {
			continue
		}
		if lastCell != 0 && rec.cell == lastCell {
			preferred = append(preferred, chunkID)
		} else {
			rest = append(rest, chunkID)
		}
	}
	return append(preferred, rest...)
}

// SubmitResult applies a worker's terminal outcome and piggybacks the next
// assignment when one is available.
func (c *Coordinator) SubmitResult(ctx context.Context, req protocol.SubmitResultRequest) (protocol.SubmitResultResponse, error) {
	if err := req.Result.Validate(); err != nil {
		return protocol.SubmitResultResponse{}, err
	}
	chunkID := req.Result.ChunkID

	c.mu.Lock()
	w, ok := c.workers[req.WorkerID]
	if !ok {
		c.mu.Unlock()
		return protocol.SubmitResultResponse{}, fmt.Errorf("%w: %q", ErrUnknownWorker, req.WorkerID)
	}
	rec, ok := c.chunks[chunkID]
	if !ok {
		c.mu.Unlock()
		observability.IncDispatch("reject")
		return protocol.SubmitResultResponse{}, fmt.Errorf("%w: unknown chunk %q", ErrNotAssigned, chunkID)
	}
	if rec.worker != req.WorkerID || (rec.status != work.StatusAssigned && rec.status != work.StatusInProgress) {
		c.mu.Unlock()
		observability.IncDispatch("reject")
		return protocol.SubmitResultResponse{}, fmt.Errorf("%w: %q (status %s)", ErrNotAssigned, chunkID, rec.status)
	}

	next, err := rec.status.Transition(req.Result.Status)
	if err != nil {
		c.mu.Unlock()
		return protocol.SubmitResultResponse{}, err
	}
	rec.status = next
	c.results[chunkID] = req.Result

	w.currentChunk = ""
	w.lastCell = rec.cell
	if next == work.StatusCompleted {
		w.chunksCompleted++
	}
	c.publishGaugesLocked()
	c.mu.Unlock()

	c.record(chunkID, next, req.WorkerID)
	_ = c.claims.Release(ctx, chunkID)
	observability.IncDispatch("submit")
	c.logger.Info("result accepted",
		"chunk_id", chunkID, "worker_id", req.WorkerID, "status", string(next),
		"processing_time", req.Result.ProcessingTime)

	nextUnit, err := c.claimNext(ctx, req.WorkerID)
	if err != nil {
		// The result is already applied; dispatch failure only costs the
		// piggybacked assignment.
		c.logger.Warn("piggyback dispatch failed", "worker_id", req.WorkerID, "err", err)
		nextUnit = nil
	}
	return protocol.SubmitResultResponse{Status: "accepted", NextWork: nextUnit}, nil
}

// Status is a read-only, eventually consistent snapshot.
func (c *Coordinator) Status() protocol.StatusResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	resp := protocol.StatusResponse{
		TotalChunks: len(c.chunks),
		ChunkStatus: make(map[string]work.Status, len(c.chunks)),
	}
	for chunkID, rec := range c.chunks {
		resp.ChunkStatus[chunkID] = rec.status
		switch rec.status {
		case work.StatusPending:
			resp.Pending++
		case work.StatusAssigned, work.StatusInProgress:
			resp.InProgress++
		case work.StatusCompleted:
			resp.Completed++
		case work.StatusFailed:
			resp.Failed++
		}
	}

	for workerID, w := range c.workers {
		ws := protocol.WorkerStatus{
			WorkerID:        workerID,
			CurrentChunk:    w.currentChunk,
			ChunksCompleted: w.chunksCompleted,
			Capabilities:    w.caps,
		}
		if w.currentChunk != "" {
			resp.Workers.Active++
		} else {
			resp.Workers.Idle++
		}
		resp.Workers.Workers = append(resp.Workers.Workers, ws)
	}
	return resp
}

// Done reports whether every chunk reached a terminal status.
func (c *Coordinator) Done() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.chunks {
		if !rec.status.Terminal() {
			return false
		}
	}
	return true
}

// Results returns a copy of all accepted results.
func (c *Coordinator) Results() map[string]work.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]work.Result, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// ReclaimStale re-mints a fresh assignment cycle for chunks that were
// dispatched longer than StaleAfter ago and never produced a result. The
// chunk becomes claimable again; the stalled worker's eventual submission
// for it will be rejected as no longer assigned.
func (c *Coordinator) ReclaimStale(ctx context.Context) int {
	if c.staleAfter <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.staleAfter)

	c.mu.Lock()
	var reclaimed []string
	for chunkID, rec := range c.chunks {
		if rec.status != work.StatusAssigned && rec.status != work.StatusInProgress {
			continue
		}
		if rec.startedAt.After(cutoff) {
			continue
		}
		if w, ok := c.workers[rec.worker]; ok && w.currentChunk == chunkID {
			w.currentChunk = ""
		}
		rec.status = work.StatusPending
		rec.worker = ""
		reclaimed = append(reclaimed, chunkID)
	}
	c.publishGaugesLocked()
	c.mu.Unlock()

	for _, chunkID := range reclaimed {
		_ = c.claims.Release(ctx, chunkID)
		c.record(chunkID, work.StatusPending, "")
		observability.IncDispatch("reclaim")
		c.logger.Warn("stale chunk reclaimed", "chunk_id", chunkID)
	}
	return len(reclaimed)
}

// RunReclaimer ticks ReclaimStale until the context ends.
func (c *Coordinator) RunReclaimer(ctx context.Context, interval time.Duration) {
	if c.staleAfter <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.ReclaimStale(ctx)
		}
	}
}

func (c *Coordinator) record(chunkID string, status work.Status, workerID string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(c.runID, chunkID, status, workerID); err != nil {
		c.logger.Error("journal write failed", "chunk_id", chunkID, "err", err)
	}
}

func (c *Coordinator) publishGauges() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.publishGaugesLocked()
}

func (c *Coordinator) publishGaugesLocked() {
	counts := map[work.Status]int{}
	for _, rec := range c.chunks {
		counts[rec.status]++
	}
	for _, s := range []work.Status{work.StatusPending, work.StatusAssigned, work.StatusInProgress, work.StatusCompleted, work.StatusFailed} {
		observability.SetChunksByStatus(string(s), counts[s])
	}
}
