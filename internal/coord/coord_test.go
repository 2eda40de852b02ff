package coord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/geoforge/chunkplane/internal/model"
	"github.com/geoforge/chunkplane/internal/protocol"
	"github.com/geoforge/chunkplane/internal/work"
)

func testUnits(t *testing.T, n int) []work.Unit {
	t.Helper()
	units := make([]work.Unit, 0, n)
	for i := 0; i < n; i++ {
		minLat := 40.0 + float64(i)*0.01
		bb, err := model.NewBBox(minLat, -74.0, minLat+0.01, -73.99)
		if err != nil {
			t.Fatalf("bbox: %v", err)
		}
		units = append(units, work.Unit{
			ChunkID:  fmt.Sprintf("chunk_%d_0", i),
			BBox:     bb,
			Settings: work.DefaultSettings(),
		})
	}
	return units
}

func testCoordinator(t *testing.T, n int, opts Options) *Coordinator {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c, err := New("run-1", testUnits(t, n), opts)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func register(t *testing.T, c *Coordinator, workerID string) {
	t.Helper()
	resp := c.Register(protocol.RegisterWorkerRequest{
		WorkerID:     workerID,
		Capabilities: protocol.WorkerCapabilities{OS: "linux", CPUCores: 4, MemoryGB: 8},
	})
	if resp.Status != "registered" {
		t.Fatalf("register status = %q", resp.Status)
	}
	if resp.CoordinatorID != c.ID() {
		t.Fatalf("coordinator id mismatch: %q vs %q", resp.CoordinatorID, c.ID())
	}
}

func TestRegister_Idempotent(t *testing.T) {
	c := testCoordinator(t, 2, Options{})
	register(t, c, "w1")
	register(t, c, "w1")

	st := c.Status()
	if got := st.Workers.Active + st.Workers.Idle; got != 1 {
		t.Fatalf("want 1 worker after double registration, got %d", got)
	}
}

func TestRequestWork_UnknownWorker(t *testing.T) {
	c := testCoordinator(t, 1, Options{})
	_, err := c.RequestWork(context.Background(), "ghost")
	if err == nil {
		t.Fatal("want error for unregistered worker")
	}
}

func TestRequestWork_AndSubmit(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t, 2, Options{})
	register(t, c, "w1")

	resp, err := c.RequestWork(ctx, "w1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.WorkUnit == nil {
		t.Fatal("expected a unit")
	}
	first := resp.WorkUnit.ChunkID

	st := c.Status()
	if st.InProgress != 1 || st.Pending != 1 {
		t.Fatalf("after dispatch: in_progress=%d pending=%d", st.InProgress, st.Pending)
	}
	if st.Workers.Active != 1 {
		t.Fatalf("worker should be active, got %+v", st.Workers)
	}

	sub, err := c.SubmitResult(ctx, protocol.SubmitResultRequest{
		WorkerID: "w1",
		Result: work.Result{
			ChunkID:        first,
			Status:         work.StatusCompleted,
			ResultLocation: "/tmp/out/" + first,
			ProcessingTime: 1.5,
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != "accepted" {
		t.Fatalf("submit status = %q", sub.Status)
	}
	if sub.NextWork == nil {
		t.Fatal("expected piggybacked next unit")
	}
	if sub.NextWork.ChunkID == first {
		t.Fatal("piggybacked unit must differ from the completed one")
	}

	st = c.Status()
	if st.Completed != 1 {
		t.Fatalf("completed = %d", st.Completed)
	}
	if st.ChunkStatus[first] != work.StatusCompleted {
		t.Fatalf("chunk status = %s", st.ChunkStatus[first])
	}
}

func TestRequestWork_RedeliversHeldUnit(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t, 3, Options{})
	register(t, c, "w1")

	a, err := c.RequestWork(ctx, "w1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	b, err := c.RequestWork(ctx, "w1")
	if err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if b.WorkUnit == nil || b.WorkUnit.ChunkID != a.WorkUnit.ChunkID {
		t.Fatalf("re-request should return the held unit, got %+v", b.WorkUnit)
	}

	st := c.Status()
	if st.InProgress != 1 {
		t.Fatalf("re-request must not dispatch a second chunk, in_progress=%d", st.InProgress)
	}
}

func TestRequestWork_DrainsToEmpty(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t, 1, Options{})
	register(t, c, "w1")
	register(t, c, "w2")

	if resp, err := c.RequestWork(ctx, "w1"); err != nil || resp.WorkUnit == nil {
		t.Fatalf("first request: %+v %v", resp, err)
	}
	resp, err := c.RequestWork(ctx, "w2")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if resp.WorkUnit != nil {
		t.Fatalf("no work should remain, got %q", resp.WorkUnit.ChunkID)
	}
}

func TestSubmitResult_RejectsUnassigned(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t, 2, Options{})
	register(t, c, "w1")
	register(t, c, "w2")

	resp, err := c.RequestWork(ctx, "w1")
	if err != nil || resp.WorkUnit == nil {
		t.Fatalf("request: %+v %v", resp, err)
	}

	// w2 never held this chunk.
	_, err = c.SubmitResult(ctx, protocol.SubmitResultRequest{
		WorkerID: "w2",
		Result: work.Result{
			ChunkID:        resp.WorkUnit.ChunkID,
			Status:         work.StatusCompleted,
			ResultLocation: "/tmp/x",
		},
	})
	if err == nil {
		t.Fatal("want rejection for unassigned chunk")
	}

	// And the legitimate holder can still finish.
	if _, err := c.SubmitResult(ctx, protocol.SubmitResultRequest{
		WorkerID: "w1",
		Result: work.Result{
			ChunkID:        resp.WorkUnit.ChunkID,
			Status:         work.StatusCompleted,
			ResultLocation: "/tmp/x",
		},
	}); err != nil {
		t.Fatalf("holder submit: %v", err)
	}
}

func TestSubmitResult_RejectsInvalidResult(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t, 1, Options{})
	register(t, c, "w1")
	if _, err := c.RequestWork(ctx, "w1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	_, err := c.SubmitResult(ctx, protocol.SubmitResultRequest{
		WorkerID: "w1",
		Result:   work.Result{ChunkID: "chunk_0_0", Status: work.StatusCompleted},
	})
	if err == nil {
		t.Fatal("completed result without result_location must be rejected")
	}
}

func TestSubmitResult_FailedChunkIsTerminal(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t, 1, Options{})
	register(t, c, "w1")

	resp, err := c.RequestWork(ctx, "w1")
	if err != nil || resp.WorkUnit == nil {
		t.Fatalf("request: %+v %v", resp, err)
	}
	if _, err := c.SubmitResult(ctx, protocol.SubmitResultRequest{
		WorkerID: "w1",
		Result: work.Result{
			ChunkID: resp.WorkUnit.ChunkID,
			Status:  work.StatusFailed,
			Error:   "geodata fetch failed",
		},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	st := c.Status()
	if st.Failed != 1 {
		t.Fatalf("failed = %d", st.Failed)
	}
	if !c.Done() {
		t.Fatal("run with all chunks terminal should be done")
	}

	// Failed chunks are not silently re-queued.
	again, err := c.RequestWork(ctx, "w1")
	if err != nil {
		t.Fatalf("request after failure: %v", err)
	}
	if again.WorkUnit != nil {
		t.Fatalf("failed chunk must not be re-dispatched, got %q", again.WorkUnit.ChunkID)
	}
}

func TestRequestWork_ConcurrentClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	const workers = 16
	const chunks = 8
	c := testCoordinator(t, chunks, Options{})
	for i := 0; i < workers; i++ {
		register(t, c, fmt.Sprintf("w%d", i))
	}

	var mu sync.Mutex
	got := make(map[string]string)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			resp, err := c.RequestWork(ctx, workerID)
			if err != nil {
				t.Errorf("request %s: %v", workerID, err)
				return
			}
			if resp.WorkUnit == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, dup := got[resp.WorkUnit.ChunkID]; dup {
				t.Errorf("chunk %s handed to both %s and %s", resp.WorkUnit.ChunkID, prev, workerID)
			}
			got[resp.WorkUnit.ChunkID] = workerID
		}(fmt.Sprintf("w%d", i))
	}
	wg.Wait()

	if len(got) != chunks {
		t.Fatalf("dispatched %d distinct chunks, want %d", len(got), chunks)
	}
}

func TestReclaimStale(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t, 1, Options{StaleAfter: time.Minute})
	register(t, c, "w1")
	register(t, c, "w2")

	resp, err := c.RequestWork(ctx, "w1")
	if err != nil || resp.WorkUnit == nil {
		t.Fatalf("request: %+v %v", resp, err)
	}
	chunkID := resp.WorkUnit.ChunkID

	// Nothing is stale yet.
	if n := c.ReclaimStale(ctx); n != 0 {
		t.Fatalf("premature reclaim of %d chunks", n)
	}

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if n := c.ReclaimStale(ctx); n != 1 {
		t.Fatalf("reclaimed %d chunks, want 1", n)
	}
	c.now = time.Now

	st := c.Status()
	if st.Pending != 1 {
		t.Fatalf("reclaimed chunk should be pending, got %+v", st)
	}

	// Another worker can pick it up.
	resp2, err := c.RequestWork(ctx, "w2")
	if err != nil || resp2.WorkUnit == nil || resp2.WorkUnit.ChunkID != chunkID {
		t.Fatalf("reclaimed chunk not re-dispatched: %+v %v", resp2, err)
	}

	// The stalled worker's late submission is rejected.
	_, err = c.SubmitResult(ctx, protocol.SubmitResultRequest{
		WorkerID: "w1",
		Result: work.Result{
			ChunkID:        chunkID,
			Status:         work.StatusCompleted,
			ResultLocation: "/tmp/late",
		},
	})
	if err == nil {
		t.Fatal("late submission after reclaim must be rejected")
	}
}

func TestNew_RejectsBadInput(t *testing.T) {
	if _, err := New("", testUnits(t, 1), Options{}); err == nil {
		t.Fatal("empty run id must be rejected")
	}
	if _, err := New("run-1", nil, Options{}); err == nil {
		t.Fatal("empty unit list must be rejected")
	}
	units := testUnits(t, 2)
	units[1].ChunkID = units[0].ChunkID
	if _, err := New("run-1", units, Options{}); err == nil {
		t.Fatal("duplicate chunk ids must be rejected")
	}
}
