package coord

import (
	"context"
	"sync"
)

// ClaimStore is the single mutual-exclusion point of the protocol: the
// Pending -> Assigned move must be an atomic claim so two workers polling
// concurrently can never both win the same chunk. Everything else in the
// coordinator tolerates plain read/write concurrency.
type ClaimStore interface {
	// Claim atomically claims chunkID for workerID. Returns false when the
	// chunk is already claimed by anyone, including the same worker.
	Claim(ctx context.Context, chunkID, workerID string) (bool, error)

	// Release frees a claim so the chunk can be claimed again. Releasing
	// an unclaimed chunk is a no-op.
	Release(ctx context.Context, chunkID string) error

	// Owner reports the current claim holder, if any.
	Owner(ctx context.Context, chunkID string) (string, bool, error)
}

// MemClaims is the in-process claim store for single-coordinator
// deployments.
type MemClaims struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewMemClaims() *MemClaims {
	return &MemClaims{owners: make(map[string]string)}
}

func (m *MemClaims) Claim(_ context.Context, chunkID, workerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.owners[chunkID]; taken {
		return false, nil
	}
	m.owners[chunkID] = workerID
	return true, nil
}

func (m *MemClaims) Release(_ context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, chunkID)
	return nil
}

func (m *MemClaims) Owner(_ context.Context, chunkID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[chunkID]
	return owner, ok, nil
}
