package coord

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testRedisClaims(t *testing.T, ttl time.Duration) (*RedisClaims, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rc, err := NewRedisClaims(context.Background(), srv.Addr(), "test", ttl)
	if err != nil {
		t.Fatalf("new redis claims: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, srv
}

func TestRedisClaims_Exclusive(t *testing.T) {
	ctx := context.Background()
	rc, _ := testRedisClaims(t, time.Minute)

	won, err := rc.Claim(ctx, "chunk_0_0", "w1")
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}
	won, err = rc.Claim(ctx, "chunk_0_0", "w2")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatal("second claimant must lose")
	}

	// Re-claiming by the holder is also a conflict.
	won, err = rc.Claim(ctx, "chunk_0_0", "w1")
	if err != nil || won {
		t.Fatalf("holder re-claim: won=%v err=%v", won, err)
	}

	owner, ok, err := rc.Owner(ctx, "chunk_0_0")
	if err != nil || !ok || owner != "w1" {
		t.Fatalf("owner = %q ok=%v err=%v", owner, ok, err)
	}
}

func TestRedisClaims_ReleaseAllowsReclaim(t *testing.T) {
	ctx := context.Background()
	rc, _ := testRedisClaims(t, time.Minute)

	if won, _ := rc.Claim(ctx, "chunk_0_0", "w1"); !won {
		t.Fatal("initial claim lost")
	}
	if err := rc.Release(ctx, "chunk_0_0"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := rc.Owner(ctx, "chunk_0_0"); ok {
		t.Fatal("released chunk should have no owner")
	}
	if won, _ := rc.Claim(ctx, "chunk_0_0", "w2"); !won {
		t.Fatal("released chunk must be claimable")
	}

	// Releasing an unclaimed chunk is a no-op.
	if err := rc.Release(ctx, "chunk_9_9"); err != nil {
		t.Fatalf("release unclaimed: %v", err)
	}
}

func TestRedisClaims_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	rc, srv := testRedisClaims(t, 30*time.Second)

	if won, _ := rc.Claim(ctx, "chunk_0_0", "w1"); !won {
		t.Fatal("initial claim lost")
	}
	srv.FastForward(time.Minute)

	if won, _ := rc.Claim(ctx, "chunk_0_0", "w2"); !won {
		t.Fatal("expired claim must be claimable")
	}
	owner, ok, err := rc.Owner(ctx, "chunk_0_0")
	if err != nil || !ok || owner != "w2" {
		t.Fatalf("owner after expiry = %q ok=%v err=%v", owner, ok, err)
	}
}

func TestNewRedisClaims_Validation(t *testing.T) {
	if _, err := NewRedisClaims(context.Background(), "", "p", time.Minute); err == nil {
		t.Fatal("empty address must be rejected")
	}
	// Nothing listens here; the constructor pings and must fail fast.
	if _, err := NewRedisClaims(context.Background(), "127.0.0.1:1", "p", time.Minute,
		WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatal("unreachable redis must fail the ping")
	}
}
