package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/geoforge/chunkplane/internal/cache/assetcache"
	"github.com/geoforge/chunkplane/internal/model"
)

type fakeTransport struct {
	calls     []string
	responses map[string][]byte
	failAll   bool
	failFirst int
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Fetch(_ context.Context, endpoint, _ string) ([]byte, error) {
	f.calls = append(f.calls, endpoint)
	if f.failAll {
		return nil, errors.New("down")
	}
	if f.failFirst > 0 {
		f.failFirst--
		return nil, errors.New("transient")
	}
	if body, ok := f.responses[endpoint]; ok {
		return body, nil
	}
	return []byte(`{"elements":[{}]}`), nil
}

func mustBBox(t *testing.T, minLat, minLng, maxLat, maxLng float64) model.BBox {
	t.Helper()
	bb, err := model.NewBBox(minLat, minLng, maxLat, maxLng)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	return bb
}

func newRetriever(t *testing.T, ft *fakeTransport, cache *assetcache.Cache) *Retriever {
	t.Helper()
	r, err := New(nil, ft, Options{
		Endpoints: []string{"http://primary"},
		Fallbacks: []string{"http://fallback"},
		Cache:     cache,
	})
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	r.pick = func(int) int { return 0 }
	return r
}

func TestFetch_NoCache(t *testing.T) {
	ft := &fakeTransport{}
	r := newRetriever(t, ft, nil)

	payload, err := r.Fetch(context.Background(), mustBBox(t, 40, -74, 41, -73))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("empty payload")
	}
	if len(ft.calls) != 1 || ft.calls[0] != "http://primary" {
		t.Fatalf("calls: %v", ft.calls)
	}
}

func TestFetch_SingleFallback(t *testing.T) {
	ft := &fakeTransport{failFirst: 1}
	r := newRetriever(t, ft, nil)

	_, err := r.Fetch(context.Background(), mustBBox(t, 40, -74, 41, -73))
	if err != nil {
		t.Fatalf("fetch with fallback: %v", err)
	}
	want := []string{"http://primary", "http://fallback"}
	if len(ft.calls) != 2 || ft.calls[0] != want[0] || ft.calls[1] != want[1] {
		t.Fatalf("calls: %v want %v", ft.calls, want)
	}
}

func TestFetch_BothFail(t *testing.T) {
	ft := &fakeTransport{failAll: true}
	r := newRetriever(t, ft, nil)

	_, err := r.Fetch(context.Background(), mustBBox(t, 40, -74, 41, -73))
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("want ErrNetwork, got %v", err)
	}
	// Exactly one fallback attempt, no further retries.
	if len(ft.calls) != 2 {
		t.Fatalf("want 2 attempts, got %d: %v", len(ft.calls), ft.calls)
	}
}

func TestFetch_WriteThroughThenReadThrough(t *testing.T) {
	cache, err := assetcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	ft := &fakeTransport{}
	r := newRetriever(t, ft, cache)
	bbox := mustBBox(t, 40, -74, 41, -73)

	first, err := r.Fetch(context.Background(), bbox)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if !cache.Has(bbox) {
		t.Fatal("miss should have filled the cache")
	}
	meta, err := cache.GetMetadata(bbox)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.DownloadMethod != "fake" {
		t.Fatalf("method: %q", meta.DownloadMethod)
	}

	second, err := r.Fetch(context.Background(), bbox)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if string(first) != string(second) {
		t.Fatal("cached payload differs")
	}
	// Second fetch is served from cache: still only one network call.
	if len(ft.calls) != 1 {
		t.Fatalf("network calls: %d", len(ft.calls))
	}
}

func TestDownloadOnly_RejectsEmptyPayload(t *testing.T) {
	cache, err := assetcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	ft := &fakeTransport{responses: map[string][]byte{
		"http://primary": []byte(`{"elements":[],"remark":"runtime error: out of memory"}`),
	}}
	r := newRetriever(t, ft, cache)
	bbox := mustBBox(t, 40, -74, 41, -73)

	// progress.Noop is interactive, so the failure comes back as a value.
	if _, err := r.DownloadOnly(context.Background(), bbox); err == nil {
		t.Fatal("expected validation failure")
	}
	if cache.Has(bbox) {
		t.Fatal("rejected payload must not be cached")
	}
}

func TestLoadCached_AbsentEntry(t *testing.T) {
	cache, err := assetcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	r := newRetriever(t, &fakeTransport{}, cache)

	_, _, err = r.LoadCached(mustBBox(t, 40, -74, 41, -73))
	if !errors.Is(err, assetcache.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	// Process-only never falls back to the network.
	if calls := r.transport.(*fakeTransport).calls; len(calls) != 0 {
		t.Fatalf("unexpected network calls: %v", calls)
	}
}

func TestLoadCached_RoundTrip(t *testing.T) {
	cache, err := assetcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	ft := &fakeTransport{}
	r := newRetriever(t, ft, cache)
	bbox := mustBBox(t, 40, -74, 41, -73)

	if _, err := r.DownloadOnly(context.Background(), bbox); err != nil {
		t.Fatalf("download: %v", err)
	}
	payload, meta, err := r.LoadCached(bbox)
	if err != nil {
		t.Fatalf("load cached: %v", err)
	}
	if len(payload) == 0 || meta.DataSize != int64(len(payload)) {
		t.Fatalf("payload/meta mismatch: %d bytes, meta %d", len(payload), meta.DataSize)
	}
}

func TestValidatePayload(t *testing.T) {
	cases := []struct {
		name string
		body string
		ok   bool
	}{
		{"has elements", `{"elements":[{"type":"node"}]}`, true},
		{"empty no remark", `{"elements":[]}`, false},
		{"oom remark", `{"elements":[],"remark":"runtime error: ... out of memory"}`, false},
		{"other remark", `{"elements":[],"remark":"timeout"}`, false},
		{"not json", `garbage`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePayload([]byte(tc.body))
			if tc.ok && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
