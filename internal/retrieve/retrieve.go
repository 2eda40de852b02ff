// Package retrieve fetches raw geodata for a bounding box, with a single
// fallback retry and a read-through/write-through asset cache in front of
// the network.
package retrieve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geoforge/chunkplane/internal/cache/assetcache"
	"github.com/geoforge/chunkplane/internal/model"
	"github.com/geoforge/chunkplane/internal/observability"
	"github.com/geoforge/chunkplane/internal/overpass"
	"github.com/geoforge/chunkplane/internal/progress"
)

// ErrNetwork is returned after both the chosen endpoint and the single
// fallback attempt have failed.
var ErrNetwork = errors.New("geodata fetch failed")

// defaultHotEntries bounds the in-process LRU in front of the file cache.
// Chunk payloads run tens of megabytes, so this stays small.
const defaultHotEntries = 8

type Options struct {
	// Endpoints is the primary server pool; one is chosen at random per
	// fetch. Defaults to the public Overpass pool.
	Endpoints []string

	// Fallbacks is the secondary pool for the single retry.
	Fallbacks []string

	// Cache enables read-through/write-through caching when non-nil.
	Cache *assetcache.Cache

	// HotEntries overrides the in-memory LRU capacity.
	HotEntries int

	// Sink receives progress milestones; nil means progress.Noop.
	Sink progress.Sink
}

type Retriever struct {
	logger    *slog.Logger
	transport Transport
	endpoints []string
	fallbacks []string
	cache     *assetcache.Cache
	hot       *lru.Cache[string, []byte]
	sink      progress.Sink
	pick      func(n int) int // for tests
}

func New(logger *slog.Logger, transport Transport, opts Options) (*Retriever, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	endpoints := opts.Endpoints
	if len(endpoints) == 0 {
		endpoints = overpass.DefaultEndpoints
	}
	fallbacks := opts.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = overpass.FallbackEndpoints
	}
	sink := opts.Sink
	if sink == nil {
		sink = progress.Noop{}
	}

	var hot *lru.Cache[string, []byte]
	if opts.Cache != nil {
		n := opts.HotEntries
		if n <= 0 {
			n = defaultHotEntries
		}
		var err error
		hot, err = lru.New[string, []byte](n)
		if err != nil {
			return nil, fmt.Errorf("hot cache: %w", err)
		}
	}

	return &Retriever{
		logger:    logger,
		transport: transport,
		endpoints: endpoints,
		fallbacks: fallbacks,
		cache:     opts.Cache,
		hot:       hot,
		sink:      sink,
		pick:      rand.Intn,
	}, nil
}

// Fetch returns the geodata payload for bbox. With caching enabled a hit
// serves the integrity-checked cached bytes without touching the network;
// a miss downloads, caches, then returns.
func (r *Retriever) Fetch(ctx context.Context, bbox model.BBox) ([]byte, error) {
	if r.cache == nil {
		r.sink.Progress(1.0, "Fetching data...")
		payload, err := r.fetchRemote(ctx, bbox)
		if err != nil {
			return nil, err
		}
		r.sink.Progress(5.0, "")
		return payload, nil
	}

	key := assetcache.Key(bbox)
	if payload, ok := r.hot.Get(key); ok {
		return payload, nil
	}

	if r.cache.Has(bbox) {
		r.sink.Progress(1.0, "Loading data from cache...")
		payload, err := r.cache.Load(bbox)
		if err != nil {
			// A corrupt entry is not a miss: surface it rather than
			// silently re-downloading over evidence of a fault.
			return nil, err
		}
		r.hot.Add(key, payload)
		r.logger.Debug("cache hit", "bbox", bbox.String(), "bytes", len(payload))
		r.sink.Progress(5.0, "")
		return payload, nil
	}

	r.sink.Progress(1.0, "Cache miss. Downloading data...")
	payload, err := r.fetchRemote(ctx, bbox)
	if err != nil {
		return nil, err
	}
	if _, err := r.cache.Save(bbox, payload, r.transport.Name()); err != nil {
		return nil, fmt.Errorf("cache fill: %w", err)
	}
	r.hot.Add(key, payload)
	r.sink.Progress(5.0, "")
	return payload, nil
}

// fetchRemote tries one randomly chosen primary endpoint, then exactly one
// randomly chosen fallback. No exponential backoff: a stuck upstream
// should fail fast so the caller can decide.
func (r *Retriever) fetchRemote(ctx context.Context, bbox model.BBox) ([]byte, error) {
	query := overpass.Query(bbox)

	endpoint := r.endpoints[r.pick(len(r.endpoints))]
	r.logger.Debug("downloading", "endpoint", endpoint, "method", r.transport.Name())

	start := time.Now()
	payload, err := r.transport.Fetch(ctx, endpoint, query)
	observability.ObserveFetch(r.transport.Name(), err, time.Since(start).Seconds())
	if err == nil {
		return payload, nil
	}

	fallback := r.fallbacks[r.pick(len(r.fallbacks))]
	r.logger.Warn("fetch failed, trying fallback",
		"endpoint", endpoint, "fallback", fallback, "err", err)

	start = time.Now()
	payload, ferr := r.transport.Fetch(ctx, fallback, query)
	observability.ObserveFetch(r.transport.Name(), ferr, time.Since(start).Seconds())
	if ferr == nil {
		return payload, nil
	}
	return nil, fmt.Errorf("%w: %s: %v; fallback %s: %v", ErrNetwork, endpoint, err, fallback, ferr)
}

// ValidatePayload rejects responses that parse but carry no elements,
// surfacing the server's remark when one is present.
func ValidatePayload(payload []byte) error {
	var doc struct {
		Elements []json.RawMessage `json:"elements"`
		Remark   string            `json:"remark"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("parse geodata: %w", err)
	}
	if len(doc.Elements) > 0 {
		return nil
	}
	if doc.Remark != "" {
		if strings.Contains(doc.Remark, "runtime error") && strings.Contains(doc.Remark, "out of memory") {
			return errors.New("query ran out of memory on the server; try a smaller area")
		}
		return fmt.Errorf("server returned: %s", doc.Remark)
	}
	return errors.New("server returned no data")
}
