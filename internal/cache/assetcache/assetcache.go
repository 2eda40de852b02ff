// Package assetcache persists fetched geodata on disk, keyed by a quantized
// bounding box, with integrity verification on every read.
//
// On-disk layout: <root>/<key>/payload holds the raw bytes and
// <root>/<key>/metadata holds the JSON sidecar record describing them.
package assetcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/geoforge/chunkplane/internal/model"
	"github.com/geoforge/chunkplane/internal/observability"
)

var (
	// ErrNotFound is returned when no cache entry exists for a bounding box.
	ErrNotFound = errors.New("cache entry not found")

	// ErrIntegrity is returned when the stored payload does not match its
	// recorded checksum. The corrupted payload is never returned.
	ErrIntegrity = errors.New("cache integrity check failed")
)

const (
	payloadFile  = "payload"
	metadataFile = "metadata"
)

// Metadata is the sidecar record written next to each cached payload.
type Metadata struct {
	BBox           model.BBox `json:"bbox"`
	Timestamp      int64      `json:"timestamp"`
	DataFile       string     `json:"data_file"`
	Checksum       string     `json:"checksum"`
	DataSize       int64      `json:"data_size"`
	DownloadMethod string     `json:"download_method"`
}

// Cache is a file-backed asset cache. Operations on distinct keys are
// independent; operations on the same key serialize on a per-key lock.
type Cache struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time // for tests
}

// New creates the cache root directory if needed.
func New(root string) (*Cache, error) {
	if root == "" {
		return nil, errors.New("cache root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Cache{
		root:  root,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}, nil
}

// DefaultDir resolves the platform cache location, falling back to a dot
// directory under the working directory when the OS gives us nothing.
func DefaultDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "chunkplane")
	}
	return ".chunkplane_cache"
}

// Root returns the cache base directory.
func (c *Cache) Root() string { return c.root }

// keyLock returns the mutex guarding one cache key.
func (c *Cache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// checksum is an integrity digest, not a security control: it catches
// corruption and partial writes, not tampering.
func checksum(payload []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}

// Save writes the payload and its metadata sidecar under the derived key,
// replacing any previous entry for the same box.
func (c *Cache) Save(bbox model.BBox, payload []byte, method string) (Metadata, error) {
	key := Key(bbox)
	l := c.keyLock(key)
	l.Lock()
	defer l.Unlock()

	dir := filepath.Join(c.root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		observability.ObserveCacheOp("save", err)
		return Metadata{}, fmt.Errorf("create cache entry dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, payloadFile), payload, 0o644); err != nil {
		observability.ObserveCacheOp("save", err)
		return Metadata{}, fmt.Errorf("write payload: %w", err)
	}

	meta := Metadata{
		BBox:           bbox,
		Timestamp:      c.now().Unix(),
		DataFile:       payloadFile,
		Checksum:       checksum(payload),
		DataSize:       int64(len(payload)),
		DownloadMethod: method,
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		observability.ObserveCacheOp("save", err)
		return Metadata{}, fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), raw, 0o644); err != nil {
		observability.ObserveCacheOp("save", err)
		return Metadata{}, fmt.Errorf("write metadata: %w", err)
	}

	observability.ObserveCacheOp("save", nil)
	return meta, nil
}

// Load returns the cached payload after recomputing and verifying its
// checksum against the sidecar record.
func (c *Cache) Load(bbox model.BBox) ([]byte, error) {
	key := Key(bbox)
	l := c.keyLock(key)
	l.Lock()
	defer l.Unlock()

	dir := filepath.Join(c.root, key)
	payload, err := os.ReadFile(filepath.Join(dir, payloadFile))
	if err != nil {
		if os.IsNotExist(err) {
			observability.ObserveCacheOp("load_miss", nil)
			return nil, fmt.Errorf("%w: no payload for %s", ErrNotFound, bbox)
		}
		observability.ObserveCacheOp("load", err)
		return nil, fmt.Errorf("read payload: %w", err)
	}

	meta, err := c.readMetadata(filepath.Join(dir, metadataFile))
	if err != nil {
		observability.ObserveCacheOp("load", err)
		return nil, err
	}

	if got := checksum(payload); got != meta.Checksum {
		observability.ObserveCacheOp("load_corrupt", nil)
		return nil, fmt.Errorf("%w: checksum %s != recorded %s", ErrIntegrity, got, meta.Checksum)
	}

	observability.ObserveCacheOp("load_hit", nil)
	return payload, nil
}

// Has reports whether both the payload and metadata files exist for the box.
func (c *Cache) Has(bbox model.BBox) bool {
	dir := filepath.Join(c.root, Key(bbox))
	if _, err := os.Stat(filepath.Join(dir, payloadFile)); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err != nil {
		return false
	}
	return true
}

// GetMetadata returns the sidecar record for the box.
func (c *Cache) GetMetadata(bbox model.BBox) (Metadata, error) {
	key := Key(bbox)
	l := c.keyLock(key)
	l.Lock()
	defer l.Unlock()

	return c.readMetadata(filepath.Join(c.root, key, metadataFile))
}

// List scans every entry. Entries whose metadata fails to parse are skipped
// rather than aborting the listing; a cache with one corrupt sidecar is
// still mostly usable.
func (c *Cache) List() ([]Metadata, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan cache root: %w", err)
	}

	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := c.readMetadata(filepath.Join(c.root, e.Name(), metadataFile))
		if err != nil {
			observability.ObserveCacheOp("list_skip", nil)
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// Clear removes the entry for one bounding box. Removing an absent entry
// is not an error.
func (c *Cache) Clear(bbox model.BBox) error {
	key := Key(bbox)
	l := c.keyLock(key)
	l.Lock()
	defer l.Unlock()

	if err := os.RemoveAll(filepath.Join(c.root, key)); err != nil {
		return fmt.Errorf("clear cache entry: %w", err)
	}
	observability.ObserveCacheOp("clear", nil)
	return nil
}

// ClearAll removes every entry and recreates the empty root.
func (c *Cache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.root); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("recreate cache root: %w", err)
	}
	c.locks = make(map[string]*sync.Mutex)
	observability.ObserveCacheOp("clear_all", nil)
	return nil
}

// Size returns the recursive byte total over all cached entries.
func (c *Cache) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(c.root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("walk cache: %w", err)
	}
	return total, nil
}

func (c *Cache) readMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, fmt.Errorf("%w: no metadata at %s", ErrNotFound, path)
		}
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}
