package retrieve

import (
	"context"
	"fmt"
	"os"

	"github.com/geoforge/chunkplane/internal/cache/assetcache"
	"github.com/geoforge/chunkplane/internal/model"
)

// DownloadOnly fetches and caches the geodata for a region without any
// partitioning or dispatch. Requires a cache-enabled retriever.
func (r *Retriever) DownloadOnly(ctx context.Context, bbox model.BBox) (assetcache.Metadata, error) {
	if r.cache == nil {
		return assetcache.Metadata{}, fmt.Errorf("download-only requires a cache")
	}

	r.sink.Progress(1.0, "Downloading data...")
	payload, err := r.fetchRemote(ctx, bbox)
	if err != nil {
		return assetcache.Metadata{}, r.fatal(err)
	}
	if err := ValidatePayload(payload); err != nil {
		return assetcache.Metadata{}, r.fatal(err)
	}

	meta, err := r.cache.Save(bbox, payload, r.transport.Name())
	if err != nil {
		return assetcache.Metadata{}, err
	}

	r.logger.Info("download complete",
		"bbox", bbox.String(), "bytes", meta.DataSize, "cache", r.cache.Root())
	r.sink.Progress(100.0, "Download complete")
	return meta, nil
}

// LoadCached serves the process-only flow: the payload must already be
// cached, and an absent entry is an instruction to run the download flow,
// never a trigger to hit the network.
func (r *Retriever) LoadCached(bbox model.BBox) ([]byte, assetcache.Metadata, error) {
	if r.cache == nil {
		return nil, assetcache.Metadata{}, fmt.Errorf("process-only requires a cache")
	}

	r.sink.Progress(1.0, "Loading from cache...")
	if !r.cache.Has(bbox) {
		err := fmt.Errorf("%w for %s: run the download flow first",
			assetcache.ErrNotFound, bbox)
		return nil, assetcache.Metadata{}, r.fatal(err)
	}

	payload, err := r.cache.Load(bbox)
	if err != nil {
		return nil, assetcache.Metadata{}, err
	}
	meta, err := r.cache.GetMetadata(bbox)
	if err != nil {
		return nil, assetcache.Metadata{}, err
	}

	r.logger.Info("cache loaded",
		"downloaded_at", meta.Timestamp, "bytes", meta.DataSize)
	r.sink.Progress(5.0, "")
	return payload, meta, nil
}

// fatal routes a data-acquisition failure through the error sink. In a
// non-interactive context the process exits non-zero after reporting; an
// interactive caller gets the error back and decides what to do next.
func (r *Retriever) fatal(err error) error {
	r.sink.Error(err.Error())
	if !r.sink.Interactive() {
		r.logger.Error("fatal data acquisition failure", "err", err)
		os.Exit(1)
	}
	return err
}
