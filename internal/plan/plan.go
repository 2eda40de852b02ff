// Package plan splits a geographic region into independently processable
// work units on a deterministic grid.
package plan

import (
	"errors"
	"fmt"
	"math"

	"github.com/geoforge/chunkplane/internal/model"
	"github.com/geoforge/chunkplane/internal/work"
)

var (
	// ErrInvalidChunkSize is returned for a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap is returned for a negative overlap.
	ErrInvalidOverlap = errors.New("overlap must be non-negative")
)

// Config controls the partition grid.
type Config struct {
	// ChunkSizeDegrees is the nominal grid cell size along both axes.
	ChunkSizeDegrees float64

	// OverlapDegrees is extra extent added toward the region's maximum
	// edge only, giving downstream processing context across seams.
	OverlapDegrees float64
}

// DefaultConfig gives ~1km chunks at mid-latitudes with ~100m of overlap.
func DefaultConfig() Config {
	return Config{ChunkSizeDegrees: 0.01, OverlapDegrees: 0.001}
}

// Split partitions region into row-major grid chunks. Chunk IDs are
// "chunk_{row}_{col}" and depend only on grid position, so repeated runs
// of the same region and config name the same chunks. Output length is
// exactly ceil(latRange/size) * ceil(lngRange/size).
func Split(region model.BBox, cfg Config, settings work.Settings) ([]work.Unit, error) {
	if cfg.ChunkSizeDegrees <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidChunkSize, cfg.ChunkSizeDegrees)
	}
	if cfg.OverlapDegrees < 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidOverlap, cfg.OverlapDegrees)
	}

	latCount := int(math.Ceil(region.LatRange() / cfg.ChunkSizeDegrees))
	lngCount := int(math.Ceil(region.LngRange() / cfg.ChunkSizeDegrees))

	units := make([]work.Unit, 0, latCount*lngCount)
	for i := 0; i < latCount; i++ {
		for j := 0; j < lngCount; j++ {
			minLat := region.MinLat + float64(i)*cfg.ChunkSizeDegrees
			minLng := region.MinLng + float64(j)*cfg.ChunkSizeDegrees

			// Overlap extends toward the region maximum only; the low
			// edge of a chunk stays on the nominal grid line.
			maxLat := math.Min(minLat+cfg.ChunkSizeDegrees+cfg.OverlapDegrees, region.MaxLat)
			maxLng := math.Min(minLng+cfg.ChunkSizeDegrees+cfg.OverlapDegrees, region.MaxLng)

			bb, err := model.NewBBox(minLat, minLng, maxLat, maxLng)
			if err != nil {
				return nil, fmt.Errorf("chunk (%d,%d): %w", i, j, err)
			}
			units = append(units, work.Unit{
				ChunkID:  fmt.Sprintf("chunk_%d_%d", i, j),
				BBox:     bb,
				Settings: settings,
			})
		}
	}
	return units, nil
}

// referenceChunkArea is 0.01 deg x 0.01 deg, the cell the base estimate
// of 60 seconds is calibrated against.
const (
	referenceChunkArea  = 0.01 * 0.01
	referenceChunkSecs  = 60.0
	terrainMultiplier   = 1.5
	interiorsMultiplier = 1.2
)

// EstimateChunkTime is a scheduling heuristic in seconds. It never affects
// correctness, only assignment ordering and progress estimates.
func EstimateChunkTime(u work.Unit) float64 {
	secs := u.BBox.Area() / referenceChunkArea * referenceChunkSecs
	if u.Settings.Terrain {
		secs *= terrainMultiplier
	}
	if u.Settings.Interior {
		secs *= interiorsMultiplier
	}
	return secs
}

// Stats summarizes a set of planned units.
type Stats struct {
	TotalChunks           int     `json:"total_chunks"`
	EstimatedTotalTime    float64 `json:"estimated_total_time"`
	EstimatedTimePerChunk float64 `json:"estimated_time_per_chunk"`
}

func Aggregate(units []work.Unit) Stats {
	s := Stats{TotalChunks: len(units)}
	for _, u := range units {
		s.EstimatedTotalTime += EstimateChunkTime(u)
	}
	if s.TotalChunks > 0 {
		s.EstimatedTimePerChunk = s.EstimatedTotalTime / float64(s.TotalChunks)
	}
	return s
}
