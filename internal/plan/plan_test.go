package plan

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/geoforge/chunkplane/internal/model"
	"github.com/geoforge/chunkplane/internal/work"
)

func mustBBox(t *testing.T, minLat, minLng, maxLat, maxLng float64) model.BBox {
	t.Helper()
	bb, err := model.NewBBox(minLat, minLng, maxLat, maxLng)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	return bb
}

func TestSplit_FourChunksRowMajor(t *testing.T) {
	region := mustBBox(t, 40.0, -74.0, 40.1, -73.9)
	cfg := Config{ChunkSizeDegrees: 0.05, OverlapDegrees: 0.001}

	units, err := Split(region, cfg, work.DefaultSettings())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(units) != 4 {
		t.Fatalf("want 4 chunks, got %d", len(units))
	}
	wantIDs := []string{"chunk_0_0", "chunk_0_1", "chunk_1_0", "chunk_1_1"}
	for i, id := range wantIDs {
		if units[i].ChunkID != id {
			t.Fatalf("unit %d: want %s got %s", i, id, units[i].ChunkID)
		}
	}
}

func TestSplit_CountIsCeilProduct(t *testing.T) {
	cases := []struct {
		latExt, lngExt, size float64
	}{
		{0.1, 0.1, 0.05},
		{0.1, 0.1, 0.03},
		{0.25, 0.1, 0.1},
		{0.01, 0.01, 0.01},
		{1.0, 0.5, 0.07},
	}
	for _, tc := range cases {
		name := fmt.Sprintf("%vx%v/%v", tc.latExt, tc.lngExt, tc.size)
		t.Run(name, func(t *testing.T) {
			region := mustBBox(t, 10.0, 20.0, 10.0+tc.latExt, 20.0+tc.lngExt)
			units, err := Split(region, Config{ChunkSizeDegrees: tc.size}, work.Settings{})
			if err != nil {
				t.Fatalf("split: %v", err)
			}
			want := int(math.Ceil(tc.latExt/tc.size)) * int(math.Ceil(tc.lngExt/tc.size))
			if len(units) != want {
				t.Fatalf("want %d chunks, got %d", want, len(units))
			}
		})
	}
}

func TestSplit_OverlapOnlyTowardMax(t *testing.T) {
	region := mustBBox(t, 40.0, -74.0, 40.1, -73.9)
	cfg := Config{ChunkSizeDegrees: 0.05, OverlapDegrees: 0.001}

	units, err := Split(region, cfg, work.Settings{})
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	// Low edges stay on the nominal grid.
	if units[0].BBox.MinLat != 40.0 || units[0].BBox.MinLng != -74.0 {
		t.Fatalf("chunk_0_0 low edge moved: %+v", units[0].BBox)
	}
	// Interior chunk extends past its nominal cell by the overlap.
	if got, want := units[0].BBox.MaxLat, 40.051; math.Abs(got-want) > 1e-9 {
		t.Fatalf("chunk_0_0 max_lat: got %v want %v", got, want)
	}
	// No chunk exceeds the region's maximum edge.
	for _, u := range units {
		if u.BBox.MaxLat > region.MaxLat || u.BBox.MaxLng > region.MaxLng {
			t.Fatalf("%s exceeds region max: %+v", u.ChunkID, u.BBox)
		}
	}
}

func TestSplit_CoverageTilesRegion(t *testing.T) {
	region := mustBBox(t, 40.0, -74.0, 40.1, -73.9)
	cfg := Config{ChunkSizeDegrees: 0.05}

	units, err := Split(region, cfg, work.Settings{})
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	// With zero overlap, nominal cells tile the region: each chunk's low
	// edge equals the previous chunk's nominal high edge along its row.
	for i, u := range units {
		row := i / 2
		col := i % 2
		wantMinLat := region.MinLat + float64(row)*cfg.ChunkSizeDegrees
		wantMinLng := region.MinLng + float64(col)*cfg.ChunkSizeDegrees
		if math.Abs(u.BBox.MinLat-wantMinLat) > 1e-9 || math.Abs(u.BBox.MinLng-wantMinLng) > 1e-9 {
			t.Fatalf("%s not on grid: %+v", u.ChunkID, u.BBox)
		}
	}
	last := units[len(units)-1]
	if last.BBox.MaxLat != region.MaxLat || last.BBox.MaxLng != region.MaxLng {
		t.Fatalf("grid does not reach region max: %+v", last.BBox)
	}
}

func TestSplit_InvalidChunkSize(t *testing.T) {
	region := mustBBox(t, 40.0, -74.0, 40.1, -73.9)
	for _, size := range []float64{0, -0.01} {
		units, err := Split(region, Config{ChunkSizeDegrees: size}, work.Settings{})
		if !errors.Is(err, ErrInvalidChunkSize) {
			t.Fatalf("size %v: want ErrInvalidChunkSize, got %v", size, err)
		}
		if len(units) != 0 {
			t.Fatalf("size %v: want zero chunks, got %d", size, len(units))
		}
	}
}

func TestSplit_NegativeOverlap(t *testing.T) {
	region := mustBBox(t, 40.0, -74.0, 40.1, -73.9)
	if _, err := Split(region, Config{ChunkSizeDegrees: 0.05, OverlapDegrees: -1}, work.Settings{}); !errors.Is(err, ErrInvalidOverlap) {
		t.Fatalf("want ErrInvalidOverlap, got %v", err)
	}
}

func TestEstimateChunkTime_Multipliers(t *testing.T) {
	bb := mustBBox(t, 40.0, -74.0, 40.01, -73.99)
	base := EstimateChunkTime(work.Unit{BBox: bb})
	if math.Abs(base-60.0) > 1e-6 {
		t.Fatalf("reference cell should estimate 60s, got %v", base)
	}

	terrain := EstimateChunkTime(work.Unit{BBox: bb, Settings: work.Settings{Terrain: true}})
	if math.Abs(terrain-90.0) > 1e-6 {
		t.Fatalf("terrain multiplier: got %v", terrain)
	}

	both := EstimateChunkTime(work.Unit{BBox: bb, Settings: work.Settings{Terrain: true, Interior: true}})
	if math.Abs(both-108.0) > 1e-6 {
		t.Fatalf("composed multipliers: got %v", both)
	}
}

func TestAggregate(t *testing.T) {
	region := mustBBox(t, 40.0, -74.0, 40.02, -73.98)
	units, err := Split(region, DefaultConfig(), work.Settings{})
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	stats := Aggregate(units)
	if stats.TotalChunks != len(units) {
		t.Fatalf("total: got %d want %d", stats.TotalChunks, len(units))
	}
	if stats.EstimatedTotalTime <= 0 || stats.EstimatedTimePerChunk <= 0 {
		t.Fatalf("estimates must be positive: %+v", stats)
	}

	empty := Aggregate(nil)
	if empty.TotalChunks != 0 || empty.EstimatedTimePerChunk != 0 {
		t.Fatalf("empty aggregate: %+v", empty)
	}
}

func TestGroupByLocality_AdjacentChunksShareCell(t *testing.T) {
	region := mustBBox(t, 40.0, -74.0, 40.02, -73.98)
	units, err := Split(region, Config{ChunkSizeDegrees: 0.01}, work.Settings{})
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	groups := GroupByLocality(units, DefaultLocalityRes)
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	if total != len(units) {
		t.Fatalf("grouping lost units: %d != %d", total, len(units))
	}
	// At a coarse resolution a 0.02 degree region lands in very few cells.
	if len(groups) > 2 {
		t.Fatalf("expected tight locality grouping, got %d cells", len(groups))
	}
}
