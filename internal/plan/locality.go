package plan

import (
	h3 "github.com/uber/h3-go/v4"

	"github.com/geoforge/chunkplane/internal/work"
)

// DefaultLocalityRes resolves to cells of roughly a few kilometers, a bit
// coarser than the default chunk size, so several adjacent chunks share a
// cell.
const DefaultLocalityRes = 6

// LocalityCell maps a unit's center to an H3 cell. Units sharing a cell are
// geographically adjacent; the coordinator uses this to hand neighboring
// chunks to the same worker so cached geodata stays warm. Advisory only.
func LocalityCell(u work.Unit, res int) (h3.Cell, error) {
	lat, lng := u.BBox.Center()
	return h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
}

// GroupByLocality buckets units by H3 cell, preserving row-major order
// inside each bucket. Units whose center cannot be mapped fall into the
// zero-cell bucket rather than being dropped.
func GroupByLocality(units []work.Unit, res int) map[h3.Cell][]work.Unit {
	out := make(map[h3.Cell][]work.Unit)
	for _, u := range units {
		cell, err := LocalityCell(u, res)
		if err != nil {
			cell = 0
		}
		out[cell] = append(out[cell], u)
	}
	return out
}
