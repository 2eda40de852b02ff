// Package invalidation defines the geodata-change event that expires
// cached assets. Upstream map data changes out of band; publishers emit
// one event per changed region and every node holding a cache drops the
// entries it covers.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/geoforge/chunkplane/internal/model"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	TS      time.Time `json:"ts"`
	// Region is the area whose geodata changed. Any cached asset whose
	// bbox intersects it is stale.
	Region model.BBox `json:"region"`
	Source string     `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	// Region passes through JSON unvalidated; re-check the bounds here.
	if _, err := model.NewBBox(e.Region.MinLat, e.Region.MinLng, e.Region.MaxLat, e.Region.MaxLng); err != nil {
		return fmt.Errorf("region: %w", err)
	}
	if strings.TrimSpace(e.Source) != e.Source {
		return fmt.Errorf("source must not have surrounding whitespace")
	}
	return nil
}
