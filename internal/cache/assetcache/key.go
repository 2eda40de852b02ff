package assetcache

import (
	"fmt"
	"strings"

	"github.com/geoforge/chunkplane/internal/model"
)

// Key derives the cache directory name for a bounding box. Coordinates are
// formatted to 6 decimal places (about 11 cm), so boxes that agree to that
// precision share an entry. That is the intended resolution limit of the
// cache, not a hash collision. '.' and '-' are replaced to keep the key
// safe as a path segment on every platform.
func Key(bbox model.BBox) string {
	raw := fmt.Sprintf("%.6f_%.6f_%.6f_%.6f",
		bbox.MinLat, bbox.MinLng, bbox.MaxLat, bbox.MaxLng)
	return strings.NewReplacer(".", "_", "-", "_").Replace(raw)
}
