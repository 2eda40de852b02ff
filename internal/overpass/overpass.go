// Package overpass builds Overpass API queries for a bounding box and
// knows the public endpoint pools.
package overpass

import (
	"fmt"

	"github.com/geoforge/chunkplane/internal/model"
)

// DefaultEndpoints is the primary Overpass server pool.
var DefaultEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"https://lz4.overpass-api.de/api/interpreter",
	"https://z.overpass-api.de/api/interpreter",
}

// FallbackEndpoints is the secondary pool used for the single retry.
var FallbackEndpoints = []string{
	"https://maps.mail.ru/osm/tools/overpass/api/interpreter",
}

// queryTemplate selects every element class the generator consumes:
// tagged nodes/ways/relations in the box, their member ways, and the
// nodes of those ways.
const queryTemplate = `[out:json][timeout:360][bbox:%s,%s,%s,%s];
(
    nwr["building"];
    nwr["highway"];
    nwr["landuse"];
    nwr["natural"];
    nwr["leisure"];
    nwr["water"];
    nwr["waterway"];
    nwr["amenity"];
    nwr["tourism"];
    nwr["bridge"];
    nwr["railway"];
    nwr["barrier"];
    nwr["entrance"];
    nwr["door"];
    way;
)->.relsinbbox;
(
    way(r.relsinbbox);
)->.waysinbbox;
(
    node(w.waysinbbox);
    node(w.relsinbbox);
)->.nodesinbbox;
.relsinbbox out body;
.waysinbbox out body;
.nodesinbbox out skel qt;`

// Query renders the Overpass query for a bounding box.
func Query(bbox model.BBox) string {
	return fmt.Sprintf(queryTemplate,
		coord(bbox.MinLat), coord(bbox.MinLng),
		coord(bbox.MaxLat), coord(bbox.MaxLng))
}

func coord(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
