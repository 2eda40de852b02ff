// Package model holds the geographic value types shared across the module.
package model

import (
	"errors"
	"fmt"
)

// ErrInvalidBBox is returned when bounding box coordinates are out of range
// or inverted (min greater than max on either axis).
var ErrInvalidBBox = errors.New("invalid bounding box")

// BBox is an axis-aligned geographic rectangle in degrees.
// Immutable: construct via NewBBox, never mutate fields after validation.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

func NewBBox(minLat, minLng, maxLat, maxLng float64) (BBox, error) {
	if minLat < -90 || maxLat > 90 {
		return BBox{}, fmt.Errorf("%w: latitude must be in [-90,90]", ErrInvalidBBox)
	}
	if minLng < -180 || maxLng > 180 {
		return BBox{}, fmt.Errorf("%w: longitude must be in [-180,180]", ErrInvalidBBox)
	}
	if minLat > maxLat {
		return BBox{}, fmt.Errorf("%w: min_lat %.6f > max_lat %.6f", ErrInvalidBBox, minLat, maxLat)
	}
	if minLng > maxLng {
		return BBox{}, fmt.Errorf("%w: min_lng %.6f > max_lng %.6f", ErrInvalidBBox, minLng, maxLng)
	}
	return BBox{MinLat: minLat, MinLng: minLng, MaxLat: maxLat, MaxLng: maxLng}, nil
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
}

func (b BBox) LatRange() float64 { return b.MaxLat - b.MinLat }

func (b BBox) LngRange() float64 { return b.MaxLng - b.MinLng }

// Area is the rectangle area in square degrees.
func (b BBox) Area() float64 { return b.LatRange() * b.LngRange() }

// Center returns the midpoint as (lat, lng).
func (b BBox) Center() (float64, float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLng + b.MaxLng) / 2
}

// Intersects reports whether the rectangles share any area or edge.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat &&
		b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng
}
