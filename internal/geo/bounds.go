// Package geo places product geometries on a latitude/longitude map.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/twpayne/go-geom/xy"
)

// EuropeWKT is the default query footprint.
const EuropeWKT = "POLYGON((-10.61 71.16, 44.85 71.16, 44.85 35.97, -10.61 35.97, -10.61 71.16))"

var ErrEmptyGeometry = errors.New("empty geometry")

// LatLon is a map coordinate in latitude-first order.
type LatLon struct {
	Lat float64 `json:"lat" cbor:"lat"`
	Lon float64 `json:"lon" cbor:"lon"`
}

// Bounds is the rectangle an overlay is stretched over.
type Bounds struct {
	SouthWest LatLon `json:"south_west" cbor:"south_west"`
	NorthEast LatLon `json:"north_east" cbor:"north_east"`
}

func (b Bounds) South() float64 { return b.SouthWest.Lat }
func (b Bounds) West() float64  { return b.SouthWest.Lon }
func (b Bounds) North() float64 { return b.NorthEast.Lat }
func (b Bounds) East() float64  { return b.NorthEast.Lon }

// Pairs returns [[south, west], [north, east]], the shape map overlays take.
func (b Bounds) Pairs() [2][2]float64 {
	return [2][2]float64{
		{b.SouthWest.Lat, b.SouthWest.Lon},
		{b.NorthEast.Lat, b.NorthEast.Lon},
	}
}

// Parse reads a WKT geometry in longitude/latitude order.
func Parse(text string) (geom.T, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyGeometry
	}
	g, err := wkt.Unmarshal(text)
	if err != nil {
		return nil, fmt.Errorf("parse wkt: %w", err)
	}
	return g, nil
}

// ProjectBounds swaps the (lon, lat) bounding box of g into latitude-first
// south-west and north-east corners. A point gives a zero-area rectangle.
func ProjectBounds(g geom.T) (Bounds, error) {
	if g == nil {
		return Bounds{}, ErrEmptyGeometry
	}
	box := g.Bounds()
	if box == nil || box.IsEmpty() {
		return Bounds{}, ErrEmptyGeometry
	}
	return Bounds{
		SouthWest: LatLon{Lat: box.Min(1), Lon: box.Min(0)},
		NorthEast: LatLon{Lat: box.Max(1), Lon: box.Max(0)},
	}, nil
}

func ParseBounds(text string) (Bounds, error) {
	g, err := Parse(text)
	if err != nil {
		return Bounds{}, err
	}
	return ProjectBounds(g)
}

// Centroid is where a product marker goes. Geometries with no area or
// length collapse to the centre of their bounding box.
func Centroid(g geom.T) (LatLon, error) {
	if g == nil || g.Bounds().IsEmpty() {
		return LatLon{}, ErrEmptyGeometry
	}
	box := g.Bounds()
	centre := LatLon{
		Lat: (box.Min(1) + box.Max(1)) / 2,
		Lon: (box.Min(0) + box.Max(0)) / 2,
	}
	c, err := xy.Centroid(g)
	if err != nil || !finite(c.Y()) || !finite(c.X()) {
		return centre, nil
	}
	return LatLon{Lat: c.Y(), Lon: c.X()}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
