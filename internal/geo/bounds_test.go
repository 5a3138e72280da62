package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBoundsEurope(t *testing.T) {
	b, err := ParseBounds(EuropeWKT)
	require.NoError(t, err)

	assert.Equal(t, 35.97, b.South())
	assert.Equal(t, -10.61, b.West())
	assert.Equal(t, 71.16, b.North())
	assert.Equal(t, 44.85, b.East())
	assert.Equal(t, [2][2]float64{{35.97, -10.61}, {71.16, 44.85}}, b.Pairs())
}

func TestParseBoundsIrregularPolygon(t *testing.T) {
	b, err := ParseBounds("POLYGON((2 48, 3.5 49.2, 2.4 50, 1.1 48.7, 2 48))")
	require.NoError(t, err)
	assert.Equal(t, Bounds{
		SouthWest: LatLon{Lat: 48, Lon: 1.1},
		NorthEast: LatLon{Lat: 50, Lon: 3.5},
	}, b)
}

func TestParseBoundsPointIsDegenerate(t *testing.T) {
	b, err := ParseBounds("POINT(4.35 50.85)")
	require.NoError(t, err)
	assert.Equal(t, b.SouthWest, b.NorthEast)
	assert.Equal(t, LatLon{Lat: 50.85, Lon: 4.35}, b.SouthWest)
}

func TestParseBoundsErrors(t *testing.T) {
	_, err := ParseBounds("")
	assert.True(t, errors.Is(err, ErrEmptyGeometry))

	_, err = ParseBounds("POLYGON EMPTY")
	assert.True(t, errors.Is(err, ErrEmptyGeometry))

	_, err = ParseBounds("POLYGON((0 0, 1")
	assert.Error(t, err)
}

func TestCentroidEurope(t *testing.T) {
	g, err := Parse(EuropeWKT)
	require.NoError(t, err)
	c, err := Centroid(g)
	require.NoError(t, err)
	assert.InDelta(t, (71.16+35.97)/2, c.Lat, 1e-6)
	assert.InDelta(t, (44.85-10.61)/2, c.Lon, 1e-6)
}

func TestCentroidCollapsedPolygon(t *testing.T) {
	tests := []struct {
		name string
		wkt  string
	}{
		{name: "single point ring", wkt: "POLYGON((5 5, 5 5, 5 5, 5 5))"},
		{name: "collinear ring", wkt: "POLYGON((0 0, 1 1, 2 2, 0 0))"},
		{name: "flat ring", wkt: "POLYGON((3 7, 9 7, 3 7, 3 7))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Parse(tt.wkt)
			require.NoError(t, err)
			b, err := ProjectBounds(g)
			require.NoError(t, err)
			c, err := Centroid(g)
			require.NoError(t, err)

			for _, v := range []float64{c.Lat, c.Lon} {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "centroid %v", c)
			}
			assert.GreaterOrEqual(t, c.Lat, b.South())
			assert.LessOrEqual(t, c.Lat, b.North())
			assert.GreaterOrEqual(t, c.Lon, b.West())
			assert.LessOrEqual(t, c.Lon, b.East())
		})
	}
}

func TestCentroidSinglePointRingIsThatPoint(t *testing.T) {
	g, err := Parse("POLYGON((5 5, 5 5, 5 5, 5 5))")
	require.NoError(t, err)
	c, err := Centroid(g)
	require.NoError(t, err)
	assert.Equal(t, LatLon{Lat: 5, Lon: 5}, c)
}
