package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linesmerrill/bloodbond-api/models"
)

var (
	cairo      = models.Location{Latitude: 30.0444, Longitude: 31.2357}
	alexandria = models.Location{Latitude: 31.2001, Longitude: 29.9187}
	giza       = models.Location{Latitude: 30.0131, Longitude: 31.2089}
)

func TestDistanceKmSamePointIsZero(t *testing.T) {
	for _, loc := range []models.Location{cairo, alexandria, {Latitude: -89.9, Longitude: 179.9}} {
		assert.Equal(t, 0.0, DistanceKm(loc, loc))
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	pairs := [][2]models.Location{
		{cairo, alexandria},
		{cairo, giza},
		{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 180}},
	}
	for _, p := range pairs {
		assert.InDelta(t, DistanceKm(p[0], p[1]), DistanceKm(p[1], p[0]), 1e-9)
	}
}

func TestDistanceKmCairoAlexandria(t *testing.T) {
	d := DistanceKm(cairo, alexandria)
	assert.InDelta(t, 180, d, 5)
}

func TestDistanceKmAntipodal(t *testing.T) {
	d := DistanceKm(models.Location{Latitude: 0, Longitude: 0}, models.Location{Latitude: 0, Longitude: 180})
	assert.InDelta(t, math.Pi*earthRadiusKm, d, 1e-6)
}

func TestIsWithinRadius(t *testing.T) {
	assert.True(t, IsWithinRadius(cairo, cairo, 10))
	assert.True(t, IsWithinRadius(cairo, giza, 10))
	assert.False(t, IsWithinRadius(cairo, alexandria, 10))
	assert.True(t, IsWithinRadius(cairo, cairo, 0))
}

func TestIsWithinRadiusMonotonic(t *testing.T) {
	d := DistanceKm(cairo, alexandria)
	for _, r := range []float64{d, d + 0.001, d + 1, d * 2, 1e6} {
		assert.True(t, IsWithinRadius(cairo, alexandria, r), "radius %v", r)
	}
	assert.False(t, IsWithinRadius(cairo, alexandria, d-1))
}

func TestIsWithinRadiusInvalidInput(t *testing.T) {
	nan := models.Location{Latitude: math.NaN(), Longitude: 31}
	inf := models.Location{Latitude: 30, Longitude: math.Inf(1)}
	outOfRange := models.Location{Latitude: 91, Longitude: 0}

	assert.False(t, IsWithinRadius(nan, cairo, 1e9))
	assert.False(t, IsWithinRadius(cairo, inf, 1e9))
	assert.False(t, IsWithinRadius(outOfRange, cairo, 1e9))
	assert.False(t, IsWithinRadius(cairo, cairo, math.NaN()))
	assert.False(t, IsWithinRadius(cairo, cairo, -1))
	assert.True(t, IsWithinRadius(cairo, cairo, math.Inf(1)))
}
