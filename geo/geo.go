// Package geo has the distance helpers used for proximity matching.
package geo

import (
	"math"

	"github.com/linesmerrill/bloodbond-api/models"
)

const earthRadiusKm = 6371.0

// Valid reports whether loc holds finite, in-range coordinates
func Valid(loc models.Location) bool {
	lat, lng := loc.Latitude, loc.Longitude
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// DistanceKm returns the great-circle distance between a and b using the haversine formula
func DistanceKm(a, b models.Location) float64 {
	if a == b {
		return 0
	}
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// IsWithinRadius reports whether b lies within radiusKm of a. Invalid coordinates or a
// negative radius are never nearby.
func IsWithinRadius(a, b models.Location, radiusKm float64) bool {
	if !Valid(a) || !Valid(b) || math.IsNaN(radiusKm) || radiusKm < 0 {
		return false
	}
	return DistanceKm(a, b) <= radiusKm
}
