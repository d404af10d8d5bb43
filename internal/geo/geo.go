package geo

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the mean earth radius of the spherical approximation.
const EarthRadiusMeters = 6371000.0

var ErrInvalidCoordinate = errors.New("coordinate out of range")

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return ErrInvalidCoordinate
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// Distance returns the great-circle distance in meters between two points,
// computed with the haversine formula on a spherical earth.
func Distance(a, b LatLng) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// IsInside reports whether p lies within radiusMeters (+bufferMeters) of
// center. Coordinates must have been validated by the caller.
func IsInside(p, center LatLng, radiusMeters, bufferMeters float64) bool {
	return Distance(p, center) <= radiusMeters+bufferMeters
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
