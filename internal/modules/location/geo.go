// Package location holds geographic helpers and the contractor work-zone index.
package location

import (
	"math"

	"drillflow/internal/types"
)

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func DistanceKm(a, b types.Point) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Box is a lat/lng rectangle that contains every point within a radius of its center.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox is a cheap superset filter for radius queries; callers still
// apply DistanceKm to the rows it lets through.
func BoundingBox(center types.Point, radiusKm float64) Box {
	dLat := radiansToDegrees(radiusKm / earthRadiusKm)
	b := Box{
		MinLat: math.Max(center.Lat-dLat, -90),
		MaxLat: math.Min(center.Lat+dLat, 90),
		MinLng: -180,
		MaxLng: 180,
	}
	cosLat := math.Cos(degreesToRadians(center.Lat))
	if cosLat > 1e-6 && b.MinLat > -90 && b.MaxLat < 90 {
		dLng := radiansToDegrees(radiusKm / (earthRadiusKm * cosLat))
		if dLng < 180 {
			b.MinLng = center.Lng - dLng
			b.MaxLng = center.Lng + dLng
		}
	}
	return b
}

// Contains ignores antimeridian wrap; the service area never crosses it.
func (b Box) Contains(p types.Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
