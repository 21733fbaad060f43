// Package geo evaluates claimed locations against classroom geofences.
//
// Coordinates are trusted client input: the engine takes GPS readings at
// face value and makes no attempt at attestation.
package geo

import "math"

// mean Earth radius in meters
const earthRadius = 6371000.0

type Point struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// Distance returns the great-circle distance between a and b in meters,
// using the haversine formula.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}

// Fence is a circular radius around a fixed classroom coordinate.
type Fence struct {
	Center Point   `json:"center"`
	Radius float64 `json:"radius" validate:"omitempty,gt=0"` // meters
}

// Evaluate returns the distance from the fence center to p and whether p
// falls within the fence. A point exactly on the boundary passes.
func (f Fence) Evaluate(p Point) (distance float64, ok bool) {
	distance = Distance(f.Center, p)
	return distance, distance <= f.Radius
}

// Widen returns a copy of the fence with its radius scaled by factor.
func (f Fence) Widen(factor float64) Fence {
	return Fence{Center: f.Center, Radius: f.Radius * factor}
}
