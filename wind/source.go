package wind

import (
	"context"

	"flightplan/latlon"
)

// Point is one wind query location. The ID ties the answer back to the leg
// that asked.
type Point struct {
	ID  int     `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Sample is a forecast wind: the direction the wind blows from, in degrees
// true, and its speed in knots.
type Sample struct {
	DirectionDeg float64 `json:"dir"`
	SpeedKt      float64 `json:"spd"`
}

// Source resolves forecast winds for a set of points at a cruise altitude.
// Implementations never fail a lookup: points without usable data are simply
// absent from the result.
type Source interface {
	Name() string
	ResolveWinds(ctx context.Context, points []Point, altFt float64) map[int]Sample
	ResolveWindAtCentroid(ctx context.Context, points []latlon.LatLon, altFt float64) *Sample
}

// Centroid computes the average-of-coordinates center of the given points.
// The second return value is false when there are no points.
func Centroid(points []latlon.LatLon) (latlon.LatLon, bool) {
	if len(points) == 0 {
		return latlon.LatLon{}, false
	}
	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	n := float64(len(points))
	return latlon.LatLon{Lat: sumLat / n, Lon: sumLon / n}, true
}
