package latlon

import "math"

const π = math.Pi

// R is the mean Earth radius in meters.
const R = 6371e3

const metersPerNM = 1852.0

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func toRadians(a float64) float64 {
	return a * π / 180.0
}

func toDegrees(a float64) float64 {
	return a * 180.0 / π
}

// Wrap360 normalizes an angle in degrees into [0,360).
func Wrap360(d float64) float64 {
	if 0.0 <= d && d < 360.0 {
		return d
	}
	d = math.Mod(d, 360.0)
	if d < 0 {
		d += 360.0
	}
	return d
}

// Distance returns the great-circle distance between from and to in meters,
// using the haversine formula.
func Distance(from, to LatLon) float64 {
	φ1 := toRadians(from.Lat)
	φ2 := toRadians(to.Lat)
	Δφ := φ2 - φ1

	Δλ := toRadians(to.Lon - from.Lon)

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	if a > 1 {
		a = 1
	}
	δ := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * δ
}

// DistanceNM returns the great-circle distance in nautical miles.
func DistanceNM(from, to LatLon) float64 {
	return Distance(from, to) / metersPerNM
}

// Bearing returns the initial bearing from from to to in degrees [0,360).
func Bearing(from, to LatLon) float64 {
	φ1 := toRadians(from.Lat)
	φ2 := toRadians(to.Lat)

	Δλ := toRadians(to.Lon - from.Lon)
	x := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	y := math.Sin(Δλ) * math.Cos(φ2)
	θ := math.Atan2(y, x)

	return Wrap360(toDegrees(θ))
}

// DistanceAndBearing returns the distance in nautical miles and the initial
// bearing in degrees in one pass.
func DistanceAndBearing(from, to LatLon) (float64, float64) {
	φ1 := toRadians(from.Lat)
	φ2 := toRadians(to.Lat)
	Δφ := φ2 - φ1

	Δλ := toRadians(to.Lon - from.Lon)

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	if a > 1 {
		a = 1
	}
	δ := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	d := R * δ / metersPerNM

	x := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	y := math.Sin(Δλ) * math.Cos(φ2)
	θ := math.Atan2(y, x)

	return d, Wrap360(toDegrees(θ))
}

// Midpoint returns the great-circle midpoint between from and to.
func Midpoint(from, to LatLon) LatLon {
	φ1 := toRadians(from.Lat)
	φ2 := toRadians(to.Lat)
	λ1 := toRadians(from.Lon)

	Δλ := toRadians(to.Lon - from.Lon)

	bx := math.Cos(φ2) * math.Cos(Δλ)
	by := math.Cos(φ2) * math.Sin(Δλ)

	φm := math.Atan2(math.Sin(φ1)+math.Sin(φ2), math.Sqrt((math.Cos(φ1)+bx)*(math.Cos(φ1)+bx)+by*by))
	λm := λ1 + math.Atan2(by, math.Cos(φ1)+bx)
	λm = math.Mod(λm+3*π, 2*π) - π

	return LatLon{Lat: toDegrees(φm), Lon: toDegrees(λm)}
}
