package navlog

import (
	"errors"

	"flightplan/latlon"
)

// ErrInsufficientWaypoints is returned when fewer than two waypoints are
// supplied. It is the only hard failure of a computation.
var ErrInsufficientWaypoints = errors.New("at least two waypoints are required")

// Waypoint is one named route point, from geocoding or a map pick.
type Waypoint struct {
	Name     string        `json:"name"`
	Position latlon.LatLon `json:"position"`
}

// RouteParameters carries the aircraft and planning inputs of one
// computation. The engine never mutates it.
type RouteParameters struct {
	TrueAirspeedKt      float64 `json:"tas"`
	CruiseAltitudeFt    float64 `json:"altFt"`
	CompassDeviationDeg float64 `json:"deviation"`
	FuelBurnPerHour     float64 `json:"burnRate"`
	StartFuel           float64 `json:"startFuel"`

	// DepartureTime is an optional "HH:MM" wall-clock time. When set, every
	// leg gets an ETA.
	DepartureTime string `json:"departure,omitempty"`

	// Manual wind, applied to legs no forecast source could serve. Both
	// fields must be present to take effect.
	ManualWindDirectionDeg *float64 `json:"windDir,omitempty"`
	ManualWindSpeedKt      *float64 `json:"windSpd,omitempty"`

	// Ground-operations and reserve allowances folded into the totals.
	// Zero means the default (15 and 45 minutes).
	GroundTimeMinutes float64 `json:"groundMinutes,omitempty"`
	ReserveMinutes    float64 `json:"reserveMinutes,omitempty"`
}

const (
	defaultGroundTimeMinutes = 15.0
	defaultReserveMinutes    = 45.0
)

// Leg is the geometry of one waypoint pair.
type Leg struct {
	FromName string        `json:"from"`
	ToName   string        `json:"to"`
	From     latlon.LatLon `json:"fromPosition"`
	To       latlon.LatLon `json:"toPosition"`
	Midpoint latlon.LatLon `json:"midpoint"`

	DistanceNM    float64 `json:"distanceNM"`
	TrueCourseDeg float64 `json:"trueCourse"`

	// VariationDeg is added to a true heading to obtain a magnetic heading.
	VariationDeg float64 `json:"variation"`
}

// Wind source labels recorded on each computed leg.
const (
	WindSourceManual = "manual"
	WindSourceNone   = "none"
)

// ComputedLeg is a Leg with its dead-reckoning solution.
type ComputedLeg struct {
	Leg

	WindDirectionDeg float64 `json:"windDir"`
	WindSpeedKt      float64 `json:"windSpd"`

	// WindSource names where the wind of this leg came from: a forecast
	// source name (possibly with a "-centroid" suffix), "manual", or "none".
	WindSource string `json:"windSource"`

	WindCorrectionAngleDeg float64 `json:"wca"`
	TrueHeadingDeg         float64 `json:"trueHeading"`
	MagneticHeadingDeg     float64 `json:"magneticHeading"`
	CompassHeadingDeg      float64 `json:"compassHeading"`
	GroundSpeedKt          float64 `json:"groundSpeed"`

	TimeMinutes float64 `json:"timeMinutes"`
	FuelUsed    float64 `json:"fuelUsed"`

	CumulativeDistanceNM  float64 `json:"cumDistanceNM"`
	CumulativeTimeMinutes float64 `json:"cumTimeMinutes"`

	// RemainingFuel is clamped at zero for display; FuelExhausted marks the
	// legs where the unclamped value went negative.
	RemainingFuel float64 `json:"remainingFuel"`
	FuelExhausted bool    `json:"fuelExhausted,omitempty"`

	// Unflyable marks a leg whose crosswind exceeds the true airspeed; the
	// numbers are still populated but not reliable.
	Unflyable bool `json:"unflyable,omitempty"`

	ETA string `json:"eta,omitempty"`
}

// Totals summarizes the whole route.
type Totals struct {
	DistanceNM        float64 `json:"distanceNM"`
	FlightTimeMinutes float64 `json:"flightTimeMinutes"`
	GroundTimeMinutes float64 `json:"groundTimeMinutes"`
	ReserveMinutes    float64 `json:"reserveMinutes"`
	TotalTimeMinutes  float64 `json:"totalTimeMinutes"`

	// FuelRequired covers flight, ground operations and reserve at the
	// configured burn rate. FuelShortfall is how much of it the start fuel
	// does not cover; zero when the plan closes.
	FuelRequired  float64 `json:"fuelRequired"`
	FuelRemaining float64 `json:"fuelRemaining"`
	FuelShortfall float64 `json:"fuelShortfall,omitempty"`
}

// Result is one complete navigation log. Sequence increases with every
// computation so a consumer can discard answers superseded by a newer run.
type Result struct {
	Sequence uint64        `json:"sequence"`
	Legs     []ComputedLeg `json:"legs"`
	Totals   Totals        `json:"totals"`
}
