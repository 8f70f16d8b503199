package navlog

import (
	"context"
	"errors"
	"math"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightplan/latlon"
	"flightplan/wind"
)

type fakeSource struct {
	name     string
	perLeg   map[int]wind.Sample
	centroid *wind.Sample

	batchPoints    [][]wind.Point
	centroidCalls  int
	centroidPoints []latlon.LatLon
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) ResolveWinds(ctx context.Context, points []wind.Point, altFt float64) map[int]wind.Sample {
	f.batchPoints = append(f.batchPoints, points)
	out := map[int]wind.Sample{}
	for _, p := range points {
		if s, found := f.perLeg[p.ID]; found {
			out[p.ID] = s
		}
	}
	return out
}

func (f *fakeSource) ResolveWindAtCentroid(ctx context.Context, points []latlon.LatLon, altFt float64) *wind.Sample {
	f.centroidCalls++
	f.centroidPoints = points
	return f.centroid
}

type fixedVariation float64

func (v fixedVariation) VariationAt(lat, lon float64) float64 { return float64(v) }

func fl(v float64) *float64 { return &v }

var routeAB = []Waypoint{
	{Name: "A", Position: latlon.LatLon{Lat: 35.0, Lon: 139.0}},
	{Name: "B", Position: latlon.LatLon{Lat: 35.5, Lon: 139.5}},
}

var routeABC = []Waypoint{
	{Name: "A", Position: latlon.LatLon{Lat: 35.0, Lon: 139.0}},
	{Name: "B", Position: latlon.LatLon{Lat: 35.5, Lon: 139.5}},
	{Name: "C", Position: latlon.LatLon{Lat: 36.0, Lon: 139.0}},
}

func TestComputeRequiresTwoWaypoints(t *testing.T) {
	e := NewEngine(nil)

	for _, wps := range [][]Waypoint{nil, {}, routeAB[:1]} {
		res, err := e.Compute(context.Background(), wps, RouteParameters{TrueAirspeedKt: 120})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInsufficientWaypoints))
		assert.Nil(t, res)
	}
}

func TestComputeZeroWind(t *testing.T) {
	e := NewEngine(nil)

	res, err := e.Compute(context.Background(), routeAB, RouteParameters{TrueAirspeedKt: 120})
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)

	leg := res.Legs[0]
	wantDist, wantTC := latlon.DistanceAndBearing(routeAB[0].Position, routeAB[1].Position)

	assert.InDelta(t, wantDist, leg.DistanceNM, 1e-9)
	assert.InDelta(t, wantTC, leg.TrueCourseDeg, 1e-9)
	assert.Equal(t, 0.0, leg.WindCorrectionAngleDeg)
	assert.Equal(t, 120.0, leg.GroundSpeedKt)
	assert.InDelta(t, wantDist/120.0*60.0, leg.TimeMinutes, 1e-9)
	assert.Equal(t, leg.TrueCourseDeg, leg.TrueHeadingDeg)
	assert.Equal(t, leg.TrueHeadingDeg, leg.MagneticHeadingDeg)
	assert.Equal(t, leg.MagneticHeadingDeg, leg.CompassHeadingDeg)
	assert.Equal(t, WindSourceNone, leg.WindSource)
	assert.False(t, leg.Unflyable)
}

func TestComputeManualWindFallback(t *testing.T) {
	// The forecast source answers nothing; every leg must carry the
	// manually entered wind.
	src := &fakeSource{name: "gfs"}
	e := NewEngine(nil, src)

	res, err := e.Compute(context.Background(), routeABC, RouteParameters{
		TrueAirspeedKt:         120,
		ManualWindDirectionDeg: fl(90),
		ManualWindSpeedKt:      fl(20),
	})
	require.NoError(t, err)
	require.Len(t, res.Legs, 2)

	for _, leg := range res.Legs {
		assert.Equal(t, 90.0, leg.WindDirectionDeg)
		assert.Equal(t, 20.0, leg.WindSpeedKt)
		assert.Equal(t, WindSourceManual, leg.WindSource)
	}
}

func TestComputePerLegForecast(t *testing.T) {
	src := &fakeSource{
		name: "gfs",
		perLeg: map[int]wind.Sample{
			0: {DirectionDeg: 270, SpeedKt: 10},
			1: {DirectionDeg: 300, SpeedKt: 18},
		},
	}
	e := NewEngine(nil, src)

	res, err := e.Compute(context.Background(), routeABC, RouteParameters{TrueAirspeedKt: 110, CruiseAltitudeFt: 4500})
	require.NoError(t, err)

	assert.Equal(t, "gfs", res.Legs[0].WindSource)
	assert.Equal(t, "gfs", res.Legs[1].WindSource)
	assert.Equal(t, 270.0, res.Legs[0].WindDirectionDeg)
	assert.Equal(t, 300.0, res.Legs[1].WindDirectionDeg)

	// One batched request, one point per leg, at the leg midpoints.
	require.Len(t, src.batchPoints, 1)
	require.Len(t, src.batchPoints[0], 2)
	mid := latlon.Midpoint(routeABC[0].Position, routeABC[1].Position)
	assert.InDelta(t, mid.Lat, src.batchPoints[0][0].Lat, 1e-9)
	assert.InDelta(t, mid.Lon, src.batchPoints[0][0].Lon, 1e-9)
	assert.Equal(t, 0, src.centroidCalls)
}

func TestComputeCentroidFallback(t *testing.T) {
	src := &fakeSource{name: "gfs", centroid: &wind.Sample{DirectionDeg: 250, SpeedKt: 14}}
	e := NewEngine(nil, src)

	res, err := e.Compute(context.Background(), routeABC, RouteParameters{TrueAirspeedKt: 110})
	require.NoError(t, err)

	for _, leg := range res.Legs {
		assert.Equal(t, "gfs-centroid", leg.WindSource)
		assert.Equal(t, 250.0, leg.WindDirectionDeg)
		assert.Equal(t, 14.0, leg.WindSpeedKt)
	}
	assert.Equal(t, 1, src.centroidCalls)
	// The centroid is taken over the route waypoints.
	assert.Len(t, src.centroidPoints, 3)
}

func TestComputeSourceOrder(t *testing.T) {
	first := &fakeSource{name: "gfs", perLeg: map[int]wind.Sample{0: {DirectionDeg: 200, SpeedKt: 9}}}
	second := &fakeSource{name: "grib", perLeg: map[int]wind.Sample{1: {DirectionDeg: 220, SpeedKt: 11}}}
	e := NewEngine(nil, first, second)

	res, err := e.Compute(context.Background(), routeABC, RouteParameters{TrueAirspeedKt: 110})
	require.NoError(t, err)

	assert.Equal(t, "gfs", res.Legs[0].WindSource)
	assert.Equal(t, "grib", res.Legs[1].WindSource)

	// The second source is only asked about the leg the first one missed.
	require.Len(t, second.batchPoints, 1)
	require.Len(t, second.batchPoints[0], 1)
	assert.Equal(t, 1, second.batchPoints[0][0].ID)
}

func TestSolveWindTriangle(t *testing.T) {
	// Pure headwind: no correction, ground speed drops.
	wca, gs, unflyable := solveWindTriangle(0, 100, wind.Sample{DirectionDeg: 0, SpeedKt: 20})
	assert.InDelta(t, 0.0, wca, 1e-9)
	assert.InDelta(t, 80.0, gs, 1e-9)
	assert.False(t, unflyable)

	// Pure tailwind: ground speed rises.
	_, gs, _ = solveWindTriangle(0, 100, wind.Sample{DirectionDeg: 180, SpeedKt: 20})
	assert.InDelta(t, 120.0, gs, 1e-9)

	// Direct crosswind from the right: positive correction into the wind.
	wca, gs, unflyable = solveWindTriangle(0, 100, wind.Sample{DirectionDeg: 90, SpeedKt: 20})
	assert.InDelta(t, math.Asin(0.2)*180/math.Pi, wca, 1e-9)
	assert.InDelta(t, 100*math.Sqrt(1-0.04), gs, 1e-6)
	assert.False(t, unflyable)

	// Crosswind from the left: negative correction.
	wca, _, _ = solveWindTriangle(0, 100, wind.Sample{DirectionDeg: 270, SpeedKt: 20})
	assert.InDelta(t, -math.Asin(0.2)*180/math.Pi, wca, 1e-9)

	// Crosswind beyond the airspeed: clamped, flagged, still finite.
	wca, gs, unflyable = solveWindTriangle(0, 100, wind.Sample{DirectionDeg: 90, SpeedKt: 200})
	assert.True(t, unflyable)
	assert.InDelta(t, 90.0, wca, 1e-9)
	assert.GreaterOrEqual(t, gs, 1.0)
	assert.False(t, math.IsNaN(gs))
}

func TestComputeHeadingsNormalized(t *testing.T) {
	src := &fakeSource{name: "gfs", centroid: &wind.Sample{DirectionDeg: 300, SpeedKt: 35}}
	e := NewEngine(fixedVariation(-12), src)

	res, err := e.Compute(context.Background(), routeABC, RouteParameters{
		TrueAirspeedKt:      90,
		CompassDeviationDeg: -8,
	})
	require.NoError(t, err)

	for i, leg := range res.Legs {
		for name, h := range map[string]float64{
			"trueHeading":     leg.TrueHeadingDeg,
			"magneticHeading": leg.MagneticHeadingDeg,
			"compassHeading":  leg.CompassHeadingDeg,
		} {
			assert.GreaterOrEqualf(t, h, 0.0, "leg %d %s", i, name)
			assert.Lessf(t, h, 360.0, "leg %d %s", i, name)
			assert.Falsef(t, math.IsNaN(h), "leg %d %s is NaN", i, name)
		}
	}
}

func TestComputeCumulativeDistance(t *testing.T) {
	e := NewEngine(nil)

	res, err := e.Compute(context.Background(), routeABC, RouteParameters{TrueAirspeedKt: 120})
	require.NoError(t, err)

	sum := 0.0
	for _, leg := range res.Legs {
		sum += leg.DistanceNM
		assert.InDelta(t, sum, leg.CumulativeDistanceNM, 1e-9)
	}
	assert.InDelta(t, sum, res.Totals.DistanceNM, 1e-9)
}

func TestComputeETA(t *testing.T) {
	e := NewEngine(nil)

	res, err := e.Compute(context.Background(), routeAB, RouteParameters{
		TrueAirspeedKt: 120,
		DepartureTime:  "23:30",
	})
	require.NoError(t, err)

	clock := regexp.MustCompile(`^\d{2}:\d{2}$`)
	for _, leg := range res.Legs {
		assert.Regexp(t, clock, leg.ETA)
	}

	// No departure time, no ETAs.
	res, err = e.Compute(context.Background(), routeAB, RouteParameters{TrueAirspeedKt: 120})
	require.NoError(t, err)
	assert.Empty(t, res.Legs[0].ETA)

	// Unparseable departure degrades to no ETAs rather than failing.
	res, err = e.Compute(context.Background(), routeAB, RouteParameters{TrueAirspeedKt: 120, DepartureTime: "25:99"})
	require.NoError(t, err)
	assert.Empty(t, res.Legs[0].ETA)
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "01:00", formatClock(23*60+30+90))
	assert.Equal(t, "00:00", formatClock(1440))
	assert.Equal(t, "09:05", formatClock(545))
	assert.Equal(t, "23:59", formatClock(-1))
}

func TestParseDeparture(t *testing.T) {
	m, ok := parseDeparture("08:45")
	assert.True(t, ok)
	assert.Equal(t, 525.0, m)

	_, ok = parseDeparture("")
	assert.False(t, ok)
	_, ok = parseDeparture("late")
	assert.False(t, ok)
}

func TestBuildTotalsFuel(t *testing.T) {
	e := NewEngine(nil)

	params := RouteParameters{FuelBurnPerHour: 30, StartFuel: 10}
	// A 25-minute flight burns 12.5 with 10 aboard.
	totals := e.buildTotals(params, 50, 25, 10-12.5)

	assert.Equal(t, 25.0, totals.FlightTimeMinutes)
	assert.Equal(t, 15.0, totals.GroundTimeMinutes)
	assert.Equal(t, 45.0, totals.ReserveMinutes)
	assert.Equal(t, 85.0, totals.TotalTimeMinutes)
	assert.InDelta(t, 42.5, totals.FuelRequired, 1e-9)
	assert.Equal(t, 0.0, totals.FuelRemaining)
	assert.InDelta(t, 32.5, totals.FuelShortfall, 1e-9)
}

func TestComputeFuelShortfallFlagged(t *testing.T) {
	e := NewEngine(nil)

	res, err := e.Compute(context.Background(), routeAB, RouteParameters{
		TrueAirspeedKt:  120,
		FuelBurnPerHour: 30,
		StartFuel:       0.1,
	})
	require.NoError(t, err)

	leg := res.Legs[0]
	assert.Equal(t, 0.0, leg.RemainingFuel)
	assert.True(t, leg.FuelExhausted)
	assert.Greater(t, res.Totals.FuelShortfall, 0.0)
}

func TestComputeSequenceIncreases(t *testing.T) {
	e := NewEngine(nil)

	first, err := e.Compute(context.Background(), routeAB, RouteParameters{TrueAirspeedKt: 120})
	require.NoError(t, err)
	second, err := e.Compute(context.Background(), routeAB, RouteParameters{TrueAirspeedKt: 120})
	require.NoError(t, err)

	assert.Greater(t, second.Sequence, first.Sequence)
	// Same inputs, same external data: the solution itself is identical.
	assert.Equal(t, first.Legs, second.Legs)
	assert.Equal(t, first.Totals, second.Totals)
}
