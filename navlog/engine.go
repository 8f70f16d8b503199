package navlog

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"flightplan/latlon"
	"flightplan/wind"
)

// VariationSource answers magnetic variation lookups. The returned value is
// added to a true heading to obtain a magnetic heading.
type VariationSource interface {
	VariationAt(lat, lon float64) float64
}

// Engine turns an ordered waypoint list and route parameters into a leg by
// leg dead-reckoning solution. It is stateless per invocation; variation and
// forecast winds come in through its sources.
type Engine struct {
	variation VariationSource
	sources   []wind.Source
	seq       atomic.Uint64
}

// NewEngine builds an engine. Wind sources are consulted in order; each may
// be nil-free but the list may be empty, in which case only manual and
// zero-wind fallbacks apply.
func NewEngine(variation VariationSource, sources ...wind.Source) *Engine {
	return &Engine{variation: variation, sources: sources}
}

// Compute produces the navigation log for the given route.
//
// Wind resolution per leg falls through: forecast per leg midpoint, then one
// route-centroid forecast per source, then the manual wind from the
// parameters, then zero wind. A leg degraded by missing data never aborts
// the computation; ErrInsufficientWaypoints is the only failure.
func (e *Engine) Compute(ctx context.Context, waypoints []Waypoint, params RouteParameters) (*Result, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w (got %d)", ErrInsufficientWaypoints, len(waypoints))
	}

	legs := e.buildLegs(waypoints)
	winds, labels := e.resolveWinds(ctx, waypoints, legs, params)

	tas := params.TrueAirspeedKt
	if tas < 1 {
		tas = 1
	}

	burnPerMinute := params.FuelBurnPerHour / 60.0

	departure, hasDeparture := parseDeparture(params.DepartureTime)

	computed := make([]ComputedLeg, len(legs))
	cumDistance := 0.0
	cumTime := 0.0
	remaining := params.StartFuel

	for i, leg := range legs {
		c := ComputedLeg{Leg: leg, WindSource: labels[i]}

		w := winds[i]
		c.WindDirectionDeg = w.DirectionDeg
		c.WindSpeedKt = w.SpeedKt

		wca, gs, unflyable := solveWindTriangle(leg.TrueCourseDeg, tas, w)
		c.WindCorrectionAngleDeg = wca
		c.GroundSpeedKt = gs
		c.Unflyable = unflyable

		c.TrueHeadingDeg = latlon.Wrap360(leg.TrueCourseDeg + wca)
		c.MagneticHeadingDeg = latlon.Wrap360(c.TrueHeadingDeg + leg.VariationDeg)
		c.CompassHeadingDeg = latlon.Wrap360(c.MagneticHeadingDeg + params.CompassDeviationDeg)

		c.TimeMinutes = leg.DistanceNM / gs * 60.0
		c.FuelUsed = burnPerMinute * c.TimeMinutes

		cumDistance += leg.DistanceNM
		cumTime += c.TimeMinutes
		remaining -= c.FuelUsed

		c.CumulativeDistanceNM = cumDistance
		c.CumulativeTimeMinutes = cumTime
		c.RemainingFuel = math.Max(0, remaining)
		c.FuelExhausted = remaining < 0

		if hasDeparture {
			c.ETA = formatClock(departure + cumTime)
		}

		computed[i] = c
	}

	totals := e.buildTotals(params, cumDistance, cumTime, remaining)

	return &Result{
		Sequence: e.seq.Add(1),
		Legs:     computed,
		Totals:   totals,
	}, nil
}

func (e *Engine) buildLegs(waypoints []Waypoint) []Leg {
	legs := make([]Leg, len(waypoints)-1)
	for i := range legs {
		from, to := waypoints[i], waypoints[i+1]

		d, tc := latlon.DistanceAndBearing(from.Position, to.Position)
		mid := latlon.Midpoint(from.Position, to.Position)

		variation := 0.0
		if e.variation != nil {
			variation = e.variation.VariationAt(mid.Lat, mid.Lon)
		}

		legs[i] = Leg{
			FromName:      from.Name,
			ToName:        to.Name,
			From:          from.Position,
			To:            to.Position,
			Midpoint:      mid,
			DistanceNM:    d,
			TrueCourseDeg: tc,
			VariationDeg:  variation,
		}
	}
	return legs
}

// resolveWinds fills one wind per leg, walking the fallback chain. The
// returned labels name the source that served each leg.
func (e *Engine) resolveWinds(ctx context.Context, waypoints []Waypoint, legs []Leg, params RouteParameters) ([]wind.Sample, []string) {
	winds := make([]wind.Sample, len(legs))
	labels := make([]string, len(legs))
	missing := len(legs)

	served := make([]bool, len(legs))

	points := make([]latlon.LatLon, len(waypoints))
	for i, w := range waypoints {
		points[i] = w.Position
	}

	for _, src := range e.sources {
		if missing == 0 {
			break
		}

		var query []wind.Point
		for i := range legs {
			if !served[i] {
				query = append(query, wind.Point{ID: i, Lat: legs[i].Midpoint.Lat, Lon: legs[i].Midpoint.Lon})
			}
		}

		res := src.ResolveWinds(ctx, query, params.CruiseAltitudeFt)
		for id, sample := range res {
			if id < 0 || id >= len(legs) || served[id] {
				continue
			}
			winds[id] = sample
			labels[id] = src.Name()
			served[id] = true
			missing--
		}

		if missing == 0 {
			break
		}

		// One forecast for the route center, applied to whatever is left.
		if sample := src.ResolveWindAtCentroid(ctx, points, params.CruiseAltitudeFt); sample != nil {
			for i := range legs {
				if served[i] {
					continue
				}
				winds[i] = *sample
				labels[i] = src.Name() + "-centroid"
				served[i] = true
				missing--
			}
		}
	}

	if missing > 0 {
		if params.ManualWindDirectionDeg != nil && params.ManualWindSpeedKt != nil &&
			finite(*params.ManualWindDirectionDeg) && finite(*params.ManualWindSpeedKt) &&
			*params.ManualWindSpeedKt >= 0 {
			manual := wind.Sample{
				DirectionDeg: latlon.Wrap360(*params.ManualWindDirectionDeg),
				SpeedKt:      *params.ManualWindSpeedKt,
			}
			log.Debugf("navlog: %d legs on manual wind %.0f°/%.0fkt", missing, manual.DirectionDeg, manual.SpeedKt)
			for i := range legs {
				if served[i] {
					continue
				}
				winds[i] = manual
				labels[i] = WindSourceManual
				served[i] = true
			}
		} else {
			log.Debugf("navlog: %d legs without wind data, assuming calm", missing)
			for i := range legs {
				if !served[i] {
					labels[i] = WindSourceNone
				}
			}
		}
	}

	return winds, labels
}

// solveWindTriangle computes the wind correction angle in degrees and the
// ground speed in knots for a leg.
//
// Convention: the headwind component is speed*cos(dir-tc), positive with the
// wind on the nose, and is subtracted from the along-track airspeed. A pure
// tailwind therefore raises ground speed, a pure headwind lowers it.
func solveWindTriangle(trueCourseDeg, tas float64, w wind.Sample) (wca, gs float64, unflyable bool) {
	if w.SpeedKt == 0 {
		return 0, tas, false
	}

	rel := (w.DirectionDeg - trueCourseDeg) * math.Pi / 180.0
	crosswind := w.SpeedKt * math.Sin(rel)
	headwind := w.SpeedKt * math.Cos(rel)

	ratio := crosswind / math.Max(tas, 1)
	if ratio > 1 {
		ratio = 1
		unflyable = true
	} else if ratio < -1 {
		ratio = -1
		unflyable = true
	}

	wcaRad := math.Asin(ratio)
	wca = wcaRad * 180.0 / math.Pi
	gs = math.Max(1, tas*math.Cos(wcaRad)-headwind)

	return wca, gs, unflyable
}

func (e *Engine) buildTotals(params RouteParameters, distance, flightTime, remaining float64) Totals {
	ground := params.GroundTimeMinutes
	if ground <= 0 {
		ground = defaultGroundTimeMinutes
	}
	reserve := params.ReserveMinutes
	if reserve <= 0 {
		reserve = defaultReserveMinutes
	}

	total := flightTime + ground + reserve
	required := params.FuelBurnPerHour / 60.0 * total

	t := Totals{
		DistanceNM:        distance,
		FlightTimeMinutes: flightTime,
		GroundTimeMinutes: ground,
		ReserveMinutes:    reserve,
		TotalTimeMinutes:  total,
		FuelRequired:      required,
		FuelRemaining:     math.Max(0, remaining),
	}
	if shortfall := required - params.StartFuel; shortfall > 0 {
		t.FuelShortfall = shortfall
	}
	return t
}

// parseDeparture converts an optional "HH:MM" into minutes after midnight.
func parseDeparture(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		log.WithError(err).Warnf("navlog: bad departure time '%s', skipping ETAs", s)
		return 0, false
	}
	return float64(t.Hour()*60 + t.Minute()), true
}

// formatClock renders minutes after midnight as zero-padded 24h wall clock,
// wrapping past midnight.
func formatClock(minutes float64) string {
	m := int(math.Round(minutes))
	m = ((m % 1440) + 1440) % 1440
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
