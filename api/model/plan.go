package model

import (
	"flightplan/navlog"
)

// Plan is the body of a route computation request. Waypoints arrive already
// positioned: the front end resolves place names through the geocode
// endpoint (or map picks) before asking for a log.
type Plan struct {
	Waypoints []navlog.Waypoint      `json:"waypoints"`
	Params    navlog.RouteParameters `json:"params"`
}
