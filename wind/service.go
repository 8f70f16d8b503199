package wind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"flightplan/latlon"
)

// Service resolves winds from the remote GFS forecast endpoint. One batched
// request covers all points of a computation, so every leg sees the same
// forecast snapshot.
//
// Any network failure, non-success status or malformed payload yields an
// empty result, never an error: the navigation-log engine carries its own
// fallbacks.
type Service struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[map[int]Sample]
}

func NewService(url string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		url:    url,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[map[int]Sample](gobreaker.Settings{
			Name:     "gfs-wind",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

func (s *Service) Name() string {
	return "gfs"
}

type windRequest struct {
	AltFt  float64 `json:"alt_ft"`
	Points []Point `json:"points"`
}

type windResponse struct {
	Points []json.RawMessage `json:"points"`
}

type windEntry struct {
	ID      *int     `json:"id"`
	WindDir *float64 `json:"wind_dir"`
	WindSpd *float64 `json:"wind_spd"`
}

// ResolveWinds asks the forecast service for all points in one request and
// returns the entries that carried numeric direction and speed.
func (s *Service) ResolveWinds(ctx context.Context, points []Point, altFt float64) map[int]Sample {
	if len(points) == 0 || s.url == "" {
		return map[int]Sample{}
	}

	out, err := s.breaker.Execute(func() (map[int]Sample, error) {
		return s.fetch(ctx, points, altFt)
	})
	if err != nil {
		log.WithError(err).Warn("wind: forecast service unavailable")
		return map[int]Sample{}
	}
	return out
}

// ResolveWindAtCentroid resolves one wind for the average-of-coordinates
// center of the route, for callers applying a single forecast to every leg.
func (s *Service) ResolveWindAtCentroid(ctx context.Context, points []latlon.LatLon, altFt float64) *Sample {
	c, ok := Centroid(points)
	if !ok {
		return nil
	}
	res := s.ResolveWinds(ctx, []Point{{ID: 0, Lat: c.Lat, Lon: c.Lon}}, altFt)
	if sample, found := res[0]; found {
		return &sample
	}
	return nil
}

func (s *Service) fetch(ctx context.Context, points []Point, altFt float64) (map[int]Sample, error) {
	body, err := json.Marshal(windRequest{AltFt: altFt, Points: points})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("wind service status %d", resp.StatusCode)
	}

	var payload windResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	out := make(map[int]Sample, len(payload.Points))
	for _, raw := range payload.Points {
		var e windEntry
		// Entries with non-numeric fields are dropped, not fatal.
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if e.ID == nil || e.WindDir == nil || e.WindSpd == nil {
			continue
		}
		if !finite(*e.WindDir) || !finite(*e.WindSpd) || *e.WindSpd < 0 {
			continue
		}
		out[*e.ID] = Sample{
			DirectionDeg: latlon.Wrap360(*e.WindDir),
			SpeedKt:      *e.WindSpd,
		}
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
