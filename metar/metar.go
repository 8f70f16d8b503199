package metar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jasonlvhit/gocron"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// Report is the slice of an AVWX METAR response the map layer consumes.
type Report struct {
	Station     string `json:"station"`
	Raw         string `json:"raw"`
	FlightRules string `json:"flight_rules"`
	Time        string `json:"time"`
}

// ErrMisconfigured means the AVWX token is not set; the proxy cannot work
// without it.
var ErrMisconfigured = fmt.Errorf("metar: AVWX token not configured")

// Client proxies METAR requests to AVWX so the browser never sees the
// token. Responses are cached for a few minutes; METARs only change
// half-hourly anyway.
type Client struct {
	base    string
	token   string
	ttl     time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Report]

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	report  Report
	expires time.Time
}

func New(base, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		ttl:    5 * time.Minute,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*Report](gobreaker.Settings{
			Name:     "avwx-metar",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		cache: make(map[string]cacheEntry),
	}
}

// StartSweeper evicts expired cache entries on a schedule.
func (c *Client) StartSweeper() {
	s := gocron.NewScheduler()
	job := s.Every(5).Minutes()
	job.Do(c.sweep)
	go s.Start()
}

func (c *Client) sweep() {
	now := time.Now()
	c.mu.Lock()
	for icao, e := range c.cache {
		if now.After(e.expires) {
			delete(c.cache, icao)
		}
	}
	c.mu.Unlock()
}

// Fetch returns the current METAR for an ICAO identifier. Unlike the wind
// path, failures here propagate: the caller is a proxy endpoint, not the
// computation engine, and reports upstream trouble as an upstream error.
func (c *Client) Fetch(ctx context.Context, icao string) (*Report, error) {
	icao = strings.ToUpper(strings.TrimSpace(icao))
	if icao == "" {
		return nil, fmt.Errorf("metar: missing icao")
	}
	if c.token == "" {
		return nil, ErrMisconfigured
	}

	c.mu.RLock()
	if e, found := c.cache[icao]; found && time.Now().Before(e.expires) {
		c.mu.RUnlock()
		r := e.report
		return &r, nil
	}
	c.mu.RUnlock()

	report, err := c.breaker.Execute(func() (*Report, error) {
		return c.fetch(ctx, icao)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[icao] = cacheEntry{report: *report, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return report, nil
}

func (c *Client) fetch(ctx context.Context, icao string) (*Report, error) {
	u := fmt.Sprintf("%s/api/metar/%s?%s", c.base, url.PathEscape(icao), url.Values{
		"format": {"json"},
		"onfail": {"cache"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		log.Warnf("metar: AVWX status %d for %s: %s", resp.StatusCode, icao, string(body))
		return nil, fmt.Errorf("metar: upstream status %d", resp.StatusCode)
	}

	var payload struct {
		Station     string `json:"station"`
		Raw         string `json:"raw"`
		FlightRules string `json:"flight_rules"`
		Time        struct {
			Repr string `json:"repr"`
		} `json:"time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("metar: invalid json from AVWX: %w", err)
	}

	return &Report{
		Station:     payload.Station,
		Raw:         payload.Raw,
		FlightRules: payload.FlightRules,
		Time:        payload.Time.Repr,
	}, nil
}
