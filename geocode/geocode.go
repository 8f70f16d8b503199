package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flightplan/latlon"
)

// ErrNotFound means the place search returned no usable hit.
var ErrNotFound = errors.New("geocode: could not locate")

// Place is one geocoding hit.
type Place struct {
	Position    latlon.LatLon `json:"position"`
	Name        string        `json:"name"`
	DisplayName string        `json:"displayName"`
}

// Client resolves free-text place names through a Nominatim-compatible
// search endpoint.
type Client struct {
	base   string
	client *http.Client
}

func New(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Search returns the best hit for a free-text query, or ErrNotFound.
func (c *Client) Search(ctx context.Context, query string) (*Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNotFound
	}

	u := fmt.Sprintf("%s/search?%s", c.base, url.Values{
		"format":          {"json"},
		"accept-language": {"ja"},
		"limit":           {"1"},
		"q":               {query},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: upstream status %d", resp.StatusCode)
	}

	// Nominatim serializes coordinates as strings.
	var hits []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("geocode: invalid json: %w", err)
	}
	if len(hits) == 0 {
		return nil, ErrNotFound
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return nil, ErrNotFound
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return nil, ErrNotFound
	}

	name := hits[0].DisplayName
	if i := strings.Index(name, ","); i > 0 {
		name = name[:i]
	}
	if name == "" {
		name = query
	}

	return &Place{
		Position:    latlon.LatLon{Lat: lat, Lon: lon},
		Name:        name,
		DisplayName: hits[0].DisplayName,
	}, nil
}
