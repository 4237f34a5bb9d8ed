// Package geocode is a minimal client for Nominatim-style geocoding
// endpoints.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Candidate is one geocoding result.
type Candidate struct {
	DisplayName string
	Lat         float64
	Lon         float64
	Confidence  float64
}

// Client talks to a Nominatim-compatible search endpoint.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewClient creates a geocoding client. Nominatim's usage policy requires a
// descriptive User-Agent.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		userAgent: "argochat/1.0 (oceanographic research)",
		client:    &http.Client{Timeout: timeout},
	}
}

// Search geocodes a free-text place name and returns up to limit candidates.
func (c *Client) Search(ctx context.Context, name string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 1
	}
	params := url.Values{}
	params.Set("q", name)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Nominatim encodes coordinates as strings.
	var raw []struct {
		DisplayName string  `json:"display_name"`
		Lat         string  `json:"lat"`
		Lon         string  `json:"lon"`
		Importance  float64 `json:"importance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}

	out := make([]Candidate, 0, len(raw))
	for _, r := range raw {
		lat, err := strconv.ParseFloat(r.Lat, 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(r.Lon, 64)
		if err != nil {
			continue
		}
		out = append(out, Candidate{
			DisplayName: r.DisplayName,
			Lat:         lat,
			Lon:         lon,
			Confidence:  r.Importance,
		})
	}
	return out, nil
}
