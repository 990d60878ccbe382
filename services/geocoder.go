package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// NominatimGeocoder reverse geocodes against a Nominatim compatible API.
// Results are cached per rounded coordinate, errors are not cached.
type NominatimGeocoder struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	cache      *cache.Cache
}

func NewNominatimGeocoder(baseURL, userAgent string, cacheTTL time.Duration, client *http.Client) *NominatimGeocoder {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NominatimGeocoder{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		UserAgent:  userAgent,
		HTTPClient: client,
		cache:      cache.New(cacheTTL, cacheTTL*2),
	}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
	Error string `json:"error"`
}

func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	cacheKey := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if v, ok := g.cache.Get(cacheKey); ok {
		return v.(string), nil
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("zoom", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.UserAgent != "" {
		req.Header.Set("User-Agent", g.UserAgent)
	}

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("geocoder returned status %d: %s", resp.StatusCode, string(body))
	}

	var out nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding geocode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("geocoder error: %s", out.Error)
	}

	label := placeLabel(out)
	if label == "" {
		return "", fmt.Errorf("geocoder returned no usable place name")
	}
	g.cache.Set(cacheKey, label, cache.DefaultExpiration)
	return label, nil
}

// placeLabel prefers "City, State" and falls back through smaller settlements,
// the county, and finally the country.
func placeLabel(r nominatimResponse) string {
	a := r.Address
	place := firstNonEmpty(a.City, a.Town, a.Village, a.County)
	region := firstNonEmpty(a.State, a.Country)
	switch {
	case place != "" && region != "":
		return place + ", " + region
	case place != "":
		return place
	case region != "":
		return region
	}
	if parts := strings.SplitN(r.DisplayName, ",", 2); len(parts) > 0 {
		return strings.TrimSpace(parts[0])
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
