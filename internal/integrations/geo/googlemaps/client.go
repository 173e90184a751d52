package googlemaps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/pkg/errors"
)

const defaultBaseURL = "https://maps.googleapis.com"

// Client talks to the Google Maps Geocoding API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type geocodeResp struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (c *Client) ReverseGeocode(ctx context.Context, p models.GeoPoint) (models.Address, error) {
	q := url.Values{}
	q.Set("latlng", fmt.Sprintf("%f,%f", p.Lat, p.Lng))
	rb, err := c.do(ctx, q)
	if err != nil {
		return models.Address{}, err
	}
	if len(rb.Results) == 0 {
		return models.Address{}, apperr.NotFound("no address at %f,%f", p.Lat, p.Lng)
	}
	// Keep the queried point; the API returns the matched feature's centroid.
	return models.Address{FormattedAddress: rb.Results[0].FormattedAddress, Point: p}, nil
}

func (c *Client) Geocode(ctx context.Context, address string) (models.Address, error) {
	if address == "" {
		return models.Address{}, apperr.Validation("address is required")
	}
	q := url.Values{}
	q.Set("address", address)
	rb, err := c.do(ctx, q)
	if err != nil {
		return models.Address{}, err
	}
	if len(rb.Results) == 0 {
		return models.Address{}, apperr.NotFound("no results for address %q", address)
	}
	first := rb.Results[0]
	return models.Address{
		FormattedAddress: first.FormattedAddress,
		Point:            models.GeoPoint{Lat: first.Geometry.Location.Lat, Lng: first.Geometry.Location.Lng},
	}, nil
}

func (c *Client) do(ctx context.Context, q url.Values) (*geocodeResp, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/maps/api/geocode/json"
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, apperr.TransientIO(err, "geocoding request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, apperr.TransientIO(nil, "geocoding http %d", resp.StatusCode)
	}

	var rb geocodeResp
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	switch rb.Status {
	case "OK", "ZERO_RESULTS":
		return &rb, nil
	case "INVALID_REQUEST":
		return nil, apperr.Validation("geocoding rejected request: %s", rb.ErrorMessage)
	default:
		return nil, apperr.TransientIO(nil, "geocoding status %s", rb.Status)
	}
}
