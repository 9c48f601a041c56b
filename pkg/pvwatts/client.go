// Package pvwatts provides a client for the NREL PVWatts v8 solar production API.
package pvwatts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the PVWatts estimate operation.
type Client interface {
	// FetchEstimate performs a single PVWatts request. A response carrying
	// service-side errors is returned as a *Response, not as an error.
	FetchEstimate(ctx context.Context, req Request) (*Response, error)
}

// Request is a capacity estimate request for one site.
type Request struct {
	SystemCapacityKW float64 `json:"system_capacity_kw" yaml:"system_capacity_kw"`
	Lat              float64 `json:"lat" yaml:"lat"`
	Lon              float64 `json:"lon" yaml:"lon"`
}

// Response is the parsed PVWatts response. Exactly one of Outputs or Errors
// is meaningful: a non-empty Errors list means the service rejected the input.
type Response struct {
	Inputs      map[string]any `json:"inputs,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Version     string         `json:"version,omitempty"`
	StationInfo *StationInfo   `json:"station_info,omitempty"`
	Outputs     *Outputs       `json:"outputs,omitempty"`
}

// HasErrors reports whether the service returned domain errors.
func (r *Response) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// Outputs holds the named numeric outputs of a PVWatts run.
type Outputs struct {
	ACMonthly      []float64 `json:"ac_monthly" yaml:"ac_monthly"`         // kWh per month
	POAMonthly     []float64 `json:"poa_monthly" yaml:"poa_monthly"`       // kWh/m2 per month
	SolradMonthly  []float64 `json:"solrad_monthly" yaml:"solrad_monthly"` // kWh/m2/day
	DCMonthly      []float64 `json:"dc_monthly" yaml:"dc_monthly"`         // kWh per month
	ACAnnual       float64   `json:"ac_annual" yaml:"ac_annual"`
	SolradAnnual   float64   `json:"solrad_annual" yaml:"solrad_annual"`
	CapacityFactor float64   `json:"capacity_factor" yaml:"capacity_factor"` // percent
}

// StationInfo describes the weather station used for the simulation.
type StationInfo struct {
	Lat               float64 `json:"lat" yaml:"lat"`
	Lon               float64 `json:"lon" yaml:"lon"`
	Elev              float64 `json:"elev" yaml:"elev"`
	TZ                float64 `json:"tz" yaml:"tz"`
	Location          string  `json:"location" yaml:"location"`
	City              string  `json:"city" yaml:"city"`
	State             string  `json:"state" yaml:"state"`
	SolarResourceFile string  `json:"solar_resource_file" yaml:"solar_resource_file"`
	Distance          int     `json:"distance" yaml:"distance"`
}

// TransportError reports that no usable response was received: network
// failure, timeout, a non-2xx status without an error list, or a body that
// could not be decoded.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.StatusCode != 0:
		return "pvwatts: unexpected status " + strconv.Itoa(e.StatusCode)
	}
	return "pvwatts: transport failure"
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Siting holds the array parameters sent with every request.
type Siting struct {
	ModuleType int
	ArrayType  int
	Losses     float64
	Tilt       float64
	Azimuth    float64
	Dataset    string
}

// DefaultSiting returns a fixed roof-mount array with standard modules,
// facing south at 20 degrees.
func DefaultSiting() Siting {
	return Siting{
		ModuleType: 0,
		ArrayType:  1,
		Losses:     14,
		Tilt:       20,
		Azimuth:    180,
		Dataset:    "nsrdb",
	}
}

// Option configures the PVWatts client.
type Option func(*httpClient)

// WithBaseURL sets a custom endpoint URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithSiting overrides the array parameters.
func WithSiting(s Siting) Option {
	return func(c *httpClient) {
		c.siting = s
	}
}

// WithTimeout sets the request timeout. It applies to a copy of the HTTP
// client, so a client passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	siting  Siting
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a new PVWatts client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://developer.nrel.gov/api/pvwatts/v8.json",
		siting:  DefaultSiting(),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c
}

func (c *httpClient) query(req Request) url.Values {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("system_capacity", formatFloat(req.SystemCapacityKW))
	q.Set("lat", formatFloat(req.Lat))
	q.Set("lon", formatFloat(req.Lon))
	q.Set("module_type", strconv.Itoa(c.siting.ModuleType))
	q.Set("array_type", strconv.Itoa(c.siting.ArrayType))
	q.Set("losses", formatFloat(c.siting.Losses))
	q.Set("tilt", formatFloat(c.siting.Tilt))
	q.Set("azimuth", formatFloat(c.siting.Azimuth))
	q.Set("timeframe", "monthly")
	if c.siting.Dataset != "" {
		q.Set("dataset", c.siting.Dataset)
	}
	return q
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (c *httpClient) FetchEstimate(ctx context.Context, req Request) (*Response, error) {
	reqURL := c.baseURL + "?" + c.query(req).Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &TransportError{Err: eris.Wrap(err, "pvwatts: create request")}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: eris.Wrap(err, "pvwatts: request failed")}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: eris.Wrap(err, "pvwatts: read response body")}
	}

	var result Response
	decodeErr := json.Unmarshal(body, &result)

	// PVWatts answers invalid input with a 4xx and an error list. That is a
	// service verdict on the request, so it goes back to the caller as-is.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && decodeErr == nil && result.HasErrors() {
		return &result, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("pvwatts: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 256)),
		}
	}

	if decodeErr != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: eris.Wrap(decodeErr, "pvwatts: unmarshal response")}
	}

	if !result.HasErrors() && result.Outputs == nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: eris.New("pvwatts: response has neither outputs nor errors")}
	}

	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
