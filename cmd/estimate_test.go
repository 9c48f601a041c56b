package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/solarmap/internal/config"
	"github.com/sells-group/solarmap/internal/geometry"
	"github.com/sells-group/solarmap/internal/report"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Solar: config.SolarConfig{
			DebounceMs:       500,
			ModuleEfficiency: 0.15,
			MinCapacityKW:    0.05,
			MaxCapacityKW:    500000,
		},
		PVWatts: config.PVWattsConfig{
			Key:         "test-key",
			BaseURL:     baseURL,
			TimeoutSecs: 5,
			ArrayType:   1,
			Losses:      14,
			Tilt:        20,
			Azimuth:     180,
		},
		Server: config.ServerConfig{
			AllowedOrigins:     []string{"*"},
			EditRatePerSec:     20,
			EditBurst:          40,
			SessionIdleMinutes: 30,
		},
	}
}

// writeSquare writes a GeoJSON square of the given side in meters around
// (-98, 40) and returns its path.
func writeSquare(t *testing.T, side float64) string {
	t.Helper()

	const metersPerDegree = 6378137.0 * math.Pi / 180
	dLat := (side / 2) / metersPerDegree
	dLon := dLat / math.Cos(40*math.Pi/180)
	ring := [][]float64{
		{-98 - dLon, 40 - dLat},
		{-98 + dLon, 40 - dLat},
		{-98 + dLon, 40 + dLat},
		{-98 - dLon, 40 + dLat},
		{-98 - dLon, 40 - dLat},
	}
	data, err := json.Marshal(map[string]any{
		"type":        "Polygon",
		"coordinates": [][][]float64{ring},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "area.geojson")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func pvwattsStub(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okBody = `{
  "version": "8.0.0",
  "warnings": [],
  "errors": [],
  "station_info": {"city": "Hastings", "state": "NE", "distance": 1200},
  "outputs": {
    "ac_monthly": [1,2,3,4,5,6,7,8,9,10,11,12],
    "ac_annual": 2100000,
    "solrad_annual": 5.1,
    "capacity_factor": 16.0
  }
}`

func TestRunEstimate_JSON(t *testing.T) {
	srv := pvwattsStub(t, http.StatusOK, okBody)
	c := testConfig(srv.URL)

	var out bytes.Buffer
	err := runEstimate(context.Background(), &out, newValidator(c), newEstimateClient(c), estimateOptions{
		Input:  writeSquare(t, 100),
		Format: report.FormatJSON,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.InDelta(t, 1500, got["capacity_kw"], 5)
	outputs := got["outputs"].(map[string]any)
	assert.InDelta(t, 2100000, outputs["ac_annual"], 1e-9)
}

func TestRunEstimate_WritesWorkbook(t *testing.T) {
	srv := pvwattsStub(t, http.StatusOK, okBody)
	c := testConfig(srv.URL)
	path := filepath.Join(t.TempDir(), "out.xlsx")

	var out bytes.Buffer
	err := runEstimate(context.Background(), &out, newValidator(c), newEstimateClient(c), estimateOptions{
		Input:  writeSquare(t, 100),
		Format: report.FormatText,
		XLSX:   path,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2,100,000 kWh")

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRunEstimate_RejectedPolygon(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	c := testConfig(srv.URL)

	var out bytes.Buffer
	err := runEstimate(context.Background(), &out, newValidator(c), newEstimateClient(c), estimateOptions{
		Input:  writeSquare(t, 2000),
		Format: report.FormatText,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polygon rejected")
	assert.Contains(t, out.String(), "capacity_too_large")
	assert.False(t, called, "a rejected polygon must not reach the service")
}

func TestRunEstimate_ServiceErrors(t *testing.T) {
	srv := pvwattsStub(t, http.StatusUnprocessableEntity, `{"errors":["lat out of range"]}`)
	c := testConfig(srv.URL)

	var out bytes.Buffer
	err := runEstimate(context.Background(), &out, newValidator(c), newEstimateClient(c), estimateOptions{
		Input:  writeSquare(t, 100),
		Format: report.FormatText,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lat out of range")
	assert.Contains(t, out.String(), "  - lat out of range")
}

func TestRunEstimate_TransportError(t *testing.T) {
	srv := pvwattsStub(t, http.StatusInternalServerError, "boom")
	c := testConfig(srv.URL)

	var out bytes.Buffer
	err := runEstimate(context.Background(), &out, newValidator(c), newEstimateClient(c), estimateOptions{
		Input:  writeSquare(t, 100),
		Format: report.FormatJSON,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "estimate: fetch")
	assert.Empty(t, out.String())
}

func TestRunEstimate_MissingInput(t *testing.T) {
	c := testConfig("http://127.0.0.1:1")
	err := runEstimate(context.Background(), &bytes.Buffer{}, newValidator(c), newEstimateClient(c), estimateOptions{
		Input:  filepath.Join(t.TempDir(), "nope.geojson"),
		Format: report.FormatJSON,
	})
	assert.Error(t, err)
}

func TestRunValidate(t *testing.T) {
	v := geometry.NewValidator(0.15, geometry.DefaultBounds())

	var out bytes.Buffer
	require.NoError(t, runValidate(&out, v, writeSquare(t, 100), report.FormatJSON))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, true, got["valid"])
	assert.InDelta(t, 10000, got["area_m2"], 10)
	assert.InDelta(t, 40, got["centroid_lat"], 1e-6)
	assert.Contains(t, got, "request")

	out.Reset()
	err := runValidate(&out, v, writeSquare(t, 0.5), report.FormatYAML)
	require.Error(t, err)
	assert.Contains(t, out.String(), "reason: capacity_too_small")
}
