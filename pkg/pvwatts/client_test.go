package pvwatts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOutputs() *Outputs {
	return &Outputs{
		ACMonthly:      []float64{110, 120, 160, 175, 190, 195, 200, 190, 170, 150, 115, 100},
		ACAnnual:       1875,
		SolradAnnual:   5.1,
		CapacityFactor: 16.2,
	}
}

func TestFetchEstimate_Success(t *testing.T) {
	t.Parallel()

	want := Response{
		Version:     "8.2.1",
		StationInfo: &StationInfo{Lat: 40.01, Lon: -98.01, City: "Lebanon", State: "KS", Distance: 1520},
		Outputs:     sampleOutputs(),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "1500", q.Get("system_capacity"))
		assert.Equal(t, "40", q.Get("lat"))
		assert.Equal(t, "-98", q.Get("lon"))
		assert.Equal(t, "0", q.Get("module_type"))
		assert.Equal(t, "1", q.Get("array_type"))
		assert.Equal(t, "14", q.Get("losses"))
		assert.Equal(t, "20", q.Get("tilt"))
		assert.Equal(t, "180", q.Get("azimuth"))
		assert.Equal(t, "monthly", q.Get("timeframe"))
		assert.Equal(t, "nsrdb", q.Get("dataset"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.FetchEstimate(context.Background(), Request{SystemCapacityKW: 1500, Lat: 40, Lon: -98})

	require.NoError(t, err)
	require.NotNil(t, got.Outputs)
	assert.False(t, got.HasErrors())
	assert.InDelta(t, 1875, got.Outputs.ACAnnual, 1e-9)
	assert.Len(t, got.Outputs.ACMonthly, 12)
	assert.Equal(t, "KS", got.StationInfo.State)
}

func TestFetchEstimate_CustomSiting(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("array_type"))
		assert.Equal(t, "10.5", q.Get("losses"))
		assert.Equal(t, "35", q.Get("tilt"))
		assert.Equal(t, "", q.Get("dataset"))
		json.NewEncoder(w).Encode(Response{Outputs: sampleOutputs()})
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithSiting(Siting{
		ModuleType: 1,
		ArrayType:  2,
		Losses:     10.5,
		Tilt:       35,
		Azimuth:    170,
	}))
	_, err := client.FetchEstimate(context.Background(), Request{SystemCapacityKW: 4, Lat: 35, Lon: -100})
	require.NoError(t, err)
}

func TestFetchEstimate_DomainErrorsOn422(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"inputs":{},"errors":["system_capacity must be between 0.05 and 500000"],"warnings":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	got, err := client.FetchEstimate(context.Background(), Request{SystemCapacityKW: 1, Lat: 1, Lon: 1})

	require.NoError(t, err, "a response with an error list is not a transport failure")
	assert.True(t, got.HasErrors())
	assert.Equal(t, []string{"system_capacity must be between 0.05 and 500000"}, got.Errors)
	assert.Nil(t, got.Outputs)
}

func TestFetchEstimate_DomainErrorsOn200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":["lat out of range","lon out of range"]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	got, err := client.FetchEstimate(context.Background(), Request{SystemCapacityKW: 1, Lat: 99, Lon: 1})

	require.NoError(t, err)
	assert.Len(t, got.Errors, 2)
}

func TestFetchEstimate_ServerErrorIsTransport(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.FetchEstimate(context.Background(), Request{SystemCapacityKW: 1, Lat: 1, Lon: 1})

	require.Error(t, err)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(1), calls.Load(), "no internal retries")
}

func TestFetchEstimate_RateLimitedIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"OVER_RATE_LIMIT","message":"You have exceeded your rate limit."}}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.FetchEstimate(context.Background(), Request{SystemCapacityKW: 1, Lat: 1, Lon: 1})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
}

func TestFetchEstimate_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.FetchEstimate(context.Background(), Request{SystemCapacityKW: 1, Lat: 1, Lon: 1})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestFetchEstimate_MissingOutputs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inputs":{},"errors":[],"warnings":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.FetchEstimate(context.Background(), Request{SystemCapacityKW: 1, Lat: 1, Lon: 1})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "neither outputs nor errors")
}

func TestFetchEstimate_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.FetchEstimate(ctx, Request{SystemCapacityKW: 1, Lat: 1, Lon: 1})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestFetchEstimate_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient("k", WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond))
	_, err := client.FetchEstimate(context.Background(), Request{SystemCapacityKW: 1, Lat: 1, Lon: 1})

	var te *TransportError
	require.ErrorAs(t, err, &te)
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()
	customClient := &http.Client{}
	c := NewClient("k", WithHTTPClient(customClient))
	hc := c.(*httpClient)
	assert.Equal(t, customClient, hc.http)
}

func TestWithTimeout_CopiesHTTPClient(t *testing.T) {
	t.Parallel()
	shared := &http.Client{Timeout: time.Minute}
	c := NewClient("k", WithHTTPClient(shared), WithTimeout(5*time.Second))
	hc := c.(*httpClient)

	assert.NotSame(t, shared, hc.http)
	assert.Equal(t, 5*time.Second, hc.http.Timeout)
	assert.Equal(t, time.Minute, shared.Timeout, "caller's client must not change")
}

func TestWithTimeout_AfterNilHTTPClient(t *testing.T) {
	t.Parallel()
	var c Client
	require.NotPanics(t, func() {
		c = NewClient("k", WithHTTPClient(nil), WithTimeout(time.Second))
	})
	assert.Equal(t, time.Second, c.(*httpClient).http.Timeout)
}

func TestTransportError_Message(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "pvwatts: transport failure", (&TransportError{}).Error())
	assert.Equal(t, "pvwatts: unexpected status 502", (&TransportError{StatusCode: 502}).Error())
	assert.Equal(t, "dial refused", (&TransportError{Err: errors.New("dial refused")}).Error())
}

func TestDefaultSiting(t *testing.T) {
	t.Parallel()
	s := DefaultSiting()
	assert.Equal(t, 1, s.ArrayType)
	assert.InDelta(t, 180, s.Azimuth, 1e-9)
	assert.Equal(t, "nsrdb", s.Dataset)
}
