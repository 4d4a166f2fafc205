package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-aggregate-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-aggregate-service/internal/models"
	"github.com/kjstillabower/weather-aggregate-service/internal/observability"
)

const testAPIKey = "test-api-key-12345"

var losBanos = models.Entity{ID: "los_baños", DisplayName: "Los Baños", Lat: 14.1763, Lon: 121.2219}

const currentBody = `{
	"coord": {"lon": 121.2219, "lat": 14.1763},
	"weather": [{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}],
	"main": {"temp": 27.4, "feels_like": 31.06, "temp_min": 26.9, "temp_max": 27.81, "pressure": 1009, "humidity": 81},
	"visibility": 10000, "wind": {"speed": 2.57, "deg": 240}, "clouds": {"all": 75},
	"dt": 1760860800, "timezone": 28800, "name": "Los Baños"
}`

func forecastBody(n int) string {
	entries := make([]string, n)
	for i := range entries {
		entries[i] = fmt.Sprintf(`{"dt": %d, "main": {"temp": 26.5, "feels_like": 28.1, "humidity": 84},
			"weather": [{"description": "overcast clouds", "icon": "04n"}], "wind": {"speed": 1.2}}`, 1760871600+i*10800)
	}
	return `{"list": [` + strings.Join(entries, ",") + `]}`
}

// vendorServer serves /weather and /forecast with the given status codes and counts calls.
type vendorServer struct {
	*httptest.Server
	currentStatus  int
	forecastStatus int
	currentCalls   atomic.Int32
	forecastCalls  atomic.Int32
	lastQuery      atomic.Value
	lastCorrID     atomic.Value
}

func newVendorServer(t *testing.T, currentStatus, forecastStatus int) *vendorServer {
	t.Helper()
	v := &vendorServer{currentStatus: currentStatus, forecastStatus: forecastStatus}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.lastQuery.Store(r.URL.RawQuery)
		v.lastCorrID.Store(r.Header.Get("X-Correlation-ID"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/weather":
			v.currentCalls.Add(1)
			w.WriteHeader(v.currentStatus)
			if v.currentStatus == http.StatusOK {
				_, _ = w.Write([]byte(currentBody))
			}
		case "/forecast":
			v.forecastCalls.Add(1)
			w.WriteHeader(v.forecastStatus)
			if v.forecastStatus == http.StatusOK {
				_, _ = w.Write([]byte(forecastBody(10)))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(v.Close)
	return v
}

func newTestClient(t *testing.T, baseURL string) *OpenWeatherClient {
	t.Helper()
	c, err := NewOpenWeatherClient(testAPIKey, baseURL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) }
	return c
}

func TestNewOpenWeatherClient_APIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{"empty API key", "", ErrMissingAPIKey},
		{"whitespace API key", "   ", ErrMissingAPIKey},
		{"too short API key", "short", ErrInvalidAPIKey},
		{"valid API key", "valid-api-key-12345", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenWeatherClient(tt.apiKey, "https://api.test.com", 2*time.Second)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewOpenWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if client != nil {
					t.Errorf("NewOpenWeatherClient() expected nil client on error")
				}
				return
			}
			if err != nil || client == nil {
				t.Fatalf("NewOpenWeatherClient() = %v, %v", client, err)
			}
		})
	}
}

// TestFetchEntity_Success verifies both calls are made with coordinates, metric units and the key,
// and that the record is built from the payloads.
func TestFetchEntity_Success(t *testing.T) {
	v := newVendorServer(t, http.StatusOK, http.StatusOK)
	c := newTestClient(t, v.URL)

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	res, err := c.FetchEntity(ctx, losBanos)
	if err != nil {
		t.Fatalf("FetchEntity() error = %v", err)
	}
	if res.Degraded() {
		t.Errorf("Degraded() = true, forecast err = %v", res.ForecastErr)
	}
	if res.Record.Conditions.Temp != 27.4 {
		t.Errorf("Temp = %v, want 27.4", res.Record.Conditions.Temp)
	}
	if res.Record.Weather.Icon != "10d" {
		t.Errorf("Icon = %q, want 10d", res.Record.Weather.Icon)
	}
	if len(res.Record.Forecast) != 8 {
		t.Errorf("len(Forecast) = %d, want 8", len(res.Record.Forecast))
	}
	if res.Record.FetchedAtISO != "2026-10-19T08:00:00Z" {
		t.Errorf("FetchedAtISO = %q", res.Record.FetchedAtISO)
	}

	q, _ := v.lastQuery.Load().(string)
	for _, want := range []string{"lat=14.1763", "lon=121.2219", "units=metric", "appid=" + testAPIKey} {
		if !strings.Contains(q, want) {
			t.Errorf("query %q missing %q", q, want)
		}
	}
	if got, _ := v.lastCorrID.Load().(string); got != "corr-1" {
		t.Errorf("X-Correlation-ID = %q, want corr-1", got)
	}
}

// TestFetchEntity_CurrentFailure verifies a failed current-conditions call fails the fetch
// without attempting the forecast.
func TestFetchEntity_CurrentFailure(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, ErrUpstreamFailure},
		{"bad gateway", http.StatusBadGateway, ErrUpstreamFailure},
		{"bad request", http.StatusBadRequest, ErrUpstreamFailure},
		{"unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey},
		{"not found", http.StatusNotFound, ErrLocationNotFound},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVendorServer(t, tt.status, http.StatusOK)
			c := newTestClient(t, v.URL)

			_, err := c.FetchEntity(context.Background(), losBanos)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FetchEntity() error = %v, want %v", err, tt.wantErr)
			}
			if n := v.forecastCalls.Load(); n != 0 {
				t.Errorf("forecast called %d times after current failure", n)
			}
			if n := v.currentCalls.Load(); n != 1 {
				t.Errorf("current called %d times, want exactly 1 (no retries)", n)
			}
		})
	}
}

// TestFetchEntity_ForecastFailureDegrades verifies a forecast failure yields a record with an
// empty forecast and a ForecastErr rather than an error.
func TestFetchEntity_ForecastFailureDegrades(t *testing.T) {
	v := newVendorServer(t, http.StatusOK, http.StatusServiceUnavailable)
	c := newTestClient(t, v.URL)

	res, err := c.FetchEntity(context.Background(), losBanos)
	if err != nil {
		t.Fatalf("FetchEntity() error = %v", err)
	}
	if !res.Degraded() || !errors.Is(res.ForecastErr, ErrUpstreamFailure) {
		t.Errorf("ForecastErr = %v, want upstream failure", res.ForecastErr)
	}
	if res.Record.Forecast == nil || len(res.Record.Forecast) != 0 {
		t.Errorf("Forecast = %v, want empty slice", res.Record.Forecast)
	}
	if res.Record.Conditions.Humidity != 81 {
		t.Errorf("Humidity = %d, want 81", res.Record.Conditions.Humidity)
	}
	if n := v.forecastCalls.Load(); n != 1 {
		t.Errorf("forecast called %d times, want 1", n)
	}
}

func TestFetchEntity_MalformedCurrentBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.FetchEntity(context.Background(), losBanos)
	if err == nil || CategorizeError(err) != ErrorCategoryParsing {
		t.Errorf("FetchEntity() error = %v, want parsing error", err)
	}
}

// TestFetchEntity_Timeout verifies the client timeout bounds a hung vendor.
func TestFetchEntity_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	c, err := NewOpenWeatherClient(testAPIKey, server.URL, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	start := time.Now()
	if _, err := c.FetchEntity(context.Background(), losBanos); err == nil {
		t.Fatal("FetchEntity() error = nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("FetchEntity() took %v, want bounded by client timeout", elapsed)
	}
}

// TestFetchEntity_CircuitOpen verifies repeated vendor failures open the breaker and later calls
// fail fast with ErrCircuitOpen.
func TestFetchEntity_CircuitOpen(t *testing.T) {
	v := newVendorServer(t, http.StatusBadGateway, http.StatusOK)
	c := newTestClient(t, v.URL)
	c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          time.Hour,
		IsSuccessful:     BreakerIsSuccessful,
	}))

	for i := 0; i < 2; i++ {
		if _, err := c.FetchEntity(context.Background(), losBanos); !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("call %d error = %v", i, err)
		}
	}
	_, err := c.FetchEntity(context.Background(), losBanos)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("FetchEntity() error = %v, want ErrCircuitOpen", err)
	}
	if n := v.currentCalls.Load(); n != 2 {
		t.Errorf("vendor called %d times, want 2", n)
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
		isKey   bool
	}{
		{"ok", http.StatusOK, false, false},
		{"unauthorized", http.StatusUnauthorized, true, true},
		{"server error", http.StatusInternalServerError, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVendorServer(t, tt.status, http.StatusOK)
			c := newTestClient(t, v.URL)
			err := c.ValidateAPIKey(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.isKey && !errors.Is(err, ErrInvalidAPIKey) {
				t.Errorf("ValidateAPIKey() error = %v, want ErrInvalidAPIKey", err)
			}
		})
	}
}

func TestUnconfiguredClient(t *testing.T) {
	var c WeatherClient = UnconfiguredClient{}
	if _, err := c.FetchEntity(context.Background(), losBanos); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("FetchEntity() error = %v, want ErrMissingAPIKey", err)
	}
	if err := c.ValidateAPIKey(context.Background()); !IsConfigError(err) {
		t.Errorf("ValidateAPIKey() error = %v, want config error", err)
	}
}

func TestStatusLabel(t *testing.T) {
	for code, want := range map[int]string{200: "success", 204: "success", 429: "rate_limited", 404: "client_error", 503: "server_error", 100: "error"} {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
