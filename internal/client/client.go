package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/kjstillabower/weather-aggregate-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-aggregate-service/internal/models"
	"github.com/kjstillabower/weather-aggregate-service/internal/observability"
	"github.com/kjstillabower/weather-aggregate-service/internal/transform"
)

// WeatherClient fetches one entity's canonical record from the vendor.
type WeatherClient interface {
	FetchEntity(ctx context.Context, entity models.Entity) (EntityResult, error)
	ValidateAPIKey(ctx context.Context) error
}

// EntityResult is a successful entity fetch. ForecastErr is set when the forecast call failed
// and Record.Forecast was degraded to an empty list.
type EntityResult struct {
	Record      models.WeatherRecord
	ForecastErr error
}

// Degraded reports whether the forecast could not be fetched.
func (r EntityResult) Degraded() bool {
	return r.ForecastErr != nil
}

var (
	ErrMissingAPIKey    = errors.New("weather API key not configured")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrCircuitOpen      = circuitbreaker.ErrOpen
)

// IsConfigError reports whether err means no entity can be fetched until configuration changes.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrInvalidAPIKey)
}

const (
	endpointCurrent  = "current"
	endpointForecast = "forecast"

	// DefaultBaseURL is the OpenWeatherMap 2.5 API root.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	// maxBodyBytes caps vendor response bodies; a 5-day forecast is ~16KB.
	maxBodyBytes = 1 << 20
)

type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time
}

// NewOpenWeatherClient returns a client for the vendor API at baseURL (DefaultBaseURL when empty).
// An empty apiKey returns ErrMissingAPIKey.
func NewOpenWeatherClient(apiKey, baseURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	return &OpenWeatherClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}, nil
}

// SetCircuitBreaker routes every vendor call through cb.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// FetchEntity performs the current-conditions call and, if it succeeds, the forecast call.
// A current-conditions failure fails the whole fetch. A forecast failure is returned in
// EntityResult.ForecastErr with an empty forecast. Each call is attempted once.
func (c *OpenWeatherClient) FetchEntity(ctx context.Context, entity models.Entity) (EntityResult, error) {
	var current transform.CurrentPayload
	if err := c.call(ctx, endpointCurrent, "/weather", entity, &current); err != nil {
		return EntityResult{}, fmt.Errorf("current conditions for %s: %w", entity.DisplayName, err)
	}

	var forecast transform.ForecastPayload
	var forecastErr error
	if err := c.call(ctx, endpointForecast, "/forecast", entity, &forecast); err != nil {
		forecastErr = fmt.Errorf("forecast for %s: %w", entity.DisplayName, err)
	}

	var fp *transform.ForecastPayload
	if forecastErr == nil {
		fp = &forecast
	}
	return EntityResult{
		Record:      transform.ToCanonical(&current, fp, entity, c.now()),
		ForecastErr: forecastErr,
	}, nil
}

// call runs one vendor request through the circuit breaker and decodes the body into out.
func (c *OpenWeatherClient) call(ctx context.Context, endpoint, path string, entity models.Entity, out interface{}) error {
	fn := func() error { return c.callAPI(ctx, endpoint, path, entity, out) }
	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, fn)
	} else {
		err = fn()
	}
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
	}
	return err
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint, path string, entity models.Entity, out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, entity.Lat, entity.Lon)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, path string, lat, lon float64) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("units", "metric")
	params.Set("appid", c.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: vendor rejected credentials", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues a current-conditions request for (0, 0) and reports whether the vendor
// accepted the key. It bypasses the circuit breaker so health checks do not trip it.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "/weather", 0, 0)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}

// UnconfiguredClient stands in when no API key is configured. Every call fails with Err,
// which IsConfigError recognizes, so requests and scheduled runs fail instead of the process.
type UnconfiguredClient struct {
	Err error
}

func (u UnconfiguredClient) FetchEntity(context.Context, models.Entity) (EntityResult, error) {
	return EntityResult{}, u.err()
}

func (u UnconfiguredClient) ValidateAPIKey(context.Context) error {
	return u.err()
}

func (u UnconfiguredClient) err() error {
	if u.Err == nil {
		return ErrMissingAPIKey
	}
	return u.Err
}

// BreakerIsSuccessful keeps caller-side errors (bad key, unknown coordinates, cancellation)
// from counting toward opening the circuit; only vendor-side failures should trip it.
func BreakerIsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, ErrInvalidAPIKey) || errors.Is(err, ErrLocationNotFound) || errors.Is(err, context.Canceled)
}
