package models

import "time"

// Entity is a tracked municipality with stable coordinates.
type Entity struct {
	ID          string  `json:"id" yaml:"id"`
	DisplayName string  `json:"displayName" yaml:"name"`
	Lat         float64 `json:"lat" yaml:"lat"`
	Lon         float64 `json:"lon" yaml:"lon"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Conditions struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feelsLike"`
	TempMin   float64 `json:"tempMin"`
	TempMax   float64 `json:"tempMax"`
	Pressure  int     `json:"pressure"`
	Humidity  int     `json:"humidity"`
}

// Summary is the first vendor weather element; Icon is the vendor icon code, unchanged.
type Summary struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type Wind struct {
	Speed float64 `json:"speed"`
	Deg   int     `json:"deg"`
}

type Clouds struct {
	All int `json:"all"`
}

// ForecastPoint is one 3-hour forecast step.
type ForecastPoint struct {
	TimestampUnix int64   `json:"timestampUnix"`
	Temp          float64 `json:"temp"`
	FeelsLike     float64 `json:"feelsLike"`
	IconCode      string  `json:"iconCode"`
	Description   string  `json:"description"`
	Humidity      int     `json:"humidity"`
	WindSpeed     float64 `json:"windSpeed"`
}

// WeatherRecord is the canonical per-entity record stored in the aggregate document.
// Numeric values keep vendor precision; rounding is a presentation concern.
type WeatherRecord struct {
	EntityKey             string             `json:"entityKey"`
	DisplayName           string             `json:"displayName"`
	Coordinates           Coordinates        `json:"coordinates"`
	Conditions            Conditions         `json:"conditions"`
	Weather               Summary            `json:"weather"`
	Visibility            int                `json:"visibility"`
	Wind                  Wind               `json:"wind"`
	Clouds                Clouds             `json:"clouds"`
	Precipitation         map[string]float64 `json:"precipitation,omitempty"`
	ObservedAtUnix        int64              `json:"observedAtUnix"`
	TimezoneOffsetSeconds int                `json:"timezoneOffsetSeconds"`
	FetchedAtISO          string             `json:"fetchedAtISO"`
	Forecast              []ForecastPoint    `json:"forecast"`
}

// Trigger identifies what initiated a refresh.
type Trigger string

const (
	TriggerOnDemand  Trigger = "on_demand"
	TriggerScheduled Trigger = "scheduled"
)

// RefreshResult is returned by the scheduled trigger for external monitoring.
type RefreshResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
	Fetched   int    `json:"fetched"`
	Failed    int    `json:"failed"`
	Degraded  int    `json:"degraded"`
}

// NewRefreshResult stamps a result with the current UTC time.
func NewRefreshResult(now time.Time) RefreshResult {
	return RefreshResult{Timestamp: now.UTC().Format(time.RFC3339)}
}
