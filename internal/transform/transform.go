// Package transform maps vendor payloads onto the canonical weather record.
package transform

import (
	"time"

	"github.com/kjstillabower/weather-aggregate-service/internal/models"
	"github.com/kjstillabower/weather-aggregate-service/internal/registry"
)

// MaxForecastPoints is one day at 3-hour resolution.
const MaxForecastPoints = 8

// DefaultIcon is used when the vendor omits an icon code.
const DefaultIcon = "01d"

// ToCanonical builds a WeatherRecord for entity. Either payload may be nil; a nil or empty
// forecast yields an empty (non-nil) forecast slice. Values are not rounded.
func ToCanonical(current *CurrentPayload, forecast *ForecastPayload, entity models.Entity, fetchedAt time.Time) models.WeatherRecord {
	if current == nil {
		current = &CurrentPayload{}
	}
	main := current.Main
	if main == nil {
		main = &vendorMain{}
	}

	rec := models.WeatherRecord{
		EntityKey:   registry.NormalizeKey(entity.DisplayName),
		DisplayName: entity.DisplayName,
		Coordinates: models.Coordinates{Lat: entity.Lat, Lon: entity.Lon},
		Conditions: models.Conditions{
			Temp:      floatOr(main.Temp, 0),
			FeelsLike: floatOr(main.FeelsLike, 0),
			TempMin:   floatOr(main.TempMin, 0),
			TempMax:   floatOr(main.TempMax, 0),
			Pressure:  intOr(main.Pressure, 0),
			Humidity:  intOr(main.Humidity, 0),
		},
		Weather:               summary(current.Weather),
		Visibility:            intOr(current.Visibility, 0),
		ObservedAtUnix:        int64Or(current.Dt, 0),
		TimezoneOffsetSeconds: intOr(current.Timezone, 0),
		FetchedAtISO:          fetchedAt.UTC().Format(time.RFC3339),
		Forecast:              forecastPoints(forecast),
	}
	if c := current.Coord; c != nil {
		rec.Coordinates.Lat = floatOr(c.Lat, entity.Lat)
		rec.Coordinates.Lon = floatOr(c.Lon, entity.Lon)
	}
	if w := current.Wind; w != nil {
		rec.Wind = models.Wind{Speed: floatOr(w.Speed, 0), Deg: intOr(w.Deg, 0)}
	}
	if c := current.Clouds; c != nil {
		rec.Clouds = models.Clouds{All: intOr(c.All, 0)}
	}
	if len(current.Rain) > 0 {
		rec.Precipitation = make(map[string]float64, len(current.Rain))
		for k, v := range current.Rain {
			rec.Precipitation[k] = v
		}
	}
	return rec
}

func summary(ws []vendorWeather) models.Summary {
	if len(ws) == 0 {
		return models.Summary{Icon: DefaultIcon}
	}
	w := ws[0]
	return models.Summary{
		ID:          intOr(w.ID, 0),
		Main:        stringOr(w.Main, ""),
		Description: stringOr(w.Description, ""),
		Icon:        stringOr(w.Icon, DefaultIcon),
	}
}

func forecastPoints(f *ForecastPayload) []models.ForecastPoint {
	if f == nil {
		return []models.ForecastPoint{}
	}
	list := f.List
	if len(list) > MaxForecastPoints {
		list = list[:MaxForecastPoints]
	}
	out := make([]models.ForecastPoint, 0, len(list))
	for _, e := range list {
		main := e.Main
		if main == nil {
			main = &vendorMain{}
		}
		s := summary(e.Weather)
		p := models.ForecastPoint{
			TimestampUnix: int64Or(e.Dt, 0),
			Temp:          floatOr(main.Temp, 0),
			FeelsLike:     floatOr(main.FeelsLike, 0),
			IconCode:      s.Icon,
			Description:   s.Description,
			Humidity:      intOr(main.Humidity, 0),
		}
		if e.Wind != nil {
			p.WindSpeed = floatOr(e.Wind.Speed, 0)
		}
		out = append(out, p)
	}
	return out
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func int64Or(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}
