package transform

// Vendor payloads are decoded into these structs at the client edge. Every field is optional;
// ToCanonical applies defaults, so nothing past this package sees a nil.

type vendorMain struct {
	Temp      *float64 `json:"temp"`
	FeelsLike *float64 `json:"feels_like"`
	TempMin   *float64 `json:"temp_min"`
	TempMax   *float64 `json:"temp_max"`
	Pressure  *int     `json:"pressure"`
	Humidity  *int     `json:"humidity"`
}

type vendorWeather struct {
	ID          *int    `json:"id"`
	Main        *string `json:"main"`
	Description *string `json:"description"`
	Icon        *string `json:"icon"`
}

type vendorWind struct {
	Speed *float64 `json:"speed"`
	Deg   *int     `json:"deg"`
}

type vendorClouds struct {
	All *int `json:"all"`
}

type vendorCoord struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// CurrentPayload is the subset of the current-conditions response this service reads.
type CurrentPayload struct {
	Name       *string            `json:"name"`
	Coord      *vendorCoord       `json:"coord"`
	Weather    []vendorWeather    `json:"weather"`
	Main       *vendorMain        `json:"main"`
	Visibility *int               `json:"visibility"`
	Wind       *vendorWind        `json:"wind"`
	Clouds     *vendorClouds      `json:"clouds"`
	Rain       map[string]float64 `json:"rain"`
	Dt         *int64             `json:"dt"`
	Timezone   *int               `json:"timezone"`
}

// ForecastEntry is one element of the forecast list.
type ForecastEntry struct {
	Dt      *int64          `json:"dt"`
	Main    *vendorMain     `json:"main"`
	Weather []vendorWeather `json:"weather"`
	Wind    *vendorWind     `json:"wind"`
}

// ForecastPayload is the subset of the forecast response this service reads.
type ForecastPayload struct {
	List []ForecastEntry `json:"list"`
}
