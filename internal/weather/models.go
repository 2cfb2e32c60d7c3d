package weather

import (
	"encoding/json"
	"time"
)

// City is a statically configured place we pull observations for.
type City struct {
	Name    string `json:"name" validate:"required"`
	Country string `json:"country" validate:"required"`
}

// Key returns a canonical string key for logging and indexing this city.
func (c City) Key() string {
	return c.Name + ":" + c.Country
}

// DefaultCities is the city list used when none is configured.
func DefaultCities() []City {
	return []City{
		{Name: "Nairobi", Country: "KE"},
		{Name: "Lagos", Country: "NG"},
		{Name: "Accra", Country: "GH"},
		{Name: "Johannesburg", Country: "ZA"},
	}
}

// Observation is the typed view of an OpenWeatherMap current-weather response.
// Every section the provider may omit is a pointer so absence stays visible.
// Numbers are decoded as float64 whatever their documented type, so a
// provider sending 1012.5 for an integer field is staged and loaded as sent.
type Observation struct {
	Dt         *float64           `json:"dt"`
	Name       *string            `json:"name"`
	Sys        *SysSection        `json:"sys"`
	Coord      *CoordSection      `json:"coord"`
	Main       *MainSection       `json:"main"`
	Wind       *WindSection       `json:"wind"`
	Clouds     *CloudsSection     `json:"clouds"`
	Visibility *float64           `json:"visibility"`
	Rain       *PrecipSection     `json:"rain"`
	Snow       *PrecipSection     `json:"snow"`
	Weather    []ConditionSection `json:"weather"`
}

type SysSection struct {
	Country *string `json:"country"`
}

type CoordSection struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type MainSection struct {
	Temp      *float64 `json:"temp"`
	FeelsLike *float64 `json:"feels_like"`
	Pressure  *float64 `json:"pressure"`
	Humidity  *float64 `json:"humidity"`
}

type WindSection struct {
	Speed *float64 `json:"speed"`
	Deg   *float64 `json:"deg"`
}

type CloudsSection struct {
	All *float64 `json:"all"`
}

// PrecipSection holds precipitation volume for the last hour in mm.
type PrecipSection struct {
	OneH *float64 `json:"1h"`
}

type ConditionSection struct {
	Main        *string `json:"main"`
	Description *string `json:"description"`
}

// ProviderResponse is what the fetcher hands back: the untouched body plus its
// decoded form.
type ProviderResponse struct {
	Raw         json.RawMessage
	Observation Observation
}

// RawObservation is a staged provider response.
// ID is "{city}_{dt}" and doubles as the idempotency key.
type RawObservation struct {
	ID        string          `json:"id"`
	RawJSON   json.RawMessage `json:"raw_json"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Reading is the flat row loaded into the relational store.
// Numeric fields are nil when the provider omitted them; precipitation
// defaults to zero instead.
type Reading struct {
	City                 string    `json:"city"`
	Country              *string   `json:"country"`
	ObservedAt           time.Time `json:"observed_at"` // always UTC
	Lat                  *float64  `json:"lat"`
	Lon                  *float64  `json:"lon"`
	TempC                *float64  `json:"temp_c"`
	FeelsLikeC           *float64  `json:"feels_like_c"`
	PressureHpa          *float64  `json:"pressure_hpa"`
	HumidityPct          *float64  `json:"humidity_pct"`
	WindSpeedMS          *float64  `json:"wind_speed_ms"`
	WindDeg              *float64  `json:"wind_deg"`
	CloudPct             *float64  `json:"cloud_pct"`
	VisibilityM          *float64  `json:"visibility_m"`
	Rain1hMM             float64   `json:"rain_1h_mm"`
	Snow1hMM             float64   `json:"snow_1h_mm"`
	ConditionMain        *string   `json:"condition_main"`
	ConditionDescription *string   `json:"condition_description"`
}
