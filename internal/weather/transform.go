package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMissingEpoch is returned when a provider response carries no "dt" field.
var ErrMissingEpoch = errors.New("observation has no dt epoch")

// Epoch returns the provider observation time in unix seconds.
// A fractional dt is truncated.
func (o Observation) Epoch() (int64, error) {
	if o.Dt == nil {
		return 0, ErrMissingEpoch
	}
	return int64(math.Trunc(*o.Dt)), nil
}

// DecodeObservation parses a raw provider body into an Observation.
func DecodeObservation(raw []byte) (Observation, error) {
	var obs Observation
	if err := json.Unmarshal(raw, &obs); err != nil {
		return Observation{}, fmt.Errorf("decode observation: %w", err)
	}
	return obs, nil
}

// Transform maps an observation onto a flat Reading.
// It has no side effects; the only failure is a missing epoch.
func Transform(obs Observation) (Reading, error) {
	dt, err := obs.Epoch()
	if err != nil {
		return Reading{}, err
	}

	sys := deref(obs.Sys)
	coord := deref(obs.Coord)
	main := deref(obs.Main)
	wind := deref(obs.Wind)
	clouds := deref(obs.Clouds)
	rain := deref(obs.Rain)
	snow := deref(obs.Snow)

	var cond ConditionSection
	if len(obs.Weather) > 0 {
		cond = obs.Weather[0]
	}

	r := Reading{
		Country:              sys.Country,
		ObservedAt:           time.Unix(dt, 0).UTC(),
		Lat:                  coord.Lat,
		Lon:                  coord.Lon,
		TempC:                main.Temp,
		FeelsLikeC:           main.FeelsLike,
		PressureHpa:          main.Pressure,
		HumidityPct:          main.Humidity,
		WindSpeedMS:          wind.Speed,
		WindDeg:              wind.Deg,
		CloudPct:             clouds.All,
		VisibilityM:          obs.Visibility,
		Rain1hMM:             valueOr(rain.OneH, 0.0),
		Snow1hMM:             valueOr(snow.OneH, 0.0),
		ConditionMain:        cond.Main,
		ConditionDescription: cond.Description,
	}
	if obs.Name != nil {
		r.City = *obs.Name
	}
	return r, nil
}

// TransformRaw decodes a staged document and transforms it.
func TransformRaw(doc RawObservation) (Reading, error) {
	obs, err := DecodeObservation(doc.RawJSON)
	if err != nil {
		return Reading{}, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	r, err := Transform(obs)
	if err != nil {
		return Reading{}, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	return r, nil
}

// StagingKey builds the idempotency key for a city's observation.
func StagingKey(city City, obs Observation) (string, error) {
	dt, err := obs.Epoch()
	if err != nil {
		return "", fmt.Errorf("staging key for %s: %w", city.Name, err)
	}
	return fmt.Sprintf("%s_%d", city.Name, dt), nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
