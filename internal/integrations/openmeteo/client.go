// Package openmeteo fetches hourly forecast and air quality data from the
// Open-Meteo APIs and merges them into a single observation set.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"ride-agent/internal/domain"
)

const (
	defaultForecastURL   = "https://api.open-meteo.com/v1/forecast"
	defaultAirQualityURL = "https://air-quality-api.open-meteo.com/v1/air-quality"

	hourlyForecastFields = "temperature_2m,apparent_temperature,precipitation_probability,wind_speed_10m,wind_gusts_10m,visibility,is_day"
	hourlyAirFields      = "us_aqi"
)

// Client implements domain.ForecastSource against Open-Meteo. Requests run
// through a shared circuit breaker so a flapping upstream fails fast instead
// of tying up every session start.
type Client struct {
	httpClient    *http.Client
	forecastURL   string
	airQualityURL string
	circuit       *gobreaker.CircuitBreaker
	now           func() time.Time
}

type Option func(*Client)

// WithForecastURL overrides the forecast endpoint, used by tests.
func WithForecastURL(u string) Option {
	return func(c *Client) { c.forecastURL = u }
}

// WithAirQualityURL overrides the air quality endpoint, used by tests.
func WithAirQualityURL(u string) Option {
	return func(c *Client) { c.airQualityURL = u }
}

func New(httpClient *http.Client, opts ...Option) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("openmeteo: http client must not be nil")
	}
	c := &Client{
		httpClient:    httpClient,
		forecastURL:   defaultForecastURL,
		airQualityURL: defaultAirQualityURL,
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openmeteo",
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type hourlyPayload struct {
	Timezone string `json:"timezone"`
	Hourly   struct {
		Time                 []int64    `json:"time"`
		Temperature2m        []*float64 `json:"temperature_2m"`
		ApparentTemperature  []*float64 `json:"apparent_temperature"`
		PrecipProbability    []*float64 `json:"precipitation_probability"`
		WindSpeed10m         []*float64 `json:"wind_speed_10m"`
		WindGusts10m         []*float64 `json:"wind_gusts_10m"`
		VisibilityM          []*float64 `json:"visibility"`
		IsDay                []*int     `json:"is_day"`
		USAQI                []*float64 `json:"us_aqi"`
	} `json:"hourly"`
}

// Fetch retrieves hourly forecast and air quality rows for the window and
// merges them by timestamp. Air quality failures degrade to observations
// without AQI rather than failing the fetch.
func (c *Client) Fetch(ctx context.Context, lat, lon float64, window domain.TimeWindow) (domain.ObservationSet, error) {
	hours := int(window.Duration().Round(time.Hour) / time.Hour)
	if hours <= 0 {
		return domain.ObservationSet{}, fmt.Errorf("%w: empty window", domain.ErrNoData)
	}

	forecast, err := c.fetchHourly(ctx, c.forecastURL, lat, lon, hourlyForecastFields, hours)
	if err != nil {
		return domain.ObservationSet{}, err
	}

	air, err := c.fetchHourly(ctx, c.airQualityURL, lat, lon, hourlyAirFields, hours)
	if err != nil {
		air = nil
	}

	obs := mergeHourly(forecast, air, window)
	if len(obs) == 0 {
		return domain.ObservationSet{}, fmt.Errorf("%w: no hourly rows in window", domain.ErrNoData)
	}

	return domain.ObservationSet{
		Latitude:     lat,
		Longitude:    lon,
		Timezone:     forecast.Timezone,
		Source:       "open-meteo",
		FetchedAt:    c.now().UTC(),
		Observations: obs,
	}, nil
}

func (c *Client) fetchHourly(ctx context.Context, base string, lat, lon float64, fields string, hours int) (*hourlyPayload, error) {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	values.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	values.Set("hourly", fields)
	values.Set("forecast_hours", strconv.Itoa(hours))
	values.Set("wind_speed_unit", "kmh")
	values.Set("timeformat", "unixtime")
	values.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("openmeteo: build request: %w", err)
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
		}

		var payload hourlyPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &payload, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	return result.(*hourlyPayload), nil
}

func mergeHourly(forecast, air *hourlyPayload, window domain.TimeWindow) []domain.Observation {
	aqiByTime := make(map[int64]float64)
	if air != nil {
		for i, ts := range air.Hourly.Time {
			if i < len(air.Hourly.USAQI) && air.Hourly.USAQI[i] != nil {
				aqiByTime[ts] = *air.Hourly.USAQI[i]
			}
		}
	}

	h := forecast.Hourly
	out := make([]domain.Observation, 0, len(h.Time))
	for i, ts := range h.Time {
		t := time.Unix(ts, 0).UTC()
		if t.Before(window.Start.Truncate(time.Hour)) || !t.Before(window.End) {
			continue
		}
		temp := floatAt(h.Temperature2m, i)
		if temp == nil {
			// A row without temperature carries nothing scoreable.
			continue
		}

		o := domain.Observation{
			Time:                 t,
			TemperatureC:         *temp,
			ApparentTemperatureC: floatAt(h.ApparentTemperature, i),
			PrecipProbability:    floatAt(h.PrecipProbability, i),
			WindSpeedKph:         floatAt(h.WindSpeed10m, i),
			WindGustKph:          floatAt(h.WindGusts10m, i),
		}
		if vis := floatAt(h.VisibilityM, i); vis != nil {
			km := *vis / 1000.0
			o.VisibilityKm = &km
		}
		if i < len(h.IsDay) && h.IsDay[i] != nil {
			day := *h.IsDay[i] == 1
			o.IsDay = &day
		}
		if aqi, ok := aqiByTime[ts]; ok {
			v := aqi
			o.AQI = &v
		}
		out = append(out, o)
	}
	return out
}

func floatAt(vals []*float64, i int) *float64 {
	if i >= len(vals) || vals[i] == nil {
		return nil
	}
	v := *vals[i]
	return &v
}
