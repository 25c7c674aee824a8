package domain

import "time"

// Observation is a single timestamped weather/air-quality reading.
// Optional readings are pointers; a nil reading means the source did not
// report that measure for the hour and scoring treats it as unknown.
type Observation struct {
	Time                 time.Time `json:"time"`
	TemperatureC         float64   `json:"temperature_c"`
	ApparentTemperatureC *float64  `json:"apparent_temperature_c,omitempty"`
	PrecipProbability    *float64  `json:"precip_probability,omitempty"` // 0-100
	WindSpeedKph         *float64  `json:"wind_speed_kph,omitempty"`
	WindGustKph          *float64  `json:"wind_gust_kph,omitempty"`
	VisibilityKm         *float64  `json:"visibility_km,omitempty"`
	AQI                  *float64  `json:"aqi,omitempty"`
	IsDay                *bool     `json:"is_day,omitempty"`
}

// ObservationSet is the ordered sequence of readings a forecast source
// returned for a requested window. It is immutable once returned: nothing in
// the core mutates it after the fetch.
type ObservationSet struct {
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	Timezone     string        `json:"timezone"`
	Source       string        `json:"source"`
	FetchedAt    time.Time     `json:"fetched_at"`
	Observations []Observation `json:"observations"`
}

// TimeWindow is the contiguous time range a fetch or assessment covers.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
