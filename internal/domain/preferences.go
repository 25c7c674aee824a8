package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// UserPreferences are the rider-tunable thresholds scoring evaluates
// observations against. Defaults come from configuration; a session's copy is
// replaced wholesale by the preferences update operation.
type UserPreferences struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	Timezone  string  `json:"timezone" validate:"required"`

	MinTempC          float64 `json:"min_temp_c" validate:"min=-60,max=60"`
	MaxTempC          float64 `json:"max_temp_c" validate:"min=-60,max=60,gtefield=MinTempC"`
	MaxWindKph        float64 `json:"max_wind_kph" validate:"gt=0,max=200"`
	MaxAQI            float64 `json:"max_aqi" validate:"gt=0,max=500"`
	MaxPrecipProb     float64 `json:"max_precip_prob" validate:"min=0,max=100"`
	MinVisibilityKm   float64 `json:"min_visibility_km" validate:"min=0,max=100"`
	AvoidDarkness     bool    `json:"avoid_darkness"`
	MinRideDurationHr int     `json:"min_ride_duration_hr" validate:"min=1,max=24"`
	RideWindowHours   int     `json:"ride_window_hours" validate:"min=1,max=168"`
}

var prefsValidator = validator.New()

// Validate reports whether the preferences are within acceptable ranges.
func (p UserPreferences) Validate() error {
	if err := prefsValidator.Struct(p); err != nil {
		return fmt.Errorf("domain: invalid preferences: %w", err)
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("domain: invalid preferences: unknown timezone %q", p.Timezone)
	}
	return nil
}

// MinRideDuration returns the minimum ride duration as a time.Duration.
func (p UserPreferences) MinRideDuration() time.Duration {
	return time.Duration(p.MinRideDurationHr) * time.Hour
}
