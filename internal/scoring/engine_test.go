package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ride-agent/internal/domain"
)

var horizonStart = time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }
func bptr(v bool) *bool       { return &v }

func basePrefs() domain.UserPreferences {
	return domain.UserPreferences{
		Latitude:          52.52,
		Longitude:         13.405,
		Timezone:          "Europe/Berlin",
		MinTempC:          0,
		MaxTempC:          30,
		MaxWindKph:        25,
		MaxAQI:            100,
		MaxPrecipProb:     40,
		MinVisibilityKm:   1,
		MinRideDurationHr: 2,
		RideWindowHours:   24,
	}
}

// hour builds a fully-known observation at offset i from the horizon start.
func hour(i int, tempC, windKph float64) domain.Observation {
	return domain.Observation{
		Time:              horizonStart.Add(time.Duration(i) * time.Hour),
		TemperatureC:      tempC,
		PrecipProbability: fptr(5),
		WindSpeedKph:      fptr(windKph),
		VisibilityKm:      fptr(24),
		AQI:               fptr(42),
		IsDay:             bptr(true),
	}
}

func observationSet(obs ...domain.Observation) domain.ObservationSet {
	return domain.ObservationSet{
		Latitude:     52.52,
		Longitude:    13.405,
		Timezone:     "Europe/Berlin",
		Source:       "test",
		FetchedAt:    horizonStart,
		Observations: obs,
	}
}

func TestScore_EmptyObservations(t *testing.T) {
	e := New(DefaultConfig())
	_, err := e.Score(observationSet(), basePrefs())
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestScore_IdealConditions(t *testing.T) {
	e := New(DefaultConfig())
	set := observationSet(hour(0, 18, 10), hour(1, 18, 10), hour(2, 19, 12), hour(3, 18, 10))

	a, err := e.Score(set, basePrefs())
	require.NoError(t, err)
	require.Equal(t, 100.0, a.Score)
	require.Equal(t, domain.VerdictGo, a.Verdict)
	require.NotNil(t, a.BestWindow)
	require.Equal(t, set.FetchedAt, a.GeneratedAt)

	for _, f := range a.Factors {
		require.True(t, f.Passed, "factor %s should pass", f.Name)
	}
}

func TestScore_ColdAndWindyIsNoGo(t *testing.T) {
	e := New(DefaultConfig())
	prefs := basePrefs()
	prefs.MinTempC = 10

	// 5C against a 10C floor and 40 kph against a 25 kph ceiling: both
	// factors well past their thresholds, so the composite collapses.
	set := observationSet(hour(0, 5, 40), hour(1, 5, 40), hour(2, 5, 40), hour(3, 5, 40))

	a, err := e.Score(set, prefs)
	require.NoError(t, err)
	require.Equal(t, domain.VerdictNoGo, a.Verdict)
	require.Less(t, a.Score, 40.0)
	require.Nil(t, a.BestWindow)

	byName := factorsByName(a.Factors)
	require.False(t, byName[FactorTemperature].Passed)
	require.False(t, byName[FactorWind].Passed)
	require.True(t, byName[FactorPrecip].Passed)
}

func TestScore_Deterministic(t *testing.T) {
	e := New(DefaultConfig())
	set := observationSet(hour(0, 18, 10), hour(1, 2, 30), hour(2, 25, 18), hour(3, 18, 10))

	first, err := e.Score(set, basePrefs())
	require.NoError(t, err)
	second, err := e.Score(set, basePrefs())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestScore_PicksBestWindow(t *testing.T) {
	e := New(DefaultConfig())
	// Hour 2 is too hot; the clean pair at the start should win.
	set := observationSet(hour(0, 18, 10), hour(1, 18, 10), hour(2, 35, 10), hour(3, 18, 10))

	a, err := e.Score(set, basePrefs())
	require.NoError(t, err)
	require.Equal(t, domain.VerdictGo, a.Verdict)
	require.NotNil(t, a.BestWindow)
	require.Equal(t, horizonStart, a.BestWindow.Start)
	require.Equal(t, horizonStart.Add(2*time.Hour), a.BestWindow.End)
}

func TestScore_WindowContainedInHorizonAndLongEnough(t *testing.T) {
	e := New(DefaultConfig())
	prefs := basePrefs()
	prefs.MinRideDurationHr = 3

	obs := make([]domain.Observation, 8)
	for i := range obs {
		obs[i] = hour(i, 15+float64(i), 10)
	}
	set := observationSet(obs...)

	a, err := e.Score(set, prefs)
	require.NoError(t, err)
	require.NotNil(t, a.BestWindow)
	require.GreaterOrEqual(t, a.BestWindow.Duration(), 3*time.Hour)
	require.False(t, a.BestWindow.Start.Before(horizonStart))
	require.False(t, a.BestWindow.End.After(horizonStart.Add(8*time.Hour)))
}

func TestScore_HorizonShorterThanMinDuration(t *testing.T) {
	e := New(DefaultConfig())
	prefs := basePrefs()
	prefs.MinRideDurationHr = 4

	a, err := e.Score(observationSet(hour(0, 18, 10), hour(1, 18, 10)), prefs)
	require.NoError(t, err)
	require.Equal(t, domain.VerdictNoGo, a.Verdict)
	require.Nil(t, a.BestWindow)

	rw, ok := factorsByName(a.Factors)[FactorRideWindow]
	require.True(t, ok)
	require.False(t, rw.Passed)
}

func TestScore_AvoidDarknessBreaksRuns(t *testing.T) {
	e := New(DefaultConfig())
	prefs := basePrefs()
	prefs.AvoidDarkness = true

	night1, night2 := hour(0, 18, 10), hour(1, 18, 10)
	night1.IsDay = bptr(false)
	night2.IsDay = bptr(false)
	set := observationSet(night1, night2, hour(2, 18, 10), hour(3, 18, 10), hour(4, 18, 10))

	a, err := e.Score(set, prefs)
	require.NoError(t, err)
	require.NotNil(t, a.BestWindow)
	require.Equal(t, horizonStart.Add(2*time.Hour), a.BestWindow.Start)
}

func TestScore_AvoidDarknessNoDaylightWindow(t *testing.T) {
	e := New(DefaultConfig())
	prefs := basePrefs()
	prefs.AvoidDarkness = true

	obs := []domain.Observation{hour(0, 18, 10), hour(1, 18, 10), hour(2, 18, 10)}
	for i := range obs {
		obs[i].IsDay = bptr(false)
	}

	a, err := e.Score(observationSet(obs...), prefs)
	require.NoError(t, err)
	require.Equal(t, domain.VerdictNoGo, a.Verdict)
	require.Nil(t, a.BestWindow)
	require.Contains(t, factorsByName(a.Factors), FactorRideWindow)
}

func TestScore_GapBreaksRuns(t *testing.T) {
	e := New(DefaultConfig())
	late := hour(2, 18, 10)
	late.Time = horizonStart.Add(5 * time.Hour) // 4h gap after hour 1

	a, err := e.Score(observationSet(hour(0, 18, 10), hour(1, 18, 10), late), basePrefs())
	require.NoError(t, err)
	require.NotNil(t, a.BestWindow)
	require.Equal(t, horizonStart, a.BestWindow.Start)
	require.Equal(t, horizonStart.Add(2*time.Hour), a.BestWindow.End)
}

func TestScore_UnknownFactorsOmitted(t *testing.T) {
	e := New(DefaultConfig())
	obs := domain.Observation{
		Time:         horizonStart,
		TemperatureC: 18,
		WindSpeedKph: fptr(10),
	}
	next := obs
	next.Time = horizonStart.Add(time.Hour)

	prefs := basePrefs()
	a, err := e.Score(observationSet(obs, next), prefs)
	require.NoError(t, err)
	require.Equal(t, 100.0, a.Score)

	byName := factorsByName(a.Factors)
	require.Contains(t, byName, FactorTemperature)
	require.Contains(t, byName, FactorWind)
	require.NotContains(t, byName, FactorPrecip)
	require.NotContains(t, byName, FactorAirQuality)
	require.NotContains(t, byName, FactorVisibility)
}

func TestScore_GustsAnnotateWindDetail(t *testing.T) {
	e := New(DefaultConfig())
	gusty := hour(0, 18, 28)
	gusty.WindGustKph = fptr(55)
	second := hour(1, 18, 28)
	second.WindGustKph = fptr(55)

	a, err := e.Score(observationSet(gusty, second), basePrefs())
	require.NoError(t, err)

	wind := factorsByName(a.Factors)[FactorWind]
	require.False(t, wind.Passed)
	require.Contains(t, wind.Detail, "gusts to 55.0 kph")
}

func TestVerdictFor_MonotonicBands(t *testing.T) {
	e := New(DefaultConfig())
	require.Equal(t, domain.VerdictGo, e.VerdictFor(100))
	require.Equal(t, domain.VerdictGo, e.VerdictFor(70))
	require.Equal(t, domain.VerdictCaution, e.VerdictFor(69.9))
	require.Equal(t, domain.VerdictCaution, e.VerdictFor(40))
	require.Equal(t, domain.VerdictNoGo, e.VerdictFor(39.9))
	require.Equal(t, domain.VerdictNoGo, e.VerdictFor(0))

	// A higher score never yields a worse verdict.
	rank := map[domain.Verdict]int{domain.VerdictNoGo: 0, domain.VerdictCaution: 1, domain.VerdictGo: 2}
	prev := -1
	for s := 0.0; s <= 100; s += 0.5 {
		r := rank[e.VerdictFor(s)]
		require.GreaterOrEqual(t, r, prev)
		prev = r
	}
}

func factorsByName(factors []domain.Factor) map[string]domain.Factor {
	out := make(map[string]domain.Factor, len(factors))
	for _, f := range factors {
		out[f.Name] = f
	}
	return out
}
