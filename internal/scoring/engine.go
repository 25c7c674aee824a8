// Package scoring turns an observation set plus rider preferences into a
// suitability assessment. It is pure: no I/O, no clock, no randomness —
// identical inputs always produce a bit-identical assessment.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ride-agent/internal/domain"
)

// ErrInvalidInput marks precondition violations (e.g. an empty observation
// set). Scoring never performs I/O, so this is the only failure it can have.
var ErrInvalidInput = errors.New("scoring: invalid input")

// Factor names, in the fixed order they appear in every assessment.
const (
	FactorTemperature = "temperature"
	FactorPrecip      = "precipitation"
	FactorWind        = "wind"
	FactorVisibility  = "visibility"
	FactorAirQuality  = "air_quality"
	FactorRideWindow  = "ride_window"
)

// Bands are the score thresholds that map a numeric score to a verdict.
// score >= Go is go, score >= Caution is caution, anything below is no-go.
type Bands struct {
	Go      float64
	Caution float64
}

// Config fixes the weighted scheme. Weights sum to 1; a factor at full
// severity removes four times its weight share from the 100-point composite,
// so a single badly failed factor can sink an hour on its own.
type Config struct {
	TemperatureWeight float64
	PrecipWeight      float64
	WindWeight        float64
	VisibilityWeight  float64
	AirQualityWeight  float64

	// TemperatureRampC is how many degrees beyond the preferred range it
	// takes for the temperature factor to reach full severity.
	TemperatureRampC float64

	Bands Bands

	// SeverityMultiplier scales a factor's weight share into its maximum
	// composite penalty.
	SeverityMultiplier float64

	// MaxHourGap is the largest spacing between consecutive observations
	// still treated as one contiguous run.
	MaxHourGap time.Duration
}

// DefaultConfig returns the documented product constants: verdict bands at
// 70 (go) and 40 (caution), equal emphasis on temperature and wind, and a
// 10 degree Celsius temperature ramp.
func DefaultConfig() Config {
	return Config{
		TemperatureWeight:  0.25,
		PrecipWeight:       0.20,
		WindWeight:         0.25,
		VisibilityWeight:   0.15,
		AirQualityWeight:   0.15,
		TemperatureRampC:   10,
		Bands:              Bands{Go: 70, Caution: 40},
		SeverityMultiplier: 4,
		MaxHourGap:         65 * time.Minute,
	}
}

// Engine evaluates observation sets under a fixed configuration.
type Engine struct {
	cfg Config
}

// New creates an Engine. Zero-valued fields fall back to DefaultConfig.
func New(cfg Config) Engine {
	def := DefaultConfig()
	if cfg.TemperatureWeight == 0 && cfg.WindWeight == 0 {
		cfg = def
	}
	if cfg.Bands.Go == 0 {
		cfg.Bands = def.Bands
	}
	if cfg.MaxHourGap == 0 {
		cfg.MaxHourGap = def.MaxHourGap
	}
	if cfg.SeverityMultiplier == 0 {
		cfg.SeverityMultiplier = def.SeverityMultiplier
	}
	if cfg.TemperatureRampC == 0 {
		cfg.TemperatureRampC = def.TemperatureRampC
	}
	return Engine{cfg: cfg}
}

// VerdictFor maps a score to its verdict band. Monotonic by construction: a
// higher score never yields a worse verdict.
func (e Engine) VerdictFor(score float64) domain.Verdict {
	switch {
	case score >= e.cfg.Bands.Go:
		return domain.VerdictGo
	case score >= e.cfg.Bands.Caution:
		return domain.VerdictCaution
	default:
		return domain.VerdictNoGo
	}
}

// factorEval is one measure's comparison against its threshold for a single
// hour. severity is 0 when passing and ramps to 1 at full severity.
type factorEval struct {
	name      string
	known     bool
	observed  float64
	threshold float64
	passed    bool
	severity  float64
	detail    string
}

// Score computes the suitability assessment for the observation set.
//
// Each hour gets a composite score of 100 minus weighted severity penalties.
// The best contiguous sub-window of at least the minimum ride duration (by
// highest average composite, ties broken by earliest start) supplies the
// overall score; the verdict follows the configured bands. A no-go
// assessment carries no recommended window.
func (e Engine) Score(obs domain.ObservationSet, prefs domain.UserPreferences) (domain.SuitabilityAssessment, error) {
	if len(obs.Observations) == 0 {
		return domain.SuitabilityAssessment{}, fmt.Errorf("%w: empty observation set", ErrInvalidInput)
	}

	hours := obs.Observations
	composites := make([]float64, len(hours))
	evals := make([][]factorEval, len(hours))
	for i, h := range hours {
		evals[i] = e.evaluateHour(h, prefs)
		composites[i] = e.composite(evals[i])
	}

	minHours := prefs.MinRideDurationHr
	if minHours < 1 {
		minHours = 1
	}

	best, ok := e.bestWindow(hours, composites, prefs, minHours)
	assessment := domain.SuitabilityAssessment{GeneratedAt: obs.FetchedAt}

	if !ok {
		// Too short a horizon (or every hour excluded by darkness): no
		// rideable window exists, so the verdict is no-go regardless of the
		// average conditions.
		assessment.Score = round1(mean(composites))
		assessment.Verdict = domain.VerdictNoGo
		assessment.Factors = e.aggregateFactors(evals, 0, len(hours))
		assessment.Factors = append(assessment.Factors, domain.Factor{
			Name:      FactorRideWindow,
			Observed:  float64(len(hours)),
			Threshold: float64(minHours),
			Passed:    false,
			Detail: fmt.Sprintf("no contiguous %dh window available in a %dh horizon",
				minHours, len(hours)),
		})
		return assessment, nil
	}

	assessment.Score = round1(meanRange(composites, best.start, best.end))
	assessment.Verdict = e.VerdictFor(assessment.Score)
	assessment.Factors = e.aggregateFactors(evals, best.start, best.end)
	if assessment.Verdict != domain.VerdictNoGo {
		assessment.BestWindow = &domain.TimeWindow{
			Start: hours[best.start].Time,
			End:   hours[best.end-1].Time.Add(time.Hour),
		}
	}
	return assessment, nil
}

// evaluateHour compares every measure of one observation against the
// preference thresholds. Unknown readings yield known=false and are skipped
// when aggregating; the factor order here fixes the order in the output.
func (e Engine) evaluateHour(h domain.Observation, prefs domain.UserPreferences) []factorEval {
	out := make([]factorEval, 0, 5)

	// Temperature: full score inside [MinTempC, MaxTempC], severity ramps
	// over TemperatureRampC degrees beyond either bound.
	temp := factorEval{name: FactorTemperature, known: true, observed: h.TemperatureC, passed: true}
	switch {
	case h.TemperatureC < prefs.MinTempC:
		temp.threshold = prefs.MinTempC
		temp.passed = false
		temp.severity = ramp(prefs.MinTempC-h.TemperatureC, e.cfg.TemperatureRampC)
		temp.detail = fmt.Sprintf("%.1fC below preferred minimum %.1fC", h.TemperatureC, prefs.MinTempC)
	case h.TemperatureC > prefs.MaxTempC:
		temp.threshold = prefs.MaxTempC
		temp.passed = false
		temp.severity = ramp(h.TemperatureC-prefs.MaxTempC, e.cfg.TemperatureRampC)
		temp.detail = fmt.Sprintf("%.1fC above preferred maximum %.1fC", h.TemperatureC, prefs.MaxTempC)
	default:
		temp.threshold = prefs.MinTempC
	}
	out = append(out, temp)

	precip := factorEval{name: FactorPrecip, threshold: prefs.MaxPrecipProb, passed: true}
	if h.PrecipProbability != nil {
		precip.known = true
		precip.observed = *h.PrecipProbability
		if precip.observed > prefs.MaxPrecipProb {
			precip.passed = false
			precip.severity = ramp(precip.observed-prefs.MaxPrecipProb, 100-prefs.MaxPrecipProb)
			precip.detail = fmt.Sprintf("%.0f%% precipitation probability exceeds %.0f%%",
				precip.observed, prefs.MaxPrecipProb)
		}
	}
	out = append(out, precip)

	wind := factorEval{name: FactorWind, threshold: prefs.MaxWindKph, passed: true}
	if h.WindSpeedKph != nil {
		wind.known = true
		wind.observed = *h.WindSpeedKph
		if wind.observed > prefs.MaxWindKph {
			wind.passed = false
			wind.severity = ramp(wind.observed-prefs.MaxWindKph, prefs.MaxWindKph)
			wind.detail = fmt.Sprintf("wind %.1f kph exceeds limit %.1f kph", wind.observed, prefs.MaxWindKph)
		}
		if h.WindGustKph != nil && *h.WindGustKph > prefs.MaxWindKph+15 {
			wind.detail = joinDetail(wind.detail,
				fmt.Sprintf("gusts to %.1f kph", *h.WindGustKph))
		}
	}
	out = append(out, wind)

	vis := factorEval{name: FactorVisibility, threshold: prefs.MinVisibilityKm, passed: true}
	if h.VisibilityKm != nil && prefs.MinVisibilityKm > 0 {
		vis.known = true
		vis.observed = *h.VisibilityKm
		if vis.observed < prefs.MinVisibilityKm {
			vis.passed = false
			vis.severity = ramp(prefs.MinVisibilityKm-vis.observed, prefs.MinVisibilityKm)
			vis.detail = fmt.Sprintf("visibility %.1f km below %.1f km", vis.observed, prefs.MinVisibilityKm)
		}
	}
	out = append(out, vis)

	aqi := factorEval{name: FactorAirQuality, threshold: prefs.MaxAQI, passed: true}
	if h.AQI != nil {
		aqi.known = true
		aqi.observed = *h.AQI
		if aqi.observed > prefs.MaxAQI {
			aqi.passed = false
			aqi.severity = ramp(aqi.observed-prefs.MaxAQI, prefs.MaxAQI)
			aqi.detail = fmt.Sprintf("AQI %.0f exceeds preferred maximum %.0f", aqi.observed, prefs.MaxAQI)
		}
	}
	out = append(out, aqi)

	return out
}

// composite collapses an hour's factor evaluations into a 0-100 score.
// Weights of unknown factors are renormalised over the known ones.
func (e Engine) composite(evals []factorEval) float64 {
	var knownWeight float64
	for _, ev := range evals {
		if ev.known {
			knownWeight += e.weightOf(ev.name)
		}
	}
	if knownWeight == 0 {
		return 0
	}

	score := 100.0
	for _, ev := range evals {
		if !ev.known || ev.severity == 0 {
			continue
		}
		w := e.weightOf(ev.name) / knownWeight
		score -= 100 * e.cfg.SeverityMultiplier * w * ev.severity
	}
	return clamp(score, 0, 100)
}

func (e Engine) weightOf(name string) float64 {
	switch name {
	case FactorTemperature:
		return e.cfg.TemperatureWeight
	case FactorPrecip:
		return e.cfg.PrecipWeight
	case FactorWind:
		return e.cfg.WindWeight
	case FactorVisibility:
		return e.cfg.VisibilityWeight
	case FactorAirQuality:
		return e.cfg.AirQualityWeight
	}
	return 0
}

type windowSpan struct {
	start, end int // half-open index range into the observations
}

// bestWindow slides every window of at least minHours over the contiguous,
// ride-eligible runs of the horizon and picks the highest average composite.
// Ties break to earliest start, then longest duration. Hours in darkness are
// excluded from candidacy when the rider avoids darkness.
func (e Engine) bestWindow(hours []domain.Observation, composites []float64, prefs domain.UserPreferences, minHours int) (windowSpan, bool) {
	eligible := func(i int) bool {
		if !prefs.AvoidDarkness {
			return true
		}
		return hours[i].IsDay == nil || *hours[i].IsDay
	}

	var (
		best     windowSpan
		bestAvg  float64
		haveBest bool
	)
	runStart := 0
	for i := 0; i <= len(hours); i++ {
		endOfRun := i == len(hours) || !eligible(i) ||
			(i > 0 && hours[i].Time.Sub(hours[i-1].Time) > e.cfg.MaxHourGap)
		if !endOfRun {
			continue
		}
		for s := runStart; s+minHours <= i; s++ {
			for t := s + minHours; t <= i; t++ {
				avg := meanRange(composites, s, t)
				switch {
				case !haveBest || avg > bestAvg:
					// strictly better
				case avg == bestAvg && s == best.start && t-s > best.end-best.start:
					// same average at the same start: prefer the longer ride
				default:
					continue // earlier start wins exact ties
				}
				best = windowSpan{start: s, end: t}
				bestAvg = avg
				haveBest = true
			}
		}
		if i < len(hours) {
			runStart = i
			if !eligible(i) {
				runStart = i + 1
			}
		}
	}
	return best, haveBest
}

// aggregateFactors reduces per-hour evaluations over [start, end) to one
// Factor per measure, keeping the worst hour's observation as evidence.
func (e Engine) aggregateFactors(evals [][]factorEval, start, end int) []domain.Factor {
	if end <= start {
		start, end = 0, len(evals)
	}
	order := []string{FactorTemperature, FactorPrecip, FactorWind, FactorVisibility, FactorAirQuality}
	out := make([]domain.Factor, 0, len(order))
	for _, name := range order {
		var worst *factorEval
		for i := start; i < end; i++ {
			for j := range evals[i] {
				ev := &evals[i][j]
				if ev.name != name || !ev.known {
					continue
				}
				if worst == nil || ev.severity > worst.severity ||
					(ev.severity == worst.severity && !ev.passed && worst.passed) {
					worst = ev
				}
			}
		}
		if worst == nil {
			continue
		}
		out = append(out, domain.Factor{
			Name:      worst.name,
			Observed:  worst.observed,
			Threshold: worst.threshold,
			Passed:    worst.passed,
			Detail:    worst.detail,
		})
	}
	return out
}

func joinDetail(existing, extra string) string {
	if existing == "" {
		return extra
	}
	return existing + "; " + extra
}

func ramp(distance, fullAt float64) float64 {
	if fullAt <= 0 {
		return 1
	}
	return clamp(distance/fullAt, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func mean(vals []float64) float64 {
	return meanRange(vals, 0, len(vals))
}

func meanRange(vals []float64, start, end int) float64 {
	if end <= start {
		return 0
	}
	var sum float64
	for _, v := range vals[start:end] {
		sum += v
	}
	return sum / float64(end-start)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
