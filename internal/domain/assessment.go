package domain

import "time"

// Verdict is the discrete ride-suitability classification derived from the
// numeric score.
type Verdict string

const (
	VerdictGo      Verdict = "go"
	VerdictCaution Verdict = "caution"
	VerdictNoGo    Verdict = "no-go"
)

// Factor records how one measure compared against its preference threshold.
// Observed holds the worst value seen across the assessed window.
type Factor struct {
	Name      string  `json:"name"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
	Detail    string  `json:"detail,omitempty"`
}

// SuitabilityAssessment is the deterministic output of the scoring engine.
// Immutable once computed; a refresh produces a new assessment that
// supersedes, never mutates, the prior one.
type SuitabilityAssessment struct {
	Score       float64     `json:"score"` // 0-100, one decimal
	Verdict     Verdict     `json:"verdict"`
	BestWindow  *TimeWindow `json:"best_window,omitempty"`
	Factors     []Factor    `json:"factors"`
	GeneratedAt time.Time   `json:"generated_at"`
}
