package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ride-agent/internal/domain"
)

func sampleAssessment() *domain.SuitabilityAssessment {
	start := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return &domain.SuitabilityAssessment{
		Score:   78.5,
		Verdict: domain.VerdictGo,
		BestWindow: &domain.TimeWindow{
			Start: start,
			End:   start.Add(3 * time.Hour),
		},
		Factors: []domain.Factor{
			{Name: "temperature", Observed: 18, Threshold: 0, Passed: true},
			{Name: "wind", Observed: 28, Threshold: 25, Passed: false, Detail: "wind 28.0 kph exceeds limit 25.0 kph"},
		},
		GeneratedAt: start,
	}
}

func TestBuildSystemContext(t *testing.T) {
	ctx := buildSystemContext(sampleAssessment(), goodPrefs())
	require.Contains(t, ctx, "Verdict: go")
	require.Contains(t, ctx, "Suitability score: 78.5")
	require.Contains(t, ctx, "2026-02-10T09:00:00Z")
	require.Contains(t, ctx, "wind: failed")
	require.Contains(t, ctx, "Never recompute")
}

func TestBuildSystemContext_NoWindow(t *testing.T) {
	a := sampleAssessment()
	a.Verdict = domain.VerdictNoGo
	a.BestWindow = nil
	require.Contains(t, buildSystemContext(a, goodPrefs()), "Best window: none")
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(sampleAssessment())
	require.Contains(t, out, "Go")
	require.Contains(t, out, "78.5")
	require.Contains(t, out, "wind")
	require.NotContains(t, out, "temperature")
}

func TestRenderSummary_NoGo(t *testing.T) {
	a := sampleAssessment()
	a.Verdict = domain.VerdictNoGo
	a.Score = 12.0
	a.BestWindow = nil

	out := renderSummary(a)
	require.Contains(t, out, "No-go")
	require.NotContains(t, out, "Best window")
}

func TestSanitizeNarration(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Nice day to ride.", "Nice day to ride."},
		{"whitespace", "  trimmed \n", "trimmed"},
		{"fenced", "```\nNice day to ride.\n```", "Nice day to ride."},
		{"fenced with language", "```markdown\n- point one\n- point two\n```", "- point one\n- point two"},
		{"unclosed fence", "```\nNice day to ride.", "Nice day to ride."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, sanitizeNarration(tc.in))
		})
	}
}
