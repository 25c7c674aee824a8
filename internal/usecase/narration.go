package usecase

import (
	"fmt"
	"strings"
	"time"

	"ride-agent/internal/domain"
)

// systemPrompt pins the narrator to the precomputed numbers. Scoring, the
// verdict, and the window are deterministic inputs; the narrator only
// explains them and must never recompute or contradict them.
const systemPrompt = `You are a friendly, safety-first ride coach. All scoring, risks, and windows are precomputed.
Never recompute numbers, categories, or decisions. Use the provided values.
If conditions are poor or no good window exists, clearly say so and suggest an indoor ride instead.

Respond as short conversational text or markdown, a few sentences or bullets. No JSON.
- Mention the suitability score and verdict briefly.
- Call out failed factors in plain language.
- Point to the best window with times when one exists.
- Keep it concise and specific.`

// buildSystemContext renders the assessment into the system message the
// narrator receives alongside the conversation.
func buildSystemContext(a *domain.SuitabilityAssessment, prefs domain.UserPreferences) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nPrecomputed ride assessment follows. Do not recompute numbers or decisions.\n")
	fmt.Fprintf(&b, "Verdict: %s\n", a.Verdict)
	fmt.Fprintf(&b, "Suitability score: %.1f of 100\n", a.Score)
	if a.BestWindow != nil {
		fmt.Fprintf(&b, "Best window: %s to %s\n",
			a.BestWindow.Start.Format(time.RFC3339), a.BestWindow.End.Format(time.RFC3339))
	} else {
		b.WriteString("Best window: none\n")
	}
	b.WriteString("Factors:\n")
	for _, f := range a.Factors {
		state := "ok"
		if !f.Passed {
			state = "failed"
		}
		fmt.Fprintf(&b, "- %s: %s (observed %.1f, threshold %.1f)", f.Name, state, f.Observed, f.Threshold)
		if f.Detail != "" {
			fmt.Fprintf(&b, " — %s", f.Detail)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Rider location: %.2f, %.2f (%s)\n", prefs.Latitude, prefs.Longitude, prefs.Timezone)
	return b.String()
}

// renderSummary is the deterministic fallback narration: a short markdown
// rendering of the assessment used whenever the narration backend is down or
// too slow. The assessment path never depends on narration-backend health.
func renderSummary(a *domain.SuitabilityAssessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Ride verdict:** %s\n", verdictLabel(a.Verdict))
	fmt.Fprintf(&b, "**Suitability score:** %.1f\n", a.Score)
	var failed []string
	for _, f := range a.Factors {
		if !f.Passed {
			failed = append(failed, f.Name)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "**Limiting factors:** %s\n", strings.Join(failed, ", "))
	}
	if a.BestWindow != nil {
		fmt.Fprintf(&b, "**Best window:** %s to %s\n",
			a.BestWindow.Start.Format(time.RFC3339), a.BestWindow.End.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func verdictLabel(v domain.Verdict) string {
	switch v {
	case domain.VerdictGo:
		return "Go"
	case domain.VerdictCaution:
		return "Go with caution"
	default:
		return "No-go"
	}
}

// sanitizeNarration strips surrounding markdown code fences the model may
// emit despite instructions. Anything else passes through untouched.
func sanitizeNarration(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	lines := strings.Split(t, "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
