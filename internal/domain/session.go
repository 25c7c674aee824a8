package domain

import "time"

// Role identifies who produced a conversation turn. System turns carry
// refresh notices, not user input.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationTurn is a single persisted turn. Turns are append-only and
// strictly ordered by insertion; once appended they are never mutated.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState tracks where a session is in its lifecycle. Expiry is not a
// stored state: an expired session is simply absent from the store.
type SessionState string

const (
	StateCreated  SessionState = "created"
	StateAssessed SessionState = "assessed"
)

// Session is the unit of persistence. It is owned exclusively by the session
// store; the orchestrator reads a copy, mutates it, and writes it back under
// an optimistic version check. Version is managed by the store.
type Session struct {
	ID          string       `json:"id"`
	State       SessionState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	RefreshedAt time.Time    `json:"refreshed_at"`

	Preferences UserPreferences        `json:"preferences"`
	Assessment  *SuitabilityAssessment `json:"assessment,omitempty"`
	Turns       []ConversationTurn     `json:"turns"`

	// Observations caches the last fetch so a start immediately followed by
	// an initial assessment does not hit the forecast source twice.
	Observations          *ObservationSet `json:"observations,omitempty"`
	ObservationsFetchedAt time.Time       `json:"observations_fetched_at"`

	Version int64 `json:"version"`
}

// AppendTurn appends a turn and evicts the oldest entries once maxTurns is
// exceeded, preserving the most recent context window.
func (s *Session) AppendTurn(turn ConversationTurn, maxTurns int) {
	s.Turns = append(s.Turns, turn)
	if maxTurns > 0 && len(s.Turns) > maxTurns {
		s.Turns = s.Turns[len(s.Turns)-maxTurns:]
	}
}

// LastAssistantText returns the most recent assistant turn, or "" if none.
func (s *Session) LastAssistantText() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleAssistant {
			return s.Turns[i].Text
		}
	}
	return ""
}
