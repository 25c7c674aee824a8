package domain

import (
	"context"
	"errors"
)

// Port error sentinels. Implementations wrap these so callers can classify
// failures with errors.Is without importing the concrete adapter.
var (
	// ErrSourceUnavailable marks forecast transport or timeout failures.
	// Retrying the same fetch later is always safe.
	ErrSourceUnavailable = errors.New("forecast source unavailable")
	// ErrNoData means the provider answered but had nothing for the window.
	ErrNoData = errors.New("no forecast data for requested window")

	// ErrGenerationUnavailable marks narration backend failures.
	ErrGenerationUnavailable = errors.New("narration backend unavailable")
	// ErrGenerationTimeout marks narration calls that exceeded the deadline.
	ErrGenerationTimeout = errors.New("narration timed out")

	// ErrSessionNotFound covers both missing and expired sessions; the two
	// are indistinguishable to callers.
	ErrSessionNotFound = errors.New("session not found")
	// ErrVersionConflict is returned when an optimistic update lost the race
	// with a concurrent write to the same session.
	ErrVersionConflict = errors.New("session version conflict")
)

// ForecastSource fetches observations for a location and time window.
// A successful fetch never returns an empty ObservationSet.
type ForecastSource interface {
	Fetch(ctx context.Context, lat, lon float64, window TimeWindow) (ObservationSet, error)
}

// Narrator turns an assessment context plus conversation history into
// human-readable text. It never influences the assessment itself.
type Narrator interface {
	Generate(ctx context.Context, system string, turns []ConversationTurn) (string, error)
}

// SessionStore is keyed persistence for sessions with store-enforced TTL
// expiry. Update performs a compare-and-swap on Session.Version and bumps it
// on success; Get refreshes the TTL where the backend supports it.
type SessionStore interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
}
