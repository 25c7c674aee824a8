package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ride-agent/internal/domain"
	"ride-agent/internal/scoring"
)

const (
	defaultMaxTurns         = 40
	defaultMaxMessageChars  = 4000
	defaultConditionsTTL    = 15 * time.Minute
	defaultForecastTimeout  = 10 * time.Second
	defaultNarrationTimeout = 60 * time.Second
)

// Options tune the orchestrator. Zero values fall back to the defaults above.
type Options struct {
	// MaxTurns bounds the stored conversation; the oldest turns are evicted
	// first so the narration prompt and per-session memory stay bounded.
	MaxTurns        int
	MaxMessageChars int

	// ConditionsTTL is how long a cached fetch stays fresh. Within it, the
	// initial assessment reuses the observations fetched at session start.
	ConditionsTTL time.Duration

	ForecastTimeout  time.Duration
	NarrationTimeout time.Duration

	DefaultPreferences domain.UserPreferences
}

// SessionService is the state machine tying the forecast source, scoring
// engine, narrator, and session store together. It never holds a long-lived
// session reference: every operation is a read-modify-write against the
// store, serialized per session by the store's optimistic version check.
type SessionService struct {
	store    domain.SessionStore
	forecast domain.ForecastSource
	narrator domain.Narrator
	engine   scoring.Engine
	opts     Options
	log      zerolog.Logger
}

type StartOutput struct {
	SessionID   string
	Preferences domain.UserPreferences
}

type AssessOutput struct {
	Assessment domain.SuitabilityAssessment
	Narration  string
}

type ChatOutput struct {
	Narration string
}

func NewSessionService(store domain.SessionStore, forecast domain.ForecastSource, narrator domain.Narrator, engine scoring.Engine, opts Options, log zerolog.Logger) (*SessionService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if forecast == nil {
		return nil, errors.New("usecase: forecast source must not be nil")
	}
	if narrator == nil {
		return nil, errors.New("usecase: narrator must not be nil")
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	if opts.MaxMessageChars <= 0 {
		opts.MaxMessageChars = defaultMaxMessageChars
	}
	if opts.ConditionsTTL <= 0 {
		opts.ConditionsTTL = defaultConditionsTTL
	}
	if opts.ForecastTimeout <= 0 {
		opts.ForecastTimeout = defaultForecastTimeout
	}
	if opts.NarrationTimeout <= 0 {
		opts.NarrationTimeout = defaultNarrationTimeout
	}
	return &SessionService{
		store:    store,
		forecast: forecast,
		narrator: narrator,
		engine:   engine,
		opts:     opts,
		log:      log,
	}, nil
}

// Start allocates a session, fetches initial observations, and persists the
// session in the created state. No assessment or narration happens here so
// the caller can render preferences and raw conditions immediately.
func (s *SessionService) Start(ctx context.Context, prefs *domain.UserPreferences) (StartOutput, error) {
	p := s.opts.DefaultPreferences
	if prefs != nil {
		p = *prefs
	}
	if err := p.Validate(); err != nil {
		return StartOutput{}, newError(ErrorInvalidPreferences, "preferences_out_of_range", err)
	}

	now := timeNow()
	obs, err := s.fetch(ctx, p, now)
	if err != nil {
		return StartOutput{}, err
	}

	sess := &domain.Session{
		ID:                    newSessionID(),
		State:                 domain.StateCreated,
		CreatedAt:             now,
		RefreshedAt:           now,
		Preferences:           p,
		Observations:          &obs,
		ObservationsFetchedAt: now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return StartOutput{}, newError(ErrorInternal, "session_create_error", err)
	}
	s.log.Info().Str("session_id", sess.ID).Msg("session started")
	return StartOutput{SessionID: sess.ID, Preferences: p}, nil
}

// Initial runs the first fetch+score+narrate cycle. Calling it again on an
// already assessed session returns the existing assessment unchanged rather
// than recomputing, so clients can safely retry without double narration.
func (s *SessionService) Initial(ctx context.Context, sessionID string) (AssessOutput, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return AssessOutput{}, err
	}
	if sess.State == domain.StateAssessed && sess.Assessment != nil {
		narration := sess.LastAssistantText()
		if narration == "" {
			narration = renderSummary(sess.Assessment)
		}
		return AssessOutput{Assessment: *sess.Assessment, Narration: narration}, nil
	}

	now := timeNow()
	obs := sess.Observations
	if obs == nil || now.Sub(sess.ObservationsFetchedAt) >= s.opts.ConditionsTTL {
		fresh, ferr := s.fetch(ctx, sess.Preferences, now)
		if ferr != nil {
			return AssessOutput{}, ferr
		}
		obs = &fresh
		sess.Observations = obs
		sess.ObservationsFetchedAt = now
	}

	assessment, err := s.score(*obs, sess.Preferences)
	if err != nil {
		return AssessOutput{}, err
	}

	narration := s.narrate(ctx, &assessment, sess.Preferences, nil)
	sess.Assessment = &assessment
	sess.State = domain.StateAssessed
	sess.RefreshedAt = now
	sess.AppendTurn(domain.ConversationTurn{Role: domain.RoleAssistant, Text: narration, Timestamp: now}, s.opts.MaxTurns)

	if err := s.persist(ctx, sess); err != nil {
		return AssessOutput{}, err
	}
	return AssessOutput{Assessment: assessment, Narration: narration}, nil
}

// Chat appends a user turn and narrates against the current assessment. It
// never re-fetches or re-scores; a stale assessment needs an explicit
// Refresh.
func (s *SessionService) Chat(ctx context.Context, sessionID, message string) (ChatOutput, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > s.opts.MaxMessageChars {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return ChatOutput{}, err
	}
	if sess.State != domain.StateAssessed || sess.Assessment == nil {
		return ChatOutput{}, newError(ErrorInvalidState, "no_assessment_yet", nil)
	}

	now := timeNow()
	sess.AppendTurn(domain.ConversationTurn{Role: domain.RoleUser, Text: message, Timestamp: now}, s.opts.MaxTurns)
	narration := s.narrate(ctx, sess.Assessment, sess.Preferences, sess.Turns)
	sess.AppendTurn(domain.ConversationTurn{Role: domain.RoleAssistant, Text: narration, Timestamp: now}, s.opts.MaxTurns)

	if err := s.persist(ctx, sess); err != nil {
		return ChatOutput{}, err
	}
	return ChatOutput{Narration: narration}, nil
}

// Refresh re-fetches observations and recomputes the assessment. A failed
// fetch aborts before any write, leaving the prior assessment and
// conversation intact.
func (s *SessionService) Refresh(ctx context.Context, sessionID string) (AssessOutput, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return AssessOutput{}, err
	}

	now := timeNow()
	obs, err := s.fetch(ctx, sess.Preferences, now)
	if err != nil {
		return AssessOutput{}, err
	}

	assessment, err := s.score(obs, sess.Preferences)
	if err != nil {
		return AssessOutput{}, err
	}

	sess.AppendTurn(domain.ConversationTurn{
		Role:      domain.RoleSystem,
		Text:      "Conditions refreshed; the assessment below supersedes earlier numbers.",
		Timestamp: now,
	}, s.opts.MaxTurns)

	narration := s.narrate(ctx, &assessment, sess.Preferences, sess.Turns)
	sess.Assessment = &assessment
	sess.State = domain.StateAssessed
	sess.RefreshedAt = now
	sess.Observations = &obs
	sess.ObservationsFetchedAt = now
	sess.AppendTurn(domain.ConversationTurn{Role: domain.RoleAssistant, Text: narration, Timestamp: now}, s.opts.MaxTurns)

	if err := s.persist(ctx, sess); err != nil {
		return AssessOutput{}, err
	}
	return AssessOutput{Assessment: assessment, Narration: narration}, nil
}

// Preferences returns the stored preferences for a session.
func (s *SessionService) Preferences(ctx context.Context, sessionID string) (domain.UserPreferences, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.UserPreferences{}, err
	}
	return sess.Preferences, nil
}

// UpdatePreferences replaces the stored preferences. Deliberately cheap: it
// never touches the forecast or narration backends, and the assessment is
// only recomputed on the next Refresh.
func (s *SessionService) UpdatePreferences(ctx context.Context, sessionID string, prefs domain.UserPreferences) (domain.UserPreferences, error) {
	if err := prefs.Validate(); err != nil {
		return domain.UserPreferences{}, newError(ErrorInvalidPreferences, "preferences_out_of_range", err)
	}
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.UserPreferences{}, err
	}
	sess.Preferences = prefs
	if err := s.persist(ctx, sess); err != nil {
		return domain.UserPreferences{}, err
	}
	return prefs, nil
}

func (s *SessionService) fetch(ctx context.Context, prefs domain.UserPreferences, now time.Time) (domain.ObservationSet, error) {
	fctx, cancel := context.WithTimeout(ctx, s.opts.ForecastTimeout)
	defer cancel()

	window := domain.TimeWindow{
		Start: now,
		End:   now.Add(time.Duration(prefs.RideWindowHours) * time.Hour),
	}
	obs, err := s.forecast.Fetch(fctx, prefs.Latitude, prefs.Longitude, window)
	switch {
	case err == nil:
		return obs, nil
	case errors.Is(err, domain.ErrNoData):
		return domain.ObservationSet{}, newError(ErrorNoData, "forecast_empty", err)
	case errors.Is(err, domain.ErrSourceUnavailable), errors.Is(err, context.DeadlineExceeded):
		return domain.ObservationSet{}, newError(ErrorSourceUnavailable, "forecast_fetch_error", err)
	default:
		return domain.ObservationSet{}, newError(ErrorInternal, "forecast_error", err)
	}
}

func (s *SessionService) score(obs domain.ObservationSet, prefs domain.UserPreferences) (domain.SuitabilityAssessment, error) {
	assessment, err := s.engine.Score(obs, prefs)
	if err != nil {
		if errors.Is(err, scoring.ErrInvalidInput) {
			return domain.SuitabilityAssessment{}, newError(ErrorInvalidInput, "scoring_input_error", err)
		}
		return domain.SuitabilityAssessment{}, newError(ErrorInternal, "scoring_error", err)
	}
	return assessment, nil
}

// narrate asks the backend to explain the assessment; on any failure it
// degrades to the deterministic summary so the assessment path is never
// blocked by narration-backend health.
func (s *SessionService) narrate(ctx context.Context, a *domain.SuitabilityAssessment, prefs domain.UserPreferences, turns []domain.ConversationTurn) string {
	nctx, cancel := context.WithTimeout(ctx, s.opts.NarrationTimeout)
	defer cancel()

	text, err := s.narrator.Generate(nctx, buildSystemContext(a, prefs), turns)
	if err != nil {
		s.log.Warn().Err(err).Msg("narration failed; substituting summary fallback")
		return renderSummary(a)
	}
	clean := sanitizeNarration(text)
	if clean == "" {
		return renderSummary(a)
	}
	return clean
}

func (s *SessionService) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, newError(ErrorSessionNotFound, "empty_session_id", nil)
	}
	sess, err := s.store.Get(ctx, sessionID)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, domain.ErrSessionNotFound):
		return nil, newError(ErrorSessionNotFound, "unknown_or_expired_session", err)
	default:
		return nil, newError(ErrorInternal, "session_read_error", err)
	}
}

func (s *SessionService) persist(ctx context.Context, sess *domain.Session) error {
	err := s.store.Update(ctx, sess)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrVersionConflict):
		return newError(ErrorConcurrentModification, "session_write_conflict", err)
	case errors.Is(err, domain.ErrSessionNotFound):
		return newError(ErrorSessionNotFound, "session_expired_during_write", err)
	default:
		return newError(ErrorInternal, "session_write_error", err)
	}
}

var newSessionID = func() string {
	return uuid.NewString()
}

var timeNow = time.Now
