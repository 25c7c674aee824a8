// Package handler exposes the session lifecycle over HTTP. It owns request
// decoding, error-to-status mapping, and correlation IDs; all semantics live
// in the usecase layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ride-agent/internal/domain"
	"ride-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// SessionService is the operation surface the handler consumes.
type SessionService interface {
	Start(ctx context.Context, prefs *domain.UserPreferences) (usecase.StartOutput, error)
	Initial(ctx context.Context, sessionID string) (usecase.AssessOutput, error)
	Chat(ctx context.Context, sessionID, message string) (usecase.ChatOutput, error)
	Refresh(ctx context.Context, sessionID string) (usecase.AssessOutput, error)
	Preferences(ctx context.Context, sessionID string) (domain.UserPreferences, error)
	UpdatePreferences(ctx context.Context, sessionID string, prefs domain.UserPreferences) (domain.UserPreferences, error)
}

// Pinger reports narration backend reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc    SessionService
	pinger Pinger
	log    zerolog.Logger
}

func New(svc SessionService, pinger Pinger, log zerolog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: session service must not be nil")
	}
	return &Handler{svc: svc, pinger: pinger, log: log}, nil
}

// Routes mounts all endpoints on a fresh router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.correlate)

	r.Get("/healthz", h.health)
	r.Route("/session", func(r chi.Router) {
		r.Post("/start", h.start)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Post("/initial", h.initial)
			r.Post("/chat", h.chat)
			r.Post("/refresh", h.refresh)
			r.Get("/preferences", h.getPreferences)
			r.Post("/preferences", h.updatePreferences)
		})
	})
	return r
}

// correlate echoes the caller's correlation ID or mints one, so a session's
// requests can be stitched together across services.
func (h *Handler) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(correlationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(correlationHeader, cid)
		logger := h.log.With().Str("correlation_id", cid).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

type startRequest struct {
	Preferences *domain.UserPreferences `json:"preferences,omitempty"`
}

type startResponse struct {
	SessionID   string                 `json:"session_id"`
	Preferences domain.UserPreferences `json:"preferences"`
}

type assessResponse struct {
	Assessment domain.SuitabilityAssessment `json:"assessment"`
	Narration  string                       `json:"narration"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Narration string `json:"narration"`
}

type preferencesResponse struct {
	Preferences domain.UserPreferences `json:"preferences"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_json", Err: err})
			return
		}
	}

	out, err := h.svc.Start(r.Context(), req.Preferences)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, startResponse{SessionID: out.SessionID, Preferences: out.Preferences})
}

func (h *Handler) initial(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Initial(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, assessResponse{Assessment: out.Assessment, Narration: out.Narration})
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_json", Err: err})
		return
	}

	out, err := h.svc.Chat(r.Context(), chi.URLParam(r, "sessionID"), req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, chatResponse{Narration: out.Narration})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Refresh(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, assessResponse{Assessment: out.Assessment, Narration: out.Narration})
}

func (h *Handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.svc.Preferences(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, preferencesResponse{Preferences: prefs})
}

func (h *Handler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs domain.UserPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		h.writeError(w, r, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_json", Err: err})
		return
	}

	updated, err := h.svc.UpdatePreferences(r.Context(), chi.URLParam(r, "sessionID"), prefs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, preferencesResponse{Preferences: updated})
}

type healthResponse struct {
	Status   string `json:"status"`
	Narrator string `json:"narrator"`
}

// health always returns 200 when the process serves traffic; narrator
// reachability is reported but not load-bearing because assessments degrade
// gracefully without it.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Narrator: "unknown"}
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			resp.Narrator = "unreachable"
		} else {
			resp.Narrator = "ok"
		}
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      usecase.ErrorCode `json:"code"`
	Reason    string            `json:"reason,omitempty"`
	Retryable bool              `json:"retryable"`
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidPreferences:
		return http.StatusBadRequest
	case usecase.ErrorSessionNotFound:
		return http.StatusNotFound
	case usecase.ErrorInvalidState, usecase.ErrorConcurrentModification:
		return http.StatusConflict
	case usecase.ErrorSourceUnavailable, usecase.ErrorNoData,
		usecase.ErrorGenerationUnavailable, usecase.ErrorGenerationTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	detail := errorDetail{Code: usecase.ErrorInternal}
	var ue *usecase.Error
	if errors.As(err, &ue) {
		detail.Code = ue.Code
		detail.Reason = ue.Reason
	}
	detail.Retryable = detail.Code.Retryable()

	status := statusFor(detail.Code)
	logger := zerolog.Ctx(r.Context())
	evt := logger.Warn()
	if status >= 500 {
		evt = logger.Error()
	}
	evt.Err(err).Str("code", string(detail.Code)).Int("status", status).
		Str("path", r.URL.Path).Msg("request failed")

	h.writeJSON(w, r, status, errorBody{Error: detail})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("encode response")
	}
}
