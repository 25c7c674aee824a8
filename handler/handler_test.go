package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ride-agent/internal/domain"
	"ride-agent/internal/usecase"
)

type stubService struct {
	startOut   usecase.StartOutput
	assessOut  usecase.AssessOutput
	chatOut    usecase.ChatOutput
	prefs      domain.UserPreferences
	err        error
	lastID     string
	lastMsg    string
	lastPrefs  *domain.UserPreferences
}

func (s *stubService) Start(_ context.Context, prefs *domain.UserPreferences) (usecase.StartOutput, error) {
	s.lastPrefs = prefs
	return s.startOut, s.err
}

func (s *stubService) Initial(_ context.Context, id string) (usecase.AssessOutput, error) {
	s.lastID = id
	return s.assessOut, s.err
}

func (s *stubService) Chat(_ context.Context, id, msg string) (usecase.ChatOutput, error) {
	s.lastID, s.lastMsg = id, msg
	return s.chatOut, s.err
}

func (s *stubService) Refresh(_ context.Context, id string) (usecase.AssessOutput, error) {
	s.lastID = id
	return s.assessOut, s.err
}

func (s *stubService) Preferences(_ context.Context, id string) (domain.UserPreferences, error) {
	s.lastID = id
	return s.prefs, s.err
}

func (s *stubService) UpdatePreferences(_ context.Context, id string, prefs domain.UserPreferences) (domain.UserPreferences, error) {
	s.lastID = id
	s.lastPrefs = &prefs
	return prefs, s.err
}

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(context.Context) error { return p.err }

func newTestHandler(t *testing.T, svc SessionService, pinger Pinger) http.Handler {
	t.Helper()
	h, err := New(svc, pinger, zerolog.Nop())
	require.NoError(t, err)
	return h.Routes()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStart(t *testing.T) {
	svc := &stubService{startOut: usecase.StartOutput{SessionID: "s1"}}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/session/start", `{"preferences": {"latitude": 52.52}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "s1", resp.SessionID)
	require.NotNil(t, svc.lastPrefs)
	require.Equal(t, 52.52, svc.lastPrefs.Latitude)
}

func TestStart_EmptyBodyUsesDefaults(t *testing.T) {
	svc := &stubService{startOut: usecase.StartOutput{SessionID: "s1"}}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/session/start", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Nil(t, svc.lastPrefs)
}

func TestStart_MalformedJSON(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	rec := doRequest(t, h, http.MethodPost, "/session/start", `{"preferences": `)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), string(usecase.ErrorInvalidInput))
}

func TestInitial(t *testing.T) {
	svc := &stubService{assessOut: usecase.AssessOutput{
		Assessment: domain.SuitabilityAssessment{Score: 85.5, Verdict: domain.VerdictGo},
		Narration:  "all clear",
	}}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/session/abc/initial", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "abc", svc.lastID)

	var resp struct {
		Assessment domain.SuitabilityAssessment `json:"assessment"`
		Narration  string                       `json:"narration"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 85.5, resp.Assessment.Score)
	require.Equal(t, "all clear", resp.Narration)
}

func TestChat(t *testing.T) {
	svc := &stubService{chatOut: usecase.ChatOutput{Narration: "wind stays light"}}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/session/abc/chat", `{"message": "how windy?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "how windy?", svc.lastMsg)
	require.Contains(t, rec.Body.String(), "wind stays light")
}

func TestPreferencesRoundTrip(t *testing.T) {
	svc := &stubService{prefs: domain.UserPreferences{MaxWindKph: 25}}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodGet, "/session/abc/preferences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"max_wind_kph":25`)

	rec = doRequest(t, h, http.MethodPost, "/session/abc/preferences", `{"max_wind_kph": 30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastPrefs)
	require.Equal(t, 30.0, svc.lastPrefs.MaxWindKph)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code   usecase.ErrorCode
		status int
	}{
		{usecase.ErrorInvalidInput, http.StatusBadRequest},
		{usecase.ErrorInvalidPreferences, http.StatusBadRequest},
		{usecase.ErrorSessionNotFound, http.StatusNotFound},
		{usecase.ErrorInvalidState, http.StatusConflict},
		{usecase.ErrorConcurrentModification, http.StatusConflict},
		{usecase.ErrorSourceUnavailable, http.StatusBadGateway},
		{usecase.ErrorNoData, http.StatusBadGateway},
		{usecase.ErrorInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			svc := &stubService{err: &usecase.Error{Code: tc.code, Reason: "test"}}
			h := newTestHandler(t, svc, nil)

			rec := doRequest(t, h, http.MethodPost, "/session/abc/initial", "")
			require.Equal(t, tc.status, rec.Code)
			require.Contains(t, rec.Body.String(), string(tc.code))
		})
	}
}

func TestUnknownErrorIsInternal(t *testing.T) {
	svc := &stubService{err: errors.New("boom")}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/session/abc/initial", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), string(usecase.ErrorInternal))
}

func TestCorrelationIDEchoed(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/session/abc/initial", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "corr-123", rec.Header().Get("X-Correlation-Id"))
}

func TestCorrelationIDGenerated(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	rec := doRequest(t, h, http.MethodPost, "/session/abc/initial", "")
	require.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{}, &stubPinger{})

	rec := doRequest(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"narrator":"ok"`)
}

func TestHealth_NarratorDown(t *testing.T) {
	h := newTestHandler(t, &stubService{}, &stubPinger{err: domain.ErrGenerationUnavailable})

	rec := doRequest(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"narrator":"unreachable"`)
}
