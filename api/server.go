package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"voicebot-qa/llm"
	"voicebot-qa/logger"
	"voicebot-qa/qa"
	"voicebot-qa/runner"
	"voicebot-qa/session"
	"voicebot-qa/store"
	"voicebot-qa/transcript"

	"github.com/go-playground/validator/v10"
)

const requestTimeout = 10 * time.Second

// Config holds HTTP API options.
type Config struct {
	AuthToken     string
	StorageKey    string
	MaxUploadSize int64
	// ModelTimeout bounds the stateless model-backed endpoints.
	ModelTimeout time.Duration
}

// Server implements the QA HTTP API.
type Server struct {
	cfg      Config
	engine   session.Engine
	sessions *session.Registry
	runner   *runner.Runner
	store    store.Store
	log      logger.Logger
	validate *validator.Validate
}

// NewServer creates a new API server. st may be nil when no database is
// configured; library routes then answer 503.
func NewServer(
	cfg Config,
	eng session.Engine,
	reg *session.Registry,
	run *runner.Runner,
	st store.Store,
	log logger.Logger,
) *Server {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 10 << 20
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 5 * time.Minute
	}
	return &Server{
		cfg:      cfg,
		engine:   eng,
		sessions: reg,
		runner:   run,
		store:    st,
		log:      log,
		validate: validator.New(),
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/checks", s.handleChecks)
	mux.HandleFunc("GET /api/v1/demo", s.handleDemo)
	mux.HandleFunc("POST /api/v1/transcripts/parse", s.handleParseTranscripts)

	mux.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/v1/fixes", s.handleFixes)
	mux.HandleFunc("POST /api/v1/placements", s.handlePlacements)
	mux.HandleFunc("POST /api/v1/assemble", s.handleAssemble)

	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/v1/sessions/load", s.handleLoadSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", s.handlePatchSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/checks", s.handleAddCheck)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}/checks/{checkId}", s.handlePatchCheck)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/checks/{checkId}", s.handleDeleteCheck)
	mux.HandleFunc("POST /api/v1/sessions/{id}/checks/{checkId}/toggle", s.handleToggleCheck)
	mux.HandleFunc("POST /api/v1/sessions/{id}/checks/{checkId}/reset", s.handleResetCheck)
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", s.handleResetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/run", s.handleRunSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/fixes", s.handleSessionFixes)
	mux.HandleFunc("POST /api/v1/sessions/{id}/script", s.handleSessionScript)
	mux.HandleFunc("POST /api/v1/sessions/{id}/save", s.handleSaveSession)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)

	mux.HandleFunc("GET /api/v1/analyses", s.handleGetAnalyses)
	mux.HandleFunc("POST /api/v1/analyses", s.handleSaveAnalysis)
	mux.HandleFunc("DELETE /api/v1/analyses", s.handleDeleteAnalysis)
	mux.HandleFunc("GET /api/v1/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/v1/templates", s.handleCreateTemplate)
	mux.HandleFunc("PUT /api/v1/templates", s.handleUpdateTemplate)
	mux.HandleFunc("DELETE /api/v1/templates", s.handleDeleteTemplate)
	mux.HandleFunc("POST /api/v1/templates/set-default", s.handleSetDefaultTemplate)

	if s.cfg.AuthToken == "" {
		return mux
	}
	return s.authMiddleware(mux)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health check is always public
		if r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("Authorization")
		if token != "Bearer "+s.cfg.AuthToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"sessions": s.sessions.Len(),
		"database": s.store != nil,
	}
	if s.runner != nil {
		stats["runner"] = s.runner.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChecks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, qa.DefaultChecks())
}

func (s *Server) handleDemo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"transcripts":     transcript.DemoTranscripts(),
		"referenceScript": transcript.DefaultReferenceScript(),
	})
}

// bind decodes a JSON body into v and validates it. On failure it writes a
// 400 response with msg, or the validation detail when msg is empty.
func (s *Server) bind(w http.ResponseWriter, r *http.Request, v any, msg string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		if msg == "" {
			msg = validationMessage(err)
		}
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if len(field) > 0 {
			field = strings.ToLower(field[:1]) + field[1:]
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "min":
			parts = append(parts, field+" must have at least "+fe.Param()+" item(s)")
		default:
			parts = append(parts, field+" failed "+fe.Tag()+" validation")
		}
	}
	return strings.Join(parts, "; ")
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrCheckNotFound),
		errors.Is(err, session.ErrCallNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoResults),
		errors.Is(err, session.ErrNoFixes),
		errors.Is(err, session.ErrNoFixesSelected),
		errors.Is(err, session.ErrReferenceRequired),
		errors.Is(err, session.ErrNotCustom),
		errors.Is(err, qa.ErrNoTranscripts),
		errors.Is(err, qa.ErrNoEnabledChecks),
		errors.Is(err, transcript.ErrInvalid),
		errors.Is(err, transcript.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, runner.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, runner.ErrStopped), errors.Is(err, llm.ErrNoAPIKey):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, qa.ErrInvalidJSON), errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail logs server-side failures and writes the mapped error response.
func (s *Server) fail(w http.ResponseWriter, event string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(event, logger.Err(err))
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
