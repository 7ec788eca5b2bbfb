package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/db"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/session"
)

// ResearchHandler exposes research turns, sessions and reports.
// Endpoints:
//
//	POST /v1/research
//	GET  /v1/sessions/{id}
//	GET  /v1/reports/{id}
type ResearchHandler struct {
	svc    *server.Service
	logger *zap.Logger
}

func NewResearchHandler(svc *server.Service, logger *zap.Logger) *ResearchHandler {
	return &ResearchHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers research endpoints on the given mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/research", h.handleResearch)
	mux.HandleFunc("GET /v1/sessions/{id}", h.handleSession)
	mux.HandleFunc("GET /v1/reports/{id}", h.handleReport)
}

type researchRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Async     bool   `json:"async"`
}

func (h *ResearchHandler) handleResearch(w http.ResponseWriter, r *http.Request) {
	var body researchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !requireScope(w, r, auth.ScopeResearchRun) {
		return
	}
	req := server.Request{SessionID: body.SessionID, Message: body.Message}
	if u, ok := auth.GetUserContext(r.Context()); ok {
		req.UserID = u.UserID
	}

	if body.Async {
		resp, err := h.svc.Start(r.Context(), req)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	resp, err := h.svc.Research(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionView struct {
	ID         string         `json:"id"`
	Status     session.Status `json:"status"`
	Question   string         `json:"question,omitempty"`
	Brief      string         `json:"research_brief,omitempty"`
	Error      string         `json:"error,omitempty"`
	Messages   int            `json:"messages"`
	Iterations int            `json:"iterations"`
	UpdatedAt  string         `json:"updated_at"`
}

func (h *ResearchHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeSessionsRead) {
		return
	}
	sess, err := h.svc.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !owns(r, sess.UserID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		ID:         sess.ID,
		Status:     sess.Status,
		Question:   sess.Question(),
		Brief:      sess.ResearchBrief,
		Error:      sess.Error,
		Messages:   len(sess.Thread),
		Iterations: sess.Iterations,
		UpdatedAt:  sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *ResearchHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeSessionsRead) {
		return
	}
	rec, err := h.svc.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !owns(r, rec.UserID) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(rec.Report))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// requireScope rejects scoped tokens that were not granted scope.
// Unauthenticated requests and tokens without scopes pass.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	u, ok := auth.GetUserContext(r.Context())
	if !ok || len(u.Scopes) == 0 || u.HasScope(scope) {
		return true
	}
	writeError(w, http.StatusForbidden, "missing scope "+scope)
	return false
}

// owns hides other users' sessions when authentication is on
func owns(r *http.Request, owner string) bool {
	u, ok := auth.GetUserContext(r.Context())
	return !ok || owner == "" || owner == u.UserID
}

func (h *ResearchHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, server.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired), errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrSessionBusy):
		writeError(w, http.StatusConflict, err.Error())
	case llm.IsStructuredOutputError(err):
		writeError(w, http.StatusBadGateway, sanitizeErr(err.Error()))
	default:
		h.logger.Error("Research request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sanitizeErr trims error messages for safe client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
