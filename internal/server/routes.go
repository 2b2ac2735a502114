package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dopamas/querygate/internal/validator"
	"github.com/dopamas/querygate/internal/workflow"
)

const healthTimeout = 2 * time.Second

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type validateRequest struct {
	Query   string            `json:"query"`
	Dialect validator.Dialect `json:"dialect"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := s.svc.Process(r.Context(), req.Message, req.SessionID)
	if errors.Is(err, workflow.ErrInvalidSession) {
		writeError(w, http.StatusBadRequest, "session_id must be 8 to 64 letters, digits, hyphens or underscores")
		return
	}
	if err != nil {
		s.logger.Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	switch resp.ErrorKind {
	case workflow.KindInput:
		status = http.StatusBadRequest
	case workflow.KindInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	hist, err := s.svc.History(r.Context(), sid)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sid, "history": hist})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	if err := s.svc.ClearHistory(r.Context(), sid); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	snap, err := s.svc.Schema(r.Context(), refresh)
	if err != nil {
		s.logger.Warn("schema unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "schema unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Dialect == "" {
		req.Dialect = validator.DialectRelational
	}
	if !req.Dialect.Valid() {
		writeError(w, http.StatusBadRequest, "dialect must be relational or document")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Validate(req.Query, req.Dialect))
}

// handleHealth runs every check concurrently with a short timeout. Any
// failure reports the service as degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(s.checks))
	for name, check := range s.checks {
		go func() { results <- result{name, check(ctx)} }()
	}

	resp := healthResponse{Status: "healthy", Components: map[string]string{}}
	for range s.checks {
		res := <-results
		if res.err != nil {
			resp.Status = "degraded"
			resp.Components[res.name] = "unavailable"
			continue
		}
		resp.Components[res.name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
		names := make([]string, 0, len(resp.Components))
		for n, v := range resp.Components {
			if v != "ok" {
				names = append(names, n)
			}
		}
		sort.Strings(names)
		s.logger.Warn("health degraded", "components", names)
	}
	writeJSON(w, status, resp)
}
