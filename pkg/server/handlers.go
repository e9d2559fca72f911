package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayforge/relayforge/pkg/domain"
	"github.com/relayforge/relayforge/pkg/telemetry"
)

// sessionView is the API shape of a session. The sealed credential never
// leaves the server; only its presence is reported.
type sessionView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	BaseURL       string    `json:"base_url"`
	APISpec       string    `json:"api_spec,omitempty"`
	HasCredential bool      `json:"has_credential"`
	CreatedAt     time.Time `json:"created_at"`
}

func viewOf(s *domain.Session) sessionView {
	return sessionView{
		ID:            s.ID,
		Name:          s.Name,
		BaseURL:       s.BaseURL,
		APISpec:       s.APISpec,
		HasCredential: s.Credential != nil,
		CreatedAt:     s.CreatedAt,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, domain.ErrUnauthorized)
		return
	}
	if !s.authEnabled || !passwordEqual(req.Password, s.password) {
		s.logger.Warn("Login rejected", "remote_addr", r.RemoteAddr)
		writeError(r.Context(), w, domain.ErrUnauthorized)
		return
	}

	token := s.tokens.Issue()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if tok := requestToken(r); tok != "" {
		s.tokens.Revoke(tok)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

type createSessionRequest struct {
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	APISpec    string `json:"api_spec,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Code: domain.CodeInvalidPlan, Message: "malformed request body"})
		return
	}

	if err := s.guard.Validate(req.BaseURL); err != nil {
		s.metrics.RecordSecurityRejection("url")
		telemetry.RecordSecurityEvent(trace.SpanFromContext(r.Context()), true, "url")
		writeError(r.Context(), w, &domain.DomainError{
			Err:     domain.ErrSecurityRejected,
			Code:    domain.CodeSecurityRejected,
			Message: err.Error(),
		})
		return
	}

	sess := &domain.Session{
		ID:        uuid.NewString(),
		Name:      req.Name,
		BaseURL:   req.BaseURL,
		APISpec:   req.APISpec,
		CreatedAt: time.Now(),
	}
	if req.Credential != "" {
		if s.cipher == nil {
			writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{
				Code:    domain.CodeInvalidPlan,
				Message: "credential storage requires a configured secrets passphrase",
			})
			return
		}
		sealed, err := s.cipher.Seal(req.Credential)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		sess.Credential = sealed
	}

	if err := s.sessions.CreateSession(r.Context(), sess); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	s.logger.Info("Session registered", "session_id", sess.ID, "name", sess.Name, "base_url", sess.BaseURL)
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	views := make([]sessionView, 0, len(all))
	for _, sess := range all {
		views = append(views, viewOf(sess))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Command string `json:"command"`
}

// handleExecute runs one ad-hoc command in the context of a session. The
// command text goes through the full validation pipeline; the session
// only scopes logging and future auditing.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Code: domain.CodeInvalidPlan, Message: "malformed request body"})
		return
	}

	args, err := s.builder.Build(req.Command)
	if err != nil {
		if errors.Is(err, domain.ErrSecurityRejected) {
			s.metrics.RecordSecurityRejection("command")
			telemetry.RecordSecurityEvent(trace.SpanFromContext(r.Context()), true, "command")
		}
		writeError(r.Context(), w, err)
		return
	}

	res := s.executor.Run(r.Context(), args)
	s.metrics.RecordCommand(res.Success)

	s.logger.Info("Command executed",
		"session_id", sess.ID,
		"success", res.Success,
		"http_code", res.HTTPCode,
		"exit_code", res.ExitCode,
	)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	var plan domain.WorkflowPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Code: domain.CodeInvalidPlan, Message: "malformed request body"})
		return
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if err := plan.Validate(); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := s.workflows.SavePlan(r.Context(), &plan); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	s.logger.Info("Workflow saved", "workflow_id", plan.ID, "name", plan.Name, "steps", len(plan.Steps))
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	plan, err := s.workflows.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type runWorkflowRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var req runWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Code: domain.CodeInvalidPlan, Message: "malformed request body"})
		return
	}

	rec, err := s.orchestrator.Execute(r.Context(), r.PathValue("id"), req.SessionID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	s.metrics.RecordWorkflowRun(string(rec.Status))
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orchestrator.GetRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
