package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/methings/brainctl/internal/brainerr"
	"github.com/methings/brainctl/internal/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"uptime_s":   int(time.Since(s.startedAt).Seconds()),
		"encryption": s.store.EncryptionStatus(),
	}
	if s.brain != nil {
		resp["brain"] = s.brain.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePermissions lists pending grants (GET) or creates one (POST), the
// same request shape a tool's "permission_required" response asks the
// caller to follow up with.
func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		grants, err := s.broker.ListPending(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, grants)
	case http.MethodPost:
		var body struct {
			Tool        string            `json:"tool"`
			Capability  string            `json:"capability"`
			Detail      string            `json:"detail"`
			Scope       models.GrantScope `json:"scope"`
			Identity    string            `json:"identity"`
			DurationMin int               `json:"duration_min"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
			return
		}
		g, err := s.broker.Request(r.Context(), body.Tool, body.Detail, body.Scope, body.Identity, body.Capability, body.DurationMin)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, g)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handlePermissionByID handles GET (lookup), and POST .../approve or
// .../deny on a single grant id.
func (s *Server) handlePermissionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/permissions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "":
		g, err := s.broker.Get(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	case r.Method == http.MethodPost && action == "approve":
		g, err := s.broker.Approve(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	case r.Method == http.MethodPost && action == "deny":
		g, err := s.broker.Deny(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleToolInvoke handles POST /tools/<name>/invoke, the one external
// entrypoint into the dispatcher's closed tool set.
func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/tools/")
	name, action, _ := strings.Cut(rest, "/")
	if name == "" || action != "invoke" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var body struct {
		Args         map[string]any `json:"args"`
		PermissionID string         `json:"permission_id"`
		Detail       string         `json:"detail"`
		Identity     string         `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if err := validateToolArgs(name, body.Args); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_args", "detail": err.Error()})
		return
	}

	result := s.dispatcher.Invoke(r.Context(), name, body.Args, body.PermissionID, body.Detail, body.Identity)
	status := http.StatusOK
	switch result.Status {
	case models.ToolStatusPermissionRequired, models.ToolStatusPermissionExpired:
		status = http.StatusForbidden
	case models.ToolStatusError:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.store.ListAuditRecent(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleLogStream streams newly recorded audit events over SSE. It is a
// best-effort tail: it polls the store rather than subscribing to the
// audit logger directly, so it works the same way against either storage
// backend.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	seen := map[string]bool{}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := s.store.ListAuditRecent(ctx, 50)
			if err != nil {
				continue
			}
			for _, e := range events {
				if seen[e.ID] {
					continue
				}
				seen[e.ID] = true
				payload, _ := json.Marshal(e)
				_, _ = w.Write([]byte("data: "))
				_, _ = w.Write(payload)
				_, _ = w.Write([]byte("\n\n"))
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleBrainChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		SessionID string         `json:"session_id"`
		Text      string         `json:"text"`
		Meta      map[string]any `json:"meta,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" || body.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if !s.chatLimit.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
		return
	}
	item, err := s.brain.EnqueueChat(body.SessionID, body.Text, body.Meta)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (s *Server) handleBrainSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := s.journal.ListSessions(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleBrainSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/brain/sessions/")
	if sessionID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.journal.ListForSession(r.Context(), sessionID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleBrainStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.brain.State())
}

// handleBrainConfig reads (GET) or replaces (POST) the brain runtime's
// RuntimeConfig blob, stored as an opaque JSON settings value so the rest
// of the control plane never parses it directly.
func (s *Server) handleBrainConfig(w http.ResponseWriter, r *http.Request) {
	const settingsKey = "brain:runtime_config"
	switch r.Method {
	case http.MethodGet:
		raw, ok, err := s.store.GetSetting(r.Context(), settingsKey)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ok {
			var cfg models.RuntimeConfig
			cfg.Clamp()
			writeJSON(w, http.StatusOK, cfg)
			return
		}
		var cfg models.RuntimeConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPost:
		var cfg models.RuntimeConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
			return
		}
		cfg.Clamp()
		raw, _ := json.Marshal(cfg)
		if err := s.store.SetSetting(r.Context(), settingsKey, string(raw)); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	if be, ok := brainerr.As(err); ok {
		writeJSON(w, be.Kind.StatusCode(), map[string]string{"error": string(be.Kind), "message": be.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
}
