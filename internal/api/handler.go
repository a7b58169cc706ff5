// Package api exposes the bridge over HTTP. Requests are strict JSON:
// unknown fields are rejected, and session secrets travel only in request
// bodies, never in URLs.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harunnryd/kakehashi/internal/bridge"
	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/guard"
	"github.com/harunnryd/kakehashi/internal/logger"
	"github.com/harunnryd/kakehashi/internal/store"
)

const maxRequestBytes = 1 << 20

type Handler struct {
	bridge *bridge.Bridge
}

func NewHandler(b *bridge.Bridge) *Handler {
	return &Handler{bridge: b}
}

// Router builds the HTTP surface.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/messages", h.send)
		r.Post("/messages/poll", h.poll)
		r.Post("/partner", h.partner)
		r.Post("/status", h.setStatus)
		r.Post("/guard/enable", h.guardEnable)
		r.Post("/guard/status", h.guardStatus)
		r.Post("/execute", h.execute)
	})
	return r
}

type sessionBody struct {
	ConversationID string `json:"conversation_id"`
	Side           string `json:"side"`
	Secret         string `json:"secret"`
}

func (s sessionBody) session() bridge.Session {
	return bridge.Session{ConversationID: s.ConversationID, Side: s.Side, Secret: s.Secret}
}

// context annotates the request context with correlation IDs so everything
// downstream logs with them.
func (s sessionBody) context(r *http.Request) context.Context {
	return logger.WithSessionSide(logger.WithConversationID(r.Context(), s.ConversationID), s.Side)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoleA string `json:"role_a"`
		RoleB string `json:"role_b"`
	}
	if !decode(w, r, &req) {
		return
	}
	creds, err := h.bridge.Register(r.Context(), req.RoleA, req.RoleB)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"conversation_id": creds.ConversationID,
		"secret_a":        creds.SecretA,
		"secret_b":        creds.SecretB,
		"expires_at":      creds.ExpiresAt,
	})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionBody
		Body     string   `json:"body"`
		Category string   `json:"category"`
		Files    []string `json:"files"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Category == "" {
		req.Category = "info"
	}
	result, err := h.bridge.Send(req.context(r), req.session(), req.Body, req.Category, req.Files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message_id": result.MessageID,
		"redactions": len(result.Redacted),
	})
}

type wireMessage struct {
	ID        int64    `json:"id"`
	From      string   `json:"from"`
	Body      string   `json:"body"`
	Category  string   `json:"category"`
	Files     []string `json:"files,omitempty"`
	CreatedAt string   `json:"created_at"`
}

func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	var req sessionBody
	if !decode(w, r, &req) {
		return
	}
	msgs, err := h.bridge.Poll(req.context(r), req.session())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage{
			ID:        m.ID,
			From:      m.From,
			Body:      m.Body,
			Category:  m.Category,
			Files:     m.Files,
			CreatedAt: m.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *Handler) partner(w http.ResponseWriter, r *http.Request) {
	var req sessionBody
	if !decode(w, r, &req) {
		return
	}
	st, err := h.bridge.Partner(req.context(r), req.session())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":           st.Role,
		"status":         st.Status,
		"alive":          st.Alive,
		"last_heartbeat": st.LastHeartbeat,
	})
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionBody
		Status string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.bridge.SetStatus(req.context(r), req.session(), req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) guardEnable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionBody
		Mode        string `json:"mode"`
		Workspace   string `json:"workspace"`
		TimeoutSecs int    `json:"timeout_secs"`
		Sandbox     bool   `json:"sandbox"`
	}
	if !decode(w, r, &req) {
		return
	}
	phrase, err := h.bridge.EnableGuard(req.context(r), req.session(), guard.Settings{
		Mode:        store.ExecMode(req.Mode),
		Workspace:   req.Workspace,
		TimeoutSecs: req.TimeoutSecs,
		Sandbox:     req.Sandbox,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"stage":          string(store.StageConfirmPending),
		"confirm_phrase": phrase,
	})
}

func (h *Handler) guardStatus(w http.ResponseWriter, r *http.Request) {
	var req sessionBody
	if !decode(w, r, &req) {
		return
	}
	stage, err := h.bridge.GuardStatus(req.context(r), req.session())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stage": stage})
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionBody
		Token   string `json:"token"`
		Command string `json:"command"`
		DryRun  bool   `json:"dry_run"`
	}
	if !decode(w, r, &req) {
		return
	}
	result, err := h.bridge.Execute(req.context(r), req.session(), req.Token, req.Command, req.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decode parses a strict JSON body. On failure it writes the error response
// and returns false.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, kkErrors.InvalidInput("malformed request body: "+err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := kkErrors.Kind(err)
	status := statusFor(kind)

	// Internal detail stays in the log, not on the wire.
	message := err.Error()
	if kind == "internal" {
		slog.Error("Internal error", "error", err)
		message = "internal error"
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"kind":    kind,
			"message": message,
		},
	})
}

func statusFor(kind string) int {
	switch kind {
	case "auth":
		return http.StatusUnauthorized
	case "rate_limited":
		return http.StatusTooManyRequests
	case "validation_blocked", "guard_state", "token_expired", "token_already_used":
		return http.StatusForbidden
	case "conversation_expired":
		return http.StatusGone
	case "payload_too_large":
		return http.StatusRequestEntityTooLarge
	case "not_found":
		return http.StatusNotFound
	case "invalid_input":
		return http.StatusBadRequest
	case "sandbox_unavailable":
		return http.StatusServiceUnavailable
	case "execution_timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
