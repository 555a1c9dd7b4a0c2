package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/router"
	"github.com/soyeahso/supportchat/internal/settings"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the RPC method adds the rest.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// ChatResponse is the body of POST /api/chat and the chat.send result.
type ChatResponse struct {
	*domain.Reply
	TypingMs    int64 `json:"typingMs"`
	QueueWaitMs int64 `json:"queueWaitMs,omitempty"`
}

func newChatResponse(r *domain.Reply) ChatResponse {
	return ChatResponse{
		Reply:       r,
		TypingMs:    r.TypingDelay.Milliseconds(),
		QueueWaitMs: r.QueueWait.Milliseconds(),
	}
}

// PublicAgent is a roster entry as the widget sees it.
type PublicAgent struct {
	ID string `json:"id"`
	domain.AgentView
}

type replyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorShape{Code: "not_found", Message: "no route for " + r.URL.Path})
}

// handleChat is the widget's request/response chat endpoint.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in domain.InboundMessage
	if err := decodeBody(w, r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, newChatResponse(&domain.Reply{
			Text:     router.InvalidReply,
			Agent:    domain.FallbackPersona.View(),
			ErrorTag: domain.TagValidation,
		}))
		return
	}

	reply, err := s.chat.HandleInbound(r.Context(), in)
	if err != nil {
		s.log.Debug().Err(err).Str("sessionId", in.SessionID).Str("tag", reply.ErrorTag).Msg("chat request failed")
	}
	writeJSON(w, statusForTag(reply.ErrorTag), newChatResponse(reply))
}

func (s *Server) handlePublicAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.dir.ListActive(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]PublicAgent, 0, len(agents))
	for i := range agents {
		out = append(out, PublicAgent{ID: agents[i].ID, AgentView: domain.PersonaOf(&agents[i]).View()})
	}
	writeJSON(w, http.StatusOK, out)
}

// requireAdmin resolves the bearer credential into an admin principal.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimiter.allow(r.RemoteAddr) {
			writeJSON(w, http.StatusTooManyRequests, ErrorShape{Code: "rate_limited", Message: "too many failed attempts"})
			return
		}
		res := Authorize(s.auth, bearerToken(r))
		if !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("admin auth failed")
			s.writeError(w, domain.ErrUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, res.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) domain.Principal {
	if p, ok := ctx.Value(principalKey).(domain.Principal); ok {
		return p
	}
	return domain.Anonymous
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.dir.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var a domain.Agent
	if err := decodeBody(w, r, &a); err != nil {
		s.writeError(w, err)
		return
	}
	a.ID = ""
	saved, err := s.dir.Upsert(r.Context(), principalFrom(r.Context()), a)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var a domain.Agent
	if err := decodeBody(w, r, &a); err != nil {
		s.writeError(w, err)
		return
	}
	a.ID = chi.URLParam(r, "id")
	saved, err := s.dir.Upsert(r.Context(), principalFrom(r.Context()), a)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.dir.Delete(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.GetAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings.Redacted(all))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := decodeBody(w, r, &values); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.settings.Set(r.Context(), principalFrom(r.Context()), values); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleGetSettings(w, r)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.chat.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	tr, err := s.chat.Conversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleInjectReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	msg, err := s.chat.InjectReply(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.ClearSession(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorShape(err error) ErrorShape {
	switch statusFor(err) {
	case http.StatusForbidden:
		return ErrorShape{Code: "unauthorized", Message: "admin credentials required"}
	case http.StatusBadRequest:
		return ErrorShape{Code: domain.TagValidation, Message: err.Error()}
	case http.StatusNotFound:
		return ErrorShape{Code: domain.TagNotFound, Message: err.Error()}
	default:
		return ErrorShape{Code: domain.TagInternal, Message: "internal error"}
	}
}

// statusForTag maps a chat reply's error tag to an HTTP status. Disabled
// and transient failures are still 200: the widget shows the reply text.
func statusForTag(tag string) int {
	switch tag {
	case domain.TagValidation:
		return http.StatusBadRequest
	case domain.TagNotFound:
		return http.StatusNotFound
	case domain.TagInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorShape(err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayload)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message})
}

// Fail maps an engine error onto an error response.
func (rc *RequestContext) Fail(err error) {
	shape := errorShape(err)
	rc.RespondError(shape.Code, shape.Message)
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	if err := json.Unmarshal(rc.Frame.Params, target); err != nil {
		return &domain.ValidationError{Field: "params", Message: err.Error()}
	}
	return nil
}

func (s *Server) uptime() string {
	if s.startedAt.IsZero() {
		return ""
	}
	return time.Since(s.startedAt).Round(time.Second).String()
}
