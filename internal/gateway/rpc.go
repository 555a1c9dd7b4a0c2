package gateway

import (
	"strings"

	"github.com/soyeahso/supportchat/internal/domain"
)

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

type voiceStopParams struct {
	SessionID       string  `json:"sessionId"`
	AgentID         string  `json:"agentId,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	MediaURL        string  `json:"mediaUrl,omitempty"`
}

type imageParams struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId,omitempty"`
	MediaURL  string `json:"mediaUrl"`
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
		Uptime:  s.uptime(),
	})
}

// rpcChatSend handles a widget message. The sender is subscribed to the
// session so pacing events follow the response.
func (s *Server) rpcChatSend(rc *RequestContext) {
	var in domain.InboundMessage
	if err := rc.Params(&in); err != nil {
		rc.Fail(err)
		return
	}
	s.deliverInbound(rc, in)
}

func (s *Server) rpcWidgetImage(rc *RequestContext) {
	var p imageParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	in, err := s.widget.SendImage(p.SessionID, p.AgentID, p.MediaURL)
	if err != nil {
		rc.Fail(err)
		return
	}
	s.deliverInbound(rc, in)
}

func (s *Server) rpcVoiceStart(rc *RequestContext) {
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	if err := s.widget.StartVoiceCapture(p.SessionID); err != nil {
		rc.Fail(err)
		return
	}
	rc.Client.Subscribe(p.SessionID)
	rc.Respond(map[string]any{"sessionId": p.SessionID, "recording": true})
}

func (s *Server) rpcVoiceStop(rc *RequestContext) {
	var p voiceStopParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	in, err := s.widget.StopVoiceCapture(p.SessionID, p.AgentID, p.DurationSeconds, p.MediaURL)
	if err != nil {
		rc.Fail(err)
		return
	}
	s.deliverInbound(rc, in)
}

func (s *Server) deliverInbound(rc *RequestContext, in domain.InboundMessage) {
	if _, err := in.Validate(); err != nil {
		rc.Fail(err)
		return
	}
	rc.Client.Subscribe(strings.TrimSpace(in.SessionID))

	reply, err := s.chat.HandleInbound(rc.Ctx, in)
	if err != nil && reply.ErrorTag != domain.TagAIDisabled && reply.ErrorTag != domain.TagProviderError {
		rc.Fail(err)
		return
	}
	rc.Respond(newChatResponse(reply))
}

// rpcChatSubscribe follows a session's pacing events. Admins may pass "*".
func (s *Server) rpcChatSubscribe(rc *RequestContext) {
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	if p.SessionID == "" {
		rc.Fail(&domain.ValidationError{Field: "sessionId", Message: "is required"})
		return
	}
	if !rc.Client.Subscribe(p.SessionID) {
		rc.Fail(domain.ErrUnauthorized)
		return
	}
	rc.Respond(map[string]any{"subscribed": p.SessionID})
}

// rpcChatRead marks a session read from an operator console.
func (s *Server) rpcChatRead(rc *RequestContext) {
	if !rc.Client.Principal.Admin {
		rc.Fail(domain.ErrUnauthorized)
		return
	}
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	if err := s.chat.MarkRead(rc.Ctx, p.SessionID); err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"sessionId": p.SessionID, "read": true})
}
