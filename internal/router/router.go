// Package router is the chat session state machine. It creates sessions
// on first contact, assigns a persona, records every message, asks the
// completion gateway for replies and hands them to the pacer.
package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/hooks"
	"github.com/soyeahso/supportchat/internal/llm"
	"github.com/soyeahso/supportchat/internal/logging"
	"github.com/soyeahso/supportchat/internal/store"
)

// DefaultHistoryLimit is the number of messages handed to the gateway.
const DefaultHistoryLimit = 20

// Roster picks and looks up personas.
type Roster interface {
	Pick(ctx context.Context, agentID string) (*domain.Agent, error)
	Get(ctx context.Context, id string) (*domain.Agent, error)
}

// SettingsReader returns the current settings snapshot.
type SettingsReader interface {
	GetAll(ctx context.Context) (domain.Settings, error)
}

// Completer generates assistant replies.
type Completer interface {
	Complete(ctx context.Context, persona domain.Persona, s domain.Settings, history []domain.Message, newMessage domain.Message) (string, error)
}

// Pacer is the part of the response pacer the router drives.
type Pacer interface {
	Start(sessionID string, agent domain.AgentView, timing domain.Timing)
	Touch(sessionID string, timing domain.Timing) uint64
	Deliver(sessionID, text string, agent domain.AgentView, timing domain.Timing) time.Duration
	Current(sessionID string, gen uint64) bool
	FollowedUp(sessionID string, gen uint64, text string, agent domain.AgentView) bool
	Ended(sessionID string, gen uint64) bool
	Cancel(sessionID string)
}

// Deps are the collaborators of a Router. Hooks may be nil.
type Deps struct {
	Conversations store.ConversationStore
	Roster        Roster
	Settings      SettingsReader
	Completer     Completer
	Pacer         Pacer
	Hooks         *hooks.Manager
}

// Router handles inbound chat traffic and the admin inbox.
type Router struct {
	conv      store.ConversationStore
	roster    Roster
	settings  SettingsReader
	completer Completer
	pacer     Pacer
	hooks     *hooks.Manager

	historyLimit int
	locks        *keyedMutex
	log          *logging.Logger
}

// New creates a router. A historyLimit of zero uses DefaultHistoryLimit.
func New(deps Deps, historyLimit int, log *logging.Logger) *Router {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Router{
		conv:         deps.Conversations,
		roster:       deps.Roster,
		settings:     deps.Settings,
		completer:    deps.Completer,
		pacer:        deps.Pacer,
		hooks:        deps.Hooks,
		historyLimit: historyLimit,
		locks:        newKeyedMutex(),
		log:          log.Sub("router"),
	}
}

// HandleInbound processes one visitor message. The returned reply is never
// nil; on failure it carries visitor-safe text and an error tag, and err
// holds the cause.
func (r *Router) HandleInbound(ctx context.Context, in domain.InboundMessage) (*domain.Reply, error) {
	kind, err := in.Validate()
	if err != nil {
		return failure(in.SessionID, domain.FallbackPersona, domain.TagValidation, InvalidReply), err
	}
	id := strings.TrimSpace(in.SessionID)

	unlock := r.locks.Lock(id)
	defer unlock()

	sess, persona, created, err := r.ensureSession(ctx, id, in.AgentID)
	if err != nil {
		r.log.Error().Err(err).Str("sessionId", id).Msg("loading session failed")
		return failure(id, domain.FallbackPersona, domain.TagInternal, ErrorReply), err
	}

	userMsg, err := r.conv.AppendMessage(ctx, domain.Message{
		SessionID:       id,
		Role:            domain.RoleUser,
		Kind:            kind,
		Content:         strings.TrimSpace(in.Message),
		MediaURL:        in.MediaURL,
		DurationSeconds: in.DurationSeconds,
		Source:          domain.SourceVisitor,
	})
	if err != nil {
		return r.storeFailure(id, persona, err)
	}
	r.emit(ctx, hooks.EventMessageReceived, id, map[string]any{"type": string(kind), "seq": userMsg.Seq})

	settings, err := r.settings.GetAll(ctx)
	if err != nil {
		r.log.Error().Err(err).Str("sessionId", id).Msg("reading settings failed")
		settings = domain.Settings{}
	}
	timing := settings.Timing()

	reply := &domain.Reply{SessionID: id, Agent: persona.View(), NewSession: created}
	if created {
		reply.QueueWait = timing.QueueWait
		r.pacer.Start(id, persona.View(), timing)
		r.emit(ctx, hooks.EventSessionStart, id, map[string]any{"agent": persona.Name, "agentId": sess.AgentID})
	}

	if kind != domain.KindText {
		ack := ackFor(kind)
		if _, err := r.appendAssistant(ctx, id, ack, domain.SourceCanned); err != nil {
			return r.storeFailure(id, persona, err)
		}
		r.activity(ctx, sess, timing)
		reply.Text = ack
		reply.TypingDelay = r.pacer.Deliver(id, ack, persona.View(), timing)
		r.emit(ctx, hooks.EventReplySent, id, map[string]any{"source": string(domain.SourceCanned)})
		return reply, nil
	}

	history, err := r.conv.RecentMessages(ctx, id, r.historyLimit)
	if err != nil {
		r.activity(ctx, sess, timing)
		return r.storeFailure(id, persona, err)
	}

	start := time.Now()
	text, err := r.completer.Complete(ctx, persona, settings, history, userMsg)
	if err != nil {
		r.activity(ctx, sess, timing)
		return r.completionFailure(ctx, id, persona, err), err
	}

	// The session may have been cleared while the provider was working.
	if _, err := r.conv.GetSession(ctx, id); err != nil {
		return r.storeFailure(id, persona, err)
	}
	if _, err := r.appendAssistant(ctx, id, text, domain.SourceAI); err != nil {
		return r.storeFailure(id, persona, err)
	}
	r.activity(ctx, sess, timing)

	reply.Text = text
	reply.TypingDelay = r.pacer.Deliver(id, text, persona.View(), timing)
	r.emit(ctx, hooks.EventReplySent, id, map[string]any{
		"source":   string(domain.SourceAI),
		"duration": time.Since(start).String(),
	})
	r.log.Info().
		Str("sessionId", id).
		Str("agent", persona.Name).
		Int("history", len(history)).
		Dur("duration", time.Since(start)).
		Msg("reply generated")
	return reply, nil
}

func failure(sessionID string, persona domain.Persona, tag, text string) *domain.Reply {
	return &domain.Reply{SessionID: sessionID, Text: text, Agent: persona.View(), ErrorTag: tag}
}

func (r *Router) storeFailure(id string, persona domain.Persona, err error) (*domain.Reply, error) {
	if errors.Is(err, domain.ErrNotFound) {
		r.log.Info().Str("sessionId", id).Msg("session cleared mid-request, discarding reply")
		return failure(id, persona, domain.TagNotFound, ErrorReply), err
	}
	r.log.Error().Err(err).Str("sessionId", id).Msg("conversation store failure")
	return failure(id, persona, domain.TagInternal, ErrorReply), err
}

func (r *Router) completionFailure(ctx context.Context, id string, persona domain.Persona, err error) *domain.Reply {
	if domain.IsConfiguration(err) {
		r.log.Debug().Str("sessionId", id).Str("reason", err.Error()).Msg("ai replies unavailable")
		r.emit(ctx, hooks.EventReplyFailed, id, map[string]any{"error": domain.TagAIDisabled})
		return failure(id, persona, domain.TagAIDisabled, UnavailableReply)
	}

	ev := r.log.Warn().Err(err).Str("sessionId", id)
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		ev = ev.Str("provider", pe.Provider).Int("code", pe.Code)
	}
	ev.Msg("completion failed")
	r.emit(ctx, hooks.EventReplyFailed, id, map[string]any{"error": domain.TagProviderError})
	return failure(id, persona, domain.TagProviderError, TransientReply)
}

// ensureSession loads the session or creates it with a freshly picked agent.
func (r *Router) ensureSession(ctx context.Context, id, agentID string) (*domain.Session, domain.Persona, bool, error) {
	sess, err := r.conv.GetSession(ctx, id)
	if err == nil {
		return sess, r.personaFor(ctx, sess.AgentID), false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Persona{}, false, err
	}

	agent, err := r.roster.Pick(ctx, agentID)
	if err != nil {
		r.log.Warn().Err(err).Msg("picking agent failed, using generic persona")
		agent = nil
	}
	candidate := domain.Session{ID: id, Status: domain.SessionActive}
	if agent != nil {
		candidate.AgentID = agent.ID
	}

	sess, created, err := r.conv.CreateSession(ctx, candidate)
	if err != nil {
		return nil, domain.Persona{}, false, err
	}
	if created {
		r.log.Info().Str("sessionId", id).Str("agentId", sess.AgentID).Msg("session created")
		if agent != nil {
			return sess, domain.PersonaOf(agent), true, nil
		}
		return sess, domain.FallbackPersona, true, nil
	}
	return sess, r.personaFor(ctx, sess.AgentID), false, nil
}

// personaFor resolves a session's agent, falling back to the generic
// persona when it is unset or was deleted.
func (r *Router) personaFor(ctx context.Context, agentID string) domain.Persona {
	if agentID == "" {
		return domain.FallbackPersona
	}
	a, err := r.roster.Get(ctx, agentID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.log.Warn().Err(err).Str("agentId", agentID).Msg("agent lookup failed")
		}
		return domain.FallbackPersona
	}
	return domain.PersonaOf(a)
}

func (r *Router) appendAssistant(ctx context.Context, id, text string, src domain.Source) (domain.Message, error) {
	return r.conv.AppendMessage(ctx, domain.Message{
		SessionID: id,
		Role:      domain.RoleAssistant,
		Kind:      domain.KindText,
		Content:   text,
		Source:    src,
	})
}

// activity records that the session is live: timestamps, status and the
// inactivity timers.
func (r *Router) activity(ctx context.Context, sess *domain.Session, timing domain.Timing) {
	if err := r.conv.Touch(ctx, sess.ID, time.Now().UTC()); err != nil {
		r.log.Warn().Err(err).Str("sessionId", sess.ID).Msg("touch failed")
		return
	}
	if sess.Status != domain.SessionActive {
		if err := r.conv.SetStatus(ctx, sess.ID, domain.SessionActive); err != nil {
			r.log.Warn().Err(err).Str("sessionId", sess.ID).Msg("reviving session failed")
		} else {
			r.log.Info().Str("sessionId", sess.ID).Str("from", string(sess.Status)).Msg("session revived")
			sess.Status = domain.SessionActive
		}
	}
	r.pacer.Touch(sess.ID, timing)
}

func (r *Router) emit(ctx context.Context, event, sessionID string, data map[string]any) {
	if r.hooks != nil {
		r.hooks.EmitAsync(context.WithoutCancel(ctx), event, sessionID, data)
	}
}

func (r *Router) timing(ctx context.Context) domain.Timing {
	s, err := r.settings.GetAll(ctx)
	if err != nil {
		return domain.Settings{}.Timing()
	}
	return s.Timing()
}
