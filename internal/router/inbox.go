package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/hooks"
)

// Transcript is one session with its full message log.
type Transcript struct {
	Session  domain.Session   `json:"session"`
	Agent    domain.AgentView `json:"agent"`
	Messages []domain.Message `json:"messages"`
}

// ListSessions returns inbox rows, most recent activity first.
func (r *Router) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	sessions, err := r.conv.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string)
	out := make([]domain.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		unread, err := r.conv.UnreadCount(ctx, s.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("counting unread of %q: %w", s.ID, err)
		}
		last, err := r.conv.RecentMessages(ctx, s.ID, 1)
		if err != nil {
			return nil, fmt.Errorf("loading last message of %q: %w", s.ID, err)
		}

		name, ok := names[s.AgentID]
		if !ok {
			name = r.personaFor(ctx, s.AgentID).Name
			names[s.AgentID] = name
		}

		sum := domain.SessionSummary{Session: s, AgentName: name, UnreadCount: unread}
		if len(last) == 1 {
			sum.LastMessage = &last[0]
		}
		out = append(out, sum)
	}
	return out, nil
}

// Conversation returns the full ordered log of one session.
func (r *Router) Conversation(ctx context.Context, id string) (*Transcript, error) {
	sess, err := r.conv.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := r.conv.RecentMessages(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return &Transcript{
		Session:  *sess,
		Agent:    r.personaFor(ctx, sess.AgentID).View(),
		Messages: msgs,
	}, nil
}

// MarkRead clears the unread count of a session.
func (r *Router) MarkRead(ctx context.Context, id string) error {
	return r.conv.MarkRead(ctx, id)
}

// InjectReply appends an operator-written assistant message and delivers
// it like any other reply.
func (r *Router) InjectReply(ctx context.Context, p domain.Principal, id, text string) (*domain.Message, error) {
	if !p.Admin {
		return nil, domain.ErrUnauthorized
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &domain.ValidationError{Field: "message", Message: "must not be empty"}
	}
	if len(text) > domain.MaxMessageLength {
		return nil, &domain.ValidationError{Field: "message", Message: "is too long"}
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	sess, err := r.conv.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	msg, err := r.appendAssistant(ctx, id, text, domain.SourceAdmin)
	if err != nil {
		return nil, err
	}

	timing := r.timing(ctx)
	r.activity(ctx, sess, timing)
	r.pacer.Deliver(id, text, r.personaFor(ctx, sess.AgentID).View(), timing)
	r.emit(ctx, hooks.EventReplySent, id, map[string]any{"source": string(domain.SourceAdmin), "by": p.Subject})
	r.log.Info().Str("sessionId", id).Str("by", p.Subject).Msg("operator reply injected")
	return &msg, nil
}

// ClearSession deletes a session and its log and cancels its timers. It
// does not wait for an in-flight completion; that reply is discarded.
func (r *Router) ClearSession(ctx context.Context, p domain.Principal, id string) error {
	if !p.Admin {
		return domain.ErrUnauthorized
	}
	r.pacer.Cancel(id)
	if err := r.conv.DeleteSession(ctx, id); err != nil {
		return err
	}
	r.emit(ctx, hooks.EventSessionCleared, id, map[string]any{"by": p.Subject})
	r.log.Info().Str("sessionId", id).Str("by", p.Subject).Msg("session cleared")
	return nil
}

// FollowUpDue posts the inactivity follow-up. Called by the pacer.
func (r *Router) FollowUpDue(id string, gen uint64) {
	unlock := r.locks.Lock(id)
	defer unlock()

	if !r.pacer.Current(id, gen) {
		return
	}
	ctx := context.Background()
	sess, err := r.conv.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.pacer.Cancel(id)
		} else {
			r.log.Warn().Err(err).Str("sessionId", id).Msg("follow-up skipped")
		}
		return
	}
	if sess.Status != domain.SessionActive {
		return
	}

	if _, err := r.appendAssistant(ctx, id, FollowUpText, domain.SourceFollowUp); err != nil {
		r.log.Warn().Err(err).Str("sessionId", id).Msg("appending follow-up failed")
		return
	}
	if err := r.conv.SetStatus(ctx, id, domain.SessionIdle); err != nil {
		r.log.Warn().Err(err).Str("sessionId", id).Msg("marking session idle failed")
	}
	if err := r.conv.Touch(ctx, id, time.Now().UTC()); err != nil {
		r.log.Warn().Err(err).Str("sessionId", id).Msg("touch failed")
	}

	r.pacer.FollowedUp(id, gen, FollowUpText, r.personaFor(ctx, sess.AgentID).View())
	r.emit(ctx, hooks.EventFollowUpSent, id, nil)
	r.log.Debug().Str("sessionId", id).Msg("follow-up sent")
}

// EndDue closes an idle session. Called by the pacer.
func (r *Router) EndDue(id string, gen uint64) {
	unlock := r.locks.Lock(id)
	defer unlock()

	if !r.pacer.Current(id, gen) {
		return
	}
	ctx := context.Background()
	if err := r.conv.SetStatus(ctx, id, domain.SessionEnded); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.pacer.Cancel(id)
			return
		}
		r.log.Warn().Err(err).Str("sessionId", id).Msg("ending session failed")
		return
	}
	r.pacer.Ended(id, gen)
	r.emit(ctx, hooks.EventSessionEnd, id, nil)
	r.log.Info().Str("sessionId", id).Msg("session ended after inactivity")
}
