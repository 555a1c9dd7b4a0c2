// Package pacer simulates human reply pacing for support sessions: the
// queue wait before an agent joins, typing time before each reply, and
// the inactivity follow-up and end-of-chat timers.
package pacer

import (
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/logging"
)

// State is the pacer's view of a session.
type State string

const (
	StateActive     State = "active"
	StateFollowedUp State = "followed_up"
)

// Handler performs the session mutations that inactivity timers trigger.
// Calls arrive on timer goroutines with no pacer lock held. gen identifies
// the activity generation that armed the timer; a handler must discard the
// call when Current(sessionID, gen) no longer holds under its own lock.
type Handler interface {
	FollowUpDue(sessionID string, gen uint64)
	EndDue(sessionID string, gen uint64)
}

type session struct {
	gen        uint64
	state      State
	timing     domain.Timing
	inactivity Timer
	staffed    Timer
	nextID     uint64
	deliveries map[uint64]Timer
}

func (s *session) stopAll() {
	if s.inactivity != nil {
		s.inactivity.Stop()
		s.inactivity = nil
	}
	if s.staffed != nil {
		s.staffed.Stop()
		s.staffed = nil
	}
	for id, t := range s.deliveries {
		t.Stop()
		delete(s.deliveries, id)
	}
}

// Pacer owns every per-session timer.
type Pacer struct {
	sched  Scheduler
	notify Notifier
	log    *logging.Logger

	mu       sync.Mutex
	handler  Handler
	sessions map[string]*session
	gen      uint64 // shared by all sessions so a recreated session never reuses one
	closed   bool
}

// New creates a pacer. A nil scheduler uses RealScheduler.
func New(sched Scheduler, notify Notifier, log *logging.Logger) *Pacer {
	if sched == nil {
		sched = RealScheduler{}
	}
	if notify == nil {
		notify = NotifierFunc(func(Event) {})
	}
	return &Pacer{
		sched:    sched,
		notify:   notify,
		log:      log.Sub("pacer"),
		sessions: make(map[string]*session),
	}
}

// SetHandler installs the receiver of follow-up and end callbacks.
func (p *Pacer) SetHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// SetNotifier replaces the receiver of pacing events. A nil notifier
// discards them.
func (p *Pacer) SetNotifier(n Notifier) {
	if n == nil {
		n = NotifierFunc(func(Event) {})
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notify = n
}

// TypingDelay is how long the agent appears to type before reply is shown.
func TypingDelay(reply string, t domain.Timing) time.Duration {
	words := len(strings.Fields(reply))
	return t.TypingDelay + time.Duration(words)*t.ReplySpeed
}

func (p *Pacer) sessionLocked(id string, timing domain.Timing) *session {
	s, ok := p.sessions[id]
	if !ok {
		s = &session{state: StateActive, deliveries: make(map[uint64]Timer)}
		p.sessions[id] = s
	}
	s.timing = timing
	return s
}

// emit must be called without p.mu held.
func (p *Pacer) emit(e Event) {
	p.mu.Lock()
	n := p.notify
	p.mu.Unlock()
	e.At = time.Now().UTC()
	n.Notify(e)
}

// Start announces a new session: "connecting" now and "staffed" once the
// queue wait has elapsed. Message handling is not delayed.
func (p *Pacer) Start(sessionID string, agent domain.AgentView, timing domain.Timing) {
	if !p.open() {
		return
	}
	p.emit(Event{Type: EventConnecting, SessionID: sessionID, Agent: &agent, DelayMs: timing.QueueWait.Milliseconds()})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	s := p.sessionLocked(sessionID, timing)
	if s.staffed != nil {
		s.staffed.Stop()
	}
	s.staffed = p.sched.AfterFunc(timing.QueueWait, func() {
		p.mu.Lock()
		cur, ok := p.sessions[sessionID]
		live := ok && !p.closed && cur == s
		if live {
			s.staffed = nil
		}
		p.mu.Unlock()
		if live {
			p.emit(Event{Type: EventStaffed, SessionID: sessionID, Agent: &agent})
		}
	})
}

// open reports whether the pacer still accepts work.
func (p *Pacer) open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Touch records activity: pending inactivity timers are cancelled, the
// generation advances and the follow-up timer is armed again. It returns
// the new generation.
func (p *Pacer) Touch(sessionID string, timing domain.Timing) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}

	s := p.sessionLocked(sessionID, timing)
	if s.inactivity != nil {
		s.inactivity.Stop()
	}
	p.gen++
	s.gen = p.gen
	s.state = StateActive
	gen := s.gen
	s.inactivity = p.sched.AfterFunc(timing.FollowUpTimeout, func() {
		if h := p.due(sessionID, gen); h != nil {
			h.FollowUpDue(sessionID, gen)
		}
	})
	return gen
}

// due returns the handler when gen is still the session's generation.
func (p *Pacer) due(sessionID string, gen uint64) Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if p.closed || !ok || s.gen != gen {
		return nil
	}
	s.inactivity = nil
	return p.handler
}

// Current reports whether gen is the live generation of the session.
func (p *Pacer) Current(sessionID string, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	return ok && !p.closed && s.gen == gen
}

// Deliver emits "typing" now and the reply after the typing delay. It
// returns the delay so request/response transports can pass it on.
func (p *Pacer) Deliver(sessionID, text string, agent domain.AgentView, timing domain.Timing) time.Duration {
	delay := TypingDelay(text, timing)
	if !p.open() {
		return delay
	}
	// typing goes out before the reply timer exists so it is never overtaken
	p.emit(Event{Type: EventTyping, SessionID: sessionID, Agent: &agent, DelayMs: delay.Milliseconds()})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return delay
	}
	s := p.sessionLocked(sessionID, timing)
	s.nextID++
	id := s.nextID
	s.deliveries[id] = p.sched.AfterFunc(delay, func() {
		p.mu.Lock()
		cur, ok := p.sessions[sessionID]
		_, pending := s.deliveries[id]
		live := ok && !p.closed && cur == s && pending
		delete(s.deliveries, id)
		p.mu.Unlock()
		if live {
			p.emit(Event{Type: EventReply, SessionID: sessionID, Text: text, Agent: &agent})
		}
	})
	return delay
}

// FollowedUp is called by the handler after it appended the follow-up
// message. It emits the follow-up and arms the end-of-chat timer.
func (p *Pacer) FollowedUp(sessionID string, gen uint64, text string, agent domain.AgentView) bool {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if p.closed || !ok || s.gen != gen {
		p.mu.Unlock()
		return false
	}
	s.state = StateFollowedUp
	if s.inactivity != nil {
		s.inactivity.Stop()
	}
	s.inactivity = p.sched.AfterFunc(s.timing.EndChatTimeout, func() {
		if h := p.due(sessionID, gen); h != nil {
			h.EndDue(sessionID, gen)
		}
	})
	p.mu.Unlock()

	p.emit(Event{Type: EventFollowUp, SessionID: sessionID, Text: text, Agent: &agent})
	return true
}

// Ended is called by the handler after the session was marked ended. The
// session is forgotten.
func (p *Pacer) Ended(sessionID string, gen uint64) bool {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if p.closed || !ok || s.gen != gen {
		p.mu.Unlock()
		return false
	}
	s.stopAll()
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	p.log.Debug().Str("sessionId", sessionID).Msg("session ended")
	p.emit(Event{Type: EventEnded, SessionID: sessionID})
	return true
}

// Cancel stops every timer of a session and forgets it.
func (p *Pacer) Cancel(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[sessionID]; ok {
		s.stopAll()
		delete(p.sessions, sessionID)
	}
}

// State returns the pacing state of a tracked session.
func (p *Pacer) State(sessionID string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.state, true
}

// Tracked returns the number of sessions with live timers.
func (p *Pacer) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close stops all timers. Later calls are no-ops.
func (p *Pacer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, s := range p.sessions {
		s.stopAll()
		delete(p.sessions, id)
	}
	p.log.Debug().Msg("pacer closed")
}
