package router

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/supportchat/internal/completion"
	"github.com/soyeahso/supportchat/internal/directory"
	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/llm"
	"github.com/soyeahso/supportchat/internal/logging"
	"github.com/soyeahso/supportchat/internal/pacer"
	"github.com/soyeahso/supportchat/internal/settings"
	"github.com/soyeahso/supportchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = domain.Principal{Subject: "root", Admin: true}

// manualScheduler fires timers only when the test advances the clock.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	s    *manualScheduler
	at   time.Duration
	f    func()
	done bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	pending := !t.done
	t.done = true
	return pending
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) pacer.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()
	for {
		s.mu.Lock()
		var due []*manualTimer
		for _, t := range s.timers {
			if !t.done && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			s.now = target
			s.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
		next := due[0]
		next.done = true
		s.now = next.at
		s.mu.Unlock()
		next.f()
	}
}

type harness struct {
	router   *Router
	conv     *store.MemoryConversationStore
	agents   *store.MemoryAgentStore
	dir      *directory.Directory
	settings *settings.Store
	mock     *llm.MockClient
	pacer    *pacer.Pacer
	sched    *manualScheduler
}

func newHarness(t *testing.T, historyLimit int) *harness {
	t.Helper()
	log := logging.New(nil, "silent")

	h := &harness{
		conv:   store.NewMemoryConversationStore(),
		agents: store.NewMemoryAgentStore(),
		mock: &llm.MockClient{
			ProviderName: "mock",
			CompleteFunc: func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
				return &llm.CompletionResponse{Content: "Hello! How can I help?"}, nil
			},
		},
		sched: &manualScheduler{},
	}
	h.dir = directory.New(h.agents, rand.New(rand.NewPCG(7, 11)), log)
	h.settings = settings.New(store.NewMemorySettingsStore(), log)

	reg := llm.NewRegistry(log)
	reg.Register("mock", h.mock)
	reg.SetFallback("mock")
	gw := completion.New(reg, completion.Config{}, log)

	h.pacer = pacer.New(h.sched, nil, log)
	h.router = New(Deps{
		Conversations: h.conv,
		Roster:        h.dir,
		Settings:      h.settings,
		Completer:     gw,
		Pacer:         h.pacer,
	}, historyLimit, log)
	h.pacer.SetHandler(h.router)
	t.Cleanup(h.pacer.Close)
	return h
}

func (h *harness) enableAI(t *testing.T) {
	t.Helper()
	require.NoError(t, h.settings.Set(context.Background(), admin, map[string]any{
		domain.SettingAIEnabled: true,
		domain.SettingAIAPIKey:  "test-key",
	}))
}

func (h *harness) addAgent(t *testing.T, id, name string) {
	t.Helper()
	_, err := h.agents.UpsertAgent(context.Background(), domain.Agent{ID: id, Name: name, Role: "Support", Active: true})
	require.NoError(t, err)
}

func (h *harness) messages(t *testing.T, id string) []domain.Message {
	t.Helper()
	msgs, err := h.conv.RecentMessages(context.Background(), id, 0)
	require.NoError(t, err)
	return msgs
}

func text(id, msg string) domain.InboundMessage {
	return domain.InboundMessage{SessionID: id, Message: msg}
}

func TestHandleInbound_ScenarioA_Reply(t *testing.T) {
	h := newHarness(t, 0)
	h.addAgent(t, "a1", "Sarah")
	h.enableAI(t)

	reply, err := h.router.HandleInbound(context.Background(), text("s1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help?", reply.Text)
	assert.Equal(t, "Sarah", reply.Agent.Name)
	assert.Empty(t, reply.ErrorTag)
	assert.True(t, reply.NewSession)
	assert.Equal(t, 3*time.Second, reply.QueueWait)
	assert.Equal(t, 1500*time.Millisecond+5*200*time.Millisecond, reply.TypingDelay)

	msgs := h.messages(t, "s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello! How can I help?", msgs[1].Content)
	assert.Equal(t, domain.SourceAI, msgs[1].Source)
}

func TestHandleInbound_ScenarioB_AIDisabled(t *testing.T) {
	h := newHarness(t, 0)
	h.addAgent(t, "a1", "Sarah")

	reply, err := h.router.HandleInbound(context.Background(), text("s1", "hi"))
	assert.True(t, domain.IsConfiguration(err))
	assert.Equal(t, UnavailableReply, reply.Text)
	assert.Equal(t, domain.TagAIDisabled, reply.ErrorTag)
	assert.Equal(t, "Sarah", reply.Agent.Name)

	msgs := h.messages(t, "s1")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, 0, h.mock.Calls())
}

func TestHandleInbound_ScenarioC_ImageSkipsGateway(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)

	reply, err := h.router.HandleInbound(context.Background(), domain.InboundMessage{
		SessionID: "s2", Type: "image", MediaURL: "data:image/png;base64,AAAA",
	})
	require.NoError(t, err)
	assert.Equal(t, ImageAckReply, reply.Text)
	assert.Equal(t, 0, h.mock.Calls())

	msgs := h.messages(t, "s2")
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.KindImage, msgs[0].Kind)
	assert.Equal(t, domain.SourceCanned, msgs[1].Source)
}

func TestHandleInbound_VoiceAckEvenWhenAIDisabled(t *testing.T) {
	h := newHarness(t, 0)

	reply, err := h.router.HandleInbound(context.Background(), domain.InboundMessage{
		SessionID: "s3", Type: "voice", DurationSeconds: 4.2,
	})
	require.NoError(t, err)
	assert.Equal(t, VoiceAckReply, reply.Text)
	assert.Empty(t, reply.ErrorTag)
	assert.Equal(t, 0, h.mock.Calls())
}

func TestHandleInbound_ScenarioD_NoActiveAgents(t *testing.T) {
	h := newHarness(t, 0)
	h.addAgent(t, "a1", "Sarah")
	h.enableAI(t)
	require.NoError(t, h.dir.Delete(context.Background(), admin, "a1"))

	reply, err := h.router.HandleInbound(context.Background(), text("s4", "hello"))
	require.NoError(t, err)
	assert.Equal(t, domain.FallbackPersona.Name, reply.Agent.Name)
	assert.Nil(t, reply.Agent.Avatar)

	sess, err := h.conv.GetSession(context.Background(), "s4")
	require.NoError(t, err)
	assert.Empty(t, sess.AgentID)
}

func TestHandleInbound_DeletedAgentFallsBack(t *testing.T) {
	h := newHarness(t, 0)
	h.addAgent(t, "a1", "Sarah")
	h.enableAI(t)
	ctx := context.Background()

	_, err := h.router.HandleInbound(ctx, text("s1", "hi"))
	require.NoError(t, err)
	require.NoError(t, h.dir.Delete(ctx, admin, "a1"))

	reply, err := h.router.HandleInbound(ctx, text("s1", "still there?"))
	require.NoError(t, err)
	assert.Equal(t, domain.FallbackPersona.Name, reply.Agent.Name)
	assert.False(t, reply.NewSession)
}

func TestHandleInbound_ProviderErrorNotPersisted(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)
	h.mock.CompleteFunc = func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "mock", Code: 500, Message: "boom"}
	}

	reply, err := h.router.HandleInbound(context.Background(), text("s1", "hi"))
	require.Error(t, err)
	assert.Equal(t, TransientReply, reply.Text)
	assert.Equal(t, domain.TagProviderError, reply.ErrorTag)
	assert.NotEqual(t, UnavailableReply, reply.Text)
	assert.Len(t, h.messages(t, "s1"), 1)
	assert.Equal(t, 1, h.mock.Calls())
}

func TestHandleInbound_ValidationBeforeMutation(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)

	for _, in := range []domain.InboundMessage{
		{Message: "no session"},
		{SessionID: "s1", Message: "   "},
		{SessionID: "s1", Type: "image"},
		{SessionID: "s1", Type: "video", Message: "x"},
	} {
		reply, err := h.router.HandleInbound(context.Background(), in)
		assert.True(t, domain.IsValidation(err), "%+v", in)
		assert.Equal(t, domain.TagValidation, reply.ErrorTag)
		assert.Equal(t, InvalidReply, reply.Text)
	}

	sessions, err := h.conv.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestHandleInbound_IdempotentSessionCreation(t *testing.T) {
	h := newHarness(t, 0)
	for i := 0; i < 5; i++ {
		h.addAgent(t, fmt.Sprintf("a%d", i), fmt.Sprintf("Agent %d", i))
	}
	h.enableAI(t)
	ctx := context.Background()

	first, err := h.router.HandleInbound(ctx, text("new", "hi"))
	require.NoError(t, err)
	second, err := h.router.HandleInbound(ctx, text("new", "hi again"))
	require.NoError(t, err)

	assert.Equal(t, first.Agent, second.Agent)
	assert.True(t, first.NewSession)
	assert.False(t, second.NewSession)
	sessions, err := h.conv.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestHandleInbound_RequestedAgent(t *testing.T) {
	h := newHarness(t, 0)
	h.addAgent(t, "a1", "Sarah")
	h.addAgent(t, "a2", "Omar")
	h.enableAI(t)

	reply, err := h.router.HandleInbound(context.Background(), domain.InboundMessage{SessionID: "s1", Message: "hi", AgentID: "a2"})
	require.NoError(t, err)
	assert.Equal(t, "Omar", reply.Agent.Name)
}

func TestHandleInbound_BoundedHistory(t *testing.T) {
	h := newHarness(t, 20)
	h.enableAI(t)
	ctx := context.Background()

	_, _, err := h.conv.CreateSession(ctx, domain.Session{ID: "s1"})
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, err := h.conv.AppendMessage(ctx, domain.Message{
			SessionID: "s1", Role: domain.RoleUser, Kind: domain.KindText,
			Content: fmt.Sprintf("m%02d", i), Source: domain.SourceVisitor,
		})
		require.NoError(t, err)
	}

	_, err = h.router.HandleInbound(ctx, text("s1", "latest"))
	require.NoError(t, err)

	req, ok := h.mock.LastRequest()
	require.True(t, ok)
	require.Len(t, req.Messages, 20)
	assert.Equal(t, "m11", req.Messages[0].Content)
	assert.Equal(t, "m29", req.Messages[18].Content)
	assert.Equal(t, "latest", req.Messages[19].Content)
}

func TestHandleInbound_HistoryOrdering(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.router.HandleInbound(ctx, text("s1", fmt.Sprintf("q%d", i)))
		require.NoError(t, err)
	}

	msgs := h.messages(t, "s1")
	require.Len(t, msgs, 10)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}
	req, _ := h.mock.LastRequest()
	assert.Equal(t, "q4", req.Messages[len(req.Messages)-1].Content)
	assert.Equal(t, "q3", req.Messages[len(req.Messages)-3].Content)
}

func TestHandleInbound_SerializesPerSession(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)
	h.mock.CompleteFunc = func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		time.Sleep(2 * time.Millisecond)
		return &llm.CompletionResponse{Content: "ok"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.router.HandleInbound(context.Background(), text("busy", fmt.Sprintf("msg %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs := h.messages(t, "busy")
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}
	assert.Equal(t, 0, h.router.locks.Len())
}

func TestHandleInbound_ParallelAcrossSessions(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)

	release := make(chan struct{})
	entered := make(chan string, 2)
	h.mock.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		entered <- req.Messages[0].Content
		<-release
		return &llm.CompletionResponse{Content: "ok"}, nil
	}

	var wg sync.WaitGroup
	for _, id := range []string{"x", "y"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = h.router.HandleInbound(context.Background(), text(id, id))
		}(id)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-entered:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("sessions blocked each other")
		}
	}
	close(release)
	wg.Wait()
	assert.Len(t, got, 2)
}

func TestHandleInbound_ClearedDuringCompletion(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.mock.CompleteFunc = func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		close(started)
		<-release
		return &llm.CompletionResponse{Content: "too late"}, nil
	}

	type result struct {
		reply *domain.Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		r, err := h.router.HandleInbound(ctx, text("s1", "hi"))
		done <- result{r, err}
	}()

	<-started
	require.NoError(t, h.router.ClearSession(ctx, admin, "s1"))
	close(release)

	res := <-done
	assert.ErrorIs(t, res.err, domain.ErrNotFound)
	assert.Equal(t, domain.TagNotFound, res.reply.ErrorTag)
	assert.Empty(t, h.messages(t, "s1"))
	_, err := h.conv.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFollowUpAndEnd(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)
	ctx := context.Background()

	_, err := h.router.HandleInbound(ctx, text("s1", "hi"))
	require.NoError(t, err)

	h.sched.Advance(60 * time.Second)
	msgs := h.messages(t, "s1")
	require.Len(t, msgs, 3)
	assert.Equal(t, FollowUpText, msgs[2].Content)
	assert.Equal(t, domain.SourceFollowUp, msgs[2].Source)
	sess, err := h.conv.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionIdle, sess.Status)

	h.sched.Advance(120 * time.Second)
	sess, err = h.conv.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEnded, sess.Status)
	assert.Len(t, h.messages(t, "s1"), 3, "ending appends nothing")
	assert.Equal(t, 0, h.pacer.Tracked())

	// A new message revives the same session.
	reply, err := h.router.HandleInbound(ctx, text("s1", "one more thing"))
	require.NoError(t, err)
	assert.False(t, reply.NewSession)
	sess, err = h.conv.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.Status)
}

func TestActivityPostponesFollowUp(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)
	ctx := context.Background()

	_, err := h.router.HandleInbound(ctx, text("s1", "hi"))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		h.sched.Advance(50 * time.Second)
		_, err := h.router.HandleInbound(ctx, text("s1", "still here"))
		require.NoError(t, err)
	}
	h.sched.Advance(59 * time.Second)

	for _, m := range h.messages(t, "s1") {
		assert.NotEqual(t, domain.SourceFollowUp, m.Source)
	}
	sess, err := h.conv.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.Status)
}

func TestClearSession_CancelsTimers(t *testing.T) {
	h := newHarness(t, 0)
	h.enableAI(t)
	ctx := context.Background()

	_, err := h.router.HandleInbound(ctx, text("s1", "hi"))
	require.NoError(t, err)

	assert.ErrorIs(t, h.router.ClearSession(ctx, domain.Anonymous, "s1"), domain.ErrUnauthorized)
	require.NoError(t, h.router.ClearSession(ctx, admin, "s1"))
	assert.Equal(t, 0, h.pacer.Tracked())

	h.sched.Advance(time.Hour)
	assert.Empty(t, h.messages(t, "s1"))
	assert.ErrorIs(t, h.router.ClearSession(ctx, admin, "s1"), domain.ErrNotFound)
}

func TestInjectReply(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.router.HandleInbound(ctx, text("s1", "is anyone there?"))
	require.Error(t, err) // AI disabled

	_, err = h.router.InjectReply(ctx, domain.Anonymous, "s1", "yes")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.router.InjectReply(ctx, admin, "ghost", "yes")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.router.InjectReply(ctx, admin, "s1", "  ")
	assert.True(t, domain.IsValidation(err))

	msg, err := h.router.InjectReply(ctx, admin, "s1", "Hi, this is Dana from the team.")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceAdmin, msg.Source)
	assert.Equal(t, domain.RoleAssistant, msg.Role)

	msgs := h.messages(t, "s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, msg.Seq, msgs[1].Seq)
}

func TestInboxListingAndUnread(t *testing.T) {
	h := newHarness(t, 0)
	h.addAgent(t, "a1", "Sarah")
	h.enableAI(t)
	ctx := context.Background()

	_, err := h.router.HandleInbound(ctx, text("older", "hi"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = h.router.HandleInbound(ctx, text("newer", "hello"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = h.router.HandleInbound(ctx, text("newer", "question"))
	require.NoError(t, err)

	list, err := h.router.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)
	assert.Equal(t, 2, list[0].UnreadCount)
	assert.Equal(t, "Sarah", list[0].AgentName)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, domain.RoleAssistant, list[0].LastMessage.Role)

	require.NoError(t, h.router.MarkRead(ctx, "newer"))
	list, err = h.router.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, list[0].UnreadCount)
	assert.Equal(t, 1, list[1].UnreadCount)

	tr, err := h.router.Conversation(ctx, "newer")
	require.NoError(t, err)
	assert.Len(t, tr.Messages, 4)
	assert.Equal(t, "Sarah", tr.Agent.Name)

	_, err = h.router.Conversation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.router.MarkRead(ctx, "missing"), domain.ErrNotFound)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	assert.Equal(t, 1, k.Len())

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired

	require.Eventually(t, func() bool { return k.Len() == 0 }, time.Second, time.Millisecond)
}
