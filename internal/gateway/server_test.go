package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/supportchat/internal/completion"
	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/directory"
	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/llm"
	"github.com/soyeahso/supportchat/internal/logging"
	"github.com/soyeahso/supportchat/internal/pacer"
	"github.com/soyeahso/supportchat/internal/router"
	"github.com/soyeahso/supportchat/internal/settings"
	"github.com/soyeahso/supportchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token-123"

var admin = domain.Principal{Subject: "test", Admin: true}

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	dir      *directory.Directory
	settings *settings.Store
	conv     *store.MemoryConversationStore
	mock     *llm.MockClient
}

func newTestEnv(t *testing.T, mutate ...func(*config.ServerConfig)) *testEnv {
	t.Helper()
	log := logging.New(nil, "silent")

	cfg := config.Defaults().Server
	cfg.Auth = config.AuthConfig{Mode: "token", Token: testToken}
	for _, m := range mutate {
		m(&cfg)
	}

	env := &testEnv{
		conv: store.NewMemoryConversationStore(),
		mock: &llm.MockClient{
			ProviderName: "mock",
			CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
				return &llm.CompletionResponse{Content: "Happy to help with that."}, nil
			},
		},
	}
	env.dir = directory.New(store.NewMemoryAgentStore(), rand.New(rand.NewPCG(1, 2)), log)
	env.settings = settings.New(store.NewMemorySettingsStore(), log)
	require.NoError(t, env.settings.Seed(context.Background(), map[string]any{
		domain.SettingQueueWaitTime: 0,
		domain.SettingTypingDelay:   0,
		domain.SettingReplySpeed:    0,
	}))

	reg := llm.NewRegistry(log)
	reg.Register("mock", env.mock)
	reg.SetFallback("mock")

	p := pacer.New(nil, nil, log)
	t.Cleanup(p.Close)

	rt := router.New(router.Deps{
		Conversations: env.conv,
		Roster:        env.dir,
		Settings:      env.settings,
		Completer:     completion.New(reg, completion.Config{}, log),
		Pacer:         p,
	}, 0, log)
	p.SetHandler(rt)

	srv := New(cfg, Deps{Router: rt, Directory: env.dir, Settings: env.settings}, log)
	t.Cleanup(srv.Close)
	p.SetNotifier(srv)
	env.srv = srv

	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) enableAI(t *testing.T) {
	t.Helper()
	require.NoError(t, e.settings.Set(context.Background(), admin, map[string]any{
		domain.SettingAIEnabled: true,
		domain.SettingAIAPIKey:  "sk-test-abcd1234",
	}))
}

func (e *testEnv) addAgent(t *testing.T, name string, active bool) *domain.Agent {
	t.Helper()
	a, err := e.dir.Upsert(context.Background(), admin, domain.Agent{Name: name, Role: "Support", Active: active})
	require.NoError(t, err)
	return a
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			rdr = bytes.NewBufferString(s)
		} else {
			raw, err := json.Marshal(body)
			require.NoError(t, err)
			rdr = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

type chatBody struct {
	SessionID   string           `json:"sessionId"`
	Reply       string           `json:"reply"`
	Agent       domain.AgentView `json:"agent"`
	Error       string           `json:"error"`
	NewSession  bool             `json:"newSession"`
	TypingMs    int64            `json:"typingMs"`
	QueueWaitMs int64            `json:"queueWaitMs"`
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodGet, "/nonexistent", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(data), "not_found")
}

func TestChatEndpoint_Reply(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "Sarah", true)
	env.enableAI(t)

	resp, data := env.do(t, http.MethodPost, "/api/chat", "", map[string]any{"sessionId": "s1", "message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var body chatBody
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, "Happy to help with that.", body.Reply)
	assert.Equal(t, "Sarah", body.Agent.Name)
	assert.Nil(t, body.Agent.Avatar)
	assert.Empty(t, body.Error)
	assert.True(t, body.NewSession)
	assert.Contains(t, string(data), `"avatar":null`)
}

func TestChatEndpoint_AIDisabled(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodPost, "/api/chat", "", map[string]any{"sessionId": "s1", "message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body chatBody
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, domain.TagAIDisabled, body.Error)
	assert.Equal(t, router.UnavailableReply, body.Reply)
	assert.Equal(t, domain.FallbackPersona.Name, body.Agent.Name)
	assert.Equal(t, 0, env.mock.Calls())
}

func TestChatEndpoint_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing session", map[string]any{"message": "hi"}},
		{"empty text", map[string]any{"sessionId": "s1", "message": " "}},
		{"bad type", map[string]any{"sessionId": "s1", "message": "x", "type": "video"}},
		{"malformed json", `{"sessionId":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := env.do(t, http.MethodPost, "/api/chat", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body chatBody
			require.NoError(t, json.Unmarshal(data, &body))
			assert.Equal(t, domain.TagValidation, body.Error)
			assert.Equal(t, router.InvalidReply, body.Reply)
			assert.NotEmpty(t, body.Agent.Name)
		})
	}
}

func TestPublicAgents(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "Sarah", true)
	env.addAgent(t, "Hidden", false)

	resp, data := env.do(t, http.MethodGet, "/api/agents", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agents []PublicAgent
	require.NoError(t, json.Unmarshal(data, &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "Sarah", agents[0].Name)
	assert.NotEmpty(t, agents[0].ID)
	assert.NotContains(t, string(data), "personality")
}

func TestAdmin_RequiresCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"", "wrong-token"} {
		resp, data := env.do(t, http.MethodGet, "/api/admin/sessions", token, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		var shape ErrorShape
		require.NoError(t, json.Unmarshal(data, &shape))
		assert.Equal(t, "unauthorized", shape.Code)
	}
}

func TestAdmin_RateLimitsFailures(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < authRateMaxFails; i++ {
		resp, _ := env.do(t, http.MethodGet, "/api/admin/agents", "nope", nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
	resp, _ := env.do(t, http.MethodGet, "/api/admin/agents", testToken, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestAdmin_AgentCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodPost, "/api/admin/agents", testToken,
		map[string]any{"name": "Omar", "role": "Billing", "active": true, "personality": "Calm"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var created domain.Agent
	require.NoError(t, json.Unmarshal(data, &created))
	assert.NotEmpty(t, created.ID)

	resp, _ = env.do(t, http.MethodPost, "/api/admin/agents", testToken, map[string]any{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = env.do(t, http.MethodPut, "/api/admin/agents/"+created.ID, testToken,
		map[string]any{"name": "Omar", "role": "Billing", "active": false})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = env.do(t, http.MethodGet, "/api/admin/agents", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []domain.Agent
	require.NoError(t, json.Unmarshal(data, &all))
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)

	resp, _ = env.do(t, http.MethodDelete, "/api/admin/agents/"+created.ID, testToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/admin/agents/"+created.ID, testToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_Settings(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodPut, "/api/admin/settings", testToken, map[string]any{
		"ai_enabled":    true,
		"ai_api_key":    "sk-live-secret-9876",
		"support_email": "help@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.NotContains(t, string(data), "sk-live-secret-9876")
	assert.Contains(t, string(data), "9876")

	all, err := env.settings.GetAll(context.Background())
	require.NoError(t, err)
	assert.True(t, all.AIReady())
	assert.Equal(t, "help@example.com", all.String(domain.SettingSupportEmail, ""))

	resp, _ = env.do(t, http.MethodPut, "/api/admin/settings", testToken, map[string]any{"": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_Inbox(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "Sarah", true)
	env.enableAI(t)

	resp, _ := env.do(t, http.MethodPost, "/api/chat", "", map[string]any{"sessionId": "s1", "message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := env.do(t, http.MethodGet, "/api/admin/sessions", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []domain.SessionSummary
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, "Sarah", list[0].AgentName)

	resp, data = env.do(t, http.MethodPost, "/api/admin/sessions/s1/reply", testToken, map[string]any{"message": "Hi, Dana here."})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	resp, _ = env.do(t, http.MethodPost, "/api/admin/sessions/s1/read", testToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = env.do(t, http.MethodGet, "/api/admin/sessions/s1", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr router.Transcript
	require.NoError(t, json.Unmarshal(data, &tr))
	require.Len(t, tr.Messages, 3)
	assert.Equal(t, domain.SourceAdmin, tr.Messages[2].Source)

	resp, _ = env.do(t, http.MethodDelete, "/api/admin/sessions/s1", testToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/admin/sessions/s1", testToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/admin/sessions/s1/reply", testToken, map[string]any{"message": "hello?"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_JWTMode(t *testing.T) {
	const secret = "jwt-secret-for-tests"
	env := newTestEnv(t, func(c *config.ServerConfig) {
		c.Auth = config.AuthConfig{Mode: "jwt", JWTSecret: secret}
	})

	token, err := IssueToken(secret, "dana", time.Hour)
	require.NoError(t, err)
	resp, _ := env.do(t, http.MethodGet, "/api/admin/sessions", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	other, err := IssueToken("another-secret", "dana", time.Hour)
	require.NoError(t, err)
	resp, _ = env.do(t, http.MethodGet, "/api/admin/sessions", other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthorized, http.StatusForbidden},
		{&domain.ValidationError{Field: "name", Message: "is required"}, http.StatusBadRequest},
		{fmt.Errorf("session %q: %w", "x", domain.ErrNotFound), http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
	assert.Equal(t, "internal error", errorShape(errors.New("secret detail")).Message)
}

func TestResolveBindAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8787", ResolveBindAddr(config.ServerConfig{Port: 8787}))
	assert.Equal(t, "0.0.0.0:80", ResolveBindAddr(config.ServerConfig{Port: 80, Bind: "lan"}))
	assert.Equal(t, "10.0.0.5:9000", ResolveBindAddr(config.ServerConfig{Port: 9000, Bind: "custom", CustomBindHost: "10.0.0.5"}))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStart_WaitsForInFlightRequests(t *testing.T) {
	port := freePort(t)
	env := newTestEnv(t, func(c *config.ServerConfig) {
		c.Bind = "loopback"
		c.Port = port
	})
	env.addAgent(t, "Sarah", true)
	env.enableAI(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	env.mock.CompleteFunc = func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		close(entered)
		<-release
		return &llm.CompletionResponse{Content: "done"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan error, 1)
	go func() { started <- env.srv.Start(ctx) }()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	status := make(chan int, 1)
	go func() {
		resp, err := http.Post("http://"+addr+"/api/chat", "application/json",
			bytes.NewBufferString(`{"sessionId":"s1","message":"hi"}`))
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("completion never started")
	}

	cancel()
	select {
	case err := <-started:
		t.Fatalf("Start returned with a request in flight: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-started:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the request finished")
	}
	assert.Equal(t, http.StatusOK, <-status)
}
