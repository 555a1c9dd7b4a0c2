// Package gateway exposes the chat engine over HTTP and WebSocket: the
// widget chat endpoint, the public roster, the admin inbox and a push
// channel for pacing events.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/directory"
	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/hooks"
	"github.com/soyeahso/supportchat/internal/logging"
	"github.com/soyeahso/supportchat/internal/pacer"
	"github.com/soyeahso/supportchat/internal/router"
	"github.com/soyeahso/supportchat/internal/settings"
	"github.com/soyeahso/supportchat/internal/version"
	"github.com/soyeahso/supportchat/internal/widget"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	maxPayload    = 10 << 20
	eventBuffer   = 256
	handshakeWait = 10 * time.Second
)

// Deps are the engine components served by the gateway. Hooks may be nil.
type Deps struct {
	Router    *router.Router
	Directory *directory.Directory
	Settings  *settings.Store
	Widget    *widget.Widget
	Hooks     *hooks.Manager
}

// Server is the supportchat HTTP + WebSocket server.
type Server struct {
	cfg      config.ServerConfig
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	chat     *router.Router
	dir      *directory.Directory
	settings *settings.Store
	widget   *widget.Widget
	hooks    *hooks.Manager

	events    chan pacer.Event
	done      chan struct{}
	closeOnce sync.Once
	// conns tracks WebSocket handlers, which http.Server.Shutdown stops
	// watching once the connection is hijacked.
	conns sync.WaitGroup

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// New creates a gateway server and starts its event dispatcher. Call Close
// (or cancel the context passed to Start) to release it.
func New(cfg config.ServerConfig, deps Deps, log *logging.Logger) *Server {
	if deps.Widget == nil {
		deps.Widget = widget.New(nil)
	}
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		chat:        deps.Router,
		dir:         deps.Directory,
		settings:    deps.Settings,
		widget:      deps.Widget,
		hooks:       deps.Hooks,
		events:      make(chan pacer.Event, eventBuffer),
		done:        make(chan struct{}),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	s.registerRPCHandlers()

	go s.dispatchEvents()
	go s.authLimiter.run(s.done)
	return s
}

// checkWebSocketOrigin validates the Origin header of upgrade requests.
// Requests without one (same-origin or non-browser) are allowed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Notify queues a pacing event for subscribed clients. It never blocks;
// events are dropped when the queue is full.
func (s *Server) Notify(e pacer.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- e:
	default:
		s.log.Warn().Str("sessionId", e.SessionID).Str("event", string(e.Type)).Msg("event queue full, dropping")
	}
}

func (s *Server) dispatchEvents() {
	for {
		select {
		case <-s.done:
			return
		case e := <-s.events:
			s.clients.Publish(e.SessionID, EventPrefix+string(e.Type), e, s.eventSeq.Add(1))
		}
	}
}

// Close disconnects every client and stops background work.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.clients.CloseAll()
	})
}

// ResolveBindAddr computes the listen address from config.
func ResolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start listens for HTTP and WebSocket connections. It blocks until the
// context is cancelled and in-flight requests have drained, or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	addr := ResolveBindAddr(s.cfg)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled, admin credentials travel in cleartext")
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventServerStart, "", map[string]any{"addr": ln.Addr().String()})
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventServerStop, "", nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Close()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown incomplete")
		}
		s.drain(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

// drain waits for hijacked WebSocket handlers to finish their current frame.
func (s *Server) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("websocket handlers still running at shutdown")
	}
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.conns.Add(1)
	defer s.conns.Done()

	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		for _, id := range client.Sessions() {
			s.widget.CancelVoiceCapture(id)
		}
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshake runs challenge → connect → hello. Visitors connect without
// credentials; a presented credential must be a valid admin credential.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeWait))

	challenge, err := NewEvent(EventChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != MethodConnect {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
			return nil, fmt.Errorf("parsing connect params: %w", err)
		}
	}

	principal := domain.Anonymous
	method := "anonymous"
	if params.Auth != nil && params.Auth.Token != "" {
		res := Authorize(s.auth, params.Auth.Token)
		if !res.OK {
			s.authLimiter.recordFailure(conn.RemoteAddr().String())
			sendErrorAndClose(conn, frame.ID, "unauthorized", res.Reason)
			return nil, fmt.Errorf("auth failed: %s", res.Reason)
		}
		principal, method = res.Principal, res.Method
	}

	conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params.Client, principal, s.log.Sub("ws"))
	if params.SessionID != "" {
		client.Subscribe(params.SessionID)
	}

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: s.version, Commit: version.Commit, ConnID: client.ConnID},
		Features: Features{Methods: s.Methods(), Events: eventNames()},
		Policy:   ServerPolicy{MaxPayload: maxPayload},
		Admin:    principal.Admin,
	}
	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := client.Send(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Debug().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("authMethod", method).
		Msg("client connected")
	return client, nil
}

func eventNames() []string {
	types := []pacer.EventType{
		pacer.EventConnecting, pacer.EventStaffed, pacer.EventTyping,
		pacer.EventReply, pacer.EventFollowUp, pacer.EventEnded,
	}
	out := []string{EventChallenge}
	for _, t := range types {
		out = append(out, EventPrefix+string(t))
	}
	return out
}

// readLoop processes incoming frames from a connected client.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else if !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

// dispatch routes a request frame to its handler.
func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
