package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))
	r.Use(loggingMiddleware(s.log))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/agents", s.handlePublicAgents)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Get("/agents", s.handleListAgents)
			r.Post("/agents", s.handleCreateAgent)
			r.Put("/agents/{id}", s.handleUpdateAgent)
			r.Delete("/agents/{id}", s.handleDeleteAgent)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handlePutSettings)

			r.Get("/sessions", s.handleListSessions)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Post("/sessions/{id}/reply", s.handleInjectReply)
			r.Post("/sessions/{id}/read", s.handleMarkRead)
			r.Delete("/sessions/{id}", s.handleClearSession)
		})
	})

	r.NotFound(handleNotFound)
	return r
}

// registerRPCHandlers sets up the WebSocket method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)
	s.Handle(MethodChatSend, s.rpcChatSend)
	s.Handle(MethodChatSub, s.rpcChatSubscribe)
	s.Handle(MethodChatRead, s.rpcChatRead)
	s.Handle(MethodVoiceStart, s.rpcVoiceStart)
	s.Handle(MethodVoiceStop, s.rpcVoiceStop)
	s.Handle(MethodWidgetImage, s.rpcWidgetImage)
}
