package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/chat-gateway/internal/config"
	"github.com/npezzotti/chat-gateway/internal/database"
	"github.com/npezzotti/chat-gateway/internal/identity"
	"github.com/npezzotti/chat-gateway/internal/server"
	"go.uber.org/zap"
)

type GatewayApp struct {
	log            *zap.Logger
	db             database.Repository
	srv            *http.Server
	gw             *server.Gateway
	verifier       identity.Verifier
	allowedOrigins []string
	relayKeyHash   []byte
	relayKey       atomic.Value
}

func NewGatewayApp(mux *http.ServeMux, logger *zap.Logger, gw *server.Gateway, db database.Repository, verifier identity.Verifier, cfg *config.Config) *GatewayApp {
	s := &GatewayApp{
		log:            logger,
		db:             db,
		gw:             gw,
		verifier:       verifier,
		allowedOrigins: cfg.AllowedOrigins,
		relayKeyHash:   cfg.RelayKeyHash,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.Handle("GET /api/chats", s.authMiddleware(s.listChats))
	mux.Handle("GET /api/chats/{roomId}/messages", s.authMiddleware(s.listMessages))
	mux.Handle("GET /api/presence", s.authMiddleware(s.presenceSnapshot))
	mux.Handle("GET /api/presence/{userId}", s.authMiddleware(s.userPresence))
	mux.Handle("POST /internal/relay/message", s.relayAuthMiddleware(s.relayMessage))
	mux.Handle("POST /internal/relay/seen", s.relayAuthMiddleware(s.relaySeen))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GatewayApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GatewayApp) Start() error {
	s.log.Info("starting server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *GatewayApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
