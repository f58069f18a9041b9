// Package api provides HTTP handlers and the main API server logic for
// taxchat.
//
// It exposes the tax-filing chat endpoint plus conversation and profile
// CRUD over the store, with bearer-token ownership checks on every
// persisted resource.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/northledger/taxchat/internal/flow"
	"github.com/northledger/taxchat/internal/store"
)

// Default server configuration
const (
	// DefaultAddr is the default listen address for the API server.
	DefaultAddr = ":8080"
	// DefaultReadTimeout bounds reading one request.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds writing one response; it must cover a full
	// completion-service round trip.
	DefaultWriteTimeout = 60 * time.Second
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the interview engine and the store into HTTP handlers.
type Server struct {
	st     store.Store
	engine *flow.Engine
	addr   string
}

// NewServer creates an API server over the given store and turn engine.
func NewServer(st store.Store, engine *flow.Engine, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{st: st, engine: engine, addr: cfg.Addr}
}

// Handler builds the route multiplexer. Exposed so tests can drive the
// server through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tax-filing/chat", s.chatHandler)
	mux.HandleFunc("/api/conversations", s.conversationsHandler)
	mux.HandleFunc("/api/conversations/", s.conversationHandler)
	mux.HandleFunc("/api/profile", s.profileHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	slog.Info("taxchat API running", "addr", s.addr)
	return srv.ListenAndServe()
}

// authenticate resolves the request's bearer token to a user id through the
// store. Missing or unknown tokens return an error; handlers respond 401.
func (s *Server) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("missing bearer token")
	}
	userID, err := s.st.GetUserIDByToken(token)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", errors.New("unknown token")
	}
	return userID, nil
}

// healthHandler provides a health check endpoint for monitoring and load
// balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
