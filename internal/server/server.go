// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/neochat/internal/auth"
	"github.com/jeranaias/neochat/internal/chat"
	"github.com/jeranaias/neochat/internal/export"
	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/ollama"
	"github.com/jeranaias/neochat/internal/store"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize bounds JSON request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024
)

// Version is reported by /health. main sets it at startup.
var Version = "0.1.0"

// ============================================================================
// SERVER
// ============================================================================

// Backend is the part of the Ollama client the server needs.
type Backend interface {
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	ProxyGenerate(ctx context.Context, req ollama.GenerateRequest, w io.Writer) error
}

// Options configures a Server.
type Options struct {
	Addr           string
	Model          string
	Sampling       *ollama.Options
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string

	// Logger receives request logs. Defaults to log.Default().
	Logger *log.Logger
}

// Server exposes the chat core over HTTP and a websocket event feed.
type Server struct {
	opts    Options
	backend Backend
	manager *chat.Manager
	store   *store.Store
	users   *auth.Users
	tokens  *auth.Tokens

	hub         *Hub
	limiter     *RateLimiter
	handler     http.Handler
	unsubscribe func()
	startedAt   time.Time

	mu     sync.Mutex
	server *http.Server
}

// New wires the router. A nil tokens disables authentication, which is only
// sensible on a loopback address.
func New(backend Backend, mgr *chat.Manager, st *store.Store, users *auth.Users, tokens *auth.Tokens, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Server{
		opts:      opts,
		backend:   backend,
		manager:   mgr,
		store:     st,
		users:     users,
		tokens:    tokens,
		hub:       NewHub(opts.AllowedOrigins),
		limiter:   NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		startedAt: time.Now(),
	}
	s.unsubscribe = st.Subscribe(s.hub.Publish)
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RecoveryMiddleware())
	r.Use(SecurityHeadersMiddleware())
	r.Use(LoggingMiddleware(s.opts.Logger))
	r.Use(RateLimitMiddleware(s.limiter))

	r.Get("/health", s.handleHealth)
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		if s.tokens != nil {
			r.Use(AuthMiddleware(s.tokens))
		}

		r.Get("/api/models", s.handleModels)
		r.Post("/api/chat", s.handleChat)
		r.Get("/api/ws", s.hub.HandleWebSocket)

		r.Route("/api/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Post("/", s.handleCreateConversation)
			r.Get("/{id}", s.handleGetConversation)
			r.Delete("/{id}", s.handleDeleteConversation)
			r.Post("/{id}/messages", s.handleSendMessage)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Get("/{id}/history", s.handleHistory)
			r.Get("/{id}/export", s.handleExport)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	OllamaStatus  string `json:"ollama_status"`
	Conversations int    `json:"conversations"`
	Clients       int    `json:"ws_clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		OllamaStatus:  "ok",
		Conversations: s.store.Len(),
		Clients:       s.hub.Len(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.backend.CheckRunning(ctx); err != nil {
		health.OllamaStatus = "unavailable"
		health.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// LOGIN
// ============================================================================

// LoginRequest is the POST /api/login body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries a session token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusNotImplemented, "Authentication is disabled")
		return
	}

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if s.users == nil || !s.users.Validate(req.Username, req.Password) {
		log.Printf("LOGIN_FAILED | user=%s client_ip=%s", req.Username, GetClientIP(r))
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := s.tokens.Issue(req.Username)
	if err != nil {
		log.Printf("TOKEN_ISSUE_FAILED | user=%s error=%v", req.Username, err)
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	log.Printf("LOGIN | user=%s client_ip=%s", req.Username, GetClientIP(r))
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(s.tokens.TTL()).UTC(),
	})
}

// ============================================================================
// OLLAMA PASSTHROUGH
// ============================================================================

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	models, err := s.backend.ListModels(ctx)
	if err != nil {
		log.Printf("MODELS_FETCH_FAILED | error=%v", err)
		writeError(w, http.StatusServiceUnavailable, "Failed to fetch models")
		return
	}
	if models == nil {
		models = []ollama.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, ollama.ListModelsResponse{Models: models})
}

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// ndjsonWriter defers the response header until the first proxied byte so a
// failure before then can still be reported as a JSON error.
type ndjsonWriter struct {
	w       http.ResponseWriter
	started bool
}

func (n *ndjsonWriter) Write(b []byte) (int, error) {
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	return n.w.Write(b)
}

func (n *ndjsonWriter) Flush() {
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
}

// handleChat forwards a raw prompt to the generate endpoint and streams the
// NDJSON records back unchanged.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "No prompt provided")
		return
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.opts.Model
	}

	out := &ndjsonWriter{w: w}
	err := s.backend.ProxyGenerate(r.Context(), ollama.GenerateRequest{
		Model:   modelName,
		Prompt:  req.Prompt,
		Options: s.opts.Sampling,
	}, out)
	if err == nil {
		return
	}
	if out.started {
		log.Printf("PROXY_STREAM_FAILED | client_ip=%s error=%v", GetClientIP(r), err)
		return
	}

	log.Printf("PROXY_CONNECT_FAILED | client_ip=%s error=%v", GetClientIP(r), err)
	status, body := proxyErrorBody(err)
	writeJSON(w, status, body)
}

// proxyErrorBody maps a backend error to a status and a body.
func proxyErrorBody(err error) (int, map[string]interface{}) {
	body := map[string]interface{}{
		"error":   "Failed to connect to Ollama",
		"details": err.Error(),
	}

	var clientErr *ollama.ClientError
	switch {
	case ollama.IsNotRunning(err):
		body["code"] = "ECONNREFUSED"
		return http.StatusServiceUnavailable, body
	case ollama.IsTimeout(err):
		return http.StatusGatewayTimeout, body
	case errors.As(err, &clientErr) && clientErr.StatusCode >= 400:
		body["status"] = clientErr.StatusCode
		return clientErr.StatusCode, body
	default:
		return http.StatusInternalServerError, body
	}
}

// ============================================================================
// CONVERSATIONS
// ============================================================================

// ConversationResponse is a conversation with its request state.
type ConversationResponse struct {
	model.Conversation
	Active   bool `json:"active"`
	Archived int  `json:"archived"`
}

// SendRequest is the POST /api/conversations/{id}/messages body.
type SendRequest struct {
	Content string `json:"content"`
}

// SendResponse identifies the messages a turn created.
type SendResponse struct {
	ConversationID     string `json:"conversation_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
}

// HistoryResponse is one page of archived messages.
type HistoryResponse struct {
	Messages []model.Message `json:"messages"`
	Offset   int             `json:"offset"`
	Total    int             `json:"total"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": s.store.List(),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	id := s.store.CreateConversation()
	conv, err := s.store.Get(id)
	if err != nil {
		// Evicted by a concurrent create before we could read it back.
		writeError(w, http.StatusConflict, "Conversation was evicted")
		return
	}
	writeJSON(w, http.StatusCreated, ConversationResponse{Conversation: conv})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := s.store.Get(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{
		Conversation: conv,
		Active:       s.manager.Active(id),
		Archived:     s.store.ArchivedCount(id),
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.manager.Cancel(id)
	if err := s.store.DeleteConversation(id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	turn, err := s.manager.Send(r.Context(), id, req.Content)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Message is empty")
		return
	case errors.Is(err, chat.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	default:
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SendResponse{
		ConversationID:     turn.ConversationID,
		UserMessageID:      turn.UserMessageID,
		AssistantMessageID: turn.AssistantMessageID,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.store.Has(id) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.manager.Cancel(id)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, err := queryInt(r, "count", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := s.store.History(id, offset, count)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Messages: msgs,
		Offset:   offset,
		Total:    s.store.ArchivedCount(id),
	})
}

// handleExport returns the full transcript as a download. The format query
// parameter selects markdown (default), json or html.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	opts := export.DefaultOptions()
	opts.HideThinking = r.URL.Query().Get("thinking") == "hide"
	exp, err := export.ForFormat(r.URL.Query().Get("format"), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := export.FromStore(s.store, id, s.opts.Model)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	body, err := exp.Export(t)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", exp.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "neochat_"+id+exp.FileExtension()))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Generate streams can run for the full request timeout.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	log.Printf("SERVER_START | addr=%s version=%s auth=%t", s.opts.Addr, Version, s.tokens != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown closes websocket clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")

	s.unsubscribe()
	s.hub.Close()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("RESPONSE_ENCODE_FAILED | error=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	log.Printf("STORE_ERROR | error=%v", err)
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
