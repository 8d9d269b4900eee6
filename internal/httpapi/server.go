// ABOUTME: HTTP transport exposing the relay as a small JSON API on a chi router
// ABOUTME: Routes for messages and sessions, plus health and metrics endpoints

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/claude-relay/internal/auth"
	"github.com/2389/claude-relay/internal/logging"
	"github.com/2389/claude-relay/internal/metrics"
	"github.com/2389/claude-relay/internal/relay"
	"github.com/2389/claude-relay/internal/session"
	"github.com/2389/claude-relay/internal/transcode"
)

// TransportName labels metrics and logs for this transport.
const TransportName = "http"

const maxBodyBytes = 1 << 20

// Relay is the part of relay.Service the API drives.
type Relay interface {
	HandleMessage(ctx context.Context, userID, text string) (*relay.Reply, error)
	Reset(ctx context.Context, userID string) (*relay.Reply, error)
	Status(ctx context.Context, userID string) (*relay.Reply, error)
}

// SendMessageRequest is the JSON body for POST /api/messages.
type SendMessageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// ReplyResponse is the JSON body returned for every relay operation.
type ReplyResponse struct {
	ExchangeID    string `json:"exchange_id"`
	Text          string `json:"text"`
	Plain         string `json:"plain"`
	Truncated     bool   `json:"truncated"`
	SessionActive bool   `json:"session_active"`
	Warning       string `json:"warning,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RenderRequest is the JSON body for POST /api/render.
type RenderRequest struct {
	Markdown  string `json:"markdown"`
	MaxLength *int   `json:"max_length,omitempty"`
}

// RenderResponse is the JSON response for POST /api/render.
type RenderResponse struct {
	HTML      string `json:"html"`
	Truncated bool   `json:"truncated"`
}

// Server serves the relay over HTTP.
type Server struct {
	relay       Relay
	allow       *auth.Allowlist
	metrics     *metrics.Metrics
	metricsPath string
	maxLength   int
	logger      *slog.Logger

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAllowlist restricts which user ids the API accepts.
func WithAllowlist(a *auth.Allowlist) Option {
	return func(s *Server) {
		s.allow = a
	}
}

// WithMetrics mounts the Prometheus handler at path.
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithMaxLength sets the cap used by the render preview endpoint.
func WithMaxLength(n int) Option {
	return func(s *Server) {
		s.maxLength = n
	}
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With("component", "http")
	}
}

// NewServer creates an API server listening on addr once Run is called.
func NewServer(addr string, r Relay, opts ...Option) *Server {
	s := &Server{
		relay:     r,
		maxLength: transcode.MaxLength,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API's router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil && s.metricsPath != "" {
		r.Handle(s.metricsPath, s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", s.handleSendMessage)
		r.Post("/render", s.handleRender)
		r.Route("/sessions/{userID}", func(r chi.Router) {
			r.Use(s.requireUserParam)
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleReset)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting http api", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http api")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSendMessage handles POST /api/messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !s.allow.Allowed(req.UserID) {
		s.logger.Warn("unauthorized user", "user_id", req.UserID)
		s.sendJSONError(w, http.StatusForbidden, relay.MsgNotAuthorized)
		return
	}

	ctx := relay.WithTransport(auth.WithUser(r.Context(), req.UserID), TransportName)
	reply, err := s.relay.HandleMessage(ctx, req.UserID, req.Text)
	s.sendReply(w, reply, err, true)
}

// handleStatus handles GET /api/sessions/{userID}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFrom(r.Context())
	reply, err := s.relay.Status(relay.WithTransport(r.Context(), TransportName), userID)
	s.sendReply(w, reply, err, false)
}

// handleReset handles DELETE /api/sessions/{userID}.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFrom(r.Context())
	reply, err := s.relay.Reset(relay.WithTransport(r.Context(), TransportName), userID)
	s.sendReply(w, reply, err, false)
}

// handleRender handles POST /api/render, previewing how markdown would be sent.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	limit := s.maxLength
	if req.MaxLength != nil {
		limit = *req.MaxLength
	}
	html, truncated := transcode.Transcode(req.Markdown, limit)
	s.sendJSON(w, http.StatusOK, RenderResponse{HTML: html, Truncated: truncated})
}

// requireUserParam checks the {userID} path parameter against the allowlist
// and stores it on the request context.
func (s *Server) requireUserParam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, "userID"))
		if userID == "" {
			s.sendJSONError(w, http.StatusBadRequest, "user id is required")
			return
		}
		if !s.allow.Allowed(userID) {
			s.logger.Warn("unauthorized user", "user_id", userID)
			s.sendJSONError(w, http.StatusForbidden, relay.MsgNotAuthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// sendReply writes a relay reply. Errors become a 503 carrying the reply
// text, except a failed session write after an answer was produced: the
// user still got their answer, so that is a 200 with a warning.
func (s *Server) sendReply(w http.ResponseWriter, reply *relay.Reply, err error, answered bool) {
	resp := ReplyResponse{}
	if reply != nil {
		resp = ReplyResponse{
			ExchangeID:    reply.ExchangeID,
			Text:          reply.Text,
			Plain:         reply.Plain,
			Truncated:     reply.Truncated,
			SessionActive: reply.State == session.Continuing,
		}
	}

	status := http.StatusOK
	switch {
	case err == nil:
	case answered && isWriteFailure(err):
		resp.Warning = "session was not updated"
	default:
		status = http.StatusServiceUnavailable
		resp.Error = err.Error()
	}
	s.sendJSON(w, status, resp)
}

func isWriteFailure(err error) bool {
	var storeErr *session.StoreError
	return errors.As(err, &storeErr) && (storeErr.Op == "put" || storeErr.Op == "delete")
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
