// ABOUTME: Relay service orchestrating one exchange: session lookup, generation, transcoding, store update
// ABOUTME: Always produces a Reply; failures are turned into user-visible text and returned errors

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/claude-relay/internal/claude"
	"github.com/2389/claude-relay/internal/logging"
	"github.com/2389/claude-relay/internal/metrics"
	"github.com/2389/claude-relay/internal/session"
	"github.com/2389/claude-relay/internal/transcode"
)

// User-facing messages.
const (
	MsgSessionCleared   = "Session cleared. Next message starts fresh."
	MsgReadFailed       = "Could not read your session. Please try again."
	MsgResetFailed      = "Could not clear your session. Please try again."
	MsgInternalError    = "Something went wrong handling your message. Please try again."
	MsgEmptyMessage     = "Send some text and I'll pass it on."
	MsgNotAuthorized    = "Not authorized."
	statusActiveYes     = "Yes"
	statusActiveNo      = "No"
	defaultTransportTag = "unknown"
)

// Generator produces an answer and continuation token for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, token string) (*claude.Generation, error)
}

// Reply is what a transport sends back to the user.
type Reply struct {
	// Text is the rendered markup.
	Text string
	// Plain is Text with tags removed, for clients without markup support.
	Plain      string
	Truncated  bool
	State      session.State
	ExchangeID string
}

// Service handles messages and session commands for every transport.
type Service struct {
	sessions  *session.Manager
	generator Generator
	maxLength int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxLength sets the reply length cap. Zero or negative disables it.
func WithMaxLength(n int) Option {
	return func(s *Service) {
		s.maxLength = n
	}
}

// WithMetrics records exchanges to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the service's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With("component", "relay")
	}
}

// NewService creates a relay over the session manager and generator.
func NewService(sessions *session.Manager, generator Generator, opts ...Option) *Service {
	s := &Service{
		sessions:  sessions,
		generator: generator,
		maxLength: transcode.MaxLength,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage runs one exchange for userID. The returned Reply is never
// nil. A generation failure becomes the reply text and is not returned as an
// error. Store failures are returned: a failed read means generation was
// skipped, a failed write means the answer was delivered but the session
// was not updated.
func (s *Service) HandleMessage(ctx context.Context, userID, text string) (*Reply, error) {
	exchangeID := uuid.NewString()
	transport := TransportFrom(ctx)
	logger := s.logger.With("exchange_id", exchangeID, "user_id", userID, "transport", transport)

	if strings.TrimSpace(text) == "" {
		// nothing to forward, but the reply still reports the real session state
		sess, err := s.sessions.Status(ctx, userID)
		if err != nil {
			logger.Error("session status failed", "error", err)
			return s.fixedReply(exchangeID, MsgReadFailed, sess.State), err
		}
		return s.fixedReply(exchangeID, MsgEmptyMessage, sess.State), nil
	}

	var (
		answer    string
		generated bool
	)
	sess, err := s.sessions.Exchange(ctx, userID, func(ctx context.Context, current session.Session) (string, error) {
		generated = true
		logger.Info("forwarding message", "resume", current.Active(), "length", len(text))

		start := time.Now()
		gen, genErr := s.generator.Generate(ctx, text, current.Token)
		var cost float64
		if gen != nil {
			cost = gen.CostUSD
		}
		s.metrics.ObserveGeneration(time.Since(start), current.Active(), cost)

		var ge *claude.GenerationError
		switch {
		case genErr == nil:
			answer = gen.Answer
		case errors.As(genErr, &ge):
			answer = ge.Output
		default:
			answer = claude.FallbackError
		}

		if gen == nil {
			return "", genErr
		}
		return gen.Token, genErr
	})

	var (
		storeErr *session.StoreError
		genErr   *claude.GenerationError
	)
	switch {
	case !generated && errors.As(err, &storeErr):
		logger.Error("session read failed", "error", err)
		s.metrics.ObserveExchange(transport, metrics.OutcomeStoreError)
		return s.fixedReply(exchangeID, MsgReadFailed, sess.State), err

	case !generated:
		logger.Error("exchange failed before generation", "error", err)
		s.metrics.ObserveExchange(transport, metrics.OutcomeStoreError)
		return s.fixedReply(exchangeID, MsgInternalError, sess.State), err
	}

	reply := s.render(exchangeID, answer, sess.State)

	switch {
	case errors.As(err, &storeErr):
		logger.Error("session update failed, answer delivered anyway", "error", err)
		s.metrics.ObserveExchange(transport, metrics.OutcomeStoreError)
		return reply, err
	case errors.As(err, &genErr):
		logger.Warn("generation failed", "error", err)
		s.metrics.ObserveExchange(transport, metrics.OutcomeGenerationError)
		return reply, nil
	case err != nil:
		logger.Error("exchange failed", "error", err)
		s.metrics.ObserveExchange(transport, metrics.OutcomeGenerationError)
		return reply, nil
	}

	logger.Info("reply ready",
		"state", sess.State.String(),
		"truncated", reply.Truncated,
		"length", len(reply.Text),
	)
	s.metrics.ObserveExchange(transport, metrics.OutcomeOK)
	return reply, nil
}

// Reset clears the user's session so the next message starts fresh.
func (s *Service) Reset(ctx context.Context, userID string) (*Reply, error) {
	exchangeID := uuid.NewString()
	sess, err := s.sessions.Reset(ctx, userID)
	if err != nil {
		s.logger.Error("session reset failed", "exchange_id", exchangeID, "user_id", userID, "error", err)
		return s.fixedReply(exchangeID, MsgResetFailed, sess.State), err
	}
	s.logger.Info("session reset", "exchange_id", exchangeID, "user_id", userID)
	return s.fixedReply(exchangeID, MsgSessionCleared, sess.State), nil
}

// Status reports whether the user has an active session. It never changes it.
func (s *Service) Status(ctx context.Context, userID string) (*Reply, error) {
	exchangeID := uuid.NewString()
	sess, err := s.sessions.Status(ctx, userID)
	if err != nil {
		s.logger.Error("session status failed", "exchange_id", exchangeID, "user_id", userID, "error", err)
		return s.fixedReply(exchangeID, MsgReadFailed, sess.State), err
	}

	active := statusActiveNo
	if sess.Active() {
		active = statusActiveYes
	}
	return s.fixedReply(exchangeID, fmt.Sprintf("User ID: %s\nActive session: %s", userID, active), sess.State), nil
}

// NotAuthorized is the reply for users outside the allowlist.
func (s *Service) NotAuthorized() *Reply {
	return s.fixedReply(uuid.NewString(), MsgNotAuthorized, session.Fresh)
}

func (s *Service) render(exchangeID, answer string, state session.State) *Reply {
	text, truncated := transcode.Transcode(answer, s.maxLength)
	if text == "" {
		text = transcode.Escape(claude.NoResponse)
	}
	if truncated {
		s.metrics.ObserveTruncation()
	}
	return &Reply{
		Text:       text,
		Plain:      transcode.StripTags(text),
		Truncated:  truncated,
		State:      state,
		ExchangeID: exchangeID,
	}
}

func (s *Service) fixedReply(exchangeID, msg string, state session.State) *Reply {
	return &Reply{
		Text:       transcode.Escape(msg),
		Plain:      msg,
		State:      state,
		ExchangeID: exchangeID,
	}
}
