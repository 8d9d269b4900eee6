// ABOUTME: Matrix transport turning room messages into relay exchanges
// ABOUTME: Handles allowlists, /new and /status commands, typing, dedupe, and per-user ordering

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/claude-relay/internal/auth"
	"github.com/2389/claude-relay/internal/config"
	"github.com/2389/claude-relay/internal/dedupe"
	"github.com/2389/claude-relay/internal/logging"
	"github.com/2389/claude-relay/internal/relay"
)

const (
	// TransportName labels metrics and logs for this transport.
	TransportName = "matrix"

	CommandNew    = "/new"
	CommandStatus = "/status"

	typingTimeout  = 30 * time.Second
	networkTimeout = 10 * time.Second
	sendTimeout    = 30 * time.Second
)

// Relay is the part of relay.Service the bridge drives.
type Relay interface {
	HandleMessage(ctx context.Context, userID, text string) (*relay.Reply, error)
	Reset(ctx context.Context, userID string) (*relay.Reply, error)
	Status(ctx context.Context, userID string) (*relay.Reply, error)
	NotAuthorized() *relay.Reply
}

// Client is the part of the mautrix client the bridge uses to talk back.
type Client interface {
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Bridge connects Matrix rooms to the relay.
type Bridge struct {
	cfg     config.MatrixConfig
	matrix  *mautrix.Client
	api     Client
	relay   Relay
	allow   *auth.Allowlist
	seen    *dedupe.Cache
	logger  *slog.Logger
	startAt time.Time

	// per-user FIFO of pending jobs; an entry exists while a drainer runs
	qmu    sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup

	ctx context.Context
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger.With("component", "matrix")
	}
}

// WithAllowlist restricts who may use the relay.
func WithAllowlist(a *auth.Allowlist) Option {
	return func(b *Bridge) {
		b.allow = a
	}
}

// WithDedupe drops events whose ids were already handled.
func WithDedupe(c *dedupe.Cache) Option {
	return func(b *Bridge) {
		b.seen = c
	}
}

// NewBridge creates a bridge logged in with the configured access token.
func NewBridge(cfg config.MatrixConfig, r Relay, opts ...Option) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	b := newBridge(cfg, client, r, opts...)
	b.matrix = client
	return b, nil
}

func newBridge(cfg config.MatrixConfig, api Client, r Relay, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		api:     api,
		relay:   r,
		logger:  logging.NewNop(),
		startAt: time.Now(),
		queues:  make(map[string][]func()),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run syncs with the homeserver until ctx is cancelled, then waits for
// in-flight exchanges to finish.
func (b *Bridge) Run(ctx context.Context) error {
	if b.matrix == nil {
		return fmt.Errorf("matrix bridge has no client")
	}
	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
		"allowed_users", b.allow.String(),
	)

	b.ctx = ctx
	b.startAt = time.Now()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	var err error
	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
	case err = <-syncErr:
		if ctx.Err() == nil {
			err = fmt.Errorf("matrix sync failed: %w", err)
		} else {
			err = nil
		}
	}
	b.wg.Wait()
	return err
}

// handleEvent filters an incoming event and queues it for its sender.
func (b *Bridge) handleEvent(_ context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}
	// initial sync replays history; only act on what arrived after start
	if evt.Timestamp > 0 && time.UnixMilli(evt.Timestamp).Before(b.startAt.Add(-5*time.Second)) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	if !b.roomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return
	}

	body := strings.TrimSpace(content.Body)
	if b.cfg.CommandPrefix != "" {
		if !strings.HasPrefix(body, b.cfg.CommandPrefix) {
			return
		}
		body = strings.TrimSpace(strings.TrimPrefix(body, b.cfg.CommandPrefix))
	}
	if body == "" {
		return
	}

	if b.seen != nil && b.seen.CheckAndMark(evt.ID.String()) {
		b.logger.Debug("dropping duplicate event", "event_id", evt.ID.String())
		return
	}

	userID := evt.Sender.String()
	roomID := evt.RoomID
	b.logger.Info("received message",
		"room", roomID.String(),
		"sender", userID,
		"content", truncate(body, 50),
	)

	b.enqueue(userID, func() {
		b.process(roomID, userID, body)
	})
}

// enqueue runs job after every earlier job for userID, without blocking
// the sync loop.
func (b *Bridge) enqueue(userID string, job func()) {
	b.qmu.Lock()
	pending, running := b.queues[userID]
	b.queues[userID] = append(pending, job)
	b.qmu.Unlock()

	if !running {
		b.wg.Add(1)
		go b.drain(userID)
	}
}

func (b *Bridge) drain(userID string) {
	defer b.wg.Done()
	for {
		b.qmu.Lock()
		pending := b.queues[userID]
		if len(pending) == 0 {
			delete(b.queues, userID)
			b.qmu.Unlock()
			return
		}
		job := pending[0]
		b.queues[userID] = pending[1:]
		b.qmu.Unlock()

		job()
	}
}

// process answers one message and sends the reply to the room.
func (b *Bridge) process(roomID id.RoomID, userID, body string) {
	ctx := relay.WithTransport(b.ctx, TransportName)
	ctx = auth.WithUser(ctx, userID)

	if !b.allow.Allowed(userID) {
		b.logger.Warn("unauthorized user", "sender", userID)
		b.send(roomID, b.relay.NotAuthorized())
		return
	}

	var (
		reply *relay.Reply
		err   error
	)
	switch command(body) {
	case CommandNew:
		reply, err = b.relay.Reset(ctx, userID)
	case CommandStatus:
		reply, err = b.relay.Status(ctx, userID)
	default:
		if b.cfg.TypingIndicator {
			b.setTyping(roomID, true)
			defer b.setTyping(roomID, false)
		}
		reply, err = b.relay.HandleMessage(ctx, userID, body)
	}
	if err != nil {
		b.logger.Error("relay reported an error", "room", roomID.String(), "sender", userID, "error", err)
	}
	if reply != nil {
		b.send(roomID, reply)
	}
}

// command returns the slash command at the start of body, or "".
func command(body string) string {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return ""
	}
	switch strings.ToLower(fields[0]) {
	case CommandNew:
		return CommandNew
	case CommandStatus:
		return CommandStatus
	}
	return ""
}

func (b *Bridge) roomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range b.cfg.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.api.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// send posts reply as an HTML-formatted text message with a plain fallback.
func (b *Bridge) send(roomID id.RoomID, reply *relay.Reply) {
	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          reply.Plain,
		Format:        event.FormatHTML,
		FormattedBody: formatHTML(reply.Text),
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if _, err := b.api.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		b.logger.Error("failed to send message",
			"room", roomID.String(),
			"exchange_id", reply.ExchangeID,
			"error", err,
		)
		return
	}
	b.logger.Info("sent reply",
		"room", roomID.String(),
		"exchange_id", reply.ExchangeID,
		"length", len(reply.Text),
		"truncated", reply.Truncated,
	)
}

// formatHTML turns newlines outside <pre> blocks into <br/>, since Matrix
// clients render formatted_body as HTML where bare newlines collapse.
func formatHTML(markup string) string {
	var out strings.Builder
	rest := markup
	for {
		start := strings.Index(rest, "<pre>")
		if start < 0 {
			out.WriteString(strings.ReplaceAll(rest, "\n", "<br/>"))
			return out.String()
		}
		out.WriteString(strings.ReplaceAll(rest[:start], "\n", "<br/>"))
		rest = rest[start:]

		end := strings.Index(rest, "</pre>")
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end += len("</pre>")
		out.WriteString(rest[:end])
		rest = rest[end:]
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
