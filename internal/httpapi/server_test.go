// ABOUTME: Tests for the HTTP API against a real relay over a memory store
// ABOUTME: Covers exchanges, allowlist rejection, session status/reset, render preview, and metrics

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/claude-relay/internal/auth"
	"github.com/2389/claude-relay/internal/claude"
	"github.com/2389/claude-relay/internal/metrics"
	"github.com/2389/claude-relay/internal/relay"
	"github.com/2389/claude-relay/internal/session"
	"github.com/2389/claude-relay/internal/store"
)

type scriptedGenerator struct {
	mu     sync.Mutex
	tokens []string
	answer string
	token  string
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, token string) (*claude.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = append(g.tokens, token)
	return &claude.Generation{Answer: g.answer, Token: g.token}, nil
}

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
	gen     *scriptedGenerator
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	gen := &scriptedGenerator{answer: "**done**", token: "tok-1"}
	m := metrics.New()
	mgr := session.NewManager(st, session.WithTransitionHook(m.TransitionHook()))
	svc := relay.NewService(mgr, gen, relay.WithMetrics(m))

	opts = append([]Option{WithMetrics(m, "/metrics")}, opts...)
	srv := NewServer("127.0.0.1:0", svc, opts...)
	return &testEnv{handler: srv.Handler(), store: st, gen: gen, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, ReplyResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp ReplyResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSendMessage_FreshThenContinuing(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/messages", `{"user_id":"42","text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<b>done</b>", resp.Text)
	assert.Equal(t, "done", resp.Plain)
	assert.True(t, resp.SessionActive)
	assert.NotEmpty(t, resp.ExchangeID)

	rec, _ = env.do(t, http.MethodPost, "/api/messages", `{"user_id":"42","text":"again"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"", "tok-1"}, env.gen.tokens)
	token, err := env.store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestSendMessage_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, env.gen.tokens)
}

func TestSendMessage_NotAllowed(t *testing.T) {
	env := newTestEnv(t, WithAllowlist(auth.NewAllowlist([]string{"42"})))

	rec, _ := env.do(t, http.MethodPost, "/api/messages", `{"user_id":"7","text":"hi"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), relay.MsgNotAuthorized)
	assert.Empty(t, env.gen.tokens)
}

func TestSendMessage_ReadFailureIs503(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailOn("get", errors.New("disk gone"))

	rec, resp := env.do(t, http.MethodPost, "/api/messages", `{"user_id":"42","text":"hi"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, relay.MsgReadFailed, resp.Plain)
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, env.gen.tokens)
}

func TestSendMessage_WriteFailureIsWarning(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailOn("put", errors.New("disk full"))

	rec, resp := env.do(t, http.MethodPost, "/api/messages", `{"user_id":"42","text":"hi"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<b>done</b>", resp.Text)
	assert.NotEmpty(t, resp.Warning)
	assert.False(t, resp.SessionActive)
}

func TestSessionStatusAndReset(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Put(context.Background(), "42", "tok-0"))

	rec, resp := env.do(t, http.MethodGet, "/api/sessions/42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User ID: 42\nActive session: Yes", resp.Plain)
	assert.True(t, resp.SessionActive)

	rec, resp = env.do(t, http.MethodDelete, "/api/sessions/42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, relay.MsgSessionCleared, resp.Plain)
	assert.False(t, resp.SessionActive)

	ok, err := env.store.Exists(context.Background(), "42")
	require.NoError(t, err)
	assert.False(t, ok)

	_, resp = env.do(t, http.MethodGet, "/api/sessions/42", "")
	assert.Equal(t, "User ID: 42\nActive session: No", resp.Plain)
}

func TestSessionReset_FailureIs503(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Put(context.Background(), "42", "tok-0"))
	env.store.FailOn("delete", errors.New("read-only"))

	rec, resp := env.do(t, http.MethodDelete, "/api/sessions/42", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, relay.MsgResetFailed, resp.Plain)
}

func TestSessionRoutes_NotAllowed(t *testing.T) {
	env := newTestEnv(t, WithAllowlist(auth.NewAllowlist([]string{"42"})))

	rec, _ := env.do(t, http.MethodGet, "/api/sessions/7", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/sessions/7", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRender(t *testing.T) {
	env := newTestEnv(t, WithMaxLength(20))

	req := httptest.NewRequest(http.MethodPost, "/api/render", strings.NewReader(`{"markdown":"# Title\n\n<script>"}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RenderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.HTML, "<b>Title</b>"))
	assert.Contains(t, resp.HTML, "&lt;script&gt;")
	assert.NotContains(t, resp.HTML, "<script>")
	assert.False(t, resp.Truncated)

	req = httptest.NewRequest(http.MethodPost, "/api/render", strings.NewReader(`{"markdown":"`+strings.Repeat("word ", 50)+`","max_length":0}`))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Truncated)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/messages", `{"user_id":"42","text":"hello"}`)

	rec, _ := env.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `transport="http"`)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
