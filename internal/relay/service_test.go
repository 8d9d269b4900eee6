// ABOUTME: Tests for the relay service against a memory store and a scripted generator
// ABOUTME: Covers fresh/continuing flow, reset, status, failures, truncation, and escaping

package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/claude-relay/internal/claude"
	"github.com/2389/claude-relay/internal/metrics"
	"github.com/2389/claude-relay/internal/session"
	"github.com/2389/claude-relay/internal/store"
	"github.com/2389/claude-relay/internal/transcode"
)

type generateCall struct {
	prompt string
	token  string
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generateCall
	next  func(prompt, token string) (*claude.Generation, error)
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, token string) (*claude.Generation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, generateCall{prompt: prompt, token: token})
	f.mu.Unlock()
	return f.next(prompt, token)
}

func answering(answer, token string) func(string, string) (*claude.Generation, error) {
	return func(string, string) (*claude.Generation, error) {
		return &claude.Generation{Answer: answer, Token: token}, nil
	}
}

func newTestService(t *testing.T, gen *fakeGenerator, opts ...Option) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewService(session.NewManager(st), gen, opts...)
	return svc, st
}

func TestHandleMessage_FreshThenContinuing(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{next: answering("**hi**", "tok-1")}
	svc, st := newTestService(t, gen)

	reply, err := svc.HandleMessage(ctx, "42", "hello")
	require.NoError(t, err)
	assert.Equal(t, "<b>hi</b>", reply.Text)
	assert.Equal(t, "hi", reply.Plain)
	assert.Equal(t, session.Continuing, reply.State)
	assert.NotEmpty(t, reply.ExchangeID)

	gen.next = answering("again", "tok-2")
	_, err = svc.HandleMessage(ctx, "42", "more")
	require.NoError(t, err)

	require.Len(t, gen.calls, 2)
	assert.Equal(t, generateCall{prompt: "hello", token: ""}, gen.calls[0])
	assert.Equal(t, generateCall{prompt: "more", token: "tok-1"}, gen.calls[1])

	tok, err := st.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestHandleMessage_ResetThenFresh(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{next: answering("a", "tok-1")}
	svc, _ := newTestService(t, gen)

	_, err := svc.HandleMessage(ctx, "u", "one")
	require.NoError(t, err)

	reply, err := svc.Reset(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, MsgSessionCleared, reply.Plain)
	assert.Equal(t, session.Fresh, reply.State)

	_, err = svc.HandleMessage(ctx, "u", "two")
	require.NoError(t, err)
	assert.Empty(t, gen.calls[1].token, "message after reset must start fresh")
}

func TestHandleMessage_GenerationFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{next: answering("a", "tok-1")}
	svc, st := newTestService(t, gen)
	_, err := svc.HandleMessage(ctx, "u", "one")
	require.NoError(t, err)

	gen.next = func(string, string) (*claude.Generation, error) {
		return nil, &claude.GenerationError{Output: "CLI <crashed>", Err: errors.New("exit status 2")}
	}
	reply, err := svc.HandleMessage(ctx, "u", "two")

	require.NoError(t, err)
	assert.Equal(t, "CLI &lt;crashed&gt;", reply.Text)
	assert.Equal(t, session.Continuing, reply.State)

	tok, err := st.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok, "a failed exchange must not discard the stored token")
}

func TestHandleMessage_ErrorWithTokenStillStored(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{next: func(string, string) (*claude.Generation, error) {
		return &claude.Generation{Answer: "max turns", Token: "tok-err"},
			&claude.GenerationError{Output: "max turns", Err: errors.New("exit status 1")}
	}}
	svc, st := newTestService(t, gen)

	reply, err := svc.HandleMessage(ctx, "u", "hi")
	require.NoError(t, err)
	assert.Equal(t, "max turns", reply.Text)

	tok, err := st.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "tok-err", tok)
}

func TestHandleMessage_UnknownGeneratorError(t *testing.T) {
	gen := &fakeGenerator{next: func(string, string) (*claude.Generation, error) {
		return nil, errors.New("unexpected")
	}}
	svc, _ := newTestService(t, gen)

	reply, err := svc.HandleMessage(context.Background(), "u", "hi")
	require.NoError(t, err)
	assert.Equal(t, claude.FallbackError, reply.Plain)
}

func TestHandleMessage_StoreReadFailureSkipsGeneration(t *testing.T) {
	gen := &fakeGenerator{next: answering("a", "t")}
	svc, st := newTestService(t, gen)
	st.FailOn("get", errors.New("disk gone"))

	reply, err := svc.HandleMessage(context.Background(), "u", "hi")

	var storeErr *session.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.NotNil(t, reply)
	assert.Equal(t, MsgReadFailed, reply.Plain)
	assert.Empty(t, gen.calls)
}

func TestHandleMessage_StoreWriteFailureStillAnswers(t *testing.T) {
	gen := &fakeGenerator{next: answering("the answer", "t")}
	svc, st := newTestService(t, gen)
	st.FailOn("put", errors.New("read-only"))

	reply, err := svc.HandleMessage(context.Background(), "u", "hi")

	var storeErr *session.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "put", storeErr.Op)
	assert.Equal(t, "the answer", reply.Text)
	assert.Equal(t, session.Fresh, reply.State)
}

func TestHandleMessage_EmptyAnswer(t *testing.T) {
	gen := &fakeGenerator{next: answering("   ", "t")}
	svc, _ := newTestService(t, gen)

	reply, err := svc.HandleMessage(context.Background(), "u", "hi")
	require.NoError(t, err)
	assert.Equal(t, claude.NoResponse, reply.Text)
}

func TestHandleMessage_EmptyPromptNotForwarded(t *testing.T) {
	gen := &fakeGenerator{next: answering("a", "t")}
	svc, _ := newTestService(t, gen)

	reply, err := svc.HandleMessage(context.Background(), "u", "  \n ")
	require.NoError(t, err)
	assert.Equal(t, MsgEmptyMessage, reply.Plain)
	assert.Empty(t, gen.calls)
}

func TestHandleMessage_EmptyTextReportsCurrentState(t *testing.T) {
	gen := &fakeGenerator{next: answering("unused", "t")}
	svc, st := newTestService(t, gen)
	require.NoError(t, st.Put(context.Background(), "u", "tok-1"))

	reply, err := svc.HandleMessage(context.Background(), "u", "")

	require.NoError(t, err)
	assert.Equal(t, MsgEmptyMessage, reply.Plain)
	assert.Equal(t, session.Continuing, reply.State)
	assert.Empty(t, gen.calls)

	token, err := st.Get(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestHandleMessage_EmptyTextStatusFailure(t *testing.T) {
	gen := &fakeGenerator{next: answering("unused", "t")}
	svc, st := newTestService(t, gen)
	st.FailOn("exists", errors.New("disk gone"))

	reply, err := svc.HandleMessage(context.Background(), "u", " ")

	var storeErr *session.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, MsgReadFailed, reply.Plain)
	assert.Empty(t, gen.calls)
}

func TestHandleMessage_Truncates(t *testing.T) {
	long := strings.Repeat("para text here. ", 40)
	var md strings.Builder
	for i := 0; i < 20; i++ {
		md.WriteString(long + "\n\n")
	}
	gen := &fakeGenerator{next: answering(md.String(), "t")}
	m := metrics.New()
	svc, _ := newTestService(t, gen, WithMaxLength(1000), WithMetrics(m))

	reply, err := svc.HandleMessage(context.Background(), "u", "hi")
	require.NoError(t, err)
	assert.True(t, reply.Truncated)
	assert.True(t, strings.HasSuffix(reply.Text, transcode.TruncationMarker))
	assert.LessOrEqual(t, utf8.RuneCountInString(reply.Text), 1000+utf8.RuneCountInString(transcode.TruncationMarker))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{next: answering("a", "t")}
	svc, _ := newTestService(t, gen)

	reply, err := svc.Status(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "User ID: 42\nActive session: No", reply.Plain)

	_, err = svc.HandleMessage(ctx, "42", "hi")
	require.NoError(t, err)

	reply, err = svc.Status(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "User ID: 42\nActive session: Yes", reply.Plain)
	assert.Len(t, gen.calls, 1, "status must not trigger generation")
}

func TestStatus_EscapesUserID(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{})

	reply, err := svc.Status(context.Background(), "<evil>")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "&lt;evil&gt;")
}

func TestReset_FailureReported(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{next: answering("a", "t")}
	svc, st := newTestService(t, gen)
	_, err := svc.HandleMessage(ctx, "u", "hi")
	require.NoError(t, err)
	st.FailOn("delete", errors.New("nope"))

	reply, err := svc.Reset(ctx, "u")
	require.Error(t, err)
	assert.Equal(t, MsgResetFailed, reply.Plain)
	assert.Equal(t, session.Continuing, reply.State)
}

func TestNotAuthorized(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{})
	assert.Equal(t, "Not authorized.", svc.NotAuthorized().Plain)
}

func TestTransportFrom(t *testing.T) {
	assert.Equal(t, "unknown", TransportFrom(context.Background()))
	assert.Equal(t, "matrix", TransportFrom(WithTransport(context.Background(), "matrix")))
}
