// ABOUTME: Tests for the Claude CLI client using a mock command runner
// ABOUTME: Covers argument building, JSON parsing, and each failure fallback

package claude

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/claude-relay/internal/config"
)

type mockCall struct {
	dir  string
	name string
	args []string
}

type mockRunner struct {
	stdout string
	stderr string
	err    error
	block  bool
	calls  []mockCall
}

func (m *mockRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	m.calls = append(m.calls, mockCall{dir: dir, name: name, args: args})
	if m.block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	return m.stdout, m.stderr, m.err
}

func newTestClient(t *testing.T, runner *mockRunner, mutate ...func(*config.ClaudeConfig)) *Client {
	t.Helper()
	cfg := config.ClaudeConfig{Binary: "claude", AllowedTools: []string{"Read", "Bash"}}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	c.runner = runner
	return c
}

func TestNewClient_RequiresBinary(t *testing.T) {
	_, err := NewClient(config.ClaudeConfig{})
	require.Error(t, err)
}

func TestArgs_FreshAndResume(t *testing.T) {
	c := newTestClient(t, &mockRunner{})

	assert.Equal(t,
		[]string{"-p", "hello", "--output-format", "json", "--allowedTools", "Read,Bash"},
		c.Args("hello", ""))

	assert.Equal(t,
		[]string{"-p", "hello", "--output-format", "json", "--allowedTools", "Read,Bash", "--resume", "abc"},
		c.Args("hello", "abc"))
}

func TestArgs_ModelAndExtra(t *testing.T) {
	c := newTestClient(t, &mockRunner{}, func(cfg *config.ClaudeConfig) {
		cfg.Model = "opus"
		cfg.ExtraArgs = []string{"--verbose"}
	})

	args := c.Args("hi", "tok")
	assert.Equal(t, []string{
		"-p", "hi", "--output-format", "json", "--allowedTools", "Read,Bash",
		"--model", "opus", "--verbose", "--resume", "tok",
	}, args)
}

func TestArgs_DefaultTools(t *testing.T) {
	c, err := NewClient(config.ClaudeConfig{Binary: "claude"})
	require.NoError(t, err)

	assert.Contains(t, c.Args("x", ""), "Read,Write,Edit,Bash,Glob,Grep,WebFetch,WebSearch")
}

func TestGenerate_Success(t *testing.T) {
	runner := &mockRunner{stdout: `{
		"type": "result",
		"subtype": "success",
		"result": "**Hello** there",
		"session_id": "sess-123",
		"is_error": false,
		"total_cost_usd": 0.0123,
		"duration_ms": 1500,
		"num_turns": 2
	}`}
	c := newTestClient(t, runner, func(cfg *config.ClaudeConfig) { cfg.WorkDir = "/srv/work" })

	gen, err := c.Generate(context.Background(), "hi", "prev-tok")
	require.NoError(t, err)

	assert.Equal(t, "**Hello** there", gen.Answer)
	assert.Equal(t, "sess-123", gen.Token)
	assert.InDelta(t, 0.0123, gen.CostUSD, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, gen.Duration)
	assert.Equal(t, 2, gen.Turns)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "claude", runner.calls[0].name)
	assert.Equal(t, "/srv/work", runner.calls[0].dir)
	assert.Contains(t, runner.calls[0].args, "prev-tok")
}

func TestGenerate_MissingResult(t *testing.T) {
	c := newTestClient(t, &mockRunner{stdout: `{"session_id": "s"}`})

	gen, err := c.Generate(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, NoResponse, gen.Answer)
	assert.Equal(t, "s", gen.Token)
}

func TestGenerate_NoSessionID(t *testing.T) {
	c := newTestClient(t, &mockRunner{stdout: `{"result": "ok"}`})

	gen, err := c.Generate(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Empty(t, gen.Token)
}

func TestGenerate_NonJSONFallbacks(t *testing.T) {
	exitErr := errors.New("exit status 1")
	tests := []struct {
		name       string
		runner     *mockRunner
		wantOutput string
	}{
		{"stdout text", &mockRunner{stdout: "plain text reply", err: nil}, "plain text reply"},
		{"stderr when stdout empty", &mockRunner{stderr: "auth failed", err: exitErr}, "auth failed"},
		{"fixed message when both empty", &mockRunner{err: exitErr}, FallbackError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.runner)

			gen, err := c.Generate(context.Background(), "hi", "")
			assert.Nil(t, gen)

			var genErr *GenerationError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, tt.wantOutput, genErr.Output)
		})
	}
}

func TestGenerate_IsErrorKeepsToken(t *testing.T) {
	c := newTestClient(t, &mockRunner{
		stdout: `{"is_error": true, "subtype": "error_max_turns", "result": "ran out of turns", "session_id": "s-9"}`,
		err:    errors.New("exit status 1"),
	})

	gen, err := c.Generate(context.Background(), "hi", "")

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "ran out of turns", genErr.Output)
	require.NotNil(t, gen)
	assert.Equal(t, "s-9", gen.Token)
}

func TestGenerate_Timeout(t *testing.T) {
	c := newTestClient(t, &mockRunner{block: true}, func(cfg *config.ClaudeConfig) {
		cfg.Timeout = 20 * time.Millisecond
	})

	gen, err := c.Generate(context.Background(), "hi", "")
	assert.Nil(t, gen)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, genErr.Output, "did not respond in time")
}

func TestGenerationError_Message(t *testing.T) {
	err := &GenerationError{Output: "x", Err: errors.New("boom")}
	assert.Equal(t, "claude generation failed: boom", err.Error())

	err = &GenerationError{Output: "x"}
	assert.Equal(t, "claude generation failed: x", err.Error())
}
