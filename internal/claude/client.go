// ABOUTME: Claude CLI client producing an answer and a continuation token per prompt
// ABOUTME: Runs `claude -p` with JSON output, resuming the conversation when a token is given

package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/2389/claude-relay/internal/config"
	"github.com/2389/claude-relay/internal/logging"
)

const (
	// NoResponse is the answer when the CLI returns JSON without a result.
	NoResponse = "No response"
	// FallbackError is the answer when the CLI produced no usable output at all.
	FallbackError = "Error running Claude"
)

// Generation is one completed exchange with the CLI.
type Generation struct {
	Answer   string
	Token    string
	CostUSD  float64
	Duration time.Duration
	Turns    int
}

// GenerationError reports a failed exchange. Output is the text to show the
// user in place of an answer.
type GenerationError struct {
	Output string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "claude generation failed: " + e.Output
	}
	return fmt.Sprintf("claude generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// commandRunner executes a command (allows mocking in tests).
type commandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// jsonResponse is the JSON structure printed by `claude --output-format json`.
type jsonResponse struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	Result     *string `json:"result"`
	SessionID  string  `json:"session_id"`
	IsError    bool    `json:"is_error"`
	TotalCost  float64 `json:"total_cost_usd"`
	DurationMs int64   `json:"duration_ms"`
	NumTurns   int     `json:"num_turns"`
}

// Client runs prompts through the Claude CLI.
type Client struct {
	cfg    config.ClaudeConfig
	runner commandRunner
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With("component", "claude")
	}
}

// NewClient creates a CLI client from cfg.
func NewClient(cfg config.ClaudeConfig, opts ...Option) (*Client, error) {
	if cfg.Binary == "" {
		return nil, errors.New("claude binary cannot be empty")
	}
	if len(cfg.AllowedTools) == 0 {
		cfg.AllowedTools = config.DefaultAllowedTools
	}

	c := &Client{
		cfg:    cfg,
		runner: execRunner{},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Args builds the CLI arguments for prompt, resuming token when non-empty.
func (c *Client) Args(prompt, token string) []string {
	args := []string{
		"-p", prompt,
		"--output-format", "json",
		"--allowedTools", strings.Join(c.cfg.AllowedTools, ","),
	}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	args = append(args, c.cfg.ExtraArgs...)
	if token != "" {
		args = append(args, "--resume", token)
	}
	return args
}

// Generate sends prompt to the CLI, continuing the conversation identified
// by token when it is non-empty.
//
// When the CLI reports an error but still names a session, both the
// Generation (carrying that token) and a *GenerationError are returned.
// When no JSON can be read the Generation is nil.
func (c *Client) Generate(ctx context.Context, prompt, token string) (*Generation, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, runErr := c.runner.Run(ctx, c.cfg.WorkDir, c.cfg.Binary, c.Args(prompt, token)...)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		c.logger.Warn("claude CLI did not finish", "elapsed", elapsed, "error", ctx.Err())
		return nil, &GenerationError{
			Output: fmt.Sprintf("Claude did not respond in time (%s).", elapsed.Round(time.Second)),
			Err:    ctx.Err(),
		}
	}

	var resp jsonResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &resp); err != nil {
		c.logger.Warn("claude CLI returned non-JSON output",
			"exit_error", runErr,
			"stderr", truncate(stderr, 200),
		)
		cause := runErr
		if cause == nil {
			cause = fmt.Errorf("decoding claude output: %w", err)
		}
		return nil, &GenerationError{Output: firstNonEmpty(stdout, stderr, FallbackError), Err: cause}
	}

	gen := &Generation{
		Answer:   NoResponse,
		Token:    resp.SessionID,
		CostUSD:  resp.TotalCost,
		Duration: time.Duration(resp.DurationMs) * time.Millisecond,
		Turns:    resp.NumTurns,
	}
	if resp.Result != nil {
		gen.Answer = *resp.Result
	}
	if gen.Duration == 0 {
		gen.Duration = elapsed
	}

	if resp.IsError {
		c.logger.Warn("claude CLI reported an error",
			"subtype", resp.Subtype,
			"session_id", resp.SessionID,
		)
		cause := runErr
		if cause == nil {
			cause = fmt.Errorf("claude reported error (%s)", firstNonEmpty(resp.Subtype, "unknown"))
		}
		return gen, &GenerationError{Output: gen.Answer, Err: cause}
	}

	c.logger.Debug("claude exchange complete",
		"session_id", resp.SessionID,
		"resumed", token != "",
		"cost_usd", resp.TotalCost,
		"turns", resp.NumTurns,
		"duration", gen.Duration,
	)
	return gen, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
