// ABOUTME: Entry point for the claude-relay daemon
// ABOUTME: Wires config, session store, Claude CLI, and the Matrix/HTTP transports

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/claude-relay/internal/auth"
	"github.com/2389/claude-relay/internal/claude"
	"github.com/2389/claude-relay/internal/config"
	"github.com/2389/claude-relay/internal/dedupe"
	"github.com/2389/claude-relay/internal/httpapi"
	"github.com/2389/claude-relay/internal/logging"
	"github.com/2389/claude-relay/internal/matrix"
	"github.com/2389/claude-relay/internal/metrics"
	"github.com/2389/claude-relay/internal/relay"
	"github.com/2389/claude-relay/internal/session"
	"github.com/2389/claude-relay/internal/store"
)

const banner = `
    ╭──────────────────────────────────╮
    │                                  │
    │   ┏━╸╻  ┏━┓╻ ╻╺┳┓┏━╸   ┏━┓┏━╸╻   │
    │   ┃  ┃  ┣━┫┃ ┃ ┃┃┣╸    ┣┳┛┣╸ ┃   │
    │   ┗━╸┗━╸╹ ╹┗━┛╺┻┛┗━╸   ╹┗╸┗━╸┗━╸ │
    │                                  │
    │           claude-relay           │
    │                                  │
    ╰──────────────────────────────────╯
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", config.DefaultPath(), "path to config file (.yaml or .toml)")
	flag.Parse()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", *configPath, err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	printStartupInfo(*configPath, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessionStore, locker, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer func() {
		if err := sessionStore.Close(); err != nil {
			logger.Warn("closing session store", "error", err)
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	managerOpts := []session.Option{
		session.WithLockTTL(cfg.Database.LockTTL),
		session.WithTransitionHook(m.TransitionHook()),
		session.WithLogger(logger),
	}
	if locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(locker))
	}
	sessions := session.NewManager(sessionStore, managerOpts...)

	generator, err := claude.NewClient(cfg.Claude, claude.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating claude client: %w", err)
	}

	svc := relay.NewService(sessions, generator,
		relay.WithMaxLength(cfg.Relay.MaxLength),
		relay.WithMetrics(m),
		relay.WithLogger(logger),
	)
	allow := auth.NewAllowlist(cfg.Relay.AllowedUsers)

	var runners []func(context.Context) error

	if cfg.Server.Enabled {
		opts := []httpapi.Option{
			httpapi.WithAllowlist(allow),
			httpapi.WithMaxLength(cfg.Relay.MaxLength),
			httpapi.WithLogger(logger),
		}
		if m != nil {
			opts = append(opts, httpapi.WithMetrics(m, cfg.Metrics.Path))
		}
		srv := httpapi.NewServer(cfg.Server.HTTPAddr, svc, opts...)
		runners = append(runners, srv.Run)
	}

	if cfg.Matrix.Enabled {
		seen := dedupe.New(cfg.Relay.DedupeTTL, cfg.Relay.DedupeSize)
		defer seen.Close()

		bridge, err := matrix.NewBridge(cfg.Matrix, svc,
			matrix.WithAllowlist(allow),
			matrix.WithDedupe(seen),
			matrix.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("creating matrix bridge: %w", err)
		}
		runners = append(runners, bridge.Run)
	}

	return runAll(ctx, cancel, logger, runners)
}

// runAll runs every transport until ctx is cancelled or one of them fails,
// in which case the others are stopped too.
func runAll(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, runners []func(context.Context) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, fn := range runners {
		wg.Add(1)
		go func(fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.Error("transport stopped", "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		}(fn)
	}
	wg.Wait()
	logger.Info("claude-relay stopped")
	return errors.Join(errs...)
}

func printStartupInfo(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-11s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("Store", cfg.Database.Backend)
	line("Claude", cfg.Claude.Binary)
	if cfg.Server.Enabled {
		line("HTTP", cfg.Server.HTTPAddr)
	}
	if cfg.Matrix.Enabled {
		line("Matrix", cfg.Matrix.UserID+" @ "+cfg.Matrix.Homeserver)
	}
	line("Users", auth.NewAllowlist(cfg.Relay.AllowedUsers).String())
	fmt.Println()
}
