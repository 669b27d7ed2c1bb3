// neochat - a streaming terminal and web chat client for local Ollama models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/neochat/internal/archive"
	"github.com/jeranaias/neochat/internal/auth"
	"github.com/jeranaias/neochat/internal/chat"
	"github.com/jeranaias/neochat/internal/cli"
	"github.com/jeranaias/neochat/internal/config"
	"github.com/jeranaias/neochat/internal/ollama"
	"github.com/jeranaias/neochat/internal/server"
	"github.com/jeranaias/neochat/internal/store"
	"github.com/jeranaias/neochat/internal/tui"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// shutdownTimeout bounds the graceful server drain.
const shutdownTimeout = 10 * time.Second

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
	server.Version = Version
}

func main() {
	cmd, args, err := cli.Parse(os.Args[1:])
	if err != nil {
		cli.DisplayError(os.Stderr, cmd.String(), err, args.JSON)
		os.Exit(cli.GetExitCode(err))
	}

	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return
	case cli.CmdVersion:
		if err := cli.HandleVersion(os.Stdout, args); err != nil {
			os.Exit(cli.GetExitCode(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cmd, args)
	stop()

	if err != nil {
		cli.DisplayError(os.Stderr, cmd.String(), err, args.JSON)
		os.Exit(cli.GetExitCode(err))
	}
}

// =============================================================================
// WIRING
// =============================================================================

// components are the long-lived parts shared by every command.
type components struct {
	cfg        *config.Config
	configPath string
	client     *ollama.Client
	archive    *archive.Archive
	store      *store.Store
	manager    *chat.Manager
}

func (c *components) Close() {
	c.manager.Shutdown()
	c.store.Close()
	if err := c.archive.Close(); err != nil {
		log.Printf("ARCHIVE_CLOSE_FAILED | error=%v", err)
	}
}

func run(ctx context.Context, cmd cli.Command, args cli.Args) error {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return err
	}
	setupLogging(cmd, args)

	// The config subcommand works without a reachable archive.
	if cmd == cli.CmdConfig {
		app := &cli.App{Config: cfg, ConfigPath: path, Out: os.Stdout, Err: os.Stderr}
		return app.Run(ctx, cmd, args)
	}

	c, err := build(ctx, cfg, path, cmd == cli.CmdAsk)
	if err != nil {
		return err
	}
	defer c.Close()

	switch cmd {
	case cli.CmdTUI:
		if err := cli.RequiresTTY("open the chat screen"); err != nil {
			return err
		}
		return tui.Run(ctx, c.manager, c.store, tui.Options{
			Theme:        cfg.UI.Theme,
			HideThinking: cfg.UI.HideThinking,
			ModelName:    cfg.Ollama.Model,
		}, cfg.UI.LogFile)

	case cli.CmdServe:
		return serve(ctx, c, args)

	default:
		app := &cli.App{
			Config:     cfg,
			ConfigPath: path,
			Backend:    c.client,
			Archive:    c.archive,
			Store:      c.store,
			Manager:    c.manager,
			Out:        os.Stdout,
			Err:        os.Stderr,
		}
		return app.Run(ctx, cmd, args)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(args cli.Args) (*config.Config, string, error) {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, "", err
	}
	if args.Model != "" {
		cfg.Ollama.Model = args.Model
	}
	if args.Theme != "" {
		cfg.UI.Theme = args.Theme
	}
	if args.HideThinking {
		cfg.UI.HideThinking = true
	}
	if args.Addr != "" {
		cfg.Server.Addr = args.Addr
	}
	return cfg, path, nil
}

// setupLogging sends the event log to stderr only when asked. The TUI
// redirects it to its log file itself; the server always logs.
func setupLogging(cmd cli.Command, args cli.Args) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	switch {
	case cmd == cli.CmdServe, args.Verbose:
		log.SetOutput(os.Stderr)
	default:
		log.SetOutput(io.Discard)
	}
}

// build opens the archive and wires the store, client and manager.
func build(ctx context.Context, cfg *config.Config, path string, oneShot bool) (*components, error) {
	arch, err := archive.Open(ctx, cfg.ArchiveOptions())
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	st := store.New(arch, store.Options{
		Limits:    cfg.Limits(),
		TrimDelay: cfg.TrimDelay(),
	})

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Ollama.URL,
		DefaultModel: cfg.Ollama.Model,
	})

	mgr := chat.NewManager(client, st, chat.Options{
		Limits:        cfg.Limits(),
		Model:         cfg.Ollama.Model,
		SystemPrompt:  cfg.Ollama.SystemPrompt,
		Sampling:      cfg.Sampling(),
		BackendURL:    cfg.Ollama.URL,
		DisableTitles: cfg.Chat.DisableTitles || oneShot,
	})

	return &components{
		cfg:        cfg,
		configPath: path,
		client:     client,
		archive:    arch,
		store:      st,
		manager:    mgr,
	}, nil
}

// =============================================================================
// SERVE
// =============================================================================

// serve runs the HTTP server until ctx is done, reloading the user list
// when the config or .env files change.
func serve(ctx context.Context, c *components, args cli.Args) error {
	cfg := c.cfg

	users := auth.ParseUsers(cfg.Auth.Users)
	var tokens *auth.Tokens
	if cfg.Server.JWTSecret != "" {
		tokens = auth.NewTokens(cfg.Server.JWTSecret, cfg.TokenTTL())
	} else {
		log.Printf("SERVER_AUTH_DISABLED | reason=no jwt secret addr=%s", cfg.Server.Addr)
	}

	srv := server.New(c.client, c.manager, c.store, users, tokens, server.Options{
		Addr:           cfg.Server.Addr,
		Model:          cfg.Ollama.Model,
		Sampling:       cfg.Sampling(),
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	watchPaths := append([]string{c.configPath}, config.DotEnvPaths()...)
	watcher, err := config.Watch(ctx, watchPaths, 0, func() {
		next, err := config.LoadFromPath(c.configPath)
		if err != nil {
			log.Printf("CONFIG_RELOAD_FAILED | error=%v", err)
			return
		}
		users.Replace(next.Auth.Users)
		log.Printf("CONFIG_RELOADED | users=%d", users.Len())
	})
	if err != nil {
		log.Printf("CONFIG_WATCH_FAILED | error=%v", err)
	} else {
		defer watcher.Close()
	}

	if !args.Quiet {
		fmt.Fprintf(os.Stderr, "neochat %s serving on http://%s\n", Version, cfg.Server.Addr)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
