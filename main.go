// tabchat - a terminal client for streaming LLM chat with cross-instance sync.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/jeranaias/tabchat/internal/backend"
	"github.com/jeranaias/tabchat/internal/budget"
	"github.com/jeranaias/tabchat/internal/config"
	"github.com/jeranaias/tabchat/internal/model"
	"github.com/jeranaias/tabchat/internal/session"
	"github.com/jeranaias/tabchat/internal/storage"
	"github.com/jeranaias/tabchat/internal/stream"
	"github.com/jeranaias/tabchat/internal/tabsync"
	"github.com/jeranaias/tabchat/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file")
	conversationID := flag.String("conversation", "", "conversation id to open")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tabchat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "tabchat requires an interactive terminal")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logCleanup := setupLogging(*verbose)
	defer logCleanup()

	if err := run(cfg, *conversationID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// setupLogging sends logs to a file. The TUI owns the terminal, so writing
// log lines to stderr would tear the display.
func setupLogging(verbose bool) func() {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	formatter := new(log.TextFormatter)
	formatter.TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
	formatter.FullTimestamp = true
	formatter.DisableColors = true
	log.SetFormatter(formatter)

	dir, err := config.Dir()
	if err != nil {
		log.SetOutput(io.Discard)
		return func() {}
	}
	f, err := os.OpenFile(filepath.Join(dir, "tabchat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.SetOutput(io.Discard)
		return func() {}
	}
	log.SetOutput(f)
	return func() { f.Close() }
}

func run(cfg *config.Config, conversationID string) error {
	ctx := context.Background()

	db, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		// Persistence is best-effort. The session runs in memory when the
		// database cannot be opened.
		log.WithError(err).Warn("failed to open database, running in-memory")
		db = nil
	} else {
		defer db.Close()
	}

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.Timeout())

	var channel tabsync.Channel
	if cfg.Sync.Enabled {
		channel = tabsync.NewFileChannel(cfg.Sync.Dir)
	} else {
		channel = tabsync.NewNoopChannel()
	}

	limits := budget.NewLimitCache(client)
	orch := session.NewOrchestrator(session.Config{
		DB:               db,
		Streams:          stream.NewManager(client.StreamTransportFactory()),
		Engine:           budget.NewEngine(client, limits),
		Limits:           limits,
		Channel:          channel,
		Sender:           client,
		DefaultModel:     cfg.DefaultModel,
		WarningThreshold: cfg.Budget.WarningThresholdPercent,
	})
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Close()

	conv, err := pickConversation(ctx, orch, conversationID)
	if err != nil {
		return err
	}

	view := chat.New(orch, conv.ID)
	p := tea.NewProgram(view, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run program: %w", err)
	}
	return nil
}

// pickConversation opens the requested conversation, or the most recently
// updated one, or starts fresh.
func pickConversation(ctx context.Context, orch *session.Orchestrator, id string) (*model.Conversation, error) {
	if id != "" {
		return orch.OpenConversation(ctx, id)
	}

	var latest *model.Conversation
	for _, c := range orch.Store().Conversations() {
		if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
			latest = c
		}
	}
	if latest != nil {
		return orch.OpenConversation(ctx, latest.ID)
	}

	conv := orch.NewConversation(ctx, "")
	return orch.OpenConversation(ctx, conv.ID)
}
