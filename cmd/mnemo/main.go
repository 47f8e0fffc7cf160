// Copyright 2026 Fableforge
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command mnemo runs the session memory orchestrator.
//
// Usage:
//
//	mnemo serve --config config.yaml
//	mnemo version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/fableforge/mnemo/pkg/config"
	"github.com/fableforge/mnemo/pkg/embedders"
	"github.com/fableforge/mnemo/pkg/llms"
	"github.com/fableforge/mnemo/pkg/logger"
	"github.com/fableforge/mnemo/pkg/memory"
	"github.com/fableforge/mnemo/pkg/persistence"
	"github.com/fableforge/mnemo/pkg/server"
	"github.com/fableforge/mnemo/pkg/utils"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the memory orchestrator server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("mnemo version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr  string `help:"Listen address (overrides config)."`
	Watch bool   `help:"Watch config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	closeLog, err := logger.Setup(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cli.LogFile,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	store, err := persistence.Open(cfg.Storage.Backend, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	llm, err := llms.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create llm provider: %w", err)
	}
	embedder, err := embedders.New(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	tokens, err := utils.NewTokenCounter()
	if err != nil {
		return fmt.Errorf("create token counter: %w", err)
	}

	ctxStore := memory.NewContextStore(store, tokens,
		time.Duration(cfg.Memory.SessionTTLSeconds)*time.Second, cfg.Memory.StreamLoadLimit)
	scheduler := memory.NewArchiveScheduler(ctxStore, memory.NewTruncateArchiver(store, llm))
	gateway := memory.NewGateway(cfg.Memory, ctxStore, store,
		memory.NewMemoryRouter(llm, cfg.Memory.MaxThreads, cfg.Memory.MaxRawMessages),
		memory.NewMemoryRetriever(store, embedder, llm),
		memory.NewContextAssembler(tokens), scheduler, tokens)

	if c.Watch && cli.Config != "" {
		stop, err := config.Watch(cli.Config, func(fresh *config.Config) {
			gateway.Reconfigure(fresh.Memory)
		})
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer stop()
	}

	srv := server.New(cfg.Server.Addr, gateway, store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	slog.Info("mnemo ready",
		"addr", cfg.Server.Addr,
		"storage", cfg.Storage.Backend,
		"llm", llm.ModelName(),
		"embedder", embedder.ModelName())

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}

	// Let in-flight archive runs finish; they are never cancelled.
	gateway.Shutdown()
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("mnemo"),
		kong.Description("mnemo - session memory orchestrator"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
