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

// Package config defines and loads the mnemo service configuration.
package config

import (
	"fmt"
)

// Config is the root configuration document.
type Config struct {
	Memory   MemoryConfig   `yaml:"memory"`
	LLM      ProviderConfig `yaml:"llm"`
	Embedder ProviderConfig `yaml:"embedder"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MemoryConfig holds the orchestrator budgets and caps.
type MemoryConfig struct {
	// SessionTTLSeconds is the live-cache TTL for hydrated streams.
	SessionTTLSeconds int `yaml:"session_ttl_seconds"`

	// StreamLoadLimit is how many recent messages to hydrate on cold load.
	StreamLoadLimit int `yaml:"stream_load_limit"`

	// WindowTokens is the active window budget.
	WindowTokens int `yaml:"window_tokens"`

	// InsertBudgetTokens is the insert-block budget.
	InsertBudgetTokens int `yaml:"insert_budget_tokens"`

	// MaxThreads caps how many threads retrieval selects.
	MaxThreads int `yaml:"max_threads"`

	// MaxRawMessages caps raw archived messages gathered by retrieval.
	MaxRawMessages int `yaml:"max_raw_messages"`
}

// ProviderConfig configures an LLM or embedder endpoint.
type ProviderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	Host     string `yaml:"host"`

	// TimeoutSeconds bounds each outbound call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is sqlite, postgres, or mysql.
	Backend string `yaml:"backend"`

	// DSN is the database path (sqlite) or connection string.
	DSN string `yaml:"dsn"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// SetDefaults fills unset fields with production defaults.
func (c *Config) SetDefaults() {
	if c.Memory.SessionTTLSeconds <= 0 {
		c.Memory.SessionTTLSeconds = 600
	}
	if c.Memory.StreamLoadLimit <= 0 {
		c.Memory.StreamLoadLimit = 200
	}
	if c.Memory.WindowTokens <= 0 {
		c.Memory.WindowTokens = 32000
	}
	if c.Memory.InsertBudgetTokens <= 0 {
		c.Memory.InsertBudgetTokens = 4000
	}
	if c.Memory.MaxThreads <= 0 {
		c.Memory.MaxThreads = 3
	}
	if c.Memory.MaxRawMessages <= 0 {
		c.Memory.MaxRawMessages = 10
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = "openai"
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "text-embedding-3-small"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Backend == "sqlite" {
		c.Storage.DSN = ".mnemo/mnemo.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}

	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}

	switch c.Embedder.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported embedder provider: %s", c.Embedder.Provider)
	}

	if c.Storage.Backend != "sqlite" && c.Storage.DSN == "" {
		return fmt.Errorf("storage dsn is required for backend %s", c.Storage.Backend)
	}
	return nil
}
