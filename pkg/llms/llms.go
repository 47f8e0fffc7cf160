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

// Package llms provides text and JSON generation providers used by the
// archival and retrieval paths.
package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fableforge/mnemo/pkg/config"
)

// Provider generates text from prompts. Implementations are synchronous
// wrappers over HTTP APIs; every call honors the context deadline.
type Provider interface {
	// Generate returns free-form text for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateJSON asks for a JSON object and parses it best-effort.
	// A transport failure returns an error; a parse failure returns
	// (nil, nil) so callers can apply their fallbacks.
	GenerateJSON(ctx context.Context, prompt string) (map[string]any, error)

	// ClassifyForArchive is GenerateJSON with archival schema expectations;
	// the schema itself is validated by the caller.
	ClassifyForArchive(ctx context.Context, prompt string) (map[string]any, error)

	// ModelName identifies the generation model.
	ModelName() string
}

// New creates a provider from configuration.
func New(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// parseJSONObject extracts a JSON object from model output. Models wrap JSON
// in code fences or prose; take the outermost brace pair. Returns nil when no
// object can be parsed.
func parseJSONObject(text string) map[string]any {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil
	}
	return obj
}
