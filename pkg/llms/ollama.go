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

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fableforge/mnemo/pkg/config"
)

// OllamaProvider implements Provider over a local Ollama instance.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
	model   string
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// NewOllamaProvider creates an Ollama generation client.
func NewOllamaProvider(cfg config.ProviderConfig) (*OllamaProvider, error) {
	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	timeout := 120 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &OllamaProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		model:   model,
	}, nil
}

// Generate returns free-form text for the prompt.
func (p *OllamaProvider) Generate(ctx context.Context, prompt string) (string, error) {
	return p.complete(ctx, prompt, "")
}

// GenerateJSON requests JSON format and parses the reply best-effort.
func (p *OllamaProvider) GenerateJSON(ctx context.Context, prompt string) (map[string]any, error) {
	text, err := p.complete(ctx, prompt, "json")
	if err != nil {
		return nil, err
	}
	return parseJSONObject(text), nil
}

// ClassifyForArchive is GenerateJSON with archival expectations.
func (p *OllamaProvider) ClassifyForArchive(ctx context.Context, prompt string) (map[string]any, error) {
	return p.GenerateJSON(ctx, prompt)
}

// ModelName returns the generation model identifier.
func (p *OllamaProvider) ModelName() string { return p.model }

func (p *OllamaProvider) complete(ctx context.Context, prompt, format string) (string, error) {
	reqBody, err := json.Marshal(ollamaGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
		Format: format,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(reqBody))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("failed to send request to Ollama: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("Ollama API returned status %d: %s", resp.StatusCode, string(body))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("Ollama API returned status %d: %s", resp.StatusCode, string(body))
		}

		var response ollamaGenerateResponse
		if err := json.Unmarshal(body, &response); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if response.Error != "" {
			return "", fmt.Errorf("Ollama API error: %s", response.Error)
		}
		return response.Response, nil
	}
	return "", lastErr
}

var _ Provider = (*OllamaProvider)(nil)
