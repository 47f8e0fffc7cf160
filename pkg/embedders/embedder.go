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

// Package embedders provides text embedding providers and vector math for
// memory retrieval.
package embedders

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/fableforge/mnemo/pkg/config"
)

// ErrZeroVector is returned by Cosine when either input has zero magnitude.
// Callers fall back to lexical scoring.
var ErrZeroVector = errors.New("cosine undefined on zero vector")

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	// EmbedText embeds a single text. Empty input is tolerated and may
	// return a zero vector.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed vector length D.
	Dimension() int

	// ModelName identifies the embedding model.
	ModelName() string
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, ErrZeroVector
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// New creates an embedder from provider configuration.
func New(cfg config.ProviderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
}
