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

package embedders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableforge/mnemo/pkg/config"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr error
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0, nil},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0, nil},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0, nil},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0, ErrZeroVector},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := Cosine([]float32{1}, []float32{1, 2})
		assert.Error(t, err)
	})
}

func TestOpenAIEmbedder_EmbedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 1)

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0}},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(config.ProviderConfig{
		Provider: "openai", APIKey: "test-key", Host: srv.URL,
	})
	require.NoError(t, err)

	vec, err := e.EmbedText(context.Background(), "the dragon's hoard")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOpenAIEmbedder_EmptyText(t *testing.T) {
	e, err := NewOpenAIEmbedder(config.ProviderConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)

	vec, err := e.EmbedText(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vec, e.Dimension())
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "requests", "code": "429"},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(config.ProviderConfig{Provider: "openai", APIKey: "k", Host: srv.URL})
	require.NoError(t, err)

	_, err = e.EmbedText(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(config.ProviderConfig{Provider: "magic"})
	assert.Error(t, err)
}
