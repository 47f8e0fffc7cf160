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

// Package utils provides shared helpers for the mnemo orchestrator.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the fixed tokenizer identity used for all counting, truncation
// and budgeting. Mixing encodings breaks the window and packing invariants,
// so there is exactly one.
const Encoding = "cl100k_base"

// Ellipsis is appended to text that was cut by TruncateToTokens.
const Ellipsis = "…"

// TokenCounter counts tokens with a fixed BPE encoding. Safe for concurrent use.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// Message pairs a role with content for token accounting.
type Message struct {
	Role    string
	Content string
}

var (
	counterOnce sync.Once
	counter     *TokenCounter
	counterErr  error
)

// NewTokenCounter returns the process-wide token counter. The underlying
// encoding is loaded once and cached.
func NewTokenCounter() (*TokenCounter, error) {
	counterOnce.Do(func() {
		encoding, err := tiktoken.GetEncoding(Encoding)
		if err != nil {
			counterErr = fmt.Errorf("failed to load encoding %s: %w", Encoding, err)
			return
		}
		counter = &TokenCounter{encoding: encoding}
	})
	return counter, counterErr
}

// Count returns the token count of text. Empty string counts as zero.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a message list including per-message
// role overhead, following the OpenAI chat format accounting.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	const tokensPerMessage = 3 // <|start|>role|message<|end|>

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(msg.Role, nil, nil))
		total += len(tc.encoding.Encode(msg.Content, nil, nil))
	}
	return total
}

// FitWithinLimit returns the maximal suffix of messages whose content tokens
// sum to at most maxTokens. Order is preserved.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	current := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.Count(messages[i].Content)
		if current+msgTokens > maxTokens {
			break
		}
		current += msgTokens
		start = i
	}
	return messages[start:]
}

// TruncateToTokens returns a prefix of text whose token count is at most
// maxTokens, with an ellipsis appended when anything was cut. The initial cut
// uses the character-ratio approximation; the tail trim loop then guarantees
// the contract for any tokenizer.
func (tc *TokenCounter) TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if tc.Count(text) <= maxTokens {
		return text
	}

	runes := []rune(text)
	ratio := float64(maxTokens) / float64(tc.Count(text))
	cut := int(float64(len(runes)) * ratio)
	if cut > len(runes) {
		cut = len(runes)
	}

	result := string(runes[:cut]) + Ellipsis
	for tc.Count(result) > maxTokens {
		trimmed := []rune(strings.TrimSuffix(result, Ellipsis))
		if len(trimmed) == 0 {
			return ""
		}
		result = string(trimmed[:len(trimmed)-1]) + Ellipsis
	}
	return result
}
