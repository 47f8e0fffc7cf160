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

package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fableforge/mnemo/pkg/utils"
)

// ErrDuplicateMessage is returned by Append when the message ID is already
// present in the stream.
var ErrDuplicateMessage = errors.New("duplicate message id")

// MessageStream is a per-session append-only message log. It computes the
// active window (the maximal suffix fitting the token budget) and the
// overflow (everything older), and tracks which messages have been archived.
//
// The stream is read by the request path under the session mutex and by the
// background archiver without it, so it carries its own lock.
type MessageStream struct {
	mu        sync.RWMutex
	sessionID string
	budget    int
	messages  []APIMessage
	ids       map[string]struct{}
	archived  map[string]struct{}
	total     int
}

// NewMessageStream creates an empty stream with the given window budget.
func NewMessageStream(sessionID string, budgetTokens int) *MessageStream {
	return &MessageStream{
		sessionID: sessionID,
		budget:    budgetTokens,
		ids:       make(map[string]struct{}),
		archived:  make(map[string]struct{}),
	}
}

// SessionID returns the owning session.
func (s *MessageStream) SessionID() string { return s.sessionID }

// Budget returns the active window budget in tokens.
func (s *MessageStream) Budget() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.budget
}

// SetBudget changes the active window budget. Window and overflow are
// recomputed on the next read.
func (s *MessageStream) SetBudget(budgetTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget = budgetTokens
}

// Append adds a message to the tail of the stream.
func (s *MessageStream) Append(msg APIMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[msg.MessageID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.MessageID)
	}
	s.ids[msg.MessageID] = struct{}{}
	s.messages = append(s.messages, msg)
	s.total += msg.TokenCount
	return nil
}

// Contains reports whether the message ID is present in the stream.
func (s *MessageStream) Contains(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[messageID]
	return ok
}

// GetAll returns a defensive copy of the whole stream in append order.
func (s *MessageStream) GetAll() []APIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]APIMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// windowStart returns the index of the first message inside the active
// window. Walks from the tail accumulating token counts until adding one
// more message would exceed the budget. Callers hold at least a read lock.
func (s *MessageStream) windowStart() int {
	used := 0
	for i := len(s.messages) - 1; i >= 0; i-- {
		if used+s.messages[i].TokenCount > s.budget {
			return i + 1
		}
		used += s.messages[i].TokenCount
	}
	return 0
}

// GetActiveWindow returns the maximal suffix whose token sum fits the
// budget, in original order.
func (s *MessageStream) GetActiveWindow() []APIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := s.windowStart()
	out := make([]APIMessage, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out
}

// GetOverflow returns the prefix that does not fit the active window.
func (s *MessageStream) GetOverflow() []APIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := s.windowStart()
	out := make([]APIMessage, start)
	copy(out, s.messages[:start])
	return out
}

// GetUnarchivedOverflow returns overflow messages not yet marked archived.
func (s *MessageStream) GetUnarchivedOverflow() []APIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := s.windowStart()
	var out []APIMessage
	for _, m := range s.messages[:start] {
		if _, ok := s.archived[m.MessageID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// MarkArchived records the IDs as archived. Unknown IDs are ignored so the
// archived set stays a subset of the stream. Idempotent.
func (s *MessageStream) MarkArchived(messageIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range messageIDs {
		if _, ok := s.ids[id]; ok {
			s.archived[id] = struct{}{}
		}
	}
}

// StreamStats summarizes the stream for commit reports and traces.
type StreamStats struct {
	TotalMessages      int    `json:"totalMessages"`
	TotalTokens        int    `json:"totalTokens"`
	ActiveWindowTokens int    `json:"activeWindowTokens"`
	OverflowTokens     int    `json:"overflowTokens"`
	ArchivedCount      int    `json:"archivedCount"`
	HasOverflow        bool   `json:"hasOverflow"`
	Tokenizer          string `json:"tokenizer"`
}

// GetStats computes the current stream statistics.
func (s *MessageStream) GetStats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := s.windowStart()
	windowTokens := 0
	for _, m := range s.messages[start:] {
		windowTokens += m.TokenCount
	}
	return StreamStats{
		TotalMessages:      len(s.messages),
		TotalTokens:        s.total,
		ActiveWindowTokens: windowTokens,
		OverflowTokens:     s.total - windowTokens,
		ArchivedCount:      len(s.archived),
		HasOverflow:        start > 0,
		Tokenizer:          utils.Encoding,
	}
}
