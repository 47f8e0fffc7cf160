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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fableforge/mnemo/pkg/persistence"
	"github.com/fableforge/mnemo/pkg/utils"
)

// archiveState carries the per-session coalescing primitives used by the
// scheduler: a mutex acquired with TryLock and a pending re-run flag.
type archiveState struct {
	mu      sync.Mutex
	pending bool
	flagMu  sync.Mutex
}

func (a *archiveState) setPending(v bool) {
	a.flagMu.Lock()
	a.pending = v
	a.flagMu.Unlock()
}

func (a *archiveState) isPending() bool {
	a.flagMu.Lock()
	defer a.flagMu.Unlock()
	return a.pending
}

// ContextStore caches live streams and insert-message blocks per session,
// backed by persistence. It owns the per-session mutexes. The outer lock is
// held only for map lookup/insert; all data access happens under the
// per-session mutex, which callers acquire via SessionLock.
type ContextStore struct {
	store     persistence.Store
	tokens    *utils.TokenCounter
	ttl       time.Duration
	loadLimit int

	mu           sync.Mutex
	streams      map[string]*MessageStream
	inserts      map[string][]ChatMessage
	insertLoaded map[string]bool
	lastAccess   map[string]time.Time
	sessionLocks map[string]*sync.Mutex
	archives     map[string]*archiveState
}

// NewContextStore creates a store over the given persistence adapter.
func NewContextStore(store persistence.Store, tokens *utils.TokenCounter, ttl time.Duration, loadLimit int) *ContextStore {
	return &ContextStore{
		store:        store,
		tokens:       tokens,
		ttl:          ttl,
		loadLimit:    loadLimit,
		streams:      make(map[string]*MessageStream),
		inserts:      make(map[string][]ChatMessage),
		insertLoaded: make(map[string]bool),
		lastAccess:   make(map[string]time.Time),
		sessionLocks: make(map[string]*sync.Mutex),
		archives:     make(map[string]*archiveState),
	}
}

// SessionLock returns the per-session mutex, creating it on first use.
// Mutexes are never deleted, so a pointer stays valid for the process
// lifetime.
func (c *ContextStore) SessionLock(session string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.sessionLocks[session]
	if !ok {
		l = &sync.Mutex{}
		c.sessionLocks[session] = l
	}
	return l
}

// ArchiveState returns the per-session archive coalescing state.
func (c *ContextStore) ArchiveState(session string) *archiveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.archives[session]
	if !ok {
		a = &archiveState{}
		c.archives[session] = a
	}
	return a
}

// expired reports whether the cache entry for session is stale. Caller holds
// the outer lock.
func (c *ContextStore) expired(session string, now time.Time) bool {
	last, ok := c.lastAccess[session]
	return !ok || now.Sub(last) > c.ttl
}

// GetStream returns the live stream for the session, hydrating from
// persistence when the cache entry is absent or past its TTL. Must be called
// under the session mutex.
func (c *ContextStore) GetStream(ctx context.Context, user, session string, windowTokens int) (*MessageStream, error) {
	now := time.Now()
	c.mu.Lock()
	stream, ok := c.streams[session]
	stale := c.expired(session, now)
	c.mu.Unlock()

	if ok && !stale {
		c.touch(session, now)
		if stream.Budget() != windowTokens {
			stream.SetBudget(windowTokens)
		}
		return stream, nil
	}

	stream, err := c.hydrate(ctx, user, session, windowTokens)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.streams[session] = stream
	c.lastAccess[session] = now
	delete(c.insertLoaded, session)
	c.mu.Unlock()
	return stream, nil
}

// hydrate rebuilds a stream from the most recent persisted messages.
func (c *ContextStore) hydrate(ctx context.Context, user, session string, windowTokens int) (*MessageStream, error) {
	rows, err := c.store.GetRecentMessages(ctx, user, session, c.loadLimit)
	if err != nil {
		// One retry for transient persistence failures.
		rows, err = c.store.GetRecentMessages(ctx, user, session, c.loadLimit)
		if err != nil {
			return nil, fmt.Errorf("hydrate session %s: %w", session, err)
		}
	}

	stream := NewMessageStream(session, windowTokens)
	var archivedIDs []string
	// Rows arrive newest-first; walk backwards to restore chronological order.
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		tokens := r.TokenCount
		if tokens == 0 && r.Content != "" {
			tokens = c.tokens.Count(r.Content)
		}
		msg := APIMessage{
			MessageID:  r.MessageID,
			Role:       r.Role,
			Content:    r.Content,
			Timestamp:  r.CreatedAt,
			TokenCount: tokens,
		}
		if err := stream.Append(msg); err != nil {
			slog.Warn("skipping duplicate persisted message", "session", session, "message_id", r.MessageID)
			continue
		}
		if r.Archived {
			archivedIDs = append(archivedIDs, r.MessageID)
		}
	}
	stream.MarkArchived(archivedIDs)

	slog.Debug("hydrated session stream",
		"session", session,
		"messages", len(rows),
		"archived", len(archivedIDs))
	return stream, nil
}

// GetInsertMessages returns the cached insert block, reloading it from the
// session state with the same TTL discipline as streams. Must be called
// under the session mutex.
func (c *ContextStore) GetInsertMessages(ctx context.Context, user, session string) ([]ChatMessage, error) {
	now := time.Now()
	c.mu.Lock()
	loaded := c.insertLoaded[session]
	stale := c.expired(session, now)
	cached := c.inserts[session]
	c.mu.Unlock()

	if loaded && !stale {
		c.touch(session, now)
		out := make([]ChatMessage, len(cached))
		copy(out, cached)
		return out, nil
	}

	state, err := c.store.GetSessionState(ctx, user, session)
	if err != nil {
		state, err = c.store.GetSessionState(ctx, user, session)
		if err != nil {
			return nil, fmt.Errorf("load session state %s: %w", session, err)
		}
	}

	msgs := decodeInsertMessages(state["insert_context_messages"])
	c.mu.Lock()
	c.inserts[session] = msgs
	c.insertLoaded[session] = true
	c.lastAccess[session] = now
	c.mu.Unlock()

	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// SetInsertMessages updates the cache and persists the block into the
// session state. Must be called under the session mutex.
func (c *ContextStore) SetInsertMessages(ctx context.Context, user, session string, msgs []ChatMessage) error {
	encoded := make([]any, 0, len(msgs))
	for _, m := range msgs {
		encoded = append(encoded, map[string]any{"role": m.Role, "content": m.Content})
	}
	patch := map[string]any{
		"insert_context_messages":   encoded,
		"insert_context_updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.store.UpdateSessionState(ctx, user, session, patch); err != nil {
		if err = c.store.UpdateSessionState(ctx, user, session, patch); err != nil {
			return fmt.Errorf("persist insert block %s: %w", session, err)
		}
	}

	now := time.Now()
	c.mu.Lock()
	c.inserts[session] = append([]ChatMessage(nil), msgs...)
	c.insertLoaded[session] = true
	c.lastAccess[session] = now
	c.mu.Unlock()
	return nil
}

func (c *ContextStore) touch(session string, now time.Time) {
	c.mu.Lock()
	c.lastAccess[session] = now
	c.mu.Unlock()
}

// decodeInsertMessages converts the loosely typed session-state value back
// into chat messages. Unknown shapes yield an empty block.
func decodeInsertMessages(v any) []ChatMessage {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []ChatMessage
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		if role == "" && content == "" {
			continue
		}
		out = append(out, ChatMessage{Role: role, Content: content})
	}
	return out
}
