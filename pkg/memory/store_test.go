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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableforge/mnemo/pkg/persistence"
)

func TestStoreHydratesFromPersistence(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, mem.AddMessage(ctx, "u", "s1", persistence.PersistedMessage{
			MessageID:  fmt.Sprintf("m%d", i),
			Role:       RoleUser,
			Content:    fmt.Sprintf("message %d", i),
			TokenCount: 5,
			Archived:   i == 0,
			CreatedAt:  time.Now(),
		}))
	}

	store := NewContextStore(mem, testTokenCounter(t), 10*time.Minute, 200)
	stream, err := store.GetStream(ctx, "u", "s1", 1000)
	require.NoError(t, err)

	all := stream.GetAll()
	require.Len(t, all, 3)
	// Chronological order restored from the newest-first read.
	assert.Equal(t, "m0", all[0].MessageID)
	assert.Equal(t, "m2", all[2].MessageID)
	assert.Equal(t, 1, stream.GetStats().ArchivedCount)
}

func TestStoreComputesMissingTokenCounts(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	require.NoError(t, mem.AddMessage(ctx, "u", "s1", persistence.PersistedMessage{
		MessageID: "m0",
		Role:      RoleUser,
		Content:   "hello there",
		CreatedAt: time.Now(),
	}))

	store := NewContextStore(mem, testTokenCounter(t), 10*time.Minute, 200)
	stream, err := store.GetStream(ctx, "u", "s1", 1000)
	require.NoError(t, err)
	assert.Positive(t, stream.GetAll()[0].TokenCount)
}

func TestStoreCachesWithinTTL(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	store := NewContextStore(mem, testTokenCounter(t), 10*time.Minute, 200)

	s1, err := store.GetStream(ctx, "u", "s1", 1000)
	require.NoError(t, err)
	require.NoError(t, s1.Append(msg("live", 3)))

	// A later persisted write is invisible while the cache entry is warm.
	require.NoError(t, mem.AddMessage(ctx, "u", "s1", persistence.PersistedMessage{
		MessageID: "cold", Role: RoleUser, Content: "x", TokenCount: 1, CreatedAt: time.Now(),
	}))

	s2, err := store.GetStream(ctx, "u", "s1", 1000)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.True(t, s2.Contains("live"))
	assert.False(t, s2.Contains("cold"))
}

func TestStoreRebuildsAfterTTL(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	store := NewContextStore(mem, testTokenCounter(t), time.Millisecond, 200)

	s1, err := store.GetStream(ctx, "u", "s1", 1000)
	require.NoError(t, err)
	require.NoError(t, mem.AddMessage(ctx, "u", "s1", persistence.PersistedMessage{
		MessageID: "cold", Role: RoleUser, Content: "x", TokenCount: 1, CreatedAt: time.Now(),
	}))

	time.Sleep(5 * time.Millisecond)
	s2, err := store.GetStream(ctx, "u", "s1", 1000)
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.True(t, s2.Contains("cold"))
}

func TestStoreInsertMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	store := NewContextStore(mem, testTokenCounter(t), 10*time.Minute, 200)

	in := []ChatMessage{
		{Role: RoleSystem, Content: "## Current Session Topics\n- stuff"},
		{Role: RoleSystem, Content: "## Retrieved Memory Summary\nsummary"},
	}
	require.NoError(t, store.SetInsertMessages(ctx, "u", "s1", in))

	out, err := store.GetInsertMessages(ctx, "u", "s1")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	state, err := mem.GetSessionState(ctx, "u", "s1")
	require.NoError(t, err)
	assert.NotNil(t, state["insert_context_messages"])
	assert.NotEmpty(t, state["insert_context_updated_at"])

	// A cold store sees the persisted block.
	cold := NewContextStore(mem, testTokenCounter(t), 10*time.Minute, 200)
	out2, err := cold.GetInsertMessages(ctx, "u", "s1")
	require.NoError(t, err)
	assert.Equal(t, in, out2)
}

func TestStoreSessionLockStable(t *testing.T) {
	store := NewContextStore(newMemStore(), testTokenCounter(t), 10*time.Minute, 200)
	l1 := store.SessionLock("s1")
	l2 := store.SessionLock("s1")
	assert.Same(t, l1, l2)
	assert.NotSame(t, l1, store.SessionLock("s2"))
}

func TestStoreHydrationRetriesOnce(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	mem.failGetRecent = true
	store := NewContextStore(mem, testTokenCounter(t), 10*time.Minute, 200)

	_, err := store.GetStream(ctx, "u", "s1", 1000)
	require.Error(t, err)
}
