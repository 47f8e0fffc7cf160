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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// overflowStream builds a stream whose first messages overflow the budget.
func overflowStream(t *testing.T, budget int, tokens ...int) *MessageStream {
	t.Helper()
	s := NewMessageStream("s1", budget)
	for i, tc := range tokens {
		m := msg(fmt.Sprintf("m%d", i), tc)
		if i == 0 {
			m.Content = "tell me about dragons"
		}
		require.NoError(t, s.Append(m))
	}
	return s
}

func TestArchiverNoopOnEmptyOverflow(t *testing.T) {
	store := newMemStore()
	llm := &mockLLM{}
	a := NewTruncateArchiver(store, llm)

	s := NewMessageStream("s1", 100)
	require.NoError(t, s.Append(msg("a", 10)))

	require.NoError(t, a.Process(context.Background(), s, "u", "s1"))
	assert.Zero(t, llm.classifyCalls)
	topics, _ := store.GetAllTopics(context.Background(), "u", "s1")
	assert.Empty(t, topics)
}

func TestArchiverClassificationFallback(t *testing.T) {
	store := newMemStore()
	// classifyFn default returns (nil, nil): parse failure.
	llm := &mockLLM{
		generateFn: func(string) (string, error) { return "", fmt.Errorf("llm down") },
	}
	a := NewTruncateArchiver(store, llm)
	s := overflowStream(t, 5, 6, 6, 4)

	require.NoError(t, a.Process(context.Background(), s, "u", "s1"))

	topics, err := store.GetAllTopics(context.Background(), "u", "s1")
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "Unclassified", topics[0].Title)
	assert.True(t, strings.HasPrefix(topics[0].TopicID, "topic_"))

	threads, err := store.GetTopicThreads(context.Background(), "u", "s1", topics[0].TopicID)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "General", threads[0].Title)
	assert.True(t, strings.HasPrefix(threads[0].ThreadID, "thread_"))

	insights, err := store.GetThreadInsights(context.Background(), "u", "s1", topics[0].TopicID, threads[0].ThreadID)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, 1, insights[0].Version)
	assert.Equal(t, "initial", insights[0].EvolutionNote)
	assert.True(t, strings.HasPrefix(insights[0].Content, "User discussed: "))
}

func TestArchiverMarksMessagesBothSides(t *testing.T) {
	store := newMemStore()
	llm := &mockLLM{}
	a := NewTruncateArchiver(store, llm)
	s := overflowStream(t, 5, 6, 6, 4)

	for _, m := range s.GetAll() {
		require.NoError(t, store.AddMessage(context.Background(), "u", "s1", persistedFrom(m)))
	}

	require.NoError(t, a.Process(context.Background(), s, "u", "s1"))

	assert.Empty(t, s.GetUnarchivedOverflow())
	for _, m := range s.GetOverflow() {
		archived, err := store.IsMessageArchived(context.Background(), "u", "s1", m.MessageID)
		require.NoError(t, err)
		assert.True(t, archived)
	}
}

func TestArchiverInsightVersionsIncrement(t *testing.T) {
	store := newMemStore()
	calls := 0
	llm := &mockLLM{
		classifyFn: func(string) (map[string]any, error) {
			calls++
			if calls == 1 {
				return map[string]any{
					"topicID": nil, "topicTitle": "Dragons",
					"threadID": nil, "threadTitle": "Lore",
					"isNewTopic": true, "isNewThread": true,
				}, nil
			}
			// Later batches continue the same thread.
			topics, _ := store.GetAllTopics(context.Background(), "u", "s1")
			threads, _ := store.GetTopicThreads(context.Background(), "u", "s1", topics[0].TopicID)
			return map[string]any{
				"topicID": topics[0].TopicID, "topicTitle": topics[0].Title,
				"threadID": threads[0].ThreadID, "threadTitle": threads[0].Title,
				"isNewTopic": false, "isNewThread": false,
			}, nil
		},
	}
	a := NewTruncateArchiver(store, llm)

	s := overflowStream(t, 5, 6, 4)
	require.NoError(t, a.Process(context.Background(), s, "u", "s1"))

	s2 := NewMessageStream("s1", 5)
	require.NoError(t, s2.Append(msg("x", 6)))
	require.NoError(t, s2.Append(msg("y", 4)))
	require.NoError(t, a.Process(context.Background(), s2, "u", "s1"))

	topics, _ := store.GetAllTopics(context.Background(), "u", "s1")
	require.Len(t, topics, 1)
	threads, _ := store.GetTopicThreads(context.Background(), "u", "s1", topics[0].TopicID)
	require.Len(t, threads, 1)

	insights, err := store.GetThreadInsights(context.Background(), "u", "s1", topics[0].TopicID, threads[0].ThreadID)
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, 1, insights[0].Version)
	assert.Equal(t, "initial", insights[0].EvolutionNote)
	assert.Equal(t, 2, insights[1].Version)
	assert.NotEqual(t, "initial", insights[1].EvolutionNote)
}

func TestArchiverSkipsAlreadyArchivedInPersistence(t *testing.T) {
	store := newMemStore()
	llm := &mockLLM{}
	a := NewTruncateArchiver(store, llm)
	s := overflowStream(t, 5, 6, 4)

	// Persistence already has the overflow message archived; the in-memory
	// set lags behind, as after a crash between marking steps.
	for _, m := range s.GetAll() {
		require.NoError(t, store.AddMessage(context.Background(), "u", "s1", persistedFrom(m)))
	}
	require.NoError(t, store.MarkMessagesArchived(context.Background(), "u", "s1", []string{"m0"}, "t", "th"))

	require.NoError(t, a.Process(context.Background(), s, "u", "s1"))
	assert.Zero(t, llm.classifyCalls)
	topics, _ := store.GetAllTopics(context.Background(), "u", "s1")
	assert.Empty(t, topics)
}

func TestArchiverSummaryRefreshFailureNonFatal(t *testing.T) {
	store := newMemStore()
	generateCalls := 0
	llm := &mockLLM{
		generateFn: func(prompt string) (string, error) {
			generateCalls++
			if strings.Contains(prompt, "Summarize this thread") {
				return "", fmt.Errorf("llm down")
			}
			return "distilled insight", nil
		},
	}
	a := NewTruncateArchiver(store, llm)
	s := overflowStream(t, 5, 6, 4)

	require.NoError(t, a.Process(context.Background(), s, "u", "s1"))

	topics, _ := store.GetAllTopics(context.Background(), "u", "s1")
	require.Len(t, topics, 1)
	threads, _ := store.GetTopicThreads(context.Background(), "u", "s1", topics[0].TopicID)
	require.Len(t, threads, 1)
	insights, _ := store.GetThreadInsights(context.Background(), "u", "s1", topics[0].TopicID, threads[0].ThreadID)
	require.Len(t, insights, 1)
	assert.Equal(t, "distilled insight", insights[0].Content)
	assert.Empty(t, threads[0].Summary)
}

func TestArchiverIndexesRawMessages(t *testing.T) {
	store := newMemStore()
	llm := &mockLLM{}
	a := NewTruncateArchiver(store, llm)
	s := overflowStream(t, 5, 6, 6, 4)

	require.NoError(t, a.Process(context.Background(), s, "u", "s1"))

	topics, _ := store.GetAllTopics(context.Background(), "u", "s1")
	threads, _ := store.GetTopicThreads(context.Background(), "u", "s1", topics[0].TopicID)
	rows, err := store.GetArchivedMessagesByThread(context.Background(), "u", "s1", threads[0].ThreadID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m0", rows[0].MessageID)
	assert.Equal(t, "m1", rows[1].MessageID)
}
