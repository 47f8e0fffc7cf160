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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fableforge/mnemo/pkg/persistence"
	"github.com/fableforge/mnemo/pkg/utils"
)

// memStore is an in-memory persistence.Store for offline tests.
type memStore struct {
	mu       sync.Mutex
	messages map[string][]persistence.PersistedMessage
	states   map[string]map[string]any
	topics   map[string][]persistence.TopicRow
	threads  map[string][]persistence.ThreadRow
	insights map[string][]persistence.InsightRow
	archived map[string][]persistence.ArchivedRow

	failGetRecent bool
}

func newMemStore() *memStore {
	return &memStore{
		messages: map[string][]persistence.PersistedMessage{},
		states:   map[string]map[string]any{},
		topics:   map[string][]persistence.TopicRow{},
		threads:  map[string][]persistence.ThreadRow{},
		insights: map[string][]persistence.InsightRow{},
		archived: map[string][]persistence.ArchivedRow{},
	}
}

func key(user, session string) string { return user + "/" + session }

func (m *memStore) GetRecentMessages(_ context.Context, user, session string, limit int) ([]persistence.PersistedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetRecent {
		return nil, fmt.Errorf("store offline")
	}
	msgs := m.messages[key(user, session)]
	out := make([]persistence.PersistedMessage, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (m *memStore) AddMessage(_ context.Context, user, session string, msg persistence.PersistedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	for _, existing := range m.messages[k] {
		if existing.MessageID == msg.MessageID {
			return fmt.Errorf("duplicate message %s", msg.MessageID)
		}
	}
	m.messages[k] = append(m.messages[k], msg)
	return nil
}

func (m *memStore) GetMessageByID(_ context.Context, user, session, messageID string) (*persistence.PersistedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[key(user, session)] {
		if msg.MessageID == messageID {
			out := msg
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memStore) IsMessageArchived(_ context.Context, user, session, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[key(user, session)] {
		if msg.MessageID == messageID {
			return msg.Archived, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkMessagesArchived(_ context.Context, user, session string, messageIDs []string, topicID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	ids := map[string]struct{}{}
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	for i, msg := range m.messages[k] {
		if _, ok := ids[msg.MessageID]; ok {
			m.messages[k][i].Archived = true
			m.messages[k][i].ArchivedTopicID = topicID
			m.messages[k][i].ArchivedThreadID = threadID
		}
	}
	return nil
}

func (m *memStore) UpdateSessionTimestamp(_ context.Context, user, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	if m.states[k] == nil {
		m.states[k] = map[string]any{}
	}
	m.states[k]["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return nil
}

func (m *memStore) GetSessionState(_ context.Context, user, session string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]any{}
	for k, v := range m.states[key(user, session)] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) UpdateSessionState(_ context.Context, user, session string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	if m.states[k] == nil {
		m.states[k] = map[string]any{}
	}
	for field, v := range patch {
		m.states[k][field] = v
	}
	return nil
}

func (m *memStore) CreateTopic(_ context.Context, user, session, topicID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	m.topics[k] = append(m.topics[k], persistence.TopicRow{TopicID: topicID, Title: title, CreatedAt: time.Now()})
	return nil
}

func (m *memStore) GetAllTopics(_ context.Context, user, session string) ([]persistence.TopicRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]persistence.TopicRow(nil), m.topics[key(user, session)]...), nil
}

func (m *memStore) CreateThread(_ context.Context, user, session, topicID, threadID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	m.threads[k] = append(m.threads[k], persistence.ThreadRow{ThreadID: threadID, TopicID: topicID, Title: title, CreatedAt: time.Now()})
	return nil
}

func (m *memStore) GetTopicThreads(_ context.Context, user, session, topicID string) ([]persistence.ThreadRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []persistence.ThreadRow
	for _, th := range m.threads[key(user, session)] {
		if th.TopicID == topicID {
			out = append(out, th)
		}
	}
	return out, nil
}

func (m *memStore) UpdateThreadSummary(_ context.Context, user, session, topicID, threadID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	for i, th := range m.threads[k] {
		if th.ThreadID == threadID {
			m.threads[k][i].Summary = summary
		}
	}
	return nil
}

func (m *memStore) CreateInsight(_ context.Context, user, session string, insight persistence.InsightRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	m.insights[k] = append(m.insights[k], insight)
	return nil
}

func (m *memStore) GetThreadInsights(_ context.Context, user, session, topicID, threadID string) ([]persistence.InsightRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []persistence.InsightRow
	for _, ins := range m.insights[key(user, session)] {
		if ins.ThreadID == threadID {
			out = append(out, ins)
		}
	}
	return out, nil
}

func (m *memStore) GetLatestInsight(_ context.Context, user, session, topicID, threadID string) (*persistence.InsightRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *persistence.InsightRow
	for i, ins := range m.insights[key(user, session)] {
		if ins.ThreadID == threadID && (latest == nil || ins.Version > latest.Version) {
			latest = &m.insights[key(user, session)][i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (m *memStore) UpdateInsightEmbedding(_ context.Context, user, session, topicID, threadID, insightID string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	for i, ins := range m.insights[k] {
		if ins.InsightID == insightID {
			m.insights[k][i].Embedding = embedding
		}
	}
	return nil
}

func (m *memStore) SaveArchivedMessage(_ context.Context, user, session string, row persistence.ArchivedRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(user, session)
	for i, existing := range m.archived[k] {
		if existing.MessageID == row.MessageID {
			m.archived[k][i] = row
			return nil
		}
	}
	m.archived[k] = append(m.archived[k], row)
	return nil
}

func (m *memStore) GetArchivedMessagesByThread(_ context.Context, user, session, threadID string) ([]persistence.ArchivedRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []persistence.ArchivedRow
	for _, row := range m.archived[key(user, session)] {
		if row.ThreadID == threadID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

// mockLLM routes calls to configurable funcs; the defaults succeed with
// fixed text.
type mockLLM struct {
	mu            sync.Mutex
	generateFn    func(prompt string) (string, error)
	jsonFn        func(prompt string) (map[string]any, error)
	classifyFn    func(prompt string) (map[string]any, error)
	generateCalls int
	classifyCalls int
}

func (m *mockLLM) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.generateCalls++
	fn := m.generateFn
	m.mu.Unlock()
	if fn != nil {
		return fn(prompt)
	}
	return "generated text", nil
}

func (m *mockLLM) GenerateJSON(_ context.Context, prompt string) (map[string]any, error) {
	m.mu.Lock()
	fn := m.jsonFn
	m.mu.Unlock()
	if fn != nil {
		return fn(prompt)
	}
	return nil, nil
}

func (m *mockLLM) ClassifyForArchive(_ context.Context, prompt string) (map[string]any, error) {
	m.mu.Lock()
	m.classifyCalls++
	fn := m.classifyFn
	m.mu.Unlock()
	if fn != nil {
		return fn(prompt)
	}
	return nil, nil
}

func (m *mockLLM) ModelName() string { return "mock" }

// mockEmbedder returns a fixed or computed vector.
type mockEmbedder struct {
	embedFn func(text string) ([]float32, error)
	dim     int
}

func (m *mockEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(text)
	}
	return make([]float32, m.dimension()), nil
}

func (m *mockEmbedder) Dimension() int { return m.dimension() }

func (m *mockEmbedder) dimension() int {
	if m.dim == 0 {
		return 3
	}
	return m.dim
}

func (m *mockEmbedder) ModelName() string { return "mock-embedder" }

func testTokenCounter(t *testing.T) *utils.TokenCounter {
	t.Helper()
	tc, err := utils.NewTokenCounter()
	require.NoError(t, err)
	return tc
}

func persistedFrom(m APIMessage) persistence.PersistedMessage {
	return persistence.PersistedMessage{
		MessageID:  m.MessageID,
		Role:       m.Role,
		Content:    m.Content,
		TokenCount: m.TokenCount,
		CreatedAt:  m.Timestamp,
	}
}
