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

// Package persistence defines the durable storage boundary of the memory
// orchestrator and its SQL implementation.
//
// The orchestrator core calls, and only calls, the methods of Store. Reads
// after a completed write on the same key observe that write; no cross-key
// transactionality is assumed.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups whose subject does not exist, where the
// absence is not representable as a nil row.
var ErrNotFound = errors.New("not found")

// PersistedMessage is a durable copy of a conversation message.
type PersistedMessage struct {
	MessageID        string
	Role             string
	Content          string
	TokenCount       int
	Archived         bool
	ArchivedTopicID  string
	ArchivedThreadID string
	CreatedAt        time.Time
}

// TopicRow is a coarse memory category, unique per user+session.
type TopicRow struct {
	TopicID   string
	Title     string
	Summary   string
	CreatedAt time.Time
}

// ThreadRow is a fine-grained discussion point within a topic.
type ThreadRow struct {
	ThreadID  string
	TopicID   string
	Title     string
	Summary   string
	CreatedAt time.Time
}

// InsightRow is one version of the distilled understanding of a thread.
// Versions are monotonically increasing per thread.
type InsightRow struct {
	InsightID        string
	ThreadID         string
	TopicID          string
	Version          int
	Content          string
	SourceMessageIDs []string
	EvolutionNote    string
	Embedding        []float32
	CreatedAt        time.Time
}

// ArchivedRow indexes a raw archived message under its topic and thread.
type ArchivedRow struct {
	MessageID string
	TopicID   string
	ThreadID  string
	Role      string
	Content   string
}

// Store is the durable key/value/collection boundary consumed by the core.
// All methods may return a transport error; callers retry at most once.
type Store interface {
	// GetRecentMessages returns up to limit messages sorted newest-first.
	GetRecentMessages(ctx context.Context, user, session string, limit int) ([]PersistedMessage, error)

	// AddMessage appends a message. The message ID must be unique within
	// the session.
	AddMessage(ctx context.Context, user, session string, msg PersistedMessage) error

	// GetMessageByID returns the message or nil when absent.
	GetMessageByID(ctx context.Context, user, session, messageID string) (*PersistedMessage, error)

	// IsMessageArchived reports whether the message carries the archived flag.
	IsMessageArchived(ctx context.Context, user, session, messageID string) (bool, error)

	// MarkMessagesArchived sets the archived flag and records the
	// destination topic and thread. Idempotent.
	MarkMessagesArchived(ctx context.Context, user, session string, messageIDs []string, topicID, threadID string) error

	// UpdateSessionTimestamp touches the session-state document.
	UpdateSessionTimestamp(ctx context.Context, user, session string) error

	// GetSessionState returns the session-state document; empty map when absent.
	GetSessionState(ctx context.Context, user, session string) (map[string]any, error)

	// UpdateSessionState merges patch into the session-state document.
	UpdateSessionState(ctx context.Context, user, session string, patch map[string]any) error

	CreateTopic(ctx context.Context, user, session, topicID, title string) error
	GetAllTopics(ctx context.Context, user, session string) ([]TopicRow, error)

	CreateThread(ctx context.Context, user, session, topicID, threadID, title string) error
	GetTopicThreads(ctx context.Context, user, session, topicID string) ([]ThreadRow, error)
	UpdateThreadSummary(ctx context.Context, user, session, topicID, threadID, summary string) error

	CreateInsight(ctx context.Context, user, session string, insight InsightRow) error

	// GetThreadInsights returns all insight versions sorted oldest-first.
	GetThreadInsights(ctx context.Context, user, session, topicID, threadID string) ([]InsightRow, error)

	// GetLatestInsight returns the highest version or nil when none exist.
	GetLatestInsight(ctx context.Context, user, session, topicID, threadID string) (*InsightRow, error)

	UpdateInsightEmbedding(ctx context.Context, user, session, topicID, threadID, insightID string, embedding []float32) error

	// SaveArchivedMessage upserts by message ID.
	SaveArchivedMessage(ctx context.Context, user, session string, row ArchivedRow) error

	// GetArchivedMessagesByThread returns rows in persistence order.
	GetArchivedMessagesByThread(ctx context.Context, user, session, threadID string) ([]ArchivedRow, error)

	// Close releases underlying resources.
	Close() error
}
