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

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store using a SQL database.
// Concurrency is handled by database-level locking (transactions).
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createMessagesSchemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    message_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    token_count INTEGER NOT NULL,
    archived BOOLEAN DEFAULT FALSE,
    archived_topic_id VARCHAR(255),
    archived_thread_id VARCHAR(255),
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, session_id, message_id)
)`

const createMessagesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(user_id, session_id, sequence_num)`

const createSessionStatesSchemaSQL = `
CREATE TABLE IF NOT EXISTS session_states (
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, session_id)
)`

const createTopicsSchemaSQL = `
CREATE TABLE IF NOT EXISTS topics (
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    topic_id VARCHAR(255) NOT NULL,
    title TEXT NOT NULL,
    summary TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, session_id, topic_id)
)`

const createThreadsSchemaSQL = `
CREATE TABLE IF NOT EXISTS threads (
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    topic_id VARCHAR(255) NOT NULL,
    thread_id VARCHAR(255) NOT NULL,
    title TEXT NOT NULL,
    summary TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, session_id, thread_id)
)`

const createThreadsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_threads_topic ON threads(user_id, session_id, topic_id)`

const createInsightsSchemaSQL = `
CREATE TABLE IF NOT EXISTS insights (
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    topic_id VARCHAR(255) NOT NULL,
    thread_id VARCHAR(255) NOT NULL,
    insight_id VARCHAR(255) NOT NULL,
    version INTEGER NOT NULL,
    content TEXT NOT NULL,
    source_ids_json TEXT,
    evolution_note TEXT,
    embedding_json TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, session_id, insight_id)
)`

const createInsightsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_insights_thread ON insights(user_id, session_id, thread_id, version)`

const createArchivedSchemaSQL = `
CREATE TABLE IF NOT EXISTS archived_messages (
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    message_id VARCHAR(255) NOT NULL,
    topic_id VARCHAR(255) NOT NULL,
    thread_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    sequence_num INTEGER NOT NULL,
    PRIMARY KEY (user_id, session_id, message_id)
)`

const createArchivedIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_archived_thread ON archived_messages(user_id, session_id, thread_id, sequence_num)`

// NewSQLStore creates a SQL-backed store and initializes the schema.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite", "sqlite3":
		if dialect == "sqlite3" {
			dialect = "sqlite"
		}
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Open opens a database connection for the given backend and wraps it in a
// SQLStore. Backend names match config values (sqlite, postgres, mysql).
func Open(backend, dsn string) (*SQLStore, error) {
	driver := backend
	if backend == "sqlite" {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", backend, err)
	}
	if backend == "sqlite" {
		// In-memory sqlite databases are per-connection.
		db.SetMaxOpenConns(1)
	}
	store, err := NewSQLStore(db, backend)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Execute each statement separately for SQLite compatibility
	statements := []string{
		createMessagesSchemaSQL,
		createMessagesIndexSQL,
		createSessionStatesSchemaSQL,
		createTopicsSchemaSQL,
		createThreadsSchemaSQL,
		createThreadsIndexSQL,
		createInsightsSchemaSQL,
		createInsightsIndexSQL,
		createArchivedSchemaSQL,
		createArchivedIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Messages
// =============================================================================

func (s *SQLStore) GetRecentMessages(ctx context.Context, user, session string, limit int) ([]PersistedMessage, error) {
	query := `SELECT message_id, role, content, token_count, archived, archived_topic_id, archived_thread_id, created_at
              FROM messages WHERE user_id = ? AND session_id = ?
              ORDER BY sequence_num DESC`
	args := []any{user, session}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	query = s.rebind(query)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []PersistedMessage
	for rows.Next() {
		var m PersistedMessage
		var topicID, threadID sql.NullString
		if err := rows.Scan(&m.MessageID, &m.Role, &m.Content, &m.TokenCount, &m.Archived, &topicID, &threadID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ArchivedTopicID = topicID.String
		m.ArchivedThreadID = threadID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddMessage(ctx context.Context, user, session string, msg PersistedMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	seqQuery := s.rebind(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM messages WHERE user_id = ? AND session_id = ?`)
	if err := tx.QueryRowContext(ctx, seqQuery, user, session).Scan(&seq); err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	insert := s.rebind(`INSERT INTO messages
        (user_id, session_id, message_id, role, content, token_count, archived, archived_topic_id, archived_thread_id, sequence_num, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert,
		user, session, msg.MessageID, msg.Role, msg.Content, msg.TokenCount,
		msg.Archived, msg.ArchivedTopicID, msg.ArchivedThreadID, seq, createdAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) GetMessageByID(ctx context.Context, user, session, messageID string) (*PersistedMessage, error) {
	query := s.rebind(`SELECT message_id, role, content, token_count, archived, archived_topic_id, archived_thread_id, created_at
              FROM messages WHERE user_id = ? AND session_id = ? AND message_id = ?`)

	var m PersistedMessage
	var topicID, threadID sql.NullString
	err := s.db.QueryRowContext(ctx, query, user, session, messageID).Scan(
		&m.MessageID, &m.Role, &m.Content, &m.TokenCount, &m.Archived, &topicID, &threadID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	m.ArchivedTopicID = topicID.String
	m.ArchivedThreadID = threadID.String
	return &m, nil
}

func (s *SQLStore) IsMessageArchived(ctx context.Context, user, session, messageID string) (bool, error) {
	query := s.rebind(`SELECT archived FROM messages WHERE user_id = ? AND session_id = ? AND message_id = ?`)

	var archived bool
	err := s.db.QueryRowContext(ctx, query, user, session, messageID).Scan(&archived)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check archived flag: %w", err)
	}
	return archived, nil
}

func (s *SQLStore) MarkMessagesArchived(ctx context.Context, user, session string, messageIDs []string, topicID, threadID string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := s.rebind(`UPDATE messages SET archived = ?, archived_topic_id = ?, archived_thread_id = ?
              WHERE user_id = ? AND session_id = ? AND message_id = ?`)
	for _, id := range messageIDs {
		if _, err := tx.ExecContext(ctx, update, true, topicID, threadID, user, session, id); err != nil {
			return fmt.Errorf("failed to mark message archived: %w", err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// Session state
// =============================================================================

func (s *SQLStore) UpdateSessionTimestamp(ctx context.Context, user, session string) error {
	return s.UpdateSessionState(ctx, user, session, map[string]any{})
}

func (s *SQLStore) GetSessionState(ctx context.Context, user, session string) (map[string]any, error) {
	query := s.rebind(`SELECT state_json FROM session_states WHERE user_id = ? AND session_id = ?`)

	var stateJSON string
	err := s.db.QueryRowContext(ctx, query, user, session).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}

	var state map[string]any
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
		}
	}
	if state == nil {
		state = make(map[string]any)
	}
	return state, nil
}

func (s *SQLStore) UpdateSessionState(ctx context.Context, user, session string, patch map[string]any) error {
	existing, err := s.GetSessionState(ctx, user, session)
	if err != nil {
		return err
	}
	maps.Copy(existing, patch)

	stateJSON, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.upsertSessionStateQuery(), user, session, string(stateJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert session state: %w", err)
	}
	return nil
}

// =============================================================================
// Topics and threads
// =============================================================================

func (s *SQLStore) CreateTopic(ctx context.Context, user, session, topicID, title string) error {
	query := s.rebind(`INSERT INTO topics (user_id, session_id, topic_id, title, summary, created_at)
              VALUES (?, ?, ?, ?, '', ?)`)
	if _, err := s.db.ExecContext(ctx, query, user, session, topicID, title, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAllTopics(ctx context.Context, user, session string) ([]TopicRow, error) {
	query := s.rebind(`SELECT topic_id, title, summary, created_at FROM topics
              WHERE user_id = ? AND session_id = ? ORDER BY created_at ASC, topic_id ASC`)

	rows, err := s.db.QueryContext(ctx, query, user, session)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	var out []TopicRow
	for rows.Next() {
		var t TopicRow
		var summary sql.NullString
		if err := rows.Scan(&t.TopicID, &t.Title, &summary, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		t.Summary = summary.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateThread(ctx context.Context, user, session, topicID, threadID, title string) error {
	query := s.rebind(`INSERT INTO threads (user_id, session_id, topic_id, thread_id, title, summary, created_at)
              VALUES (?, ?, ?, ?, ?, '', ?)`)
	if _, err := s.db.ExecContext(ctx, query, user, session, topicID, threadID, title, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTopicThreads(ctx context.Context, user, session, topicID string) ([]ThreadRow, error) {
	query := s.rebind(`SELECT thread_id, topic_id, title, summary, created_at FROM threads
              WHERE user_id = ? AND session_id = ? AND topic_id = ?
              ORDER BY created_at ASC, thread_id ASC`)

	rows, err := s.db.QueryContext(ctx, query, user, session, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var out []ThreadRow
	for rows.Next() {
		var t ThreadRow
		var summary sql.NullString
		if err := rows.Scan(&t.ThreadID, &t.TopicID, &t.Title, &summary, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		t.Summary = summary.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateThreadSummary(ctx context.Context, user, session, topicID, threadID, summary string) error {
	query := s.rebind(`UPDATE threads SET summary = ? WHERE user_id = ? AND session_id = ? AND topic_id = ? AND thread_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, summary, user, session, topicID, threadID); err != nil {
		return fmt.Errorf("failed to update thread summary: %w", err)
	}
	return nil
}

// =============================================================================
// Insights
// =============================================================================

func (s *SQLStore) CreateInsight(ctx context.Context, user, session string, insight InsightRow) error {
	sourceJSON, err := json.Marshal(insight.SourceMessageIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source message ids: %w", err)
	}

	var embeddingJSON string
	if len(insight.Embedding) > 0 {
		b, err := json.Marshal(insight.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embeddingJSON = string(b)
	}

	createdAt := insight.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := s.rebind(`INSERT INTO insights
        (user_id, session_id, topic_id, thread_id, insight_id, version, content, source_ids_json, evolution_note, embedding_json, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		user, session, insight.TopicID, insight.ThreadID, insight.InsightID,
		insight.Version, insight.Content, string(sourceJSON), insight.EvolutionNote, embeddingJSON, createdAt); err != nil {
		return fmt.Errorf("failed to create insight: %w", err)
	}
	return nil
}

func (s *SQLStore) GetThreadInsights(ctx context.Context, user, session, topicID, threadID string) ([]InsightRow, error) {
	query := s.rebind(`SELECT insight_id, version, content, source_ids_json, evolution_note, embedding_json, created_at
              FROM insights WHERE user_id = ? AND session_id = ? AND topic_id = ? AND thread_id = ?
              ORDER BY version ASC`)

	rows, err := s.db.QueryContext(ctx, query, user, session, topicID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	var out []InsightRow
	for rows.Next() {
		row, err := scanInsight(rows, topicID, threadID)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetLatestInsight(ctx context.Context, user, session, topicID, threadID string) (*InsightRow, error) {
	insights, err := s.GetThreadInsights(ctx, user, session, topicID, threadID)
	if err != nil {
		return nil, err
	}
	if len(insights) == 0 {
		return nil, nil
	}
	latest := insights[len(insights)-1]
	return &latest, nil
}

func (s *SQLStore) UpdateInsightEmbedding(ctx context.Context, user, session, topicID, threadID, insightID string, embedding []float32) error {
	b, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := s.rebind(`UPDATE insights SET embedding_json = ? WHERE user_id = ? AND session_id = ? AND insight_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, string(b), user, session, insightID); err != nil {
		return fmt.Errorf("failed to update insight embedding: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInsight(r rowScanner, topicID, threadID string) (*InsightRow, error) {
	var row InsightRow
	var sourceJSON, evolutionNote, embeddingJSON sql.NullString
	if err := r.Scan(&row.InsightID, &row.Version, &row.Content, &sourceJSON, &evolutionNote, &embeddingJSON, &row.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan insight: %w", err)
	}
	row.TopicID = topicID
	row.ThreadID = threadID
	row.EvolutionNote = evolutionNote.String
	if sourceJSON.String != "" {
		if err := json.Unmarshal([]byte(sourceJSON.String), &row.SourceMessageIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source message ids: %w", err)
		}
	}
	if embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &row.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
	}
	return &row, nil
}

// =============================================================================
// Archived message index
// =============================================================================

func (s *SQLStore) SaveArchivedMessage(ctx context.Context, user, session string, row ArchivedRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	seqQuery := s.rebind(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM archived_messages WHERE user_id = ? AND session_id = ?`)
	if err := tx.QueryRowContext(ctx, seqQuery, user, session).Scan(&seq); err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.upsertArchivedQuery(),
		user, session, row.MessageID, row.TopicID, row.ThreadID, row.Role, row.Content, seq); err != nil {
		return fmt.Errorf("failed to upsert archived message: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) GetArchivedMessagesByThread(ctx context.Context, user, session, threadID string) ([]ArchivedRow, error) {
	query := s.rebind(`SELECT message_id, topic_id, thread_id, role, content FROM archived_messages
              WHERE user_id = ? AND session_id = ? AND thread_id = ?
              ORDER BY sequence_num ASC`)

	rows, err := s.db.QueryContext(ctx, query, user, session, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived messages: %w", err)
	}
	defer rows.Close()

	var out []ArchivedRow
	for rows.Next() {
		var r ArchivedRow
		if err := rows.Scan(&r.MessageID, &r.TopicID, &r.ThreadID, &r.Role, &r.Content); err != nil {
			return nil, fmt.Errorf("failed to scan archived message: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// Dialect-specific query builders
// =============================================================================

func (s *SQLStore) upsertSessionStateQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO session_states (user_id, session_id, state_json, updated_at)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (user_id, session_id) DO UPDATE SET state_json = $3, updated_at = $4`
	case "mysql":
		return `INSERT INTO session_states (user_id, session_id, state_json, updated_at)
                VALUES (?, ?, ?, ?)
                ON DUPLICATE KEY UPDATE state_json = VALUES(state_json), updated_at = VALUES(updated_at)`
	default: // sqlite
		return `INSERT INTO session_states (user_id, session_id, state_json, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT (user_id, session_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
	}
}

func (s *SQLStore) upsertArchivedQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO archived_messages (user_id, session_id, message_id, topic_id, thread_id, role, content, sequence_num)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
                ON CONFLICT (user_id, session_id, message_id) DO UPDATE SET topic_id = $4, thread_id = $5, role = $6, content = $7`
	case "mysql":
		return `INSERT INTO archived_messages (user_id, session_id, message_id, topic_id, thread_id, role, content, sequence_num)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                ON DUPLICATE KEY UPDATE topic_id = VALUES(topic_id), thread_id = VALUES(thread_id), role = VALUES(role), content = VALUES(content)`
	default: // sqlite
		return `INSERT INTO archived_messages (user_id, session_id, message_id, topic_id, thread_id, role, content, sequence_num)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                ON CONFLICT (user_id, session_id, message_id) DO UPDATE SET topic_id = excluded.topic_id, thread_id = excluded.thread_id, role = excluded.role, content = excluded.content`
	}
}

// rebind converts ? placeholders to $1, $2, ... for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 20)
	paramNum := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", paramNum)
			paramNum++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// Compile-time interface check
var _ Store = (*SQLStore)(nil)
