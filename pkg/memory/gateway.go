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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fableforge/mnemo/pkg/config"
	"github.com/fableforge/mnemo/pkg/observability"
	"github.com/fableforge/mnemo/pkg/persistence"
	"github.com/fableforge/mnemo/pkg/utils"
)

// Options override the configured budgets for a single call. Zero values
// mean "use configuration".
type Options struct {
	WindowTokens       int
	InsertBudgetTokens int
}

// Gateway is the public entry point of the orchestrator. It owns the
// context store and coordinates routing, retrieval, assembly, and archival.
// All operations are safe for concurrent use; work on one session is
// serialized by the session mutex for the critical sections only.
type Gateway struct {
	cfgMu sync.RWMutex
	cfg   config.MemoryConfig

	store       *ContextStore
	persistence persistence.Store
	router      *MemoryRouter
	retriever   *MemoryRetriever
	assembler   *ContextAssembler
	scheduler   *ArchiveScheduler
	tokens      *utils.TokenCounter
}

// NewGateway wires the orchestrator components over the given adapters.
func NewGateway(cfg config.MemoryConfig, store *ContextStore, p persistence.Store, router *MemoryRouter, retriever *MemoryRetriever, assembler *ContextAssembler, scheduler *ArchiveScheduler, tokens *utils.TokenCounter) *Gateway {
	return &Gateway{
		cfg:         cfg,
		store:       store,
		persistence: p,
		router:      router,
		retriever:   retriever,
		assembler:   assembler,
		scheduler:   scheduler,
		tokens:      tokens,
	}
}

// Reconfigure swaps the memory budgets. Live streams pick up a changed
// window budget on their next access.
func (g *Gateway) Reconfigure(cfg config.MemoryConfig) {
	g.cfgMu.Lock()
	g.cfg = cfg
	g.cfgMu.Unlock()
}

func (g *Gateway) budgets(opts Options) (windowTokens, insertBudget int) {
	g.cfgMu.RLock()
	cfg := g.cfg
	g.cfgMu.RUnlock()
	windowTokens = cfg.WindowTokens
	if opts.WindowTokens > 0 {
		windowTokens = opts.WindowTokens
	}
	insertBudget = cfg.InsertBudgetTokens
	if opts.InsertBudgetTokens > 0 {
		insertBudget = opts.InsertBudgetTokens
	}
	return windowTokens, insertBudget
}

// SessionSnapshot reproduces the last assembled context without re-running
// retrieval. Fully offline once the session is hydrated.
func (g *Gateway) SessionSnapshot(ctx context.Context, user, session string, opts Options) (*Snapshot, error) {
	start := time.Now()
	defer func() {
		observability.OperationDuration.WithLabelValues("snapshot").Observe(time.Since(start).Seconds())
	}()

	windowTokens, insertBudget := g.budgets(opts)

	lock := g.store.SessionLock(session)
	lock.Lock()
	stream, err := g.store.GetStream(ctx, user, session, windowTokens)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	inserts, err := g.store.GetInsertMessages(ctx, user, session)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	window := stream.GetActiveWindow()
	lock.Unlock()

	topicSummaries, err := g.buildTopicSummaries(ctx, user, session)
	if err != nil {
		return nil, err
	}

	trimmed := g.assembler.TrimInsertMessages(inserts, insertBudget)
	insertTokens := 0
	for _, m := range trimmed {
		insertTokens += g.tokens.Count(m.Content)
	}

	assembled := make([]ChatMessage, 0, 1+len(trimmed)+len(window))
	assembled = append(assembled, ChatMessage{Role: RoleSystem, Content: SystemPrompt})
	assembled = append(assembled, trimmed...)
	windowMessages := make([]WindowMessage, 0, len(window))
	for _, m := range window {
		assembled = append(assembled, ChatMessage{Role: m.Role, Content: m.Content})
		windowMessages = append(windowMessages, WindowMessage{
			MessageID: m.MessageID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}

	return &Snapshot{
		SessionID: session,
		Context: ContextBlock{
			SystemMessage:                ChatMessage{Role: RoleSystem, Content: SystemPrompt},
			CurrentWindowMessages:        windowMessages,
			CurrentSessionTopicSummaries: topicSummaries,
			RetrievedMemorySummary:       "",
			RetrievedRawMessages:         []RetrievedMessage{},
			OtherSessionsTopicSummaries:  TodoStub{Status: "todo", Data: []any{}},
		},
		InsertMessages:    trimmed,
		AssembledMessages: assembled,
		Trace: map[string]any{
			"windowTokens":       windowTokens,
			"insertBudgetTokens": insertBudget,
			"insertTokens":       insertTokens,
			"windowMessageCount": len(window),
		},
	}, nil
}

// MemoryRequest runs routing, retrieval, and assembly for a need, persists
// the resulting insert block, and schedules archival. No LLM or embedding
// call happens under the session mutex.
func (g *Gateway) MemoryRequest(ctx context.Context, user, session, need, userMessage string, opts Options) (*Snapshot, error) {
	start := time.Now()
	defer func() {
		observability.OperationDuration.WithLabelValues("request").Observe(time.Since(start).Seconds())
	}()

	windowTokens, insertBudget := g.budgets(opts)

	route := g.router.Route(ctx, need)
	retrieval, err := g.retriever.Retrieve(ctx, user, session, route)
	if err != nil {
		return nil, err
	}

	topicSummaries, err := g.buildTopicSummaries(ctx, user, session)
	if err != nil {
		return nil, err
	}

	inserts := g.assembler.BuildInsertMessages(topicSummaries, retrieval.Summary, retrieval.RawMessages, insertBudget)

	lock := g.store.SessionLock(session)
	lock.Lock()
	if err := g.store.SetInsertMessages(ctx, user, session, inserts); err != nil {
		lock.Unlock()
		return nil, err
	}
	stream, err := g.store.GetStream(ctx, user, session, windowTokens)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	window := stream.GetActiveWindow()
	lock.Unlock()

	g.scheduler.Schedule(user, session, stream)

	assembled := make([]ChatMessage, 0, 2+len(inserts)+len(window))
	assembled = append(assembled, ChatMessage{Role: RoleSystem, Content: SystemPrompt})
	assembled = append(assembled, inserts...)
	for _, m := range window {
		assembled = append(assembled, ChatMessage{Role: m.Role, Content: m.Content})
	}
	var userMsg *ChatMessage
	if userMessage != "" {
		userMsg = &ChatMessage{Role: RoleUser, Content: userMessage}
		assembled = append(assembled, *userMsg)
	}

	return &Snapshot{
		SessionID: session,
		Context: ContextBlock{
			SystemMessage:                ChatMessage{Role: RoleSystem, Content: SystemPrompt},
			UserMessage:                  userMsg,
			CurrentSessionTopicSummaries: topicSummaries,
			RetrievedMemorySummary:       retrieval.Summary,
			RetrievedRawMessages:         retrieval.RawMessages,
			OtherSessionsTopicSummaries:  TodoStub{Status: "todo", Data: []any{}},
		},
		InsertMessages:    inserts,
		AssembledMessages: assembled,
		Trace: map[string]any{
			"route":              route,
			"matchedThreads":     retrieval.MatchedThreads,
			"threadScores":       retrieval.ThreadScores,
			"windowTokens":       windowTokens,
			"insertBudgetTokens": insertBudget,
		},
	}, nil
}

// MemoryCommit appends messages to the stream and persistence, then
// schedules archival. The loop holds the session mutex so concurrent
// commits on one session stay totally ordered; callers must not ship
// unbounded batches.
func (g *Gateway) MemoryCommit(ctx context.Context, user, session string, messages []IncomingMessage, opts Options) (*CommitReport, error) {
	start := time.Now()
	defer func() {
		observability.OperationDuration.WithLabelValues("commit").Observe(time.Since(start).Seconds())
	}()

	windowTokens, _ := g.budgets(opts)

	lock := g.store.SessionLock(session)
	lock.Lock()
	stream, err := g.store.GetStream(ctx, user, session, windowTokens)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	stored := []string{}
	for _, in := range messages {
		if strings.TrimSpace(in.Role) == "" || strings.TrimSpace(in.Content) == "" {
			continue
		}
		id := in.MessageID
		if id == "" {
			id = uuid.NewString()
		}
		if stream.Contains(id) {
			continue
		}
		existing, err := g.persistence.GetMessageByID(ctx, user, session, id)
		if err != nil {
			existing, err = g.persistence.GetMessageByID(ctx, user, session, id)
			if err != nil {
				lock.Unlock()
				return nil, fmt.Errorf("check message %s: %w", id, err)
			}
		}
		if existing != nil {
			continue
		}

		msg := NewAPIMessage(g.tokens, id, in.Role, in.Content, time.Now().UTC())
		if err := stream.Append(msg); err != nil {
			continue
		}
		row := persistence.PersistedMessage{
			MessageID:  msg.MessageID,
			Role:       msg.Role,
			Content:    msg.Content,
			TokenCount: msg.TokenCount,
			CreatedAt:  msg.Timestamp,
		}
		if err := g.persistence.AddMessage(ctx, user, session, row); err != nil {
			if err = g.persistence.AddMessage(ctx, user, session, row); err != nil {
				lock.Unlock()
				return nil, fmt.Errorf("persist message %s: %w", id, err)
			}
		}
		stored = append(stored, id)
		observability.StoredMessages.Inc()
	}

	if err := g.persistence.UpdateSessionTimestamp(ctx, user, session); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("touch session: %w", err)
	}
	stats := stream.GetStats()
	lock.Unlock()

	g.scheduler.Schedule(user, session, stream)

	return &CommitReport{
		SessionID:        session,
		StoredMessageIDs: stored,
		StreamStats:      stats,
	}, nil
}

// buildTopicSummaries renders the topic and thread tree as markdown lines.
func (g *Gateway) buildTopicSummaries(ctx context.Context, user, session string) (string, error) {
	topics, err := g.persistence.GetAllTopics(ctx, user, session)
	if err != nil {
		topics, err = g.persistence.GetAllTopics(ctx, user, session)
		if err != nil {
			return "", fmt.Errorf("load topics: %w", err)
		}
	}

	var sb strings.Builder
	for _, t := range topics {
		threads, err := g.persistence.GetTopicThreads(ctx, user, session, t.TopicID)
		if err != nil {
			return "", fmt.Errorf("load threads for %s: %w", t.TopicID, err)
		}
		fmt.Fprintf(&sb, "### %s\n", t.Title)
		for _, th := range threads {
			if th.Summary != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", th.Title, th.Summary)
			} else {
				fmt.Fprintf(&sb, "- %s\n", th.Title)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// Shutdown waits for in-flight archive runs to finish.
func (g *Gateway) Shutdown() {
	g.scheduler.Wait()
}
