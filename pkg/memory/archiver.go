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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fableforge/mnemo/pkg/llms"
	"github.com/fableforge/mnemo/pkg/persistence"
)

// classifyContentCap bounds per-message content inside classification
// prompts. Storage and insight extraction see the full content.
const classifyContentCap = 500

// insightFallbackCap bounds the trivial insight used when extraction fails.
const insightFallbackCap = 200

// threadSummaryCap is the requested length of refreshed thread summaries.
const threadSummaryCap = 100

// TruncateArchiver distills a stream's overflow into the Topic, Thread,
// Insight hierarchy. One run classifies the whole unarchived overflow batch
// into a single thread and appends one insight version.
type TruncateArchiver struct {
	store persistence.Store
	llm   llms.Provider
}

// NewTruncateArchiver creates an archiver over the given adapters.
func NewTruncateArchiver(store persistence.Store, llm llms.Provider) *TruncateArchiver {
	return &TruncateArchiver{store: store, llm: llm}
}

// classification is the archiver's expectation of the LLM response.
type classification struct {
	TopicID     string
	TopicTitle  string
	ThreadID    string
	ThreadTitle string
	IsNewTopic  bool
	IsNewThread bool
}

// fallbackClassification is applied on any LLM error or schema mismatch.
func fallbackClassification() classification {
	return classification{
		TopicTitle:  "Unclassified",
		ThreadTitle: "General",
		IsNewTopic:  true,
		IsNewThread: true,
	}
}

// Process archives the stream's unarchived overflow. Returns nil when there
// is nothing to do. No session mutex is held during any of this; the stream
// guards itself.
func (a *TruncateArchiver) Process(ctx context.Context, stream *MessageStream, user, session string) error {
	batch := stream.GetUnarchivedOverflow()
	if len(batch) == 0 {
		return nil
	}

	// Drop messages persistence already knows as archived. Guards against
	// a crash between persisting the archive and marking the in-memory set.
	pending := batch[:0:0]
	for _, m := range batch {
		archived, err := a.store.IsMessageArchived(ctx, user, session, m.MessageID)
		if err != nil {
			archived, err = a.store.IsMessageArchived(ctx, user, session, m.MessageID)
		}
		if err != nil {
			return fmt.Errorf("check archived flag: %w", err)
		}
		if !archived {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	cls, err := a.classify(ctx, user, session, pending)
	if err != nil {
		return err
	}

	if cls.IsNewTopic {
		if err := a.store.CreateTopic(ctx, user, session, cls.TopicID, cls.TopicTitle); err != nil {
			return fmt.Errorf("create topic %s: %w", cls.TopicID, err)
		}
	}
	if cls.IsNewThread {
		if err := a.store.CreateThread(ctx, user, session, cls.TopicID, cls.ThreadID, cls.ThreadTitle); err != nil {
			return fmt.Errorf("create thread %s: %w", cls.ThreadID, err)
		}
	}

	if err := a.createInsightVersion(ctx, user, session, cls, pending); err != nil {
		return err
	}

	ids := make([]string, 0, len(pending))
	for _, m := range pending {
		row := persistence.ArchivedRow{
			MessageID: m.MessageID,
			TopicID:   cls.TopicID,
			ThreadID:  cls.ThreadID,
			Role:      m.Role,
			Content:   m.Content,
		}
		if err := a.store.SaveArchivedMessage(ctx, user, session, row); err != nil {
			return fmt.Errorf("index archived message %s: %w", m.MessageID, err)
		}
		ids = append(ids, m.MessageID)
	}

	if err := a.store.MarkMessagesArchived(ctx, user, session, ids, cls.TopicID, cls.ThreadID); err != nil {
		return fmt.Errorf("mark messages archived: %w", err)
	}
	stream.MarkArchived(ids)

	// Thread summary refresh is best-effort; the archive already holds.
	if err := a.refreshThreadSummary(ctx, user, session, cls.TopicID, cls.ThreadID); err != nil {
		slog.Warn("thread summary refresh failed",
			"session", session, "thread", cls.ThreadID, "error", err)
	}

	slog.Info("archived overflow batch",
		"session", session,
		"messages", len(ids),
		"topic", cls.TopicID,
		"thread", cls.ThreadID)
	return nil
}

// classify asks the LLM to place the batch into the existing topic/thread
// tree, or to open a new topic or thread. Any failure yields the
// Unclassified/General fallback.
func (a *TruncateArchiver) classify(ctx context.Context, user, session string, batch []APIMessage) (classification, error) {
	topics, err := a.store.GetAllTopics(ctx, user, session)
	if err != nil {
		topics, err = a.store.GetAllTopics(ctx, user, session)
		if err != nil {
			return classification{}, fmt.Errorf("load topics: %w", err)
		}
	}

	var tree strings.Builder
	for _, t := range topics {
		fmt.Fprintf(&tree, "- topic %s: %s\n", t.TopicID, t.Title)
		threads, err := a.store.GetTopicThreads(ctx, user, session, t.TopicID)
		if err != nil {
			slog.Warn("loading threads for classification failed", "topic", t.TopicID, "error", err)
			continue
		}
		for _, th := range threads {
			fmt.Fprintf(&tree, "  - thread %s: %s\n", th.ThreadID, th.Title)
		}
	}
	if tree.Len() == 0 {
		tree.WriteString("(none)\n")
	}

	var convo strings.Builder
	for _, m := range batch {
		fmt.Fprintf(&convo, "[%s] %s\n", m.Role, capRunes(m.Content, classifyContentCap))
	}

	prompt := fmt.Sprintf(`Classify the following conversation excerpt into the memory hierarchy.

Known topics and threads:
%s
Conversation:
%s
Respond with a JSON object:
{"topicID": string|null, "topicTitle": string, "threadID": string|null, "threadTitle": string, "isNewTopic": bool, "isNewThread": bool}

Reuse an existing topicID/threadID when the conversation continues it; otherwise set the ID to null and provide a title.`, tree.String(), convo.String())

	cls := fallbackClassification()
	obj, err := a.llm.ClassifyForArchive(ctx, prompt)
	if err != nil || obj == nil {
		if err != nil {
			slog.Warn("classification call failed, using fallback", "session", session, "error", err)
		}
	} else if parsed, ok := parseClassification(obj); ok {
		cls = parsed
	}

	if cls.TopicID == "" {
		cls.TopicID = "topic_" + uuid.NewString()[:8]
		cls.IsNewTopic = true
	}
	if cls.ThreadID == "" {
		cls.ThreadID = "thread_" + uuid.NewString()[:8]
		cls.IsNewThread = true
	}
	return cls, nil
}

// parseClassification validates the LLM response shape. Titles are required
// for new topics and threads.
func parseClassification(obj map[string]any) (classification, bool) {
	cls := classification{}
	cls.TopicID, _ = obj["topicID"].(string)
	cls.TopicTitle, _ = obj["topicTitle"].(string)
	cls.ThreadID, _ = obj["threadID"].(string)
	cls.ThreadTitle, _ = obj["threadTitle"].(string)
	cls.IsNewTopic, _ = obj["isNewTopic"].(bool)
	cls.IsNewThread, _ = obj["isNewThread"].(bool)

	if cls.TopicID == "" && cls.TopicTitle == "" {
		return classification{}, false
	}
	if cls.ThreadID == "" && cls.ThreadTitle == "" {
		return classification{}, false
	}
	return cls, true
}

// createInsightVersion appends the next insight version for the thread.
// Extraction and evolution-note failures fall back; only persistence errors
// propagate.
func (a *TruncateArchiver) createInsightVersion(ctx context.Context, user, session string, cls classification, batch []APIMessage) error {
	existing, err := a.store.GetThreadInsights(ctx, user, session, cls.TopicID, cls.ThreadID)
	if err != nil {
		existing, err = a.store.GetThreadInsights(ctx, user, session, cls.TopicID, cls.ThreadID)
		if err != nil {
			return fmt.Errorf("load thread insights: %w", err)
		}
	}
	version := len(existing) + 1

	content := a.extractInsight(ctx, batch)

	note := "initial"
	if version > 1 {
		prev := existing[len(existing)-1]
		note = a.evolutionNote(ctx, prev.Content, content)
	}

	ids := make([]string, 0, len(batch))
	for _, m := range batch {
		ids = append(ids, m.MessageID)
	}
	insight := persistence.InsightRow{
		InsightID:        "insight_" + uuid.NewString()[:8],
		ThreadID:         cls.ThreadID,
		TopicID:          cls.TopicID,
		Version:          version,
		Content:          content,
		SourceMessageIDs: ids,
		EvolutionNote:    note,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.store.CreateInsight(ctx, user, session, insight); err != nil {
		return fmt.Errorf("create insight v%d: %w", version, err)
	}
	return nil
}

// extractInsight distills the batch into a durable understanding. The full
// content is passed here, uncapped. On LLM failure the first user message
// serves as a trivial summary.
func (a *TruncateArchiver) extractInsight(ctx context.Context, batch []APIMessage) string {
	var convo strings.Builder
	for _, m := range batch {
		fmt.Fprintf(&convo, "[%s] %s\n", m.Role, m.Content)
	}
	prompt := fmt.Sprintf(`Distill the essential, durable information from this conversation excerpt into a short paragraph. Capture decisions, facts, and open points worth remembering later. Do not narrate the exchange.

Conversation:
%s`, convo.String())

	text, err := a.llm.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	if err != nil {
		slog.Warn("insight extraction failed, using trivial summary", "error", err)
	}

	for _, m := range batch {
		if m.Role == RoleUser && m.Content != "" {
			return "User discussed: " + capRunes(m.Content, insightFallbackCap)
		}
	}
	if len(batch) > 0 {
		return "User discussed: " + capRunes(batch[0].Content, insightFallbackCap)
	}
	return "User discussed: (empty batch)"
}

// evolutionNote explains the change from the previous insight version.
func (a *TruncateArchiver) evolutionNote(ctx context.Context, prev, next string) string {
	prompt := fmt.Sprintf(`Previous understanding:
%s

New understanding:
%s

In one sentence, state what changed between the two. Answer with the sentence only.`, prev, next)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			slog.Warn("evolution note generation failed, using fallback", "error", err)
		}
		return "updated with newly archived messages"
	}
	return strings.TrimSpace(text)
}

// refreshThreadSummary recomputes the thread's one-line summary from all
// insight versions.
func (a *TruncateArchiver) refreshThreadSummary(ctx context.Context, user, session, topicID, threadID string) error {
	insights, err := a.store.GetThreadInsights(ctx, user, session, topicID, threadID)
	if err != nil {
		return fmt.Errorf("load insights for summary: %w", err)
	}
	if len(insights) == 0 {
		return nil
	}

	var history strings.Builder
	for _, ins := range insights {
		fmt.Fprintf(&history, "v%d: %s\n", ins.Version, ins.Content)
	}
	prompt := fmt.Sprintf(`Summarize this thread in at most %d characters. Answer with the summary only.

%s`, threadSummaryCap, history.String())

	summary, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("summarize thread: %w", err)
	}
	summary = capRunes(strings.TrimSpace(summary), threadSummaryCap)
	if err := a.store.UpdateThreadSummary(ctx, user, session, topicID, threadID, summary); err != nil {
		return fmt.Errorf("store thread summary: %w", err)
	}
	return nil
}

// capRunes truncates s to at most n runes.
func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
