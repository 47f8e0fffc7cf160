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
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fableforge/mnemo/pkg/embedders"
	"github.com/fableforge/mnemo/pkg/llms"
	"github.com/fableforge/mnemo/pkg/observability"
	"github.com/fableforge/mnemo/pkg/persistence"
)

// lexicalWeight blends keyword hits into the cosine score.
const lexicalWeight = 0.1

// scoringConcurrency bounds parallel candidate scoring.
const scoringConcurrency = 4

// MemoryRetriever ranks threads by a hybrid embedding+lexical score,
// summarizes the selection, and gathers raw archived messages.
type MemoryRetriever struct {
	store    persistence.Store
	embedder embedders.Embedder
	llm      llms.Provider
}

// NewMemoryRetriever creates a retriever over the given adapters.
func NewMemoryRetriever(store persistence.Store, embedder embedders.Embedder, llm llms.Provider) *MemoryRetriever {
	return &MemoryRetriever{store: store, embedder: embedder, llm: llm}
}

// candidate is a (topic, thread) pair under scoring. The index preserves
// insertion order for deterministic tie-breaks.
type candidate struct {
	index   int
	topic   persistence.TopicRow
	thread  persistence.ThreadRow
	insight *persistence.InsightRow
	score   float64
}

// Retrieve runs the full retrieval pass. Only persistence errors propagate;
// embedding and LLM failures degrade the scores and summary.
func (r *MemoryRetriever) Retrieve(ctx context.Context, user, session string, route Route) (*Retrieval, error) {
	observability.Retrievals.Inc()

	result := &Retrieval{
		MatchedThreads: []string{},
		ThreadScores:   map[string]float64{},
		Summary:        NoMatchSummary,
		RawMessages:    []RetrievedMessage{},
	}

	candidates, err := r.loadCandidates(ctx, user, session)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 || route.MaxThreads <= 0 {
		return result, nil
	}

	query := r.embedQuery(ctx, route.Keywords)
	r.scoreCandidates(ctx, user, session, candidates, query, route.Keywords)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].index < candidates[j].index
	})

	selected := candidates
	if len(selected) > route.MaxThreads {
		selected = selected[:route.MaxThreads]
	}

	for _, c := range selected {
		result.MatchedThreads = append(result.MatchedThreads, c.thread.ThreadID)
		result.ThreadScores[c.thread.ThreadID] = c.score
		result.Threads = append(result.Threads, ThreadMatch{
			TopicID:     c.topic.TopicID,
			ThreadID:    c.thread.ThreadID,
			TopicTitle:  c.topic.Title,
			ThreadTitle: c.thread.Title,
			Score:       c.score,
		})
	}

	if route.IncludeRaw {
		raw, err := r.gatherRaw(ctx, user, session, selected, route.MaxRawMessages)
		if err != nil {
			return nil, err
		}
		result.RawMessages = raw
	}

	result.Summary = r.summarize(ctx, selected, route.Keywords)
	return result, nil
}

// loadCandidates walks topics then threads in persistence order and attaches
// each thread's latest insight.
func (r *MemoryRetriever) loadCandidates(ctx context.Context, user, session string) ([]*candidate, error) {
	topics, err := r.store.GetAllTopics(ctx, user, session)
	if err != nil {
		topics, err = r.store.GetAllTopics(ctx, user, session)
		if err != nil {
			return nil, fmt.Errorf("load topics: %w", err)
		}
	}

	var out []*candidate
	for _, topic := range topics {
		threads, err := r.store.GetTopicThreads(ctx, user, session, topic.TopicID)
		if err != nil {
			threads, err = r.store.GetTopicThreads(ctx, user, session, topic.TopicID)
			if err != nil {
				return nil, fmt.Errorf("load threads for %s: %w", topic.TopicID, err)
			}
		}
		for _, thread := range threads {
			insight, err := r.store.GetLatestInsight(ctx, user, session, topic.TopicID, thread.ThreadID)
			if err != nil {
				slog.Warn("loading latest insight failed", "thread", thread.ThreadID, "error", err)
				insight = nil
			}
			out = append(out, &candidate{
				index:   len(out),
				topic:   topic,
				thread:  thread,
				insight: insight,
			})
		}
	}
	return out, nil
}

// embedQuery embeds the joined keywords. Failures and empty keyword sets
// yield nil, dropping scoring to lexical-only.
func (r *MemoryRetriever) embedQuery(ctx context.Context, keywords []string) []float32 {
	joined := strings.Join(keywords, " ")
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	vec, err := r.embedder.EmbedText(ctx, joined)
	if err != nil {
		slog.Warn("query embedding failed, falling back to lexical scoring", "error", err)
		return nil
	}
	return vec
}

// scoreCandidates fills in each candidate's blended score. Insights missing
// an embedding get one computed and written back best-effort. Scoring is
// bounded-concurrent; candidate order is untouched.
func (r *MemoryRetriever) scoreCandidates(ctx context.Context, user, session string, candidates []*candidate, query []float32, keywords []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoringConcurrency)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			c.score = r.scoreOne(gctx, user, session, c, query, keywords)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *MemoryRetriever) scoreOne(ctx context.Context, user, session string, c *candidate, query []float32, keywords []string) float64 {
	insightContent := ""
	var insightVec []float32
	if c.insight != nil {
		insightContent = c.insight.Content
		insightVec = c.insight.Embedding
	}

	// Lazy embedding: compute only for candidates about to be scored and
	// write back so the next pass skips the call.
	if query != nil && insightContent != "" && len(insightVec) == 0 {
		vec, err := r.embedder.EmbedText(ctx, insightContent)
		if err != nil {
			slog.Warn("insight embedding failed", "thread", c.thread.ThreadID, "error", err)
		} else {
			insightVec = vec
			if err := r.store.UpdateInsightEmbedding(ctx, user, session, c.topic.TopicID, c.thread.ThreadID, c.insight.InsightID, vec); err != nil {
				slog.Warn("embedding write-back failed", "thread", c.thread.ThreadID, "error", err)
			}
		}
	}

	haystack := strings.ToLower(c.thread.Title + " " + c.thread.Summary + " " + insightContent)
	matched := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			matched++
		}
	}
	lexical := float64(matched) / float64(max(len(keywords), 1))

	if query != nil && len(insightVec) > 0 {
		sim, err := embedders.Cosine(query, insightVec)
		if err != nil {
			sim = 0
		}
		return sim + lexicalWeight*lexical
	}
	return lexical
}

// gatherRaw collects archived messages of the selected threads in
// persistence order, up to the cap.
func (r *MemoryRetriever) gatherRaw(ctx context.Context, user, session string, selected []*candidate, maxMessages int) ([]RetrievedMessage, error) {
	out := []RetrievedMessage{}
	for _, c := range selected {
		if len(out) >= maxMessages {
			break
		}
		rows, err := r.store.GetArchivedMessagesByThread(ctx, user, session, c.thread.ThreadID)
		if err != nil {
			rows, err = r.store.GetArchivedMessagesByThread(ctx, user, session, c.thread.ThreadID)
			if err != nil {
				return nil, fmt.Errorf("load archived messages for %s: %w", c.thread.ThreadID, err)
			}
		}
		for _, row := range rows {
			if len(out) >= maxMessages {
				break
			}
			out = append(out, RetrievedMessage{
				MessageID: row.MessageID,
				Role:      row.Role,
				Content:   row.Content,
				TopicID:   row.TopicID,
				ThreadID:  row.ThreadID,
			})
		}
	}
	return out, nil
}

// summarize condenses the selected threads, keyed by the route keywords. On
// LLM failure the concatenation itself is the summary.
func (r *MemoryRetriever) summarize(ctx context.Context, selected []*candidate, keywords []string) string {
	if len(selected) == 0 {
		return NoMatchSummary
	}

	var sb strings.Builder
	for _, c := range selected {
		insightContent := ""
		if c.insight != nil {
			insightContent = c.insight.Content
		}
		fmt.Fprintf(&sb, "Topic: %s | Thread: %s | Summary: %s | Insight: %s\n",
			c.topic.Title, c.thread.Title, c.thread.Summary, insightContent)
	}
	concatenated := sb.String()

	prompt := fmt.Sprintf(`Summarize the following memory entries for a request about %s. Keep only what is relevant. Answer with the summary only.

%s`, strings.Join(keywords, ", "), concatenated)

	text, err := r.llm.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			slog.Warn("retrieval summary failed, returning concatenation", "error", err)
		}
		return concatenated
	}
	return strings.TrimSpace(text)
}
