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
	"fmt"
	"strings"

	"github.com/fableforge/mnemo/pkg/utils"
)

// Insert section titles, in fixed order.
const (
	sectionTopics  = "Current Session Topics"
	sectionSummary = "Retrieved Memory Summary"
	sectionRaw     = "Retrieved Raw Messages"
)

// section is one heterogeneous insert block entry.
type section struct {
	title   string
	content string
}

// ContextAssembler packs memory sections into system messages under a hard
// token budget.
type ContextAssembler struct {
	tokens *utils.TokenCounter
}

// NewContextAssembler creates an assembler using the shared token counter.
func NewContextAssembler(tokens *utils.TokenCounter) *ContextAssembler {
	return &ContextAssembler{tokens: tokens}
}

// BuildInsertMessages renders the three sections into system messages whose
// total token count never exceeds budgetTokens. Empty sections are skipped.
func (a *ContextAssembler) BuildInsertMessages(topicSummaries, memorySummary string, rawMessages []RetrievedMessage, budgetTokens int) []ChatMessage {
	sections := []section{
		{title: sectionTopics, content: topicSummaries},
		{title: sectionSummary, content: memorySummary},
		{title: sectionRaw, content: formatRawMessages(rawMessages)},
	}
	return a.pack(sections, budgetTokens)
}

// pack emits full sections while they fit; the first section that does not
// fit is truncated into the remaining budget and packing stops.
func (a *ContextAssembler) pack(sections []section, budgetTokens int) []ChatMessage {
	var out []ChatMessage
	used := 0
	for _, s := range sections {
		if s.content == "" {
			continue
		}
		header := "## " + s.title + "\n"
		text := header + s.content
		tokens := a.tokens.Count(text)
		if used+tokens > budgetTokens {
			available := budgetTokens - used - a.tokens.Count(header)
			if available <= 0 {
				break
			}
			truncated := a.tokens.TruncateToTokens(s.content, available)
			if truncated != "" {
				out = append(out, ChatMessage{Role: RoleSystem, Content: header + truncated})
			}
			break
		}
		out = append(out, ChatMessage{Role: RoleSystem, Content: text})
		used += tokens
	}
	return out
}

// TrimInsertMessages applies the packing rule to pre-built messages on the
// snapshot path. Messages are kept whole while they fit; the first one that
// does not is truncated into the remaining budget.
func (a *ContextAssembler) TrimInsertMessages(msgs []ChatMessage, budgetTokens int) []ChatMessage {
	var out []ChatMessage
	used := 0
	for _, m := range msgs {
		tokens := a.tokens.Count(m.Content)
		if used+tokens > budgetTokens {
			available := budgetTokens - used
			if available <= 0 {
				break
			}
			truncated := a.tokens.TruncateToTokens(m.Content, available)
			if truncated != "" {
				out = append(out, ChatMessage{Role: m.Role, Content: truncated})
			}
			break
		}
		out = append(out, m)
		used += tokens
	}
	return out
}

// formatRawMessages renders retrieved raw messages one per line.
func formatRawMessages(msgs []RetrievedMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}
