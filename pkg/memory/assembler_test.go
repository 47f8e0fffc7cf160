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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertTokens(t *testing.T, a *ContextAssembler, msgs []ChatMessage) int {
	t.Helper()
	total := 0
	for _, m := range msgs {
		total += a.tokens.Count(m.Content)
	}
	return total
}

func TestAssemblerAllSectionsFit(t *testing.T) {
	a := NewContextAssembler(testTokenCounter(t))

	raw := []RetrievedMessage{
		{MessageID: "m1", Role: RoleUser, Content: "where is the lair"},
		{MessageID: "m2", Role: RoleAssistant, Content: "north of the river"},
	}
	msgs := a.BuildInsertMessages("### Dragons\n- Lore: ancient", "The dragon sleeps.", raw, 4000)

	require.Len(t, msgs, 3)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "## Current Session Topics\n"))
	assert.True(t, strings.HasPrefix(msgs[1].Content, "## Retrieved Memory Summary\n"))
	assert.True(t, strings.HasPrefix(msgs[2].Content, "## Retrieved Raw Messages\n"))
	assert.Contains(t, msgs[2].Content, "[user] where is the lair")
	for _, m := range msgs {
		assert.Equal(t, RoleSystem, m.Role)
	}
}

func TestAssemblerSkipsEmptySections(t *testing.T) {
	a := NewContextAssembler(testTokenCounter(t))

	msgs := a.BuildInsertMessages("", "Only a summary.", nil, 4000)
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "## Retrieved Memory Summary\n"))
}

func TestAssemblerTruncatesOversizedFirstSection(t *testing.T) {
	a := NewContextAssembler(testTokenCounter(t))

	topics := strings.Repeat("The party explored the ruined temple and found a sealed door. ", 200)
	budget := 50
	msgs := a.BuildInsertMessages(topics, "summary text", nil, budget)

	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "## Current Session Topics\n"))
	assert.True(t, strings.HasSuffix(msgs[0].Content, "…"))
	assert.LessOrEqual(t, insertTokens(t, a, msgs), budget)
}

func TestAssemblerBudgetNeverExceeded(t *testing.T) {
	a := NewContextAssembler(testTokenCounter(t))

	raw := []RetrievedMessage{}
	for i := 0; i < 30; i++ {
		raw = append(raw, RetrievedMessage{Role: RoleUser, Content: strings.Repeat("words and more words ", 10)})
	}
	for _, budget := range []int{10, 50, 100, 500, 4000} {
		msgs := a.BuildInsertMessages(
			strings.Repeat("topic line one two three. ", 40),
			strings.Repeat("summary line alpha beta. ", 40),
			raw, budget)
		assert.LessOrEqual(t, insertTokens(t, a, msgs), budget, "budget %d", budget)
	}
}

func TestAssemblerZeroBudget(t *testing.T) {
	a := NewContextAssembler(testTokenCounter(t))
	msgs := a.BuildInsertMessages("topics", "summary", nil, 0)
	assert.Empty(t, msgs)
}

func TestTrimInsertMessagesKeepsWhole(t *testing.T) {
	a := NewContextAssembler(testTokenCounter(t))
	in := []ChatMessage{
		{Role: RoleSystem, Content: "## Current Session Topics\nshort"},
		{Role: RoleSystem, Content: "## Retrieved Memory Summary\nalso short"},
	}
	out := a.TrimInsertMessages(in, 4000)
	assert.Equal(t, in, out)
}

func TestTrimInsertMessagesTruncatesAtBoundary(t *testing.T) {
	a := NewContextAssembler(testTokenCounter(t))
	in := []ChatMessage{
		{Role: RoleSystem, Content: "## Current Session Topics\nshort"},
		{Role: RoleSystem, Content: "## Retrieved Memory Summary\n" + strings.Repeat("long content here. ", 100)},
		{Role: RoleSystem, Content: "## Retrieved Raw Messages\nnever reached"},
	}
	budget := 40
	out := a.TrimInsertMessages(in, budget)

	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0])
	assert.True(t, strings.HasSuffix(out[1].Content, "…"))
	assert.LessOrEqual(t, insertTokens(t, a, out), budget)
}

func TestFormatRawMessages(t *testing.T) {
	out := formatRawMessages([]RetrievedMessage{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	})
	assert.Equal(t, "[user] hello\n[assistant] hi", out)
}
