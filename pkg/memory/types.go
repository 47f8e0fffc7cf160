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

import "time"

// SystemPrompt is the fixed system message placed at the head of every
// assembled prompt.
const SystemPrompt = "You are the main assistant. Use memory sections as supplemental context. If memory conflicts with recent messages, prioritize the recent messages."

// ChatMessage is a role+content pair as sent to an LLM endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IncomingMessage is a message submitted through Commit. The message ID is
// optional; one is generated when absent.
type IncomingMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	MessageID string `json:"messageID,omitempty"`
}

// Route is a retrieval plan derived from a natural-language need.
type Route struct {
	Keywords       []string `json:"keywords"`
	IncludeRaw     bool     `json:"includeRaw"`
	MaxThreads     int      `json:"maxThreads"`
	MaxRawMessages int      `json:"maxRawMessages"`
	Scope          string   `json:"scope"`
}

// ThreadMatch identifies a selected thread and its blended score.
type ThreadMatch struct {
	TopicID     string  `json:"topicID"`
	ThreadID    string  `json:"threadID"`
	TopicTitle  string  `json:"topicTitle"`
	ThreadTitle string  `json:"threadTitle"`
	Score       float64 `json:"score"`
}

// RetrievedMessage is a raw archived message returned by retrieval.
type RetrievedMessage struct {
	MessageID string `json:"messageID"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	TopicID   string `json:"topicID"`
	ThreadID  string `json:"threadID"`
}

// Retrieval is the result of one retrieve pass.
type Retrieval struct {
	MatchedThreads []string           `json:"matchedThreads"`
	ThreadScores   map[string]float64 `json:"threadScores"`
	Summary        string             `json:"summary"`
	RawMessages    []RetrievedMessage `json:"rawMessages"`
	Threads        []ThreadMatch      `json:"threads"`
}

// NoMatchSummary is returned when retrieval selects no threads.
const NoMatchSummary = "No matching memory found."

// WindowMessage is an active-window message in a snapshot response.
type WindowMessage struct {
	MessageID string    `json:"messageID"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TodoStub marks a response field whose implementation is pending.
type TodoStub struct {
	Status string `json:"status"`
	Data   []any  `json:"data"`
}

// ContextBlock is the context portion of a snapshot or request response.
type ContextBlock struct {
	SystemMessage                ChatMessage        `json:"systemMessage"`
	CurrentWindowMessages        []WindowMessage    `json:"currentWindowMessages,omitempty"`
	UserMessage                  *ChatMessage       `json:"userMessage,omitempty"`
	CurrentSessionTopicSummaries string             `json:"currentSessionTopicSummaries"`
	RetrievedMemorySummary       string             `json:"retrievedMemorySummary"`
	RetrievedRawMessages         []RetrievedMessage `json:"retrievedRawMessages"`
	OtherSessionsTopicSummaries  TodoStub           `json:"otherSessionsTopicSummaries"`
}

// Snapshot is the response of SessionSnapshot and MemoryRequest.
type Snapshot struct {
	SessionID         string         `json:"sessionID"`
	Context           ContextBlock   `json:"context"`
	InsertMessages    []ChatMessage  `json:"insertMessages"`
	AssembledMessages []ChatMessage  `json:"assembledMessages"`
	Trace             map[string]any `json:"trace"`
}

// CommitReport is the response of MemoryCommit.
type CommitReport struct {
	SessionID        string      `json:"sessionID"`
	StoredMessageIDs []string    `json:"storedMessageIDs"`
	StreamStats      StreamStats `json:"streamStats"`
}
