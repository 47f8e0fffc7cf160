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

// Package memory implements the session memory orchestrator: the bounded
// message stream, the truncate-archiver, hybrid retrieval, context assembly,
// and the public gateway that ties them together.
package memory

import (
	"time"

	"github.com/fableforge/mnemo/pkg/utils"
)

// Role constants for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// APIMessage is an immutable conversation message. The token count is derived
// from the content once, at construction time.
type APIMessage struct {
	MessageID  string    `json:"messageID"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"tokenCount"`
}

// NewAPIMessage builds a message and caches its token count.
func NewAPIMessage(tc *utils.TokenCounter, messageID, role, content string, timestamp time.Time) APIMessage {
	return APIMessage{
		MessageID:  messageID,
		Role:       role,
		Content:    content,
		Timestamp:  timestamp,
		TokenCount: tc.Count(content),
	}
}
