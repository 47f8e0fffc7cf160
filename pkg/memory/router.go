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
	"regexp"
	"strings"

	"github.com/fableforge/mnemo/pkg/llms"
)

// fallbackKeywordLimit caps keywords extracted without LLM help.
const fallbackKeywordLimit = 6

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// MemoryRouter turns a natural-language need into a retrieval plan. Route
// never fails; any LLM problem degrades to lexical keyword extraction.
type MemoryRouter struct {
	llm            llms.Provider
	maxThreads     int
	maxRawMessages int
}

// NewMemoryRouter creates a router with the configured retrieval caps.
func NewMemoryRouter(llm llms.Provider, maxThreads, maxRawMessages int) *MemoryRouter {
	return &MemoryRouter{llm: llm, maxThreads: maxThreads, maxRawMessages: maxRawMessages}
}

// Route derives keywords and budgets from the need.
func (r *MemoryRouter) Route(ctx context.Context, need string) Route {
	prompt := fmt.Sprintf(`Plan a memory retrieval for this request:
%q

Respond with a JSON object:
{"keywords": [string], "includeRaw": bool, "maxThreads": int, "maxRawMessages": int, "scope": "current_session"}

Keywords are the terms most likely to match stored topic titles, thread titles, and insight text. Set includeRaw true when verbatim past messages would help.`, need)

	obj, err := r.llm.GenerateJSON(ctx, prompt)
	if err != nil || obj == nil {
		if err != nil {
			slog.Warn("route planning call failed, using lexical fallback", "error", err)
		}
		return r.fallback(need)
	}

	keywords := normalizeKeywords(obj["keywords"])
	if len(keywords) == 0 {
		return r.fallback(need)
	}

	route := Route{
		Keywords:       keywords,
		IncludeRaw:     true,
		MaxThreads:     r.maxThreads,
		MaxRawMessages: r.maxRawMessages,
		Scope:          "current_session",
	}
	if v, ok := obj["includeRaw"].(bool); ok {
		route.IncludeRaw = v
	}
	if v, ok := obj["maxThreads"].(float64); ok && int(v) >= 0 {
		route.MaxThreads = int(v)
	}
	if v, ok := obj["maxRawMessages"].(float64); ok && int(v) >= 0 {
		route.MaxRawMessages = int(v)
	}
	if v, ok := obj["scope"].(string); ok && v != "" {
		route.Scope = v
	}
	return route
}

// fallback extracts up to six alphanumeric tokens of length two or more.
func (r *MemoryRouter) fallback(need string) Route {
	var keywords []string
	for _, w := range wordPattern.FindAllString(need, -1) {
		if len(w) < 2 {
			continue
		}
		keywords = append(keywords, w)
		if len(keywords) == fallbackKeywordLimit {
			break
		}
	}
	return Route{
		Keywords:       keywords,
		IncludeRaw:     true,
		MaxThreads:     r.maxThreads,
		MaxRawMessages: r.maxRawMessages,
		Scope:          "current_session",
	}
}

// normalizeKeywords accepts either an array or a comma-separated string,
// trims whitespace, and drops empties.
func normalizeKeywords(v any) []string {
	var raw []string
	switch vv := v.(type) {
	case []any:
		for _, item := range vv {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(vv, ",")
	default:
		return nil
	}

	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
