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

// Package server exposes the memory gateway over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fableforge/mnemo/pkg/memory"
	"github.com/fableforge/mnemo/pkg/observability"
	"github.com/fableforge/mnemo/pkg/persistence"
)

// requestTimeout bounds one gateway operation end to end.
const requestTimeout = 60 * time.Second

// Server is the HTTP front of the orchestrator.
type Server struct {
	gateway    *memory.Gateway
	store      persistence.Store
	httpServer *http.Server
}

// New creates a server listening on addr.
func New(addr string, gateway *memory.Gateway, store persistence.Store) *Server {
	s := &Server{gateway: gateway, store: store}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.Middleware)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1/memory/{user}/{session}", func(r chi.Router) {
		r.Post("/commit", s.handleCommit)
		r.Post("/request", s.handleRequest)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/topics", s.handleTopics)
	})
	return r
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type commitRequest struct {
	Messages     []memory.IncomingMessage `json:"messages"`
	WindowTokens int                      `json:"windowTokens,omitempty"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	user, session := chi.URLParam(r, "user"), chi.URLParam(r, "session")

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "missing field: messages")
		return
	}

	report, err := s.gateway.MemoryCommit(r.Context(), user, session, req.Messages, memory.Options{
		WindowTokens: req.WindowTokens,
	})
	if err != nil {
		slog.Error("commit failed", "user", user, "session", session, "error", err)
		writeError(w, http.StatusInternalServerError, "commit failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type memoryRequestBody struct {
	Need               string `json:"need"`
	UserMessage        string `json:"userMessage,omitempty"`
	WindowTokens       int    `json:"windowTokens,omitempty"`
	InsertBudgetTokens int    `json:"insertBudgetTokens,omitempty"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	user, session := chi.URLParam(r, "user"), chi.URLParam(r, "session")

	var req memoryRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Need == "" {
		writeError(w, http.StatusBadRequest, "missing field: need")
		return
	}

	snap, err := s.gateway.MemoryRequest(r.Context(), user, session, req.Need, req.UserMessage, memory.Options{
		WindowTokens:       req.WindowTokens,
		InsertBudgetTokens: req.InsertBudgetTokens,
	})
	if err != nil {
		slog.Error("memory request failed", "user", user, "session", session, "error", err)
		writeError(w, http.StatusInternalServerError, "memory request failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	user, session := chi.URLParam(r, "user"), chi.URLParam(r, "session")

	opts := memory.Options{}
	if v := r.URL.Query().Get("windowTokens"); v != "" {
		fmt.Sscanf(v, "%d", &opts.WindowTokens)
	}
	if v := r.URL.Query().Get("insertBudgetTokens"); v != "" {
		fmt.Sscanf(v, "%d", &opts.InsertBudgetTokens)
	}

	snap, err := s.gateway.SessionSnapshot(r.Context(), user, session, opts)
	if err != nil {
		slog.Error("snapshot failed", "user", user, "session", session, "error", err)
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// topicView is the topic browse response entry.
type topicView struct {
	TopicID string       `json:"topicID"`
	Title   string       `json:"title"`
	Threads []threadView `json:"threads"`
}

type threadView struct {
	ThreadID      string `json:"threadID"`
	Title         string `json:"title"`
	Summary       string `json:"summary"`
	InsightCount  int    `json:"insightCount"`
	LatestInsight string `json:"latestInsight,omitempty"`
}

// handleTopics returns the Topic to Thread tree with latest insight
// versions. Read-only, no LLM calls.
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	user, session := chi.URLParam(r, "user"), chi.URLParam(r, "session")
	ctx := r.Context()

	topics, err := s.store.GetAllTopics(ctx, user, session)
	if err != nil {
		slog.Error("topic browse failed", "user", user, "session", session, "error", err)
		writeError(w, http.StatusInternalServerError, "topic browse failed")
		return
	}

	out := []topicView{}
	for _, t := range topics {
		view := topicView{TopicID: t.TopicID, Title: t.Title, Threads: []threadView{}}
		threads, err := s.store.GetTopicThreads(ctx, user, session, t.TopicID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "topic browse failed")
			return
		}
		for _, th := range threads {
			tv := threadView{ThreadID: th.ThreadID, Title: th.Title, Summary: th.Summary}
			insights, err := s.store.GetThreadInsights(ctx, user, session, t.TopicID, th.ThreadID)
			if err == nil {
				tv.InsightCount = len(insights)
				if len(insights) > 0 {
					tv.LatestInsight = insights[len(insights)-1].Content
				}
			}
			view.Threads = append(view.Threads, tv)
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionID": session, "topics": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
