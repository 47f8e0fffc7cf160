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
	"log/slog"
	"sync"

	"github.com/fableforge/mnemo/pkg/observability"
)

// Archiver consumes a stream's unarchived overflow. Satisfied by
// TruncateArchiver; narrowed to an interface so scheduler tests can count
// runs.
type Archiver interface {
	Process(ctx context.Context, stream *MessageStream, user, session string) error
}

// ArchiveScheduler guarantees at most one archive run in flight per session.
// A request arriving while a run is active sets a pending flag; the active
// run loops once more before releasing the archive mutex. Callers never
// block.
type ArchiveScheduler struct {
	store    *ContextStore
	archiver Archiver
	wg       sync.WaitGroup
}

// NewArchiveScheduler creates a scheduler over the store's per-session
// archive state.
func NewArchiveScheduler(store *ContextStore, archiver Archiver) *ArchiveScheduler {
	return &ArchiveScheduler{store: store, archiver: archiver}
}

// Schedule requests an archive run for the session. Returns immediately;
// the run happens on a detached goroutine. Never call while holding the
// session mutex.
func (s *ArchiveScheduler) Schedule(user, session string, stream *MessageStream) {
	state := s.store.ArchiveState(session)
	if !state.mu.TryLock() {
		state.setPending(true)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer state.mu.Unlock()
		for {
			state.setPending(false)
			// Archive runs are never cancelled mid-flight; they complete
			// or fail against a background context.
			if err := s.archiver.Process(context.Background(), stream, user, session); err != nil {
				observability.ArchiveRuns.WithLabelValues("error").Inc()
				slog.Warn("archive run failed", "user", user, "session", session, "error", err)
			} else {
				observability.ArchiveRuns.WithLabelValues("ok").Inc()
			}
			if !state.isPending() {
				return
			}
		}
	}()
}

// Wait blocks until all in-flight archive runs complete. Used on shutdown
// and in tests.
func (s *ArchiveScheduler) Wait() {
	s.wg.Wait()
}
