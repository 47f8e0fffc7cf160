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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingArchiver records process invocations and optionally blocks until
// released.
type countingArchiver struct {
	runs    atomic.Int32
	block   chan struct{}
	started chan struct{}
	err     error
}

func (c *countingArchiver) Process(_ context.Context, _ *MessageStream, _, _ string) error {
	c.runs.Add(1)
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	return c.err
}

func newTestStore(t *testing.T) *ContextStore {
	t.Helper()
	tc := testTokenCounter(t)
	return NewContextStore(newMemStore(), tc, 10*time.Minute, 200)
}

func TestSchedulerRunsOnce(t *testing.T) {
	store := newTestStore(t)
	archiver := &countingArchiver{}
	s := NewArchiveScheduler(store, archiver)

	s.Schedule("u", "s1", NewMessageStream("s1", 10))
	s.Wait()
	assert.Equal(t, int32(1), archiver.runs.Load())
}

func TestSchedulerCoalescesBurst(t *testing.T) {
	store := newTestStore(t)
	archiver := &countingArchiver{
		block:   make(chan struct{}),
		started: make(chan struct{}, 16),
	}
	s := NewArchiveScheduler(store, archiver)
	stream := NewMessageStream("s1", 10)

	s.Schedule("u", "s1", stream)
	<-archiver.started

	// Burst while the first run is in flight; all collapse into one rerun.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Schedule("u", "s1", stream)
		}()
	}
	wg.Wait()
	close(archiver.block)
	s.Wait()

	runs := archiver.runs.Load()
	assert.GreaterOrEqual(t, runs, int32(1))
	assert.LessOrEqual(t, runs, int32(2))
}

func TestSchedulerNeverBlocksCaller(t *testing.T) {
	store := newTestStore(t)
	archiver := &countingArchiver{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s := NewArchiveScheduler(store, archiver)
	stream := NewMessageStream("s1", 10)

	s.Schedule("u", "s1", stream)
	<-archiver.started

	done := make(chan struct{})
	go func() {
		s.Schedule("u", "s1", stream)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("schedule blocked while a run was in flight")
	}

	close(archiver.block)
	s.Wait()
}

func TestSchedulerSwallowsErrors(t *testing.T) {
	store := newTestStore(t)
	archiver := &countingArchiver{err: fmt.Errorf("llm down")}
	s := NewArchiveScheduler(store, archiver)

	s.Schedule("u", "s1", NewMessageStream("s1", 10))
	s.Wait()
	require.Equal(t, int32(1), archiver.runs.Load())

	// The mutex must be free again for the next run.
	s.Schedule("u", "s1", NewMessageStream("s1", 10))
	s.Wait()
	assert.Equal(t, int32(2), archiver.runs.Load())
}

func TestSchedulerIndependentSessions(t *testing.T) {
	store := newTestStore(t)
	archiver := &countingArchiver{}
	s := NewArchiveScheduler(store, archiver)

	for i := 0; i < 4; i++ {
		s.Schedule("u", fmt.Sprintf("s%d", i), NewMessageStream(fmt.Sprintf("s%d", i), 10))
	}
	s.Wait()
	assert.Equal(t, int32(4), archiver.runs.Load())
}
