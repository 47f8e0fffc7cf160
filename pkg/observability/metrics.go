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

// Package observability registers the process-wide Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoredMessages counts messages accepted by commit.
	StoredMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mnemo_stored_messages_total",
		Help: "Messages accepted and persisted by memory commit.",
	})

	// ArchiveRuns counts archive runs by outcome (ok, error, noop).
	ArchiveRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mnemo_archive_runs_total",
		Help: "Archive runs by outcome.",
	}, []string{"outcome"})

	// Retrievals counts retrieve passes.
	Retrievals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mnemo_retrievals_total",
		Help: "Memory retrieval passes.",
	})

	// OperationDuration observes gateway operation latency in seconds.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mnemo_operation_duration_seconds",
		Help:    "Gateway operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// HTTPRequestDuration observes HTTP request latency by route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mnemo_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pattern", "status"})
)
