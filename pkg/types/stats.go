// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"sync"
	"sync/atomic"
)

// CallStats is a live counter of generator-layer calls, exposed for operator
// dashboards. The run executor owns one instance and passes it down; there is
// no process-global state.
type CallStats struct {
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	retries atomic.Int64

	mu           sync.Mutex
	currentPhase string
	lastError    string
}

// CallStatsSnapshot is a point-in-time copy of the counters.
type CallStatsSnapshot struct {
	Total        int64  `json:"total"`
	Success      int64  `json:"success"`
	Failed       int64  `json:"failed"`
	Retries      int64  `json:"retries"`
	CurrentPhase string `json:"current_phase,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// NewCallStats creates a zeroed counter set.
func NewCallStats() *CallStats { return &CallStats{} }

// RecordCall counts one attempted generator-layer call.
func (s *CallStats) RecordCall() { s.total.Add(1) }

// RecordSuccess counts one successful call.
func (s *CallStats) RecordSuccess() { s.success.Add(1) }

// RecordFailure counts one failed call and remembers the error text.
func (s *CallStats) RecordFailure(errMsg string) {
	s.failed.Add(1)
	s.mu.Lock()
	s.lastError = errMsg
	s.mu.Unlock()
}

// RecordRetry counts one retry of a transient failure.
func (s *CallStats) RecordRetry() { s.retries.Add(1) }

// SetPhase records the phase currently in flight for dashboard display.
func (s *CallStats) SetPhase(phase string) {
	s.mu.Lock()
	s.currentPhase = phase
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of the counters.
func (s *CallStats) Snapshot() CallStatsSnapshot {
	s.mu.Lock()
	phase, lastErr := s.currentPhase, s.lastError
	s.mu.Unlock()
	return CallStatsSnapshot{
		Total:        s.total.Load(),
		Success:      s.success.Load(),
		Failed:       s.failed.Load(),
		Retries:      s.retries.Load(),
		CurrentPhase: phase,
		LastError:    lastErr,
	}
}
