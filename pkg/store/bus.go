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

package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/pkg/types"
)

const defaultSubscriberBuffer = 64

// Event is one bus message: a timeline event scoped to a run.
type Event struct {
	RunID string
	Event types.TimelineEvent
}

// Bus fans run events out to subscribers. Publishing never blocks the
// pipeline: a subscriber that falls behind loses events rather than
// stalling a run.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event
	nextID int
	logger *zap.Logger
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subs: map[string]map[int]chan Event{}, logger: logger}
}

// Subscribe registers for one run's events. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, defaultSubscriberBuffer)
	if b.subs[runID] == nil {
		b.subs[runID] = map[int]chan Event{}
	}
	id := b.nextID
	b.nextID++
	b.subs[runID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[runID][id]; ok {
			delete(b.subs[runID], id)
			close(sub)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the run, dropping it for
// any subscriber whose buffer is full.
func (b *Bus) Publish(runID string, event types.TimelineEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs[runID] {
		select {
		case ch <- Event{RunID: runID, Event: event}:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				zap.String("run_id", runID),
				zap.Int("subscriber", id),
				zap.String("event_type", event.EventType))
		}
	}
}
