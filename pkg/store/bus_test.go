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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/crucible/pkg/types"
)

func TestBusDelivery(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe("run-1")
	defer cancel()

	b.Publish("run-1", types.TimelineEvent{EventType: "generation_completed"})
	b.Publish("run-2", types.TimelineEvent{EventType: "other_run"})

	select {
	case ev := <-ch:
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, "generation_completed", ev.Event.EventType)
	default:
		t.Fatal("event not delivered")
	}
	select {
	case ev := <-ch:
		t.Fatalf("received event for another run: %+v", ev)
	default:
	}
}

func TestBusSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe("run-1")
	defer cancel()

	// Publish past the buffer; the surplus must be dropped silently.
	for i := 0; i < defaultSubscriberBuffer+10; i++ {
		b.Publish("run-1", types.TimelineEvent{EventType: "flood"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, defaultSubscriberBuffer, received)
}

func TestBusCancelClosesChannel(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe("run-1")
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Publishing after cancel must not panic.
	b.Publish("run-1", types.TimelineEvent{EventType: "late"})
	cancel()
}
