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

package ratelimit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireEnforcesMinDelay(t *testing.T) {
	r := NewRegistry(map[string]Limits{
		"google": {MinDelay: 50 * time.Millisecond},
	}, nil)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Acquire(ctx, "google"))
		r.Release("google")
	}
	elapsed := time.Since(start)

	// Three admissions need two full delay windows between them.
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestUnknownProviderGetsDefaultDelay(t *testing.T) {
	r := NewRegistry(nil, nil)
	limits := r.CurrentLimits("never-configured")
	assert.Equal(t, DefaultMinDelay, limits.MinDelay)
	assert.Zero(t, limits.MaxConcurrent)
}

func TestConcurrencyCap(t *testing.T) {
	r := NewRegistry(map[string]Limits{
		"anthropic": {MinDelay: 0, MaxConcurrent: 2},
	}, nil)
	ctx := context.Background()

	require.NoError(t, r.Acquire(ctx, "anthropic"))
	require.NoError(t, r.Acquire(ctx, "anthropic"))

	// Third acquire must block until a slot frees.
	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := r.Acquire(blocked, "anthropic")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.Release("anthropic")
	require.NoError(t, r.Acquire(ctx, "anthropic"))
	r.Release("anthropic")
	r.Release("anthropic")
}

// A zero delay with a single slot degenerates to plain mutual exclusion.
func TestZeroDelaySingleSlotIsMutex(t *testing.T) {
	r := NewRegistry(map[string]Limits{
		"x": {MinDelay: 0, MaxConcurrent: 1},
	}, nil)
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, r.Acquire(ctx, "x"))
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			r.Release("x")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestAcquireCancellation(t *testing.T) {
	r := NewRegistry(map[string]Limits{
		"slow": {MinDelay: time.Hour},
	}, nil)
	ctx := context.Background()

	require.NoError(t, r.Acquire(ctx, "slow"))

	cancelCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Acquire(cancelCtx, "slow") }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("acquire did not honour cancellation")
	}
}

func TestUpdateLimitsTakesEffect(t *testing.T) {
	r := NewRegistry(map[string]Limits{
		"google": {MinDelay: time.Hour},
	}, nil)

	r.UpdateLimits("google", Limits{MinDelay: time.Millisecond, MaxConcurrent: 4})
	limits := r.CurrentLimits("google")
	assert.Equal(t, time.Millisecond, limits.MinDelay)
	assert.Equal(t, 4, limits.MaxConcurrent)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Acquire(ctx, "google"))
	require.NoError(t, r.Acquire(ctx, "google"))
	r.Release("google")
	r.Release("google")
}

func TestLoadLimitsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"google:\n  min_delay: 250ms\n  max_concurrent: 2\nanthropic:\n  max_concurrent: 1\n"), 0o644))

	limits, err := LoadLimitsFile(path)
	require.NoError(t, err)
	assert.Equal(t, Limits{MinDelay: 250 * time.Millisecond, MaxConcurrent: 2}, limits["google"])
	// Omitted min_delay falls back to the conservative default.
	assert.Equal(t, Limits{MinDelay: DefaultMinDelay, MaxConcurrent: 1}, limits["anthropic"])

	require.NoError(t, os.WriteFile(path, []byte("google:\n  min_delay: not-a-duration\n"), 0o644))
	_, err = LoadLimitsFile(path)
	assert.Error(t, err)
}

func TestWatchFileAppliesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("google:\n  min_delay: 1s\n"), 0o644))

	r := NewRegistry(nil, nil)
	watcher, err := r.WatchFile(path)
	require.NoError(t, err)
	defer watcher.Close()

	assert.Equal(t, time.Second, r.CurrentLimits("google").MinDelay)

	require.NoError(t, os.WriteFile(path, []byte("google:\n  min_delay: 5ms\n"), 0o644))
	assert.Eventually(t, func() bool {
		return r.CurrentLimits("google").MinDelay == 5*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	// A broken rewrite keeps the last good limits.
	require.NoError(t, os.WriteFile(path, []byte("google:\n  min_delay: garbage\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, r.CurrentLimits("google").MinDelay)
}
