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

// Package ratelimit provides one rate-limited gate per LLM provider.
// Each gate enforces a minimum inter-request delay and an optional
// concurrency cap; limits can be reconfigured while a run is live.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMinDelay applies to providers with no configured limits.
const DefaultMinDelay = time.Second

// Limits configures one provider gate.
type Limits struct {
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	// MaxConcurrent caps in-flight requests for this provider.
	// 0 means unlimited; the global run semaphore still applies.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
}

type gate struct {
	mu sync.Mutex

	minDelay time.Duration
	// nextAdmit is the earliest time the next caller may proceed. Callers
	// reserve their slot under the mutex and sleep outside it, so waiters
	// queue fairly in reservation order.
	nextAdmit time.Time

	// slots is the concurrency cap channel; nil when uncapped.
	slots chan struct{}
}

// Registry maps provider names to gates. One instance is shared by every
// generator call in the process.
type Registry struct {
	mu       sync.Mutex
	gates    map[string]*gate
	defaults map[string]Limits
	logger   *zap.Logger
}

// NewRegistry creates a registry with the given per-provider defaults.
// Providers absent from defaults get DefaultMinDelay and no concurrency cap.
func NewRegistry(defaults map[string]Limits, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults == nil {
		defaults = map[string]Limits{}
	}
	return &Registry{
		gates:    make(map[string]*gate),
		defaults: defaults,
		logger:   logger,
	}
}

func (r *Registry) gateFor(provider string) *gate {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gates[provider]; ok {
		return g
	}

	limits, ok := r.defaults[provider]
	if !ok {
		limits = Limits{MinDelay: DefaultMinDelay}
		r.logger.Debug("unknown provider, using conservative default delay",
			zap.String("provider", provider),
			zap.Duration("min_delay", DefaultMinDelay),
		)
	}
	g := &gate{minDelay: limits.MinDelay}
	if limits.MaxConcurrent > 0 {
		g.slots = make(chan struct{}, limits.MaxConcurrent)
	}
	r.gates[provider] = g
	return g
}

// Acquire blocks until the provider's minimum inter-request delay has elapsed
// since the previous admission (and a concurrency slot is free, if capped).
// It returns early with the context error on cancellation.
func (r *Registry) Acquire(ctx context.Context, provider string) error {
	g := r.gateFor(provider)

	g.mu.Lock()
	slots := g.slots
	g.mu.Unlock()

	if slots != nil {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Reserve an admission slot under the mutex, then sleep outside it.
	g.mu.Lock()
	now := time.Now()
	admitAt := g.nextAdmit
	if admitAt.Before(now) {
		admitAt = now
	}
	g.nextAdmit = admitAt.Add(g.minDelay)
	g.mu.Unlock()

	if wait := time.Until(admitAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if slots != nil {
				<-slots
			}
			return ctx.Err()
		}
	}
	return nil
}

// Release returns the provider's concurrency slot. It is a no-op for the
// pure delay model.
func (r *Registry) Release(provider string) {
	g := r.gateFor(provider)
	g.mu.Lock()
	slots := g.slots
	g.mu.Unlock()
	if slots == nil {
		return
	}
	select {
	case <-slots:
	default:
		// Unbalanced release; nothing to drain.
	}
}

// UpdateLimits reconfigures a provider gate. The new limits take effect for
// subsequent acquires; callers already sleeping keep their reservation.
func (r *Registry) UpdateLimits(provider string, limits Limits) {
	g := r.gateFor(provider)

	g.mu.Lock()
	g.minDelay = limits.MinDelay
	if limits.MaxConcurrent > 0 {
		if g.slots == nil || cap(g.slots) != limits.MaxConcurrent {
			g.slots = make(chan struct{}, limits.MaxConcurrent)
		}
	} else {
		g.slots = nil
	}
	g.mu.Unlock()

	r.mu.Lock()
	r.defaults[provider] = limits
	r.mu.Unlock()

	r.logger.Info("provider limits updated",
		zap.String("provider", provider),
		zap.Duration("min_delay", limits.MinDelay),
		zap.Int("max_concurrent", limits.MaxConcurrent),
	)
}

// CurrentLimits returns the active limits for a provider.
func (r *Registry) CurrentLimits(provider string) Limits {
	g := r.gateFor(provider)
	g.mu.Lock()
	defer g.mu.Unlock()
	limits := Limits{MinDelay: g.minDelay}
	if g.slots != nil {
		limits.MaxConcurrent = cap(g.slots)
	}
	return limits
}
