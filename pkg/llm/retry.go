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

package llm

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/pkg/types"
)

// RetryPolicy controls transient-failure retries at the adapter layer.
// Backoff is exponential with full jitter: the computed delay doubles per
// attempt up to MaxBackoff and the actual sleep is Uniform(0, delay).
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns the adapter-layer retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			delay = p.MaxBackoff
			break
		}
	}
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

// withRetry runs fn up to MaxAttempts+1 times, retrying only transient
// failures. Each retry is counted in stats; non-transient errors fail fast.
func withRetry(ctx context.Context, policy RetryPolicy, stats *types.CallStats, logger *zap.Logger, fn func(context.Context) (*Result, error)) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts+1; attempt++ {
		if stats != nil {
			stats.RecordCall()
		}

		result, err := fn(ctx)
		if err == nil {
			if stats != nil {
				stats.RecordSuccess()
			}
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt > policy.MaxAttempts {
			if stats != nil {
				stats.RecordFailure(err.Error())
			}
			return nil, err
		}

		if stats != nil {
			stats.RecordRetry()
		}
		backoff := policy.backoff(attempt)
		logger.Info("transient failure, backing off before retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			if stats != nil {
				stats.RecordFailure(ctx.Err().Error())
			}
			return nil, NewCallError(KindCancelled, "", fmt.Errorf("cancelled during retry backoff: %w", ctx.Err()))
		}
	}

	return nil, lastErr
}
