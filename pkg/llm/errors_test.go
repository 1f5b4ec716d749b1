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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientTypedKinds(t *testing.T) {
	assert.True(t, IsTransient(NewCallError(KindTransient, "google", errors.New("503"))))

	// Validation outcomes are terminal for the attempt: rerunning the same
	// input does not conjure grounding.
	for _, kind := range []Kind{KindMissingGrounding, KindMissingReasoning, KindMissingBoth, KindUnknownValidation, KindFatal, KindParse, KindEmptyContent, KindCancelled} {
		err := NewCallError(kind, "google", errors.New("grounding validation failed"))
		assert.False(t, IsTransient(err), kind.String())
	}
}

func TestIsTransientPatterns(t *testing.T) {
	transient := []string{
		"got 429 from upstream",
		"Rate Limit exceeded",
		"request timed out",
		"upstream returned 502",
		"503 service unavailable",
		"504 gateway",
		"connection reset by peer",
		"network unreachable",
		"temporarily unavailable",
	}
	for _, msg := range transient {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}

	assert.False(t, IsTransient(errors.New("invalid api key")))
	assert.False(t, IsTransient(nil))
}

func TestIsTransientContextErrors(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(fmt.Errorf("wrapped: %w", context.Canceled)))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindMissingBoth, KindOf(NewCallError(KindMissingBoth, "x", errors.New("nope"))))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTransient, KindOf(errors.New("429 too many requests")))
	assert.Equal(t, KindFatal, KindOf(errors.New("bad request")))
}

func TestCallErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewCallError(KindFatal, "google", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "google")
	assert.Contains(t, err.Error(), "fatal")
}
