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
	"strings"
)

// Kind classifies a generator-layer failure. These are the tagged result
// variants that replace exception-based signalling at the adapter boundary.
type Kind int

const (
	// KindTransient covers throttling, timeouts and network failures that
	// the adapter retries internally.
	KindTransient Kind = iota

	// KindFatal covers authentication and payload rejections; never retried.
	KindFatal

	// KindMissingGrounding means the response carried no retrieval evidence.
	KindMissingGrounding

	// KindMissingReasoning means no model rationale was extractable.
	KindMissingReasoning

	// KindMissingBoth means both validation signals were absent.
	KindMissingBoth

	// KindUnknownValidation means the backend reported a validation
	// failure it could not classify into the signals above.
	KindUnknownValidation

	// KindParse means malformed structured output; retried by the judge
	// layer, not here.
	KindParse

	// KindEmptyContent means the backend reported success with empty or
	// whitespace-only content.
	KindEmptyContent

	// KindCancelled means the caller's context ended the call.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindMissingGrounding:
		return "missing_grounding"
	case KindMissingReasoning:
		return "missing_reasoning"
	case KindMissingBoth:
		return "missing_both"
	case KindUnknownValidation:
		return "unknown_validation"
	case KindParse:
		return "parse"
	case KindEmptyContent:
		return "empty_content"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// CallError is a classified generator-layer failure.
type CallError struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *CallError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// NewCallError wraps err with a classification.
func NewCallError(kind Kind, provider string, err error) *CallError {
	return &CallError{Kind: kind, Provider: provider, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are run
// through the transient pattern matcher; everything else is fatal.
func KindOf(err error) Kind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if matchesTransient(err) {
		return KindTransient
	}
	return KindFatal
}

// transientPatterns is the message-substring classifier for provider errors
// that warrant a retry with backoff.
var transientPatterns = []string{
	"429",
	"rate limit",
	"timeout",
	"timed out",
	"502",
	"503",
	"504",
	"connection",
	"network",
	"temporarily unavailable",
	"grounding",
	"validation",
}

// IsTransient reports whether err should be retried with backoff.
// Typed validation failures are never transient: a model is unlikely to add
// grounding on a rerun with identical input.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case KindTransient:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return matchesTransient(err)
}

func matchesTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
