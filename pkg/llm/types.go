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

// Package llm is the adapter layer between the pipeline and the LLM
// backends: the inline template runner, the researcher subprocess and its
// deep-research variant, plus the response validator, transient retry
// policy, and pricing.
package llm

import (
	"context"
	"time"

	"github.com/teradata-labs/crucible/pkg/types"
)

// Request is one generation request to a backend.
type Request struct {
	// Provider and Model are the split parts of a provider:model key.
	Provider string
	Model    string

	// Query is the full prompt or source text for the backend.
	Query string

	// Instructions carry the generation or judge instructions. The template
	// runner sends them as the system prompt; the researcher subprocess
	// receives them merged into the research prompt.
	Instructions string

	Temperature     float64
	MaxOutputTokens int

	// Timeout is the wall-clock deadline for a single attempt.
	Timeout time.Duration

	// Env carries caller-supplied environment for subprocess backends
	// (SMART_LLM, RETRIEVER, ...). Passed through verbatim, never
	// overwritten.
	Env map[string]string
}

// Usage is token usage normalised across provider shapes.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a successful generation outcome.
type Result struct {
	Content  string
	CostUSD  float64
	Duration time.Duration
	Status   string
	Usage    Usage
	Metadata map[string]any
	// Raw is the raw backend response text, kept for judge post-mortems.
	Raw string
}

// Generator is the common contract for all backends.
type Generator interface {
	// Kind identifies the backend.
	Kind() types.GeneratorKind

	// Generate runs one generation. Transient provider failures are retried
	// internally; validation failures and fatal errors return a *CallError.
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// ProgressFunc receives streamed progress from subprocess backends.
// Progress is in [0,1].
type ProgressFunc func(stage string, progress float64, message string)
