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

// Package config defines the immutable run configuration and its validation.
// Every enforced field must be present before a run starts; there are no
// silent defaults for required values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/crucible/pkg/types"
)

// Criterion is one entry in the evaluation rubric.
type Criterion struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Description string `json:"description" yaml:"description" mapstructure:"description"`
}

// ModelSettings holds per-model generation parameters.
type ModelSettings struct {
	Temperature     float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens" yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// EvalConfig controls the single-document evaluation phase.
type EvalConfig struct {
	Enabled              bool        `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Iterations           int         `json:"iterations" yaml:"iterations" mapstructure:"iterations"`
	JudgeModels          []string    `json:"judge_models" yaml:"judge_models" mapstructure:"judge_models"`
	Instructions         string      `json:"instructions" yaml:"instructions" mapstructure:"instructions"`
	PairwiseInstructions string      `json:"pairwise_instructions" yaml:"pairwise_instructions" mapstructure:"pairwise_instructions"`
	Criteria             []Criterion `json:"criteria" yaml:"criteria" mapstructure:"criteria"`
	Retries              int         `json:"retries" yaml:"retries" mapstructure:"retries"`
}

// PairwiseConfig controls the pairwise tournament phase. The tournament
// plays every pair Eval.Iterations times per judge model.
type PairwiseConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// TopN restricts the tournament to the N highest-scoring documents from
	// single-eval. 0 means no filter.
	TopN int `json:"top_n" yaml:"top_n" mapstructure:"top_n"`
	// DynamicK dampens Elo updates as a document accumulates games.
	DynamicK bool `json:"dynamic_k" yaml:"dynamic_k" mapstructure:"dynamic_k"`
}

// CombineConfig controls the synthesis phase.
type CombineConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Models       []string `json:"models" yaml:"models" mapstructure:"models"`
	Instructions string   `json:"instructions" yaml:"instructions" mapstructure:"instructions"`
	MaxTokens    int      `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	// PostTopN is how many pre-combine documents join the post-combine
	// tournament alongside the combined outputs.
	PostTopN int `json:"post_top_n" yaml:"post_top_n" mapstructure:"post_top_n"`
}

// RetryConfig holds generator-layer retry parameters for transient failures.
type RetryConfig struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`
}

// RunConfig is the immutable input for one run. The caller is responsible for
// resolving opaque IDs (instruction bodies, criteria text) into literal text
// before constructing it.
type RunConfig struct {
	SourceDocs []types.SourceDoc `json:"source_docs" yaml:"source_docs" mapstructure:"source_docs"`

	Generators      []types.GeneratorKind              `json:"generators" yaml:"generators" mapstructure:"generators"`
	GeneratorModels map[types.GeneratorKind][]string   `json:"generator_models" yaml:"generator_models" mapstructure:"generator_models"`
	ModelSettings   map[string]ModelSettings           `json:"model_settings" yaml:"model_settings" mapstructure:"model_settings"`

	Instructions string `json:"instructions" yaml:"instructions" mapstructure:"instructions"`
	Iterations   int    `json:"iterations" yaml:"iterations" mapstructure:"iterations"`

	Eval     EvalConfig     `json:"eval" yaml:"eval" mapstructure:"eval"`
	Pairwise PairwiseConfig `json:"pairwise" yaml:"pairwise" mapstructure:"pairwise"`
	Combine  CombineConfig  `json:"combine" yaml:"combine" mapstructure:"combine"`

	LogLevel string      `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	Retry    RetryConfig `json:"retry" yaml:"retry" mapstructure:"retry"`

	GenerationConcurrency int           `json:"generation_concurrency" yaml:"generation_concurrency" mapstructure:"generation_concurrency"`
	EvalConcurrency       int           `json:"eval_concurrency" yaml:"eval_concurrency" mapstructure:"eval_concurrency"`
	RequestTimeout        time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`

	// DataDir is the root for persisted artifacts; UserID scopes the run
	// directory layout under it.
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	UserID  string `json:"user_id" yaml:"user_id" mapstructure:"user_id"`

	// Callbacks are not serialised; they are attached by the caller.
	Callbacks types.Callbacks `json:"-" yaml:"-" mapstructure:"-"`
}

// ValidationError reports one invalid or missing RunConfig field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Validate checks every enforced field and returns all violations joined.
// It is called synchronously before any work is scheduled.
func (c *RunConfig) Validate() error {
	var errs []error
	invalid := func(field, reason string) {
		errs = append(errs, &ValidationError{Field: field, Reason: reason})
	}

	if len(c.SourceDocs) == 0 {
		invalid("source_docs", "at least one source document required")
	}
	seen := make(map[string]bool, len(c.SourceDocs))
	for i, doc := range c.SourceDocs {
		if doc.ID == "" {
			invalid(fmt.Sprintf("source_docs[%d].id", i), "required")
		}
		if strings.TrimSpace(doc.Body) == "" {
			invalid(fmt.Sprintf("source_docs[%d].body", i), "must be non-empty")
		}
		if seen[doc.ID] {
			invalid(fmt.Sprintf("source_docs[%d].id", i), "duplicate id "+doc.ID)
		}
		seen[doc.ID] = true
	}

	if len(c.Generators) == 0 {
		invalid("generators", "at least one generator required")
	}
	for _, g := range c.Generators {
		if !g.Valid() {
			invalid("generators", fmt.Sprintf("unknown generator kind %q", g))
			continue
		}
		models := c.GeneratorModels[g]
		if len(models) == 0 {
			invalid("generator_models", fmt.Sprintf("no models configured for generator %q", g))
		}
		for _, m := range models {
			if _, _, err := types.ParseModelKey(m); err != nil {
				invalid("generator_models", err.Error())
			}
		}
	}

	if c.Iterations < 1 {
		invalid("iterations", "must be >= 1")
	}
	if strings.TrimSpace(c.Instructions) == "" {
		invalid("instructions", "required")
	}

	if c.Eval.Enabled {
		if c.Eval.Iterations < 0 {
			invalid("eval.iterations", "must be >= 0")
		}
		if len(c.Eval.JudgeModels) == 0 {
			invalid("eval.judge_models", "at least one judge model required when eval is enabled")
		}
		if strings.TrimSpace(c.Eval.Instructions) == "" {
			invalid("eval.instructions", "required when eval is enabled; the judge refuses to evaluate without them")
		}
		if len(c.Eval.Criteria) == 0 {
			invalid("eval.criteria", "rubric required when eval is enabled")
		}
		names := make(map[string]bool, len(c.Eval.Criteria))
		for i, cr := range c.Eval.Criteria {
			if cr.Name == "" {
				invalid(fmt.Sprintf("eval.criteria[%d].name", i), "required")
			}
			if names[cr.Name] {
				invalid(fmt.Sprintf("eval.criteria[%d].name", i), "duplicate criterion "+cr.Name)
			}
			names[cr.Name] = true
		}
		if c.Eval.Retries < 0 {
			invalid("eval.retries", "must be >= 0")
		}
	}

	if c.Pairwise.Enabled {
		if !c.Eval.Enabled {
			invalid("pairwise.enabled", "pairwise requires eval to be enabled")
		}
		if strings.TrimSpace(c.Eval.PairwiseInstructions) == "" {
			invalid("eval.pairwise_instructions", "required when pairwise is enabled")
		}
		if c.Pairwise.TopN < 0 {
			invalid("pairwise.top_n", "must be >= 0")
		}
	}

	if c.Combine.Enabled {
		if len(c.Combine.Models) == 0 {
			invalid("combine.models", "at least one combine model required when combine is enabled")
		}
		for _, m := range c.Combine.Models {
			if _, _, err := types.ParseModelKey(m); err != nil {
				invalid("combine.models", err.Error())
			}
		}
		if strings.TrimSpace(c.Combine.Instructions) == "" {
			invalid("combine.instructions", "required when combine is enabled")
		}
		if c.Combine.PostTopN < 0 {
			invalid("combine.post_top_n", "must be >= 0")
		}
	}

	if c.GenerationConcurrency < 1 {
		invalid("generation_concurrency", "must be >= 1")
	}
	if c.EvalConcurrency < 1 {
		invalid("eval_concurrency", "must be >= 1")
	}
	if c.RequestTimeout <= 0 {
		invalid("request_timeout", "must be > 0")
	}
	if c.Retry.MaxAttempts < 0 {
		invalid("retry.max_attempts", "must be >= 0")
	}
	if c.DataDir == "" {
		invalid("data_dir", "required")
	}
	if c.UserID == "" {
		invalid("user_id", "required")
	}

	return errors.Join(errs...)
}
