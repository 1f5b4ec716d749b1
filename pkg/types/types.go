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

// Package types contains shared types used across the crucible core.
// This package breaks import cycles by providing common types that the
// pipeline, judge, and runner packages all depend on.
package types

import (
	"fmt"
	"strings"
	"time"
)

// GeneratorKind identifies one of the candidate-document generator backends.
type GeneratorKind string

const (
	// GeneratorTemplate is the inline template runner (direct provider HTTP).
	GeneratorTemplate GeneratorKind = "template"

	// GeneratorResearcher is the external researcher subprocess.
	GeneratorResearcher GeneratorKind = "researcher"

	// GeneratorDeepResearcher is the researcher subprocess in deep mode.
	GeneratorDeepResearcher GeneratorKind = "deep_researcher"
)

// Valid reports whether k names a known generator backend.
func (k GeneratorKind) Valid() bool {
	switch k {
	case GeneratorTemplate, GeneratorResearcher, GeneratorDeepResearcher:
		return true
	}
	return false
}

// ParseModelKey splits a "provider:model" key into its parts.
func ParseModelKey(key string) (provider, model string, err error) {
	idx := strings.Index(key, ":")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", fmt.Errorf("invalid model key %q: want provider:model", key)
	}
	return key[:idx], key[idx+1:], nil
}

// SafeName makes a string filename-safe by replacing path and key
// separators with underscores.
func SafeName(s string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(s)
}

// SourceDoc is one immutable source document in a run.
type SourceDoc struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Body string `json:"body" yaml:"body"`
}

// GeneratedDocument is one candidate variation produced by a generator call.
// Created once during the Generating phase and never mutated afterwards.
type GeneratedDocument struct {
	DocID       string        `json:"doc_id"`
	Content     string        `json:"content"`
	Generator   GeneratorKind `json:"generator"`
	ModelKey    string        `json:"model_key"`
	SourceDocID string        `json:"source_doc_id"`
	Iteration   int           `json:"iteration"`
	CostUSD     float64       `json:"cost_usd"`
	DurationSec float64       `json:"duration_seconds"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`

	// Path is the on-disk location of the persisted markdown content.
	Path string `json:"path,omitempty"`
}

// CriterionScore is one rubric-criterion grade from a judge.
type CriterionScore struct {
	Criterion string `json:"criterion"`
	Score     int    `json:"score"`
	Reason    string `json:"reason"`
}

// SingleEvalResult is the outcome of one graded evaluation of one document
// by one judge model on one trial.
type SingleEvalResult struct {
	DocID       string           `json:"doc_id"`
	JudgeModel  string           `json:"judge_model"`
	Trial       int              `json:"trial"`
	Scores      []CriterionScore `json:"scores"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	RawResponse string           `json:"raw_response,omitempty"`
}

// AverageScore returns the mean of the criterion scores, or 0 for an empty set.
func (r *SingleEvalResult) AverageScore() float64 {
	if len(r.Scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range r.Scores {
		sum += s.Score
	}
	return float64(sum) / float64(len(r.Scores))
}

// SingleEvalSummary aggregates all single-eval results for one document.
type SingleEvalSummary struct {
	DocID          string                    `json:"doc_id"`
	CriterionMeans map[string]float64        `json:"criterion_means"`
	OverallMean    float64                   `json:"overall_mean"`
	PerJudgeMeans  map[string]float64        `json:"per_judge_means"`
	Results        []SingleEvalResult        `json:"results"`
}

// PairwiseResult is the outcome of one head-to-head comparison.
// WinnerDocID is always one of DocIDA or DocIDB.
type PairwiseResult struct {
	DocIDA      string    `json:"doc_id_a"`
	DocIDB      string    `json:"doc_id_b"`
	WinnerDocID string    `json:"winner_doc_id"`
	JudgeModel  string    `json:"judge_model"`
	Trial       int       `json:"trial"`
	Reason      string    `json:"reason"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	RawResponse string    `json:"raw_response,omitempty"`
}

// EloRating is the per-document tournament standing.
type EloRating struct {
	Rating float64 `json:"rating"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
}

// PairwiseSummary is the outcome of a full pairwise tournament.
type PairwiseSummary struct {
	Results     []PairwiseResult     `json:"results"`
	Ratings     map[string]EloRating `json:"ratings"`
	WinnerDocID string               `json:"winner_doc_id"`
}

// PhaseStatus tracks a source-document pipeline through its lifecycle.
type PhaseStatus string

const (
	PhasePending         PhaseStatus = "pending"
	PhaseGenerating      PhaseStatus = "generating"
	PhaseSingleEval      PhaseStatus = "single_eval"
	PhasePairwiseEval    PhaseStatus = "pairwise_eval"
	PhaseCombining       PhaseStatus = "combining"
	PhasePostCombineEval PhaseStatus = "post_combine_eval"
	PhaseCompleted       PhaseStatus = "completed"
	PhaseFailed          PhaseStatus = "failed"
	PhaseCancelled       PhaseStatus = "cancelled"
)

// Terminal reports whether the status is a terminal pipeline state.
func (s PhaseStatus) Terminal() bool {
	switch s {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// TimelineEvent is one append-only entry in the run timeline.
type TimelineEvent struct {
	Phase       string         `json:"phase"`
	EventType   string         `json:"event_type"`
	Description string         `json:"description"`
	Model       string         `json:"model,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationSec float64        `json:"duration_seconds,omitempty"`
	Success     bool           `json:"success"`
	Details     map[string]any `json:"details,omitempty"`
}

// SourceDocResult is the complete output of one source-document pipeline.
type SourceDocResult struct {
	SourceDocID     string                       `json:"source_doc_id"`
	Status          PhaseStatus                  `json:"status"`
	GeneratedDocs   []GeneratedDocument          `json:"generated_docs"`
	SingleEvals     map[string]SingleEvalSummary `json:"single_evals,omitempty"`
	Pairwise        *PairwiseSummary             `json:"pairwise,omitempty"`
	WinnerDocID     string                       `json:"winner_doc_id,omitempty"`
	CombinedDocs    []GeneratedDocument          `json:"combined_docs,omitempty"`
	PostCombine     *PairwiseSummary             `json:"post_combine,omitempty"`
	Timeline        []TimelineEvent              `json:"timeline"`
	Errors          []string                     `json:"errors,omitempty"`
	CostUSD         float64                      `json:"cost_usd"`
	DurationSeconds float64                      `json:"duration_seconds"`
}

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run aggregates per-source-document results for one execution.
type Run struct {
	RunID        string                      `json:"run_id"`
	Status       RunStatus                   `json:"status"`
	Results      map[string]*SourceDocResult `json:"results"`
	TotalCostUSD float64                     `json:"total_cost_usd"`
	Timeline     []TimelineEvent             `json:"timeline"`
	Stats        CallStatsSnapshot           `json:"stats"`
	StartedAt    time.Time                   `json:"started_at"`
	CompletedAt  time.Time                   `json:"completed_at"`
}

// Callbacks are the incremental notification hooks a caller may supply.
// Any of them may be nil.
type Callbacks struct {
	OnGenComplete   func(docID, modelKey string, generator GeneratorKind, sourceDocID string, iteration int)
	OnEvalComplete  func(docID, judgeModel string, trial int, result SingleEvalResult)
	OnTimelineEvent func(runID string, event TimelineEvent)
}
