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

// Package pipeline drives one source document through the full variation
// lifecycle: generation, single-document evaluation, the pairwise
// tournament, synthesis of winners, and the post-combine tournament.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teradata-labs/crucible/pkg/config"
	"github.com/teradata-labs/crucible/pkg/judge"
	"github.com/teradata-labs/crucible/pkg/llm"
	"github.com/teradata-labs/crucible/pkg/store"
	"github.com/teradata-labs/crucible/pkg/types"
)

// ErrCancelled aborts a pipeline between tasks after a cancel request.
var ErrCancelled = fmt.Errorf("run cancelled")

// Deps wires the pipeline to its collaborators. GenSem and the judge
// semaphore inside Evaluator/Tournament are shared across every pipeline of
// the run.
type Deps struct {
	Generators map[types.GeneratorKind]llm.Generator
	Evaluator  *judge.Evaluator
	Tournament *judge.Tournament
	Combiner   judge.Caller

	Store *store.Store
	Bus   *store.Bus
	Stats *types.CallStats

	GenSem *semaphore.Weighted
	Logger *zap.Logger

	// Cancelled is polled at task boundaries; in-flight calls run to
	// completion before the pipeline stops.
	Cancelled func() bool
}

// Pipeline executes the lifecycle for one source document.
type Pipeline struct {
	cfg    *config.RunConfig
	deps   Deps
	runID  string
	src    types.SourceDoc
	logger *zap.Logger

	mu     sync.Mutex
	result *types.SourceDocResult
}

// New creates a pipeline for one source document.
func New(cfg *config.RunConfig, deps Deps, runID string, src types.SourceDoc) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		runID:  runID,
		src:    src,
		logger: logger.With(zap.String("run_id", runID), zap.String("source_doc", src.ID)),
		result: &types.SourceDocResult{
			SourceDocID: src.ID,
			Status:      types.PhasePending,
			SingleEvals: map[string]types.SingleEvalSummary{},
		},
	}
}

func (p *Pipeline) cancelled() bool {
	return p.deps.Cancelled != nil && p.deps.Cancelled()
}

// Execute runs every phase in order. The returned result is complete even
// on failure or cancellation: whatever finished is in it.
func (p *Pipeline) Execute(ctx context.Context) *types.SourceDocResult {
	started := time.Now()
	defer func() {
		p.result.DurationSeconds = time.Since(started).Seconds()
	}()

	phases := []struct {
		status types.PhaseStatus
		run    func(context.Context) error
	}{
		{types.PhaseGenerating, p.runGeneration},
		{types.PhasePairwiseEval, p.runPairwise},
		{types.PhaseCombining, p.runCombine},
		{types.PhasePostCombineEval, p.runPostCombine},
	}

	for _, phase := range phases {
		if p.cancelled() || ctx.Err() != nil {
			p.finish(types.PhaseCancelled)
			return p.result
		}
		p.setStatus(phase.status)
		if err := phase.run(ctx); err != nil {
			if err == ErrCancelled || ctx.Err() != nil {
				p.finish(types.PhaseCancelled)
				return p.result
			}
			p.recordError(err)
			p.finish(types.PhaseFailed)
			return p.result
		}
	}

	p.finish(types.PhaseCompleted)
	return p.result
}

func (p *Pipeline) setStatus(status types.PhaseStatus) {
	p.mu.Lock()
	p.result.Status = status
	p.mu.Unlock()
	if p.deps.Stats != nil {
		p.deps.Stats.SetPhase(string(status))
	}
	p.logger.Info("phase started", zap.String("phase", string(status)))
}

func (p *Pipeline) finish(status types.PhaseStatus) {
	p.mu.Lock()
	p.result.Status = status
	p.mu.Unlock()
	p.event(string(status), "pipeline_finished",
		fmt.Sprintf("pipeline for %s finished: %s", p.src.ID, status), "", status == types.PhaseCompleted, nil)
}

func (p *Pipeline) recordError(err error) {
	p.mu.Lock()
	p.result.Errors = append(p.result.Errors, err.Error())
	p.mu.Unlock()
	p.logger.Error("pipeline error", zap.Error(err))
}

func (p *Pipeline) addCost(cost float64) {
	p.mu.Lock()
	p.result.CostUSD += cost
	p.mu.Unlock()
}

// event records one timeline entry: in-memory, persisted, published, and
// surfaced through the caller's callback.
func (p *Pipeline) event(phase, eventType, description, model string, success bool, details map[string]any) {
	ev := types.TimelineEvent{
		Phase:       phase,
		EventType:   eventType,
		Description: description,
		Model:       model,
		Timestamp:   time.Now().UTC(),
		Success:     success,
		Details:     details,
	}

	p.mu.Lock()
	p.result.Timeline = append(p.result.Timeline, ev)
	p.mu.Unlock()

	if p.deps.Store != nil {
		if err := p.deps.Store.AppendTimelineEvent(context.Background(), p.runID, ev); err != nil {
			p.logger.Warn("failed to persist timeline event", zap.Error(err))
		}
	}
	if p.deps.Bus != nil {
		p.deps.Bus.Publish(p.runID, ev)
	}
	if p.cfg.Callbacks.OnTimelineEvent != nil {
		p.cfg.Callbacks.OnTimelineEvent(p.runID, ev)
	}
}

// newDocID builds a document ID: source prefix, random discriminator,
// generator, iteration, and a filename-safe model key.
func (p *Pipeline) newDocID(gen types.GeneratorKind, iteration int, modelKey string) string {
	src := types.SafeName(p.src.ID)
	if len(src) > 8 {
		src = src[:8]
	}
	rand := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s_%s.%s.%d.%s", src, rand, gen, iteration, types.SafeName(modelKey))
}
