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

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/pkg/llm"
	"github.com/teradata-labs/crucible/pkg/store"
	"github.com/teradata-labs/crucible/pkg/types"
)

// genTask is one scheduled generation call.
type genTask struct {
	generator types.GeneratorKind
	modelKey  string
	iteration int
}

// runGeneration produces every candidate document and overlaps grading with
// generation: each completed document is persisted and its single-document
// evaluation scheduled immediately, without waiting for the rest of the
// matrix. The phase ends when both generation and grading have drained.
func (p *Pipeline) runGeneration(ctx context.Context) error {
	tasks := p.genTasks()
	p.event("generating", "generation_started",
		fmt.Sprintf("generating %d documents for %s", len(tasks), p.src.ID), "", true, nil)

	var genWG, evalWG sync.WaitGroup
	for _, task := range tasks {
		if p.cancelled() {
			break
		}
		genWG.Add(1)
		go func(task genTask) {
			defer genWG.Done()
			if err := p.deps.GenSem.Acquire(ctx, 1); err != nil {
				return
			}
			defer p.deps.GenSem.Release(1)
			if p.cancelled() {
				return
			}

			doc, err := p.generateOne(ctx, task)
			if err != nil {
				p.recordError(fmt.Errorf("generation %s/%s iteration %d: %w",
					task.generator, task.modelKey, task.iteration, err))
				p.event("generating", "generation_failed",
					fmt.Sprintf("%s failed", task.modelKey), task.modelKey, false, nil)
				return
			}

			p.mu.Lock()
			p.result.GeneratedDocs = append(p.result.GeneratedDocs, *doc)
			p.mu.Unlock()
			p.addCost(doc.CostUSD)
			p.event("generating", "generation_completed", doc.DocID, task.modelKey, true,
				map[string]any{"doc_id": doc.DocID, "cost_usd": doc.CostUSD})
			if p.cfg.Callbacks.OnGenComplete != nil {
				p.cfg.Callbacks.OnGenComplete(doc.DocID, doc.ModelKey, doc.Generator, doc.SourceDocID, doc.Iteration)
			}

			if p.cfg.Eval.Enabled && p.cfg.Eval.Iterations > 0 && !p.cancelled() {
				evalWG.Add(1)
				go func(doc types.GeneratedDocument) {
					defer evalWG.Done()
					p.evaluateOne(ctx, &doc)
				}(*doc)
			}
		}(task)
	}
	genWG.Wait()

	if p.cancelled() || ctx.Err() != nil {
		evalWG.Wait()
		return ErrCancelled
	}

	p.mu.Lock()
	generated := len(p.result.GeneratedDocs)
	p.mu.Unlock()
	if generated == 0 {
		return fmt.Errorf("no documents generated for %s", p.src.ID)
	}

	if p.cfg.Eval.Enabled && p.cfg.Eval.Iterations > 0 {
		p.setStatus(types.PhaseSingleEval)
	}
	evalWG.Wait()

	if p.cancelled() || ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// genTasks enumerates the generation matrix in dispatch order: iteration
// first, then model position, then generator.
func (p *Pipeline) genTasks() []genTask {
	maxModels := 0
	for _, gen := range p.cfg.Generators {
		if n := len(p.cfg.GeneratorModels[gen]); n > maxModels {
			maxModels = n
		}
	}

	var tasks []genTask
	for iteration := 0; iteration < p.cfg.Iterations; iteration++ {
		for m := 0; m < maxModels; m++ {
			for _, gen := range p.cfg.Generators {
				if models := p.cfg.GeneratorModels[gen]; m < len(models) {
					tasks = append(tasks, genTask{generator: gen, modelKey: models[m], iteration: iteration})
				}
			}
		}
	}
	return tasks
}

// generateOne makes one generator call, persists the document content, and
// records it in the store.
func (p *Pipeline) generateOne(ctx context.Context, task genTask) (*types.GeneratedDocument, error) {
	generator, ok := p.deps.Generators[task.generator]
	if !ok {
		return nil, fmt.Errorf("no generator wired for kind %q", task.generator)
	}
	provider, model, err := types.ParseModelKey(task.modelKey)
	if err != nil {
		return nil, err
	}

	settings := p.cfg.ModelSettings[task.modelKey]
	started := time.Now()

	result, err := generator.Generate(ctx, &llm.Request{
		Provider:        provider,
		Model:           model,
		Query:           p.src.Body,
		Instructions:    p.cfg.Instructions,
		Temperature:     settings.Temperature,
		MaxOutputTokens: settings.MaxOutputTokens,
		Timeout:         p.cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	docID := p.newDocID(task.generator, task.iteration, task.modelKey)
	doc := &types.GeneratedDocument{
		DocID:       docID,
		Content:     result.Content,
		Generator:   task.generator,
		ModelKey:    task.modelKey,
		SourceDocID: p.src.ID,
		Iteration:   task.iteration,
		CostUSD:     result.CostUSD,
		DurationSec: result.Duration.Seconds(),
		StartedAt:   started,
		CompletedAt: time.Now(),
	}

	path, err := store.WriteGeneratedDoc(p.cfg.DataDir, p.cfg.UserID, p.runID, docID, doc.Content)
	if err != nil {
		return nil, err
	}
	doc.Path = path

	if p.deps.Store != nil {
		if err := p.deps.Store.AppendGeneratedDoc(ctx, p.runID, *doc); err != nil {
			p.logger.Warn("failed to persist generated doc", zap.String("doc_id", docID), zap.Error(err))
		}
	}
	return doc, nil
}

// evaluateOne grades one document and folds the summary into the result.
// Grading failures are recorded, not fatal: an ungraded document simply has
// no standing in later phases.
func (p *Pipeline) evaluateOne(ctx context.Context, doc *types.GeneratedDocument) {
	summary, err := p.deps.Evaluator.EvaluateDocument(ctx, doc)
	if err != nil {
		p.recordError(fmt.Errorf("single-eval of %s: %w", doc.DocID, err))
		p.event("single_eval", "eval_failed", doc.DocID, "", false, nil)
		return
	}

	p.mu.Lock()
	p.result.SingleEvals[doc.DocID] = *summary
	p.mu.Unlock()
	p.event("single_eval", "eval_completed", doc.DocID, "", true,
		map[string]any{"doc_id": doc.DocID, "overall_mean": summary.OverallMean})
}
