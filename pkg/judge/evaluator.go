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

package judge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teradata-labs/crucible/pkg/types"
)

// Evaluator runs the full single-document grading matrix for one document:
// every judge model, every trial, bounded by the shared eval semaphore.
type Evaluator struct {
	judge       *Judge
	judgeModels []string
	iterations  int
	sem         *semaphore.Weighted
	logger      *zap.Logger

	// OnEvalComplete fires once per stored result, before aggregation.
	OnEvalComplete func(result types.SingleEvalResult)
}

// NewEvaluator creates an evaluator. sem bounds concurrent judge calls
// across the whole run and may be shared with other evaluators.
func NewEvaluator(j *Judge, judgeModels []string, iterations int, sem *semaphore.Weighted, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		judge:       j,
		judgeModels: judgeModels,
		iterations:  iterations,
		sem:         sem,
		logger:      logger,
	}
}

// EvaluateDocument grades one document with every judge over every trial
// and aggregates the outcomes. Individual judge failures are recorded and
// skipped; the summary covers whatever succeeded. It fails outright only
// when no judge produced a result.
func (e *Evaluator) EvaluateDocument(ctx context.Context, doc *types.GeneratedDocument) (*types.SingleEvalSummary, error) {
	if e.iterations == 0 {
		return &types.SingleEvalSummary{DocID: doc.DocID}, nil
	}

	type outcome struct {
		result *types.SingleEvalResult
		err    error
	}

	total := len(e.judgeModels) * e.iterations
	outcomes := make(chan outcome, total)
	var wg sync.WaitGroup

	// Trial indices are 1-based in every persisted result.
	for trial := 1; trial <= e.iterations; trial++ {
		for _, judgeModel := range e.judgeModels {
			wg.Add(1)
			go func(judgeModel string, trial int) {
				defer wg.Done()
				if err := e.sem.Acquire(ctx, 1); err != nil {
					outcomes <- outcome{err: err}
					return
				}
				defer e.sem.Release(1)

				result, err := e.judge.Evaluate(ctx, judgeModel, doc, trial)
				outcomes <- outcome{result: result, err: err}
			}(judgeModel, trial)
		}
	}
	wg.Wait()
	close(outcomes)

	var results []types.SingleEvalResult
	var errs []error
	for o := range outcomes {
		if o.err != nil {
			errs = append(errs, o.err)
			continue
		}
		results = append(results, *o.result)
		if e.OnEvalComplete != nil {
			e.OnEvalComplete(*o.result)
		}
	}

	if len(results) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("all %d evaluations of %s failed: %w", total, doc.DocID, errs[0])
	}
	for _, err := range errs {
		e.logger.Warn("evaluation failed, excluded from summary",
			zap.String("doc_id", doc.DocID), zap.Error(err))
	}

	return summarize(doc.DocID, results), nil
}

// summarize folds individual results into per-criterion, per-judge, and
// overall means.
func summarize(docID string, results []types.SingleEvalResult) *types.SingleEvalSummary {
	criterionSums := map[string]float64{}
	criterionCounts := map[string]int{}
	judgeSums := map[string]float64{}
	judgeCounts := map[string]int{}
	overallSum := 0.0

	for i := range results {
		r := &results[i]
		for _, s := range r.Scores {
			criterionSums[s.Criterion] += float64(s.Score)
			criterionCounts[s.Criterion]++
		}
		avg := r.AverageScore()
		judgeSums[r.JudgeModel] += avg
		judgeCounts[r.JudgeModel]++
		overallSum += avg
	}

	criterionMeans := make(map[string]float64, len(criterionSums))
	for name, sum := range criterionSums {
		criterionMeans[name] = sum / float64(criterionCounts[name])
	}
	judgeMeans := make(map[string]float64, len(judgeSums))
	for name, sum := range judgeSums {
		judgeMeans[name] = sum / float64(judgeCounts[name])
	}

	return &types.SingleEvalSummary{
		DocID:          docID,
		CriterionMeans: criterionMeans,
		OverallMean:    overallSum / float64(len(results)),
		PerJudgeMeans:  judgeMeans,
		Results:        results,
	}
}
