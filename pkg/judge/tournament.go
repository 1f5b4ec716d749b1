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
	"math/rand"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teradata-labs/crucible/pkg/types"
)

// Tournament runs a full round-robin pairwise comparison over a set of
// candidate documents and folds the outcomes into Elo standings.
type Tournament struct {
	judge       *PairwiseJudge
	judgeModels []string
	iterations  int
	sem         *semaphore.Weighted
	dynamicK    bool
	logger      *zap.Logger

	// rng drives the A/B slot swap; tests inject a seeded source.
	rng *rand.Rand
	mu  sync.Mutex
}

// NewTournament creates a tournament runner.
func NewTournament(j *PairwiseJudge, judgeModels []string, iterations int, sem *semaphore.Weighted, dynamicK bool, logger *zap.Logger) *Tournament {
	if logger == nil {
		logger = zap.NewNop()
	}
	if iterations < 1 {
		iterations = 1
	}
	return &Tournament{
		judge:       j,
		judgeModels: judgeModels,
		iterations:  iterations,
		sem:         sem,
		dynamicK:    dynamicK,
		rng:         rand.New(rand.NewSource(rand.Int63())),
		logger:      logger,
	}
}

// SetSeed fixes the slot-swap randomness, for reproducible runs.
func (t *Tournament) SetSeed(seed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rng = rand.New(rand.NewSource(seed))
}

func (t *Tournament) swap() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.Intn(2) == 1
}

// TopN returns the n best document IDs by single-eval overall mean,
// descending, ties broken lexicographically. n <= 0 returns all.
func TopN(summaries map[string]types.SingleEvalSummary, n int) []string {
	ids := make([]string, 0, len(summaries))
	for id := range summaries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := summaries[ids[i]], summaries[ids[j]]
		if a.OverallMean != b.OverallMean {
			return a.OverallMean > b.OverallMean
		}
		return ids[i] < ids[j]
	})
	if n > 0 && n < len(ids) {
		ids = ids[:n]
	}
	return ids
}

// Run compares every unordered pair of documents once per judge per
// iteration, with random slot assignment to cancel position bias. Documents
// with empty content are excluded up front. Fewer than two eligible
// documents means no tournament and a nil summary.
func (t *Tournament) Run(ctx context.Context, docs []*types.GeneratedDocument) (*types.PairwiseSummary, error) {
	eligible := make([]*types.GeneratedDocument, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			t.logger.Warn("excluding empty document from tournament", zap.String("doc_id", doc.DocID))
			continue
		}
		eligible = append(eligible, doc)
	}
	if len(eligible) < 2 {
		t.logger.Info("tournament skipped", zap.Int("eligible", len(eligible)))
		return nil, nil
	}

	// Stable comparison order so the schedule is deterministic.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].DocID < eligible[j].DocID })

	type game struct {
		first, second *types.GeneratedDocument
		judgeModel    string
		trial         int
	}
	var games []game
	for trial := 1; trial <= t.iterations; trial++ {
		for i := 0; i < len(eligible); i++ {
			for k := i + 1; k < len(eligible); k++ {
				first, second := eligible[i], eligible[k]
				if t.swap() {
					first, second = second, first
				}
				for _, judgeModel := range t.judgeModels {
					games = append(games, game{first: first, second: second, judgeModel: judgeModel, trial: trial})
				}
			}
		}
	}

	results := make(chan *types.PairwiseResult, len(games))
	var wg sync.WaitGroup
	for _, g := range games {
		wg.Add(1)
		go func(g game) {
			defer wg.Done()
			if err := t.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer t.sem.Release(1)

			result, err := t.judge.Compare(ctx, g.judgeModel, g.first, g.second, g.trial)
			if err != nil {
				t.logger.Warn("pairwise comparison failed, excluded from standings",
					zap.String("doc_a", g.first.DocID),
					zap.String("doc_b", g.second.DocID),
					zap.String("judge", g.judgeModel),
					zap.Error(err))
				return
			}
			results <- result
		}(g)
	}
	wg.Wait()
	close(results)

	// Ratings update in arrival order: standings reflect the sequence of
	// completed games, not the schedule.
	calc := NewEloCalculator(t.dynamicK)
	summary := &types.PairwiseSummary{Ratings: map[string]types.EloRating{}}
	for result := range results {
		summary.Results = append(summary.Results, *result)
		calc.Record(*result)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(summary.Results) == 0 {
		t.logger.Warn("tournament produced no completed comparisons")
		return nil, nil
	}

	summary.Ratings = calc.Ratings()
	summary.WinnerDocID = calc.Winner()
	return summary, nil
}
