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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/pkg/judge"
	"github.com/teradata-labs/crucible/pkg/llm"
	"github.com/teradata-labs/crucible/pkg/store"
	"github.com/teradata-labs/crucible/pkg/types"
)

// runPairwise runs the head-to-head tournament over the graded documents
// and fixes the pre-combine winner. With the tournament disabled or
// unplayable, the winner falls through to the best single-eval mean.
func (p *Pipeline) runPairwise(ctx context.Context) error {
	defer p.resolveWinner()

	if !p.cfg.Pairwise.Enabled {
		return nil
	}

	docs := p.tournamentField(p.cfg.Pairwise.TopN)
	if len(docs) < 2 {
		p.logger.Info("pairwise skipped", zap.Int("candidates", len(docs)))
		return nil
	}

	p.event("pairwise_eval", "tournament_started",
		fmt.Sprintf("tournament over %d documents", len(docs)), "", true, nil)

	summary, err := p.deps.Tournament.Run(ctx, docs)
	if err != nil {
		return fmt.Errorf("pairwise tournament: %w", err)
	}
	if summary == nil {
		return nil
	}

	p.mu.Lock()
	p.result.Pairwise = summary
	p.mu.Unlock()
	p.event("pairwise_eval", "tournament_completed", summary.WinnerDocID, "", true,
		map[string]any{"winner": summary.WinnerDocID, "games": len(summary.Results)})
	return nil
}

// tournamentField selects the documents entering a tournament: the topN by
// single-eval mean when grading ran, otherwise every generated document.
func (p *Pipeline) tournamentField(topN int) []*types.GeneratedDocument {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.result.SingleEvals) > 0 {
		ids := judge.TopN(p.result.SingleEvals, topN)
		keep := make(map[string]bool, len(ids))
		for _, id := range ids {
			keep[id] = true
		}
		var docs []*types.GeneratedDocument
		for i := range p.result.GeneratedDocs {
			if keep[p.result.GeneratedDocs[i].DocID] {
				docs = append(docs, &p.result.GeneratedDocs[i])
			}
		}
		return docs
	}

	docs := make([]*types.GeneratedDocument, 0, len(p.result.GeneratedDocs))
	for i := range p.result.GeneratedDocs {
		docs = append(docs, &p.result.GeneratedDocs[i])
	}
	return docs
}

// resolveWinner fixes the pre-combine winner: the tournament result when
// one exists, else the highest single-eval mean. With neither, the winner
// stays unset and synthesis is skipped.
func (p *Pipeline) resolveWinner() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.result.Pairwise != nil && p.result.Pairwise.WinnerDocID != "" {
		p.result.WinnerDocID = p.result.Pairwise.WinnerDocID
		return
	}
	if len(p.result.SingleEvals) > 0 {
		ids := judge.TopN(mapCopy(p.result.SingleEvals), 1)
		if len(ids) > 0 {
			p.result.WinnerDocID = ids[0]
		}
	}
}

func mapCopy(m map[string]types.SingleEvalSummary) map[string]types.SingleEvalSummary {
	out := make(map[string]types.SingleEvalSummary, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// runCombine synthesises the two top-ranked documents into one with each
// combine model. No ranking means no defensible winners, so the phase skips.
func (p *Pipeline) runCombine(ctx context.Context) error {
	if !p.cfg.Combine.Enabled {
		return nil
	}

	top := p.ranking()
	if len(top) < 2 {
		p.logger.Info("combine skipped: fewer than two ranked documents")
		return nil
	}
	docA := p.docByID(top[0])
	docB := p.docByID(top[1])
	if docA == nil || docB == nil {
		return fmt.Errorf("ranked documents missing from generated set")
	}

	prompt := buildCombinePrompt(p.cfg.Instructions, docA.Content, docB.Content)

	for _, modelKey := range p.cfg.Combine.Models {
		if p.cancelled() || ctx.Err() != nil {
			return ErrCancelled
		}
		provider, model, err := types.ParseModelKey(modelKey)
		if err != nil {
			p.recordError(err)
			continue
		}

		started := time.Now()
		result, err := p.deps.Combiner.Generate(ctx, &llm.Request{
			Provider:        provider,
			Model:           model,
			Query:           prompt,
			Instructions:    p.cfg.Combine.Instructions,
			MaxOutputTokens: p.cfg.Combine.MaxTokens,
			Timeout:         p.cfg.RequestTimeout,
		})
		if err != nil {
			p.recordError(fmt.Errorf("combine with %s: %w", modelKey, err))
			p.event("combining", "combine_failed", modelKey, modelKey, false, nil)
			continue
		}

		docID := "combined." + p.newDocID(types.GeneratorTemplate, 0, modelKey)
		doc := types.GeneratedDocument{
			DocID:       docID,
			Content:     result.Content,
			Generator:   types.GeneratorTemplate,
			ModelKey:    modelKey,
			SourceDocID: p.src.ID,
			CostUSD:     result.CostUSD,
			DurationSec: result.Duration.Seconds(),
			StartedAt:   started,
			CompletedAt: time.Now(),
		}
		path, err := store.WriteGeneratedDoc(p.cfg.DataDir, p.cfg.UserID, p.runID, docID, doc.Content)
		if err != nil {
			p.recordError(err)
			continue
		}
		doc.Path = path
		if p.deps.Store != nil {
			if err := p.deps.Store.AppendGeneratedDoc(ctx, p.runID, doc); err != nil {
				p.logger.Warn("failed to persist combined doc", zap.String("doc_id", docID), zap.Error(err))
			}
		}

		p.mu.Lock()
		p.result.CombinedDocs = append(p.result.CombinedDocs, doc)
		p.mu.Unlock()
		p.addCost(doc.CostUSD)
		p.event("combining", "combine_completed", docID, modelKey, true,
			map[string]any{"doc_id": docID, "cost_usd": doc.CostUSD})
	}

	// Synthesis was reachable but produced nothing: every combine model
	// failed, and the post-combine tournament has no subject.
	p.mu.Lock()
	combined := len(p.result.CombinedDocs)
	p.mu.Unlock()
	if combined == 0 {
		return fmt.Errorf("all %d combine models failed", len(p.cfg.Combine.Models))
	}
	return nil
}

// ranking orders document IDs best-first: tournament standings when they
// exist, single-eval means otherwise.
func (p *Pipeline) ranking() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.result.Pairwise != nil && len(p.result.Pairwise.Ratings) > 0 {
		return judge.RankByRating(p.result.Pairwise.Ratings)
	}
	if len(p.result.SingleEvals) > 0 {
		return judge.TopN(mapCopy(p.result.SingleEvals), 0)
	}
	return nil
}

func (p *Pipeline) docByID(docID string) *types.GeneratedDocument {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.result.GeneratedDocs {
		if p.result.GeneratedDocs[i].DocID == docID {
			return &p.result.GeneratedDocs[i]
		}
	}
	for i := range p.result.CombinedDocs {
		if p.result.CombinedDocs[i].DocID == docID {
			return &p.result.CombinedDocs[i]
		}
	}
	return nil
}

// buildCombinePrompt frames the synthesis input: the caller's original
// instructions followed by both reports, delimited so the model can tell
// them apart.
func buildCombinePrompt(instructions, reportA, reportB string) string {
	var b strings.Builder
	b.WriteString("--- ORIGINAL INSTRUCTIONS ---\n")
	b.WriteString(instructions)
	b.WriteString("\n--- REPORT 1 ---\n")
	b.WriteString(reportA)
	b.WriteString("\n--- REPORT 2 ---\n")
	b.WriteString(reportB)
	b.WriteString("\n--- END OF INPUTS ---\n")
	return b.String()
}

// runPostCombine ranks the combined outputs against the strongest
// pre-combine documents in a final tournament and fixes the overall winner.
func (p *Pipeline) runPostCombine(ctx context.Context) error {
	p.mu.Lock()
	combined := len(p.result.CombinedDocs)
	p.mu.Unlock()
	if !p.cfg.Combine.Enabled || combined == 0 {
		return nil
	}

	topN := p.cfg.Combine.PostTopN
	if topN <= 0 {
		topN = 2
	}
	field := p.tournamentField(topN)
	p.mu.Lock()
	for i := range p.result.CombinedDocs {
		field = append(field, &p.result.CombinedDocs[i])
	}
	p.mu.Unlock()

	if len(field) < 2 {
		return nil
	}

	p.event("post_combine_eval", "tournament_started",
		fmt.Sprintf("post-combine tournament over %d documents", len(field)), "", true, nil)

	summary, err := p.deps.Tournament.Run(ctx, field)
	if err != nil {
		return fmt.Errorf("post-combine tournament: %w", err)
	}
	if summary == nil {
		return nil
	}

	p.mu.Lock()
	p.result.PostCombine = summary
	if summary.WinnerDocID != "" {
		p.result.WinnerDocID = summary.WinnerDocID
	}
	p.mu.Unlock()
	p.event("post_combine_eval", "tournament_completed", summary.WinnerDocID, "", true,
		map[string]any{"winner": summary.WinnerDocID, "games": len(summary.Results)})
	return nil
}
