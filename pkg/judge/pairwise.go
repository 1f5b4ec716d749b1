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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/pkg/config"
	"github.com/teradata-labs/crucible/pkg/llm"
	"github.com/teradata-labs/crucible/pkg/types"
)

// PairwiseJudge runs head-to-head comparisons between two documents.
type PairwiseJudge struct {
	caller       Caller
	instructions string
	criteria     []config.Criterion
	retries      int
	timeout      time.Duration
	logger       *zap.Logger
}

// NewPairwiseJudge creates a pairwise judge. The rubric renders into the
// comparison template the same way it does for single-document grading.
func NewPairwiseJudge(caller Caller, instructions string, criteria []config.Criterion, retries int, timeout time.Duration, logger *zap.Logger) *PairwiseJudge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PairwiseJudge{
		caller:       caller,
		instructions: instructions,
		criteria:     criteria,
		retries:      retries,
		timeout:      timeout,
		logger:       logger,
	}
}

// pairwiseVerdict is the JSON shape a comparison judge must return. Winner
// is the presented label, not a document ID.
type pairwiseVerdict struct {
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

// Compare judges docA against docB as presented. The caller decides which
// document takes slot A; the result maps the verdict label back to IDs.
func (j *PairwiseJudge) Compare(ctx context.Context, judgeModel string, docA, docB *types.GeneratedDocument, trial int) (*types.PairwiseResult, error) {
	provider, model, err := types.ParseModelKey(judgeModel)
	if err != nil {
		return nil, err
	}

	deadline := j.timeout + judgeTimeoutHeadroom
	cmpCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	prompt := j.renderPrompt(docA.Content, docB.Content)
	started := time.Now()

	var lastErr error
	for attempt := 0; attempt <= j.retries; attempt++ {
		if err := cmpCtx.Err(); err != nil {
			return nil, fmt.Errorf("comparison %s vs %s aborted: %w", docA.DocID, docB.DocID, err)
		}

		result, err := j.caller.Generate(cmpCtx, &llm.Request{
			Provider: provider,
			Model:    model,
			Query:    prompt,
			Timeout:  j.timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("pairwise call failed for %s vs %s: %w", docA.DocID, docB.DocID, err)
		}

		winner, reason, parseErr := j.parseVerdict(result.Content)
		if parseErr != nil {
			lastErr = parseErr
			j.logger.Warn("pairwise verdict unparseable, retrying",
				zap.String("doc_a", docA.DocID),
				zap.String("doc_b", docB.DocID),
				zap.Int("attempt", attempt),
				zap.Error(parseErr))
			continue
		}

		winnerID := docA.DocID
		if winner == "B" {
			winnerID = docB.DocID
		}
		return &types.PairwiseResult{
			DocIDA:      docA.DocID,
			DocIDB:      docB.DocID,
			WinnerDocID: winnerID,
			JudgeModel:  judgeModel,
			Trial:       trial,
			Reason:      reason,
			StartedAt:   started,
			CompletedAt: time.Now(),
			RawResponse: result.Content,
		}, nil
	}

	return nil, fmt.Errorf("judge %s produced no parseable comparison of %s vs %s after %d attempts: %w",
		judgeModel, docA.DocID, docB.DocID, j.retries+1, lastErr)
}

// renderPrompt substitutes both documents and the rubric into the
// comparison instructions. {doc_a}/{document_a} and {doc_b}/{document_b}
// are interchangeable.
func (j *PairwiseJudge) renderPrompt(contentA, contentB string) string {
	prompt := j.instructions
	prompt = strings.ReplaceAll(prompt, "{doc_a}", contentA)
	prompt = strings.ReplaceAll(prompt, "{document_a}", contentA)
	prompt = strings.ReplaceAll(prompt, "{doc_b}", contentB)
	prompt = strings.ReplaceAll(prompt, "{document_b}", contentB)
	prompt = strings.ReplaceAll(prompt, "{criteria}", renderRubric(j.criteria))
	return prompt
}

// parseVerdict extracts the winner label, accepting only A or B. Ties are
// not a legal verdict.
func (j *PairwiseJudge) parseVerdict(response string) (winner, reason string, err error) {
	payload, extractErr := ExtractJSON(response)
	if extractErr != nil {
		return "", "", extractErr
	}

	var verdict pairwiseVerdict
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		return "", "", newParseError(fmt.Sprintf("unexpected verdict shape: %v", err), response)
	}

	label := strings.ToUpper(strings.TrimSpace(verdict.Winner))
	if label != "A" && label != "B" {
		return "", "", newParseError(fmt.Sprintf("winner %q is not A or B", verdict.Winner), response)
	}
	return label, verdict.Reason, nil
}
