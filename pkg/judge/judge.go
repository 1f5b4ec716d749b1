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

// Wall-clock headroom on top of the provider request timeout, covering
// queueing and response handling around the call itself.
const judgeTimeoutHeadroom = 30 * time.Second

// Caller issues one model call for the judge. The template generator with
// validation disabled satisfies it.
type Caller interface {
	Generate(ctx context.Context, req *llm.Request) (*llm.Result, error)
}

// Judge grades one document at a time against a fixed rubric.
type Judge struct {
	caller       Caller
	instructions string
	criteria     []config.Criterion
	retries      int
	timeout      time.Duration
	logger       *zap.Logger
}

// NewJudge creates a single-document judge. retries bounds how many times a
// malformed verdict is re-requested; timeout is the per-request provider
// budget.
func NewJudge(caller Caller, instructions string, criteria []config.Criterion, retries int, timeout time.Duration, logger *zap.Logger) *Judge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Judge{
		caller:       caller,
		instructions: instructions,
		criteria:     criteria,
		retries:      retries,
		timeout:      timeout,
		logger:       logger,
	}
}

// judgeVerdict is the JSON shape a grading judge must return.
type judgeVerdict struct {
	Evaluations []struct {
		Criterion string `json:"criterion"`
		Score     int    `json:"score"`
		Reason    string `json:"reason"`
	} `json:"evaluations"`
}

// Evaluate grades one document with one judge model on one trial. A
// malformed verdict is retried with a fresh model call up to the configured
// retry budget; the model response of the final failure is preserved in the
// returned error.
func (j *Judge) Evaluate(ctx context.Context, judgeModel string, doc *types.GeneratedDocument, trial int) (*types.SingleEvalResult, error) {
	provider, model, err := types.ParseModelKey(judgeModel)
	if err != nil {
		return nil, err
	}

	deadline := j.timeout + judgeTimeoutHeadroom
	evalCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	prompt := j.renderPrompt(doc.Content)
	started := time.Now()

	var lastErr error
	for attempt := 0; attempt <= j.retries; attempt++ {
		if err := evalCtx.Err(); err != nil {
			return nil, fmt.Errorf("evaluation of %s by %s aborted: %w", doc.DocID, judgeModel, err)
		}
		j.logger.Debug("judge call",
			zap.String("doc_id", doc.DocID),
			zap.String("judge", judgeModel),
			zap.Int("trial", trial),
			zap.Int("attempt", attempt))

		result, err := j.caller.Generate(evalCtx, &llm.Request{
			Provider: provider,
			Model:    model,
			Query:    prompt,
			Timeout:  j.timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("judge call failed for %s: %w", doc.DocID, err)
		}

		scores, parseErr := j.parseVerdict(result.Content)
		if parseErr != nil {
			lastErr = parseErr
			j.logger.Warn("judge verdict unparseable, retrying",
				zap.String("doc_id", doc.DocID),
				zap.String("judge", judgeModel),
				zap.Int("attempt", attempt),
				zap.Error(parseErr))
			continue
		}

		return &types.SingleEvalResult{
			DocID:       doc.DocID,
			JudgeModel:  judgeModel,
			Trial:       trial,
			Scores:      scores,
			StartedAt:   started,
			CompletedAt: time.Now(),
			RawResponse: result.Content,
		}, nil
	}

	return nil, fmt.Errorf("judge %s produced no parseable verdict for %s after %d attempts: %w",
		judgeModel, doc.DocID, j.retries+1, lastErr)
}

// renderPrompt substitutes the document and rubric into the judge
// instructions. Both {document} and {content} name the graded text.
func (j *Judge) renderPrompt(content string) string {
	prompt := j.instructions
	prompt = strings.ReplaceAll(prompt, "{document}", content)
	prompt = strings.ReplaceAll(prompt, "{content}", content)
	prompt = strings.ReplaceAll(prompt, "{criteria}", renderRubric(j.criteria))
	return prompt
}

// renderRubric formats the criteria as the bullet list both judge prompts
// substitute for {criteria}.
func renderRubric(criteria []config.Criterion) string {
	var rubric strings.Builder
	for _, c := range criteria {
		rubric.WriteString("- ")
		rubric.WriteString(c.Name)
		if c.Description != "" {
			rubric.WriteString(": ")
			rubric.WriteString(c.Description)
		}
		rubric.WriteString("\n")
	}
	return rubric.String()
}

// parseVerdict extracts and checks the evaluations array: every rubric
// criterion graded exactly once, every score in 1..5.
func (j *Judge) parseVerdict(response string) ([]types.CriterionScore, error) {
	payload, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		// Some judges return the bare array without the wrapper object.
		if arrErr := json.Unmarshal([]byte(payload), &verdict.Evaluations); arrErr != nil {
			return nil, newParseError(fmt.Sprintf("unexpected verdict shape: %v", err), response)
		}
	}
	if len(verdict.Evaluations) == 0 {
		return nil, newParseError("verdict carried no evaluations", response)
	}

	graded := make(map[string]types.CriterionScore, len(verdict.Evaluations))
	for _, e := range verdict.Evaluations {
		if e.Score < 1 || e.Score > 5 {
			return nil, newParseError(
				fmt.Sprintf("score %d for %q outside 1..5", e.Score, e.Criterion), response)
		}
		if _, dup := graded[e.Criterion]; dup {
			return nil, newParseError("duplicate criterion "+e.Criterion, response)
		}
		graded[e.Criterion] = types.CriterionScore{
			Criterion: e.Criterion,
			Score:     e.Score,
			Reason:    e.Reason,
		}
	}

	scores := make([]types.CriterionScore, 0, len(j.criteria))
	for _, c := range j.criteria {
		score, ok := graded[c.Name]
		if !ok {
			return nil, newParseError("missing criterion "+c.Name, response)
		}
		scores = append(scores, score)
		delete(graded, c.Name)
	}
	if len(graded) > 0 {
		for name := range graded {
			return nil, newParseError("unknown criterion "+name, response)
		}
	}
	return scores, nil
}
