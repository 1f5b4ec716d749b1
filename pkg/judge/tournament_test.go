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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/teradata-labs/crucible/pkg/llm"
	"github.com/teradata-labs/crucible/pkg/types"
)

// qualityCaller prefers the document whose content contains "good",
// regardless of which slot it occupies. Slot-swap must not change outcomes.
type qualityCaller struct {
	mu    sync.Mutex
	calls int
}

func (c *qualityCaller) Generate(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	// The prompt interleaves both documents; slot A comes first.
	winner := "B"
	aStart := strings.Index(req.Query, "<<A:")
	bStart := strings.Index(req.Query, "<<B:")
	if aStart >= 0 && bStart >= 0 {
		slotA := req.Query[aStart:bStart]
		if strings.Contains(slotA, "good") {
			winner = "A"
		}
	}
	return &llm.Result{Content: fmt.Sprintf(`{"winner": %q, "reason": "quality"}`, winner)}, nil
}

func newTestTournament(caller Caller, iterations int) *Tournament {
	pj := NewPairwiseJudge(caller, "<<A:{doc_a}>> <<B:{doc_b}>>", nil, 1, time.Minute, nil)
	tour := NewTournament(pj, []string{"p:judge"}, iterations, semaphore.NewWeighted(4), false, nil)
	tour.SetSeed(42)
	return tour
}

func TestTournamentPositionInvariance(t *testing.T) {
	caller := &qualityCaller{}
	tour := newTestTournament(caller, 2)

	docs := []*types.GeneratedDocument{
		testDoc("doc-bad", "a bad draft"),
		testDoc("doc-good", "a good draft"),
		testDoc("doc-worse", "a worse draft"),
	}
	summary, err := tour.Run(context.Background(), docs)
	require.NoError(t, err)
	require.NotNil(t, summary)

	// 3 docs, 3 unordered pairs, 2 iterations, 1 judge.
	assert.Len(t, summary.Results, 6)
	assert.Equal(t, "doc-good", summary.WinnerDocID)
	assert.Equal(t, 4, summary.Ratings["doc-good"].Wins)
	assert.Zero(t, summary.Ratings["doc-good"].Losses)

	for _, r := range summary.Results {
		assert.Contains(t, []string{r.DocIDA, r.DocIDB}, r.WinnerDocID)
		assert.GreaterOrEqual(t, r.Trial, 1)
		assert.LessOrEqual(t, r.Trial, 2)
	}
}

func TestTournamentExcludesEmptyDocs(t *testing.T) {
	caller := &qualityCaller{}
	tour := newTestTournament(caller, 1)

	docs := []*types.GeneratedDocument{
		testDoc("doc-good", "a good draft"),
		testDoc("doc-empty", "   "),
		testDoc("doc-bad", "a bad draft"),
	}
	summary, err := tour.Run(context.Background(), docs)
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Len(t, summary.Results, 1)
	_, present := summary.Ratings["doc-empty"]
	assert.False(t, present)
}

func TestTournamentTooFewDocs(t *testing.T) {
	caller := &qualityCaller{}
	tour := newTestTournament(caller, 1)

	summary, err := tour.Run(context.Background(), []*types.GeneratedDocument{
		testDoc("only", "content"),
	})
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Zero(t, caller.calls)
}

func TestTournamentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tour := newTestTournament(&qualityCaller{}, 1)
	_, err := tour.Run(ctx, []*types.GeneratedDocument{
		testDoc("a", "x"), testDoc("b", "y"),
	})
	assert.Error(t, err)
}
