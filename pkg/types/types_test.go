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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelKey(t *testing.T) {
	provider, model, err := ParseModelKey("google:gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "google", provider)
	assert.Equal(t, "gemini-2.5-pro", model)

	// Only the first colon splits; model names may carry more.
	provider, model, err = ParseModelKey("openai:gpt-4o:latest")
	require.NoError(t, err)
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-4o:latest", model)

	for _, bad := range []string{"", "nomodel", ":model", "provider:"} {
		_, _, err := ParseModelKey(bad)
		assert.Error(t, err, "key %q should be rejected", bad)
	}
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "google_gemini-2.5-pro", SafeName("google:gemini-2.5-pro"))
	assert.Equal(t, "a_b_c_d_e", SafeName("a:b/c\\d e"))
	assert.Equal(t, "plain", SafeName("plain"))
}

func TestGeneratorKindValid(t *testing.T) {
	assert.True(t, GeneratorTemplate.Valid())
	assert.True(t, GeneratorResearcher.Valid())
	assert.True(t, GeneratorDeepResearcher.Valid())
	assert.False(t, GeneratorKind("gpt").Valid())
	assert.False(t, GeneratorKind("").Valid())
}

func TestAverageScore(t *testing.T) {
	r := &SingleEvalResult{Scores: []CriterionScore{
		{Criterion: "accuracy", Score: 5},
		{Criterion: "clarity", Score: 3},
		{Criterion: "depth", Score: 4},
	}}
	assert.InDelta(t, 4.0, r.AverageScore(), 1e-9)

	empty := &SingleEvalResult{}
	assert.Zero(t, empty.AverageScore())
}

func TestPhaseStatusTerminal(t *testing.T) {
	for _, s := range []PhaseStatus{PhaseCompleted, PhaseFailed, PhaseCancelled} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []PhaseStatus{PhasePending, PhaseGenerating, PhaseSingleEval, PhasePairwiseEval, PhaseCombining, PhasePostCombineEval} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestCallStats(t *testing.T) {
	s := NewCallStats()
	s.RecordCall()
	s.RecordCall()
	s.RecordSuccess()
	s.RecordFailure("boom")
	s.RecordRetry()
	s.SetPhase("generating")

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, int64(1), snap.Success)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.Retries)
	assert.Equal(t, "generating", snap.CurrentPhase)
	assert.Equal(t, "boom", snap.LastError)
}
