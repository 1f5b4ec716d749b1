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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairwiseComparePromptRendering(t *testing.T) {
	caller := &scriptedCaller{responses: []string{`{"winner": "A", "reason": "better sourced"}`}}
	j := NewPairwiseJudge(caller,
		"Compare A:\n{doc_a}\nagainst B:\n{doc_b}\non:\n{criteria}",
		testCriteria, 0, time.Minute, nil)

	result, err := j.Compare(context.Background(), "p:judge",
		testDoc("d1", "first draft"), testDoc("d2", "second draft"), 1)
	require.NoError(t, err)
	assert.Equal(t, "d1", result.WinnerDocID)

	// Both documents and the rendered rubric are substituted in.
	prompt := caller.requests[0].Query
	assert.Contains(t, prompt, "first draft")
	assert.Contains(t, prompt, "second draft")
	assert.Contains(t, prompt, "accuracy: factually correct")
	assert.Contains(t, prompt, "clarity: easy to follow")
	assert.NotContains(t, prompt, "{doc_a}")
	assert.NotContains(t, prompt, "{doc_b}")
	assert.NotContains(t, prompt, "{criteria}")
}

func TestPairwiseCompareMapsLabelB(t *testing.T) {
	caller := &scriptedCaller{responses: []string{`{"winner": "b", "reason": "clearer"}`}}
	j := NewPairwiseJudge(caller, "{doc_a} vs {doc_b}", nil, 0, time.Minute, nil)

	result, err := j.Compare(context.Background(), "p:judge",
		testDoc("d1", "x"), testDoc("d2", "y"), 1)
	require.NoError(t, err)
	assert.Equal(t, "d2", result.WinnerDocID)
	assert.Equal(t, 1, result.Trial)
}

func TestPairwiseCompareRejectsTie(t *testing.T) {
	caller := &scriptedCaller{responses: []string{`{"winner": "tie", "reason": "equal"}`}}
	j := NewPairwiseJudge(caller, "{doc_a} vs {doc_b}", nil, 0, time.Minute, nil)

	_, err := j.Compare(context.Background(), "p:judge",
		testDoc("d1", "x"), testDoc("d2", "y"), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parseable comparison")
}
