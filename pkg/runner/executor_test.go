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

package runner

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/crucible/pkg/config"
	"github.com/teradata-labs/crucible/pkg/llm"
	"github.com/teradata-labs/crucible/pkg/ratelimit"
	"github.com/teradata-labs/crucible/pkg/store"
	"github.com/teradata-labs/crucible/pkg/types"
)

const groundedResponse = `{
	"choices": [{
		"message": {
			"content": "The report, grounded.",
			"reasoning": "Weighed the sources.",
			"annotations": [{"type": "url_citation", "url_citation": {"url": "https://example.com"}}]
		}
	}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
}`

const gradedResponse = `{
	"choices": [{"message": {"content": "{\"evaluations\": [{\"criterion\": \"accuracy\", \"score\": 4, \"reason\": \"fine\"}]}"}}]
}`

// testExecutor routes provider "p" at the given test server.
func testExecutor(t *testing.T, dataDir, providerURL string) *Executor {
	t.Helper()
	st, err := store.Open(dataDir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	adapters := llm.NewAdapterRegistry()
	adapters.Register(llm.NewBearerAdapter("p", providerURL))

	exec, err := NewExecutor(Options{
		Store:    st,
		Bus:      store.NewBus(nil),
		Limiter:  ratelimit.NewRegistry(map[string]ratelimit.Limits{"p": {MinDelay: 0}}, nil),
		APIKeys:  map[string]string{"p": "test-key"},
		Adapters: adapters,
	})
	require.NoError(t, err)
	return exec
}

func minimalConfig(dataDir string) *config.RunConfig {
	return &config.RunConfig{
		SourceDocs: []types.SourceDoc{{ID: "s1", Body: "text"}},
		Generators: []types.GeneratorKind{types.GeneratorTemplate},
		GeneratorModels: map[types.GeneratorKind][]string{
			types.GeneratorTemplate: {"p:m"},
		},
		Instructions:          "write",
		Iterations:            1,
		Retry:                 config.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		GenerationConcurrency: 1,
		EvalConcurrency:       1,
		RequestTimeout:        5 * time.Second,
		DataDir:               dataDir,
		UserID:                "u1",
	}
}

func TestExecuteRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	exec := testExecutor(t, dir, "http://localhost:0")
	_, err := exec.Execute(context.Background(), &config.RunConfig{})
	require.Error(t, err)

	var ve *config.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestExecuteCompletesRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(groundedResponse))
	}))
	defer srv.Close()

	dir := t.TempDir()
	exec := testExecutor(t, dir, srv.URL)

	run, err := exec.Execute(context.Background(), minimalConfig(dir))
	require.NoError(t, err)

	assert.Equal(t, types.RunCompleted, run.Status)
	result := run.Results["s1"]
	require.NotNil(t, result)
	assert.Equal(t, types.PhaseCompleted, result.Status)
	require.Len(t, result.GeneratedDocs, 1)
	assert.Equal(t, "The report, grounded.", result.GeneratedDocs[0].Content)

	assert.Greater(t, run.Stats.Total, int64(0))
	assert.Equal(t, run.Stats.Success, run.Stats.Total)

	record, err := exec.opts.Store.GetRun(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, record.Status)
	require.NotNil(t, record.Run)
}

func TestExecuteWithEvalPersistsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(groundedResponse))
	}))
	defer srv.Close()
	judgeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gradedResponse))
	}))
	defer judgeSrv.Close()

	dir := t.TempDir()
	st, err := store.Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	adapters := llm.NewAdapterRegistry()
	adapters.Register(llm.NewBearerAdapter("p", srv.URL))
	adapters.Register(llm.NewBearerAdapter("jp", judgeSrv.URL))

	exec, err := NewExecutor(Options{
		Store:    st,
		Limiter:  ratelimit.NewRegistry(map[string]ratelimit.Limits{"p": {}, "jp": {}}, nil),
		APIKeys:  map[string]string{"p": "k", "jp": "k"},
		Adapters: adapters,
	})
	require.NoError(t, err)

	cfg := minimalConfig(dir)
	cfg.Eval = config.EvalConfig{
		Enabled:      true,
		Iterations:   1,
		JudgeModels:  []string{"jp:judge"},
		Instructions: "grade {document} against {criteria}",
		Criteria:     []config.Criterion{{Name: "accuracy"}},
	}

	run, err := exec.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, run.Status)

	result := run.Results["s1"]
	require.Len(t, result.SingleEvals, 1)

	record, err := st.GetRun(context.Background(), run.RunID)
	require.NoError(t, err)
	require.Len(t, record.Evals, 1)
	assert.Equal(t, "jp:judge", record.Evals[0].JudgeModel)
}

const pairwiseResponse = `{
	"choices": [{"message": {"content": "{\"winner\": \"A\", \"reason\": \"better in slot\"}"}}]
}`

func TestExecutePairwisePlaysConfiguredIterations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(groundedResponse))
	}))
	defer srv.Close()

	var pairwiseCalls atomic.Int64
	var pairwiseBody atomic.Value
	judgeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "SLOT A") {
			pairwiseCalls.Add(1)
			pairwiseBody.Store(string(body))
			w.Write([]byte(pairwiseResponse))
			return
		}
		w.Write([]byte(gradedResponse))
	}))
	defer judgeSrv.Close()

	dir := t.TempDir()
	st, err := store.Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	adapters := llm.NewAdapterRegistry()
	adapters.Register(llm.NewBearerAdapter("p", srv.URL))
	adapters.Register(llm.NewBearerAdapter("jp", judgeSrv.URL))

	exec, err := NewExecutor(Options{
		Store:    st,
		Limiter:  ratelimit.NewRegistry(map[string]ratelimit.Limits{"p": {}, "jp": {}}, nil),
		APIKeys:  map[string]string{"p": "k", "jp": "k"},
		Adapters: adapters,
	})
	require.NoError(t, err)

	cfg := minimalConfig(dir)
	cfg.GeneratorModels[types.GeneratorTemplate] = []string{"p:m1", "p:m2"}
	cfg.Eval = config.EvalConfig{
		Enabled:              true,
		Iterations:           3,
		JudgeModels:          []string{"jp:judge"},
		Instructions:         "grade {document} against {criteria}",
		PairwiseInstructions: "SLOT A: {doc_a} SLOT B: {doc_b} RUBRIC: {criteria}",
		Criteria:             []config.Criterion{{Name: "accuracy"}},
	}
	cfg.Pairwise = config.PairwiseConfig{Enabled: true}

	run, err := exec.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, run.Status)

	// One pair, one judge model, three trials each.
	assert.Equal(t, int64(3), pairwiseCalls.Load())

	// The comparison prompt carries the rendered rubric.
	body, _ := pairwiseBody.Load().(string)
	assert.Contains(t, body, "- accuracy")

	result := run.Results["s1"]
	require.NotNil(t, result.Pairwise)
	assert.NotEmpty(t, result.Pairwise.WinnerDocID)
}

func TestExecuteWritesRunLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(groundedResponse))
	}))
	defer srv.Close()

	dir := t.TempDir()
	exec := testExecutor(t, dir, srv.URL)

	run, err := exec.Execute(context.Background(), minimalConfig(dir))
	require.NoError(t, err)

	logPath := filepath.Join(dir, "user_u1", "runs", run.RunID, "logs", "run.log")
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExecuteFailedDocDoesNotFailRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	dir := t.TempDir()
	exec := testExecutor(t, dir, srv.URL)

	run, err := exec.Execute(context.Background(), minimalConfig(dir))
	require.NoError(t, err)
	require.NotNil(t, run)

	result := run.Results["s1"]
	require.NotNil(t, result)
	assert.Equal(t, types.PhaseFailed, result.Status)
	assert.NotEmpty(t, result.Errors)
}

func TestCancelFlagResetsPerRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(groundedResponse))
	}))
	defer srv.Close()

	dir := t.TempDir()
	exec := testExecutor(t, dir, srv.URL)
	exec.Cancel()
	assert.True(t, exec.cancelled.Load())

	run, err := exec.Execute(context.Background(), minimalConfig(dir))
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
}
