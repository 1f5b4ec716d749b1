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

package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/crucible/pkg/types"
)

func TestNewResearcherGeneratorDefaults(t *testing.T) {
	g, err := NewResearcherGenerator(ResearcherConfig{ScriptPath: "/opt/researcher/main.py"})
	require.NoError(t, err)
	assert.Equal(t, types.GeneratorResearcher, g.Kind())
	assert.Equal(t, 30*time.Minute, g.cfg.Timeout)
	assert.Equal(t, "research_report", g.cfg.ReportType)

	_, err = NewResearcherGenerator(ResearcherConfig{})
	require.Error(t, err)
}

func TestNewResearcherGeneratorDeepKind(t *testing.T) {
	g, err := NewResearcherGenerator(ResearcherConfig{
		ScriptPath: "/opt/researcher/main.py",
		ReportType: "deep",
	})
	require.NoError(t, err)
	assert.Equal(t, types.GeneratorDeepResearcher, g.Kind())
}

func TestHandleLineFinalResult(t *testing.T) {
	g, err := NewResearcherGenerator(ResearcherConfig{ScriptPath: "x"})
	require.NoError(t, err)

	var final *researcherResult
	g.handleLine(`{"status": "ok", "content": "the report", "costs": 0.42, "visited_urls": ["https://example.com"]}`, &final)

	require.NotNil(t, final)
	assert.Equal(t, "ok", final.Status)
	assert.Equal(t, "the report", final.Content)
	assert.Equal(t, 0.42, final.Costs)
	assert.Equal(t, []string{"https://example.com"}, final.VisitedURLs)
}

func TestHandleLineProgress(t *testing.T) {
	g, err := NewResearcherGenerator(ResearcherConfig{ScriptPath: "x"})
	require.NoError(t, err)

	var stages []string
	g.cfg.Progress = func(stage string, progress float64, message string) {
		stages = append(stages, stage)
	}

	var final *researcherResult
	g.handleLine(`{"stage": "browsing", "progress": 0.3, "message": "visiting sources"}`, &final)
	g.handleLine(`{"stage": "writing", "progress": 0.8, "message": "drafting"}`, &final)

	assert.Nil(t, final)
	assert.Equal(t, []string{"browsing", "writing"}, stages)
}

func TestHandleLineIgnoresChatter(t *testing.T) {
	g, err := NewResearcherGenerator(ResearcherConfig{ScriptPath: "x"})
	require.NoError(t, err)

	var final *researcherResult
	g.handleLine("INFO retriever warmed up", &final)
	g.handleLine("", &final)
	g.handleLine(`{"unrelated": true}`, &final)
	g.handleLine(`{not even json`, &final)

	assert.Nil(t, final)
}

func TestHandleLineFailureResult(t *testing.T) {
	g, err := NewResearcherGenerator(ResearcherConfig{ScriptPath: "x"})
	require.NoError(t, err)

	var final *researcherResult
	g.handleLine(`{"status": "error", "error": "rate limit hit", "traceback": "Traceback..."}`, &final)

	require.NotNil(t, final)
	assert.Equal(t, "error", final.Status)
	assert.Equal(t, "rate limit hit", final.Error)
}

func TestMergeEnvOverlayWins(t *testing.T) {
	merged := mergeEnv(
		map[string]string{"SMART_LLM": "openai:gpt-4o", "RETRIEVER": "tavily"},
		map[string]string{"SMART_LLM": "google:gemini-2.5-pro"},
	)
	assert.Equal(t, "google:gemini-2.5-pro", merged["SMART_LLM"])
	assert.Equal(t, "tavily", merged["RETRIEVER"])
}

func TestEnvListSkipsParentKeys(t *testing.T) {
	t.Setenv("CRUCIBLE_ENVLIST_SET", "operator")

	out := envList(map[string]string{
		"CRUCIBLE_ENVLIST_SET":     "child",
		"CRUCIBLE_ENVLIST_ABSENT_": "kept",
	})

	assert.NotContains(t, out, "CRUCIBLE_ENVLIST_SET=child")
	assert.Contains(t, out, "CRUCIBLE_ENVLIST_ABSENT_=kept")
}

func TestRoutingEnvFromRequest(t *testing.T) {
	env := routingEnv(&Request{Provider: "google", Model: "gemini-2.5-pro", MaxOutputTokens: 8192})

	for _, key := range []string{"SMART_LLM", "FAST_LLM", "STRATEGIC_LLM"} {
		assert.Equal(t, "google:gemini-2.5-pro", env[key], key)
	}
	for _, key := range []string{"SMART_TOKEN_LIMIT", "FAST_TOKEN_LIMIT", "STRATEGIC_TOKEN_LIMIT"} {
		assert.Equal(t, "8192", env[key], key)
	}
}

func TestRoutingEnvPartialRequest(t *testing.T) {
	// No model means no routing keys; no token cap means no limit keys.
	assert.Empty(t, routingEnv(&Request{}))
	assert.Empty(t, routingEnv(&Request{Provider: "google"}))

	env := routingEnv(&Request{MaxOutputTokens: 100})
	assert.NotContains(t, env, "SMART_LLM")
	assert.Equal(t, "100", env["SMART_TOKEN_LIMIT"])
}

func TestRoutingEnvYieldsToConfiguredEnv(t *testing.T) {
	// Generator config and per-request env override the derived routing.
	merged := mergeEnv(
		routingEnv(&Request{Provider: "google", Model: "gemini-2.5-pro"}),
		map[string]string{"SMART_LLM": "openai:o3"},
	)
	assert.Equal(t, "openai:o3", merged["SMART_LLM"])
	assert.Equal(t, "google:gemini-2.5-pro", merged["FAST_LLM"])
}
