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
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleAdapterRequest(t *testing.T) {
	a := &googleAdapter{}
	req, err := a.BuildRequest(context.Background(), &Request{
		Provider: "google", Model: "gemini-2.5-pro", Query: "q",
		Instructions: "sys", Timeout: time.Minute,
	}, "secret")
	require.NoError(t, err)

	assert.Contains(t, req.URL.String(), "/models/gemini-2.5-pro:generateContent")
	assert.Equal(t, "secret", req.Header.Get("x-goog-api-key"))

	body, _ := io.ReadAll(req.Body)
	assert.Contains(t, string(body), "google_search")
	assert.Contains(t, string(body), "systemInstruction")
}

func TestGoogleAdapterParseGrounding(t *testing.T) {
	a := &googleAdapter{}
	pr, err := a.ParseResponse([]byte(`{
		"candidates": [{
			"content": {"parts": [
				{"text": "thinking it through", "thought": true},
				{"text": "final answer"}
			]},
			"groundingMetadata": {
				"webSearchQueries": ["q1", "q2"],
				"groundingChunks": [{"web": {"uri": "https://a.example", "title": "A"}}]
			}
		}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 20, "totalTokenCount": 30}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "final answer", pr.Content)
	assert.Equal(t, "thinking it through", pr.Reasoning)
	assert.Equal(t, []string{"q1", "q2"}, pr.SearchQueries)
	assert.Equal(t, []string{"https://a.example"}, pr.Citations)
	assert.Equal(t, 30, pr.Usage.TotalTokens)

	v := ValidateResponse(pr)
	assert.True(t, v.GroundingPresent)
	assert.True(t, v.ReasoningPresent)
}

func TestGoogleAdapterMultiPartRationale(t *testing.T) {
	a := &googleAdapter{}
	pr, err := a.ParseResponse([]byte(`{
		"candidates": [{"content": {"parts": [
			{"text": "first the rationale"},
			{"text": "then the answer"}
		]}}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "then the answer", pr.Content)
	assert.Equal(t, "first the rationale", pr.Reasoning)
}

func TestAnthropicAdapterParseBlocks(t *testing.T) {
	a := &anthropicAdapter{}
	pr, err := a.ParseResponse([]byte(`{
		"content": [
			{"type": "thinking", "thinking": "weighing options"},
			{"type": "server_tool_use"},
			{"type": "web_search_tool_result", "content": [
				{"type": "web_search_result", "url": "https://b.example", "title": "B"}
			]},
			{"type": "text", "text": "the report"}
		],
		"usage": {"input_tokens": 5, "output_tokens": 7}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "the report", pr.Content)
	assert.Equal(t, "weighing options", pr.Reasoning)
	assert.Equal(t, 1, pr.ToolCallCount)
	assert.Equal(t, []string{"https://b.example"}, pr.Citations)
	assert.Equal(t, 12, pr.Usage.TotalTokens)
}

func TestAnthropicAdapterErrorPayload(t *testing.T) {
	a := &anthropicAdapter{}
	_, err := a.ParseResponse([]byte(`{"error": {"type": "authentication_error", "message": "bad key"}, "content": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication_error")
}

func TestAdapterRegistryFallback(t *testing.T) {
	r := NewAdapterRegistry()
	assert.Equal(t, "google", r.Adapter("google").Name())
	assert.Equal(t, "anthropic", r.Adapter("anthropic").Name())
	// Unknown providers speak the bearer protocol.
	assert.Equal(t, "openai", r.Adapter("perplexity").Name())
}
