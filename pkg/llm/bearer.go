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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const defaultBearerBaseURL = "https://api.openai.com/v1/chat/completions"

// bearerAdapter is the default provider family: OpenAI-compatible chat
// completions authenticated with Authorization: Bearer. It also understands
// the sources array a search-tool provider attaches to its payload.
type bearerAdapter struct {
	name    string
	baseURL string
}

func newBearerAdapter(name, baseURL string) *bearerAdapter {
	return &bearerAdapter{name: name, baseURL: baseURL}
}

// NewBearerAdapter creates an adapter for any OpenAI-compatible endpoint
// under a custom provider name.
func NewBearerAdapter(name, baseURL string) ProviderAdapter {
	return newBearerAdapter(name, baseURL)
}

func (a *bearerAdapter) Name() string { return a.name }

type bearerRequest struct {
	Model       string          `json:"model"`
	Messages    []bearerMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type bearerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bearerResponse struct {
	Choices []struct {
		Message struct {
			Content     string            `json:"content"`
			Reasoning   string            `json:"reasoning,omitempty"`
			ToolCalls   []json.RawMessage `json:"tool_calls,omitempty"`
			Annotations []struct {
				Type        string `json:"type"`
				URLCitation struct {
					URL   string `json:"url"`
					Title string `json:"title"`
				} `json:"url_citation"`
			} `json:"annotations,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Sources []Source `json:"sources,omitempty"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (a *bearerAdapter) BuildRequest(ctx context.Context, req *Request, apiKey string) (*http.Request, error) {
	var messages []bearerMessage
	if req.Instructions != "" {
		messages = append(messages, bearerMessage{Role: "system", Content: req.Instructions})
	}
	messages = append(messages, bearerMessage{Role: "user", Content: req.Query})

	body := bearerRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	return httpReq, nil
}

func (a *bearerAdapter) ParseResponse(body []byte) (*ProviderResponse, error) {
	var resp bearerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s: %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response carried no choices")
	}

	msg := resp.Choices[0].Message
	pr := &ProviderResponse{
		Content:       msg.Content,
		Reasoning:     msg.Reasoning,
		ToolCallCount: len(msg.ToolCalls),
		Sources:       resp.Sources,
		Raw:           string(body),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, ann := range msg.Annotations {
		if ann.Type == "url_citation" && ann.URLCitation.URL != "" {
			pr.Citations = append(pr.Citations, ann.URLCitation.URL)
		}
	}
	for _, src := range resp.Sources {
		if src.URL != "" {
			pr.Citations = append(pr.Citations, src.URL)
		}
	}

	return pr, nil
}
