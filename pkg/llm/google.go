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
	"strings"
)

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// googleAdapter speaks the Gemini generateContent API with search grounding
// enabled. Auth is the x-goog-api-key header.
type googleAdapter struct{}

func (a *googleAdapter) Name() string { return "google" }

type googleRequest struct {
	Contents          []googleContent        `json:"contents"`
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  googleGenerationConfig `json:"generationConfig"`
	Tools             []googleTool           `json:"tools,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type googleGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type googleTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata *struct {
			WebSearchQueries []string `json:"webSearchQueries"`
			GroundingChunks  []struct {
				Web struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
			GroundingSupports []json.RawMessage `json:"groundingSupports"`
			SearchEntryPoint  *struct {
				RenderedContent string `json:"renderedContent"`
			} `json:"searchEntryPoint"`
		} `json:"groundingMetadata"`
		CitationMetadata *struct {
			CitationSources []struct {
				URI string `json:"uri"`
			} `json:"citationSources"`
		} `json:"citationMetadata"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *googleAdapter) BuildRequest(ctx context.Context, req *Request, apiKey string) (*http.Request, error) {
	body := googleRequest{
		Contents: []googleContent{
			{Role: "user", Parts: []googlePart{{Text: req.Query}}},
		},
		GenerationConfig: googleGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
		},
		Tools: []googleTool{{GoogleSearch: &struct{}{}}},
	}
	if req.Instructions != "" {
		body.SystemInstruction = &googleContent{Parts: []googlePart{{Text: req.Instructions}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", googleBaseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)
	return httpReq, nil
}

func (a *googleAdapter) ParseResponse(body []byte) (*ProviderResponse, error) {
	var resp googleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s (code: %d)", resp.Error.Message, resp.Error.Code)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("response carried no candidates")
	}

	candidate := resp.Candidates[0]
	pr := &ProviderResponse{
		Raw: string(body),
		Usage: Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}

	// Thought parts carry the model rationale; with no thought flag, a
	// multi-part answer puts rationale in the earlier parts.
	var answerParts []string
	for _, part := range candidate.Content.Parts {
		if part.Thought {
			pr.Reasoning += part.Text
			continue
		}
		answerParts = append(answerParts, part.Text)
	}
	if pr.Reasoning == "" && len(answerParts) > 1 {
		pr.Reasoning = strings.Join(answerParts[:len(answerParts)-1], "\n")
		answerParts = answerParts[len(answerParts)-1:]
	}
	pr.Content = strings.Join(answerParts, "")

	if gm := candidate.GroundingMetadata; gm != nil {
		pr.SearchQueries = gm.WebSearchQueries
		for _, chunk := range gm.GroundingChunks {
			if chunk.Web.URI != "" {
				pr.Citations = append(pr.Citations, chunk.Web.URI)
				pr.Sources = append(pr.Sources, Source{URL: chunk.Web.URI, Title: chunk.Web.Title})
			}
		}
		if len(gm.GroundingSupports) > 0 && pr.Reasoning == "" {
			// Grounding supports double as a rationale signal for this family.
			pr.Reasoning = fmt.Sprintf("grounded by %d supports", len(gm.GroundingSupports))
		}
	}
	if cm := candidate.CitationMetadata; cm != nil {
		for _, src := range cm.CitationSources {
			if src.URI != "" {
				pr.Citations = append(pr.Citations, src.URI)
			}
		}
	}

	return pr, nil
}
