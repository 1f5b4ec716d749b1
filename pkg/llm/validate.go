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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// Validation is the outcome of the strict response check. The system
// requires both signals: evidence of external retrieval and an extractable
// model rationale.
type Validation struct {
	GroundingPresent bool
	ReasoningPresent bool
}

// ValidateResponse inspects the normalised provider payload for the two
// mandatory signals. The grounding check is an OR over provider-family
// signals, not a universal predicate.
func ValidateResponse(pr *ProviderResponse) Validation {
	v := Validation{}

	switch {
	case pr.ToolCallCount > 0:
		v.GroundingPresent = true
	case len(pr.Citations) > 0:
		v.GroundingPresent = true
	case len(pr.SearchQueries) > 0:
		v.GroundingPresent = true
	case len(pr.Sources) > 0:
		v.GroundingPresent = true
	case strings.Contains(pr.Content, "http://") || strings.Contains(pr.Content, "https://"):
		// Any output block carrying a URL counts as a named source.
		v.GroundingPresent = true
	}

	v.ReasoningPresent = strings.TrimSpace(pr.Reasoning) != ""
	return v
}

// validationKind maps a failed Validation to its error classification, or
// returns false when the response passed.
func (v Validation) validationKind() (Kind, bool) {
	switch {
	case !v.GroundingPresent && !v.ReasoningPresent:
		return KindMissingBoth, true
	case !v.GroundingPresent:
		return KindMissingGrounding, true
	case !v.ReasoningPresent:
		return KindMissingReasoning, true
	}
	return 0, false
}

// failureArtifact is the post-mortem record written for every validation
// failure.
type failureArtifact struct {
	Provider           string         `json:"provider"`
	URL                string         `json:"url"`
	Timestamp          string         `json:"timestamp"`
	Error              string         `json:"error"`
	ValidationCategory string         `json:"validation_category"`
	MissingGrounding   bool           `json:"missing_grounding"`
	MissingReasoning   bool           `json:"missing_reasoning"`
	ResponseSummary    map[string]any `json:"response_summary"`
}

// WriteFailureArtifact writes a validation failure record under
// <dataDir>/logs/failure-<UTC-compact>-<provider>-grounding.json.
func WriteFailureArtifact(dataDir, provider, url string, kind Kind, v Validation, pr *ProviderResponse, logger *zap.Logger) {
	if dataDir == "" {
		return
	}
	dir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create failure artifact dir", zap.Error(err))
		return
	}

	summary := map[string]any{
		"content_length":  len(pr.Content),
		"tool_call_count": pr.ToolCallCount,
		"citations":       len(pr.Citations),
		"search_queries":  len(pr.SearchQueries),
		"sources":         len(pr.Sources),
		"has_reasoning":   strings.TrimSpace(pr.Reasoning) != "",
	}

	artifact := failureArtifact{
		Provider:           provider,
		URL:                url,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		Error:              fmt.Sprintf("response validation failed: %s", kind),
		ValidationCategory: kind.String(),
		MissingGrounding:   !v.GroundingPresent,
		MissingReasoning:   !v.ReasoningPresent,
		ResponseSummary:    summary,
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		logger.Warn("failed to marshal failure artifact", zap.Error(err))
		return
	}

	name := fmt.Sprintf("failure-%s-%s-grounding.json",
		time.Now().UTC().Format("20060102T150405Z"), provider)
	path := filepath.Join(dir, name)
	if err := atomic.WriteFile(path, strings.NewReader(string(data))); err != nil {
		logger.Warn("failed to write failure artifact", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("validation failure artifact written", zap.String("path", path))
}
