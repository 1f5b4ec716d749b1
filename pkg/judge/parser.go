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

// Package judge grades candidate documents with LLM judges: single-document
// rubric scoring, pairwise tournaments, and Elo standings.
package judge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports a judge response that could not be interpreted as the
// expected JSON shape. It keeps a truncated copy of the raw text for the
// failure record.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse judge response: %s", e.Reason)
}

func newParseError(reason, raw string) *ParseError {
	if len(raw) > 2000 {
		raw = raw[:2000] + "..."
	}
	return &ParseError{Reason: reason, Raw: raw}
}

// ExtractJSON pulls the JSON payload out of a judge response. Judges wrap
// their verdicts in prose and markdown fences, so extraction tries, in
// order: a ```json fenced block, any fenced block holding balanced JSON,
// and finally the first balanced object or array in the raw text.
func ExtractJSON(response string) (string, error) {
	if strings.TrimSpace(response) == "" {
		return "", newParseError("empty response", response)
	}

	if block, ok := fencedBlock(response, "```json"); ok {
		if payload, ok := firstBalanced(block); ok {
			return payload, nil
		}
	}
	if block, ok := fencedBlock(response, "```"); ok {
		if payload, ok := firstBalanced(block); ok {
			return payload, nil
		}
	}
	if payload, ok := firstBalanced(response); ok {
		return payload, nil
	}
	return "", newParseError("no JSON object or array found", response)
}

func fencedBlock(s, fence string) (string, bool) {
	start := strings.Index(s, fence)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// firstBalanced scans for the first balanced top-level JSON object or array,
// tracking string and escape state so braces inside strings do not count.
func firstBalanced(s string) (string, bool) {
	start := -1
	var open, close byte
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if start < 0 {
			if c == '{' {
				start, open, close = i, '{', '}'
				depth = 1
			} else if c == '[' {
				start, open, close = i, '[', ']'
				depth = 1
			}
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				// Keep scanning past an invalid candidate.
				start = -1
			}
		}
	}
	return "", false
}
