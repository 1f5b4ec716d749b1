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
	"strconv"
	"time"
)

// Deep research defaults. The recursive tree walk is slow, so the budget is
// far above the flat researcher's.
const (
	defaultDeepTimeout = 90 * time.Minute
	defaultDeepBreadth = 4
	defaultDeepDepth   = 2
)

// DeepResearcherConfig extends the researcher with recursion controls.
type DeepResearcherConfig struct {
	ResearcherConfig

	// Breadth is the number of sub-queries spawned per level.
	Breadth int

	// Depth is the recursion limit of the research tree.
	Depth int
}

// NewDeepResearcherGenerator creates a deep researcher: the same child
// protocol as the flat researcher, with report type "deep" and recursion
// parameters carried in the environment.
func NewDeepResearcherGenerator(cfg DeepResearcherConfig) (*ResearcherGenerator, error) {
	cfg.ReportType = "deep"
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDeepTimeout
	}
	if cfg.Breadth <= 0 {
		cfg.Breadth = defaultDeepBreadth
	}
	if cfg.Depth <= 0 {
		cfg.Depth = defaultDeepDepth
	}

	env := make(map[string]string, len(cfg.Env)+2)
	for k, v := range cfg.Env {
		env[k] = v
	}
	env["DEEP_RESEARCH_BREADTH"] = strconv.Itoa(cfg.Breadth)
	env["DEEP_RESEARCH_DEPTH"] = strconv.Itoa(cfg.Depth)
	cfg.ResearcherConfig.Env = env

	return NewResearcherGenerator(cfg.ResearcherConfig)
}
