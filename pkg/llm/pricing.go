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
	"fmt"
	"os"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ModelRate prices one model in USD per million tokens.
type ModelRate struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// Pricing attributes per-call cost from a provider/model rate table. When a
// provider omits token counts the text is tokenised locally to estimate
// them.
type Pricing struct {
	mu     sync.RWMutex
	rates  map[string]map[string]ModelRate
	logger *zap.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewPricing creates a pricing table.
func NewPricing(rates map[string]map[string]ModelRate, logger *zap.Logger) *Pricing {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rates == nil {
		rates = map[string]map[string]ModelRate{}
	}
	return &Pricing{rates: rates, logger: logger}
}

// LoadPricingFile reads a YAML rate table keyed provider then model.
func LoadPricingFile(path string, logger *zap.Logger) (*Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	var rates map[string]map[string]ModelRate
	if err := yaml.Unmarshal(data, &rates); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file %s: %w", path, err)
	}
	return NewPricing(rates, logger), nil
}

// Rate looks up the rate for a provider/model pair.
func (p *Pricing) Rate(provider, model string) (ModelRate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	models, ok := p.rates[provider]
	if !ok {
		return ModelRate{}, false
	}
	rate, ok := models[model]
	return rate, ok
}

// Cost computes the USD cost of one call. Missing token counts fall back to
// a local tokenisation of the prompt and completion text; unknown models
// cost zero and log a warning.
func (p *Pricing) Cost(provider, model string, usage Usage, prompt, completion string) float64 {
	rate, ok := p.Rate(provider, model)
	if !ok {
		p.logger.Warn("no pricing for model, reporting zero cost",
			zap.String("provider", provider),
			zap.String("model", model))
		return 0
	}

	promptTokens := usage.PromptTokens
	completionTokens := usage.CompletionTokens
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens = p.countTokens(prompt)
		completionTokens = p.countTokens(completion)
	}

	return float64(promptTokens)/1e6*rate.InputPerMTok +
		float64(completionTokens)/1e6*rate.OutputPerMTok
}

// countTokens estimates a token count with the cl100k_base encoding,
// falling back to a bytes/4 heuristic if the encoder cannot load.
func (p *Pricing) countTokens(text string) int {
	p.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			p.logger.Warn("failed to load token encoder", zap.Error(err))
			return
		}
		p.enc = enc
	})
	if p.enc == nil {
		return len(text) / 4
	}
	return len(p.enc.Encode(text, nil, nil))
}
