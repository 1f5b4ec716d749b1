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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/pkg/ratelimit"
	"github.com/teradata-labs/crucible/pkg/types"
)

// TemplateConfig configures the template generator.
type TemplateConfig struct {
	// Adapters maps provider names to wire implementations.
	Adapters *AdapterRegistry

	// APIKeys holds one key per provider name.
	APIKeys map[string]string

	// Limiter is the shared per-provider rate registry. Required.
	Limiter *ratelimit.Registry

	// Pricing attributes per-call cost. Optional; nil reports zero cost.
	Pricing *Pricing

	Retry  RetryPolicy
	Stats  *types.CallStats
	Logger *zap.Logger

	// DataDir is where validation failure artifacts land.
	DataDir string

	// SkipValidation disables the grounding and reasoning check. Judge
	// calls grade existing text and never retrieve, so they set this.
	SkipValidation bool

	// EnginePath switches the generator to subprocess mode: the external
	// template engine binary makes the provider call and classifies
	// validation failures through its exit code.
	EnginePath string

	// EngineLogPath receives the subprocess stdout/stderr when set.
	EngineLogPath string

	HTTPClient *http.Client
}

// TemplateGenerator is the inline template runner: a direct provider HTTP
// call through the adapter registry with strict grounding and reasoning
// validation. With EnginePath set it delegates to the external engine
// instead.
type TemplateGenerator struct {
	cfg    TemplateConfig
	client *http.Client
	logger *zap.Logger
}

// NewTemplateGenerator creates the template generator.
func NewTemplateGenerator(cfg TemplateConfig) (*TemplateGenerator, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter registry required")
	}
	if cfg.Adapters == nil {
		cfg.Adapters = NewAdapterRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &TemplateGenerator{cfg: cfg, client: client, logger: cfg.Logger}, nil
}

// Kind identifies the backend.
func (g *TemplateGenerator) Kind() types.GeneratorKind { return types.GeneratorTemplate }

// Generate runs one template generation. Transient provider errors are
// retried with exponential backoff and full jitter; validation failures are
// not retried and produce a failure artifact.
func (g *TemplateGenerator) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	result, err := withRetry(ctx, g.cfg.Retry, g.cfg.Stats, g.logger, func(ctx context.Context) (*Result, error) {
		if err := g.cfg.Limiter.Acquire(ctx, req.Provider); err != nil {
			return nil, NewCallError(KindCancelled, req.Provider, err)
		}
		defer g.cfg.Limiter.Release(req.Provider)

		if g.cfg.EnginePath != "" {
			return g.runEngine(ctx, req)
		}
		return g.callInline(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (g *TemplateGenerator) callInline(ctx context.Context, req *Request) (*Result, error) {
	adapter := g.cfg.Adapters.Adapter(req.Provider)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := adapter.BuildRequest(callCtx, req, g.cfg.APIKeys[req.Provider])
	if err != nil {
		return nil, NewCallError(KindFatal, req.Provider, err)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, NewCallError(KindTransient, req.Provider,
				fmt.Errorf("request timed out after %s", timeout))
		}
		return nil, NewCallError(KindTransient, req.Provider, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewCallError(KindTransient, req.Provider, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		kind := KindFatal
		switch resp.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			kind = KindTransient
		}
		return nil, NewCallError(kind, req.Provider,
			fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 500)))
	}

	pr, err := adapter.ParseResponse(body)
	if err != nil {
		return nil, NewCallError(KindFatal, req.Provider, err)
	}

	validation := ValidateResponse(pr)
	if kind, failed := validation.validationKind(); failed && !g.cfg.SkipValidation {
		WriteFailureArtifact(g.cfg.DataDir, req.Provider, httpReq.URL.String(), kind, validation, pr, g.logger)
		return nil, NewCallError(kind, req.Provider,
			fmt.Errorf("response validation failed: grounding=%t reasoning=%t",
				validation.GroundingPresent, validation.ReasoningPresent))
	}

	if strings.TrimSpace(pr.Content) == "" {
		return nil, NewCallError(KindEmptyContent, req.Provider,
			fmt.Errorf("provider returned empty content"))
	}

	cost := 0.0
	if g.cfg.Pricing != nil {
		cost = g.cfg.Pricing.Cost(req.Provider, req.Model, pr.Usage, req.Query, pr.Content)
	}

	return &Result{
		Content: pr.Content,
		CostUSD: cost,
		Status:  "ok",
		Usage:   pr.Usage,
		Raw:     pr.Raw,
		Metadata: map[string]any{
			"provider":       req.Provider,
			"model":          req.Model,
			"citations":      len(pr.Citations),
			"search_queries": len(pr.SearchQueries),
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
