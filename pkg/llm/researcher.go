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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/pkg/ratelimit"
	"github.com/teradata-labs/crucible/pkg/types"
)

// ResearcherConfig configures the researcher subprocess generator.
type ResearcherConfig struct {
	// ScriptPath is the researcher entrypoint. Required.
	ScriptPath string

	// Interpreter runs the script; empty means execute ScriptPath directly.
	Interpreter string

	// Timeout bounds one research run. Zero means 30 minutes.
	Timeout time.Duration

	// ReportType is passed to the child; the deep researcher overrides it.
	ReportType string

	// Env carries model routing and retriever settings (SMART_LLM,
	// FAST_LLM, STRATEGIC_LLM, RETRIEVER). Keys already present in the
	// parent environment are never overwritten.
	Env map[string]string

	Limiter  *ratelimit.Registry
	Provider string
	Retry    RetryPolicy
	Stats    *types.CallStats
	Logger   *zap.Logger
	Progress ProgressFunc
}

// ResearcherGenerator runs the external multi-step research agent as a
// child process. The child streams JSON progress lines on stdout and ends
// with a single JSON result line.
type ResearcherGenerator struct {
	cfg  ResearcherConfig
	kind types.GeneratorKind
}

// researcherResult is the final stdout line of a research run.
type researcherResult struct {
	Status      string   `json:"status"`
	Content     string   `json:"content"`
	Costs       float64  `json:"costs"`
	Context     string   `json:"context"`
	VisitedURLs []string `json:"visited_urls"`
	Error       string   `json:"error,omitempty"`
	Traceback   string   `json:"traceback,omitempty"`
}

// researcherProgress is one streamed progress line.
type researcherProgress struct {
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// NewResearcherGenerator creates a researcher generator.
func NewResearcherGenerator(cfg ResearcherConfig) (*ResearcherGenerator, error) {
	if cfg.ScriptPath == "" {
		return nil, fmt.Errorf("researcher script path required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.ReportType == "" {
		cfg.ReportType = "research_report"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	kind := types.GeneratorResearcher
	if cfg.ReportType == "deep" {
		kind = types.GeneratorDeepResearcher
	}
	return &ResearcherGenerator{cfg: cfg, kind: kind}, nil
}

// Kind identifies the backend.
func (g *ResearcherGenerator) Kind() types.GeneratorKind { return g.kind }

// Generate runs one research task to completion, retrying transient
// failures the same way the template path does.
func (g *ResearcherGenerator) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	result, err := withRetry(ctx, g.cfg.Retry, g.cfg.Stats, g.cfg.Logger, func(ctx context.Context) (*Result, error) {
		if g.cfg.Limiter != nil && g.cfg.Provider != "" {
			if err := g.cfg.Limiter.Acquire(ctx, g.cfg.Provider); err != nil {
				return nil, NewCallError(KindCancelled, g.cfg.Provider, err)
			}
			defer g.cfg.Limiter.Release(g.cfg.Provider)
		}
		return g.runOnce(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (g *ResearcherGenerator) runOnce(ctx context.Context, req *Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"--query", req.Query,
		"--report-type", g.cfg.ReportType,
	}
	if req.Instructions != "" {
		args = append(args, "--instructions", req.Instructions)
	}

	var cmd *exec.Cmd
	if g.cfg.Interpreter != "" {
		cmd = exec.Command(g.cfg.Interpreter, append([]string{g.cfg.ScriptPath}, args...)...)
	} else {
		cmd = exec.Command(g.cfg.ScriptPath, args...)
	}
	cmd.Env = append(os.Environ(), envList(mergeEnv(routingEnv(req), mergeEnv(g.cfg.Env, req.Env)))...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewCallError(KindFatal, g.cfg.Provider, fmt.Errorf("failed to open stdout pipe: %w", err))
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, NewCallError(KindFatal, g.cfg.Provider, fmt.Errorf("failed to start researcher: %w", err))
	}
	g.cfg.Logger.Info("researcher started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("report_type", g.cfg.ReportType))

	lines := make(chan string, 16)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var final *researcherResult
stream:
	for {
		select {
		case <-runCtx.Done():
			stopProcess(cmd, done, g.cfg.Logger)
			if ctx.Err() != nil {
				return nil, NewCallError(KindCancelled, g.cfg.Provider, ctx.Err())
			}
			return nil, NewCallError(KindTransient, g.cfg.Provider,
				fmt.Errorf("researcher timed out after %s", timeout))
		case line, ok := <-lines:
			if !ok {
				break stream
			}
			g.handleLine(line, &final)
		}
	}

	waitErr := <-done
	if err := <-scanErr; err != nil {
		g.cfg.Logger.Warn("researcher stdout scan failed", zap.Error(err))
	}

	if final == nil {
		if waitErr != nil {
			return nil, NewCallError(KindTransient, g.cfg.Provider,
				fmt.Errorf("researcher exited without a result: %w (stderr: %s)", waitErr, truncate(stderr.String(), 500)))
		}
		return nil, NewCallError(KindTransient, g.cfg.Provider,
			fmt.Errorf("researcher produced no result line"))
	}

	if final.Status != "ok" {
		msg := final.Error
		if msg == "" {
			msg = "researcher reported failure"
		}
		if final.Traceback != "" {
			g.cfg.Logger.Debug("researcher traceback", zap.String("traceback", final.Traceback))
		}
		return nil, NewCallError(KindOf(fmt.Errorf("%s", msg)), g.cfg.Provider, fmt.Errorf("%s", msg))
	}
	if strings.TrimSpace(final.Content) == "" {
		return nil, NewCallError(KindEmptyContent, g.cfg.Provider,
			fmt.Errorf("researcher returned empty content"))
	}

	return &Result{
		Content: final.Content,
		CostUSD: final.Costs,
		Status:  final.Status,
		Metadata: map[string]any{
			"report_type":    g.cfg.ReportType,
			"visited_urls":   final.VisitedURLs,
			"context_length": len(final.Context),
		},
	}, nil
}

// handleLine interprets one stdout line: a progress record, the final
// result, or free-form child chatter.
func (g *ResearcherGenerator) handleLine(line string, final **researcherResult) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return
	}

	var result researcherResult
	if err := json.Unmarshal([]byte(trimmed), &result); err == nil && result.Status != "" {
		*final = &result
		return
	}

	var progress researcherProgress
	if err := json.Unmarshal([]byte(trimmed), &progress); err == nil && progress.Stage != "" {
		g.cfg.Logger.Debug("researcher progress",
			zap.String("stage", progress.Stage),
			zap.Float64("progress", progress.Progress),
			zap.String("message", progress.Message))
		if g.cfg.Progress != nil {
			g.cfg.Progress(progress.Stage, progress.Progress, progress.Message)
		}
	}
}

// routingEnv derives the child's model routing from the request: the
// configured model key drives all three LLM roles and its output cap drives
// the matching token limits. Generator config and request env override
// these, and envList drops anything the operator already set in the parent
// environment.
func routingEnv(req *Request) map[string]string {
	env := map[string]string{}
	if req.Provider != "" && req.Model != "" {
		key := req.Provider + ":" + req.Model
		env["SMART_LLM"] = key
		env["FAST_LLM"] = key
		env["STRATEGIC_LLM"] = key
	}
	if req.MaxOutputTokens > 0 {
		limit := strconv.Itoa(req.MaxOutputTokens)
		env["SMART_TOKEN_LIMIT"] = limit
		env["FAST_TOKEN_LIMIT"] = limit
		env["STRATEGIC_TOKEN_LIMIT"] = limit
	}
	return env
}

// mergeEnv overlays req-level values on the generator defaults.
func mergeEnv(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
