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

// Package runner executes complete runs: one pipeline per source document,
// sharing rate gates, concurrency budgets, and call statistics across the
// whole run.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/teradata-labs/crucible/pkg/config"
	"github.com/teradata-labs/crucible/pkg/judge"
	"github.com/teradata-labs/crucible/pkg/llm"
	"github.com/teradata-labs/crucible/pkg/pipeline"
	"github.com/teradata-labs/crucible/pkg/ratelimit"
	"github.com/teradata-labs/crucible/pkg/store"
	"github.com/teradata-labs/crucible/pkg/types"
)

// Options wires an Executor to its environment.
type Options struct {
	Store   *store.Store
	Bus     *store.Bus
	Limiter *ratelimit.Registry
	APIKeys map[string]string
	Pricing *llm.Pricing

	// Adapters overrides the built-in provider registry.
	Adapters *llm.AdapterRegistry

	// ResearcherScript and ResearcherInterpreter configure the external
	// research agent; empty disables the researcher generator kinds.
	ResearcherScript      string
	ResearcherInterpreter string

	// TemplateEngine switches template generation to subprocess mode.
	TemplateEngine string

	Logger *zap.Logger
}

// Executor runs one configured run at a time per instance.
type Executor struct {
	opts      Options
	logger    *zap.Logger
	cancelled atomic.Bool
}

// NewExecutor creates an executor.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("rate limiter registry required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Executor{opts: opts, logger: opts.Logger}, nil
}

// Cancel requests a graceful stop: in-flight calls finish, nothing new
// starts, and the run lands in the cancelled state.
func (e *Executor) Cancel() { e.cancelled.Store(true) }

// Execute validates the config and drives one full run. Individual document
// or pipeline failures do not fail the run; it completes with their errors
// recorded. The run fails only when the executor itself cannot proceed.
func (e *Executor) Execute(ctx context.Context, cfg *config.RunConfig) (*types.Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e.cancelled.Store(false)

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))
	logger.Info("run starting",
		zap.Int("source_docs", len(cfg.SourceDocs)),
		zap.Int("iterations", cfg.Iterations))

	if err := e.opts.Store.CreateRun(ctx, runID, cfg.UserID); err != nil {
		return nil, err
	}
	e.timelineEvent(runID, "run_started",
		fmt.Sprintf("run started with %d source documents", len(cfg.SourceDocs)), true)

	// Everything logged for this run is teed into <run>/logs/run.log.
	logDir, err := store.EnsureRunLogDir(cfg.DataDir, cfg.UserID, runID)
	if err != nil {
		logger.Warn("per-run log dir unavailable", zap.Error(err))
		logDir = ""
	} else {
		runLogger, closeLog, lerr := teeFileLogger(logger, filepath.Join(logDir, "run.log"))
		if lerr != nil {
			logger.Warn("run log unavailable", zap.Error(lerr))
		} else {
			logger = runLogger
			defer closeLog()
		}
	}

	stats := types.NewCallStats()
	genSem := semaphore.NewWeighted(int64(cfg.GenerationConcurrency))
	evalSem := semaphore.NewWeighted(int64(cfg.EvalConcurrency))

	deps, err := e.buildDeps(cfg, runID, logDir, logger, stats, genSem, evalSem)
	if err != nil {
		return nil, err
	}

	run := &types.Run{
		RunID:     runID,
		Status:    types.RunRunning,
		Results:   map[string]*types.SourceDocResult{},
		StartedAt: time.Now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan *types.SourceDocResult, len(cfg.SourceDocs))
	for _, src := range cfg.SourceDocs {
		src := src
		g.Go(func() error {
			p := pipeline.New(cfg, deps, runID, src)
			results <- p.Execute(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		run.Status = types.RunFailed
	}
	close(results)

	cancelled := false
	for result := range results {
		run.Results[result.SourceDocID] = result
		run.TotalCostUSD += result.CostUSD
		run.Timeline = append(run.Timeline, result.Timeline...)
		if result.Status == types.PhaseCancelled {
			cancelled = true
		}
	}

	run.CompletedAt = time.Now().UTC()
	run.Stats = stats.Snapshot()
	switch {
	case run.Status == types.RunFailed:
	case cancelled || e.cancelled.Load():
		run.Status = types.RunCancelled
	default:
		run.Status = types.RunCompleted
	}

	e.timelineEvent(runID, "run_finished",
		fmt.Sprintf("run finished: %s", run.Status), run.Status == types.RunCompleted)
	if err := e.opts.Store.FinishRun(context.Background(), runID, run); err != nil {
		logger.Warn("failed to persist final run state", zap.Error(err))
	}
	logger.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Float64("total_cost_usd", run.TotalCostUSD),
		zap.Duration("elapsed", run.CompletedAt.Sub(run.StartedAt)))
	return run, nil
}

// timelineEvent records a run-level event in the store and on the bus.
func (e *Executor) timelineEvent(runID, eventType, description string, success bool) {
	ev := types.TimelineEvent{
		Phase:       "run",
		EventType:   eventType,
		Description: description,
		Timestamp:   time.Now().UTC(),
		Success:     success,
	}
	if err := e.opts.Store.AppendTimelineEvent(context.Background(), runID, ev); err != nil {
		e.logger.Warn("failed to persist timeline event",
			zap.String("run_id", runID), zap.Error(err))
	}
	if e.opts.Bus != nil {
		e.opts.Bus.Publish(runID, ev)
	}
}

// teeFileLogger returns a logger that also writes JSON entries to path.
func teeFileLogger(base *zap.Logger, path string) (*zap.Logger, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		zapcore.InfoLevel,
	)
	tee := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	return tee, func() { f.Close() }, nil
}

// buildDeps constructs the per-run generator set and judge machinery.
func (e *Executor) buildDeps(cfg *config.RunConfig, runID, logDir string, logger *zap.Logger, stats *types.CallStats, genSem, evalSem *semaphore.Weighted) (pipeline.Deps, error) {
	retry := llm.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}
	if retry.MaxAttempts == 0 {
		retry = llm.DefaultRetryPolicy()
	}

	engineLog := ""
	if e.opts.TemplateEngine != "" && logDir != "" {
		engineLog = filepath.Join(logDir, "fpf_output.log")
	}
	template, err := llm.NewTemplateGenerator(llm.TemplateConfig{
		Adapters:      e.opts.Adapters,
		APIKeys:       e.opts.APIKeys,
		Limiter:       e.opts.Limiter,
		Pricing:       e.opts.Pricing,
		Retry:         retry,
		Stats:         stats,
		Logger:        logger,
		DataDir:       cfg.DataDir,
		EnginePath:    e.opts.TemplateEngine,
		EngineLogPath: engineLog,
	})
	if err != nil {
		return pipeline.Deps{}, err
	}

	generators := map[types.GeneratorKind]llm.Generator{
		types.GeneratorTemplate: template,
	}
	if e.opts.ResearcherScript != "" {
		researcher, err := llm.NewResearcherGenerator(llm.ResearcherConfig{
			ScriptPath:  e.opts.ResearcherScript,
			Interpreter: e.opts.ResearcherInterpreter,
			Limiter:     e.opts.Limiter,
			Retry:       retry,
			Stats:       stats,
			Logger:      logger,
		})
		if err != nil {
			return pipeline.Deps{}, err
		}
		deep, err := llm.NewDeepResearcherGenerator(llm.DeepResearcherConfig{
			ResearcherConfig: llm.ResearcherConfig{
				ScriptPath:  e.opts.ResearcherScript,
				Interpreter: e.opts.ResearcherInterpreter,
				Limiter:     e.opts.Limiter,
				Retry:       retry,
				Stats:       stats,
				Logger:      logger,
			},
		})
		if err != nil {
			return pipeline.Deps{}, err
		}
		generators[types.GeneratorResearcher] = researcher
		generators[types.GeneratorDeepResearcher] = deep
	}

	// Judges and the combiner grade or rewrite existing text; the
	// grounding requirement does not apply to them.
	judgeCaller, err := llm.NewTemplateGenerator(llm.TemplateConfig{
		Adapters:       e.opts.Adapters,
		APIKeys:        e.opts.APIKeys,
		Limiter:        e.opts.Limiter,
		Pricing:        e.opts.Pricing,
		Retry:          retry,
		Stats:          stats,
		Logger:         logger,
		DataDir:        cfg.DataDir,
		SkipValidation: true,
	})
	if err != nil {
		return pipeline.Deps{}, err
	}

	singleJudge := judge.NewJudge(judgeCaller, cfg.Eval.Instructions, cfg.Eval.Criteria,
		cfg.Eval.Retries, cfg.RequestTimeout, logger)
	evaluator := judge.NewEvaluator(singleJudge, cfg.Eval.JudgeModels, cfg.Eval.Iterations,
		evalSem, logger)
	evaluator.OnEvalComplete = func(result types.SingleEvalResult) {
		if err := e.opts.Store.UpsertSingleEvalResult(context.Background(), runID, result); err != nil {
			logger.Warn("failed to persist eval result",
				zap.String("doc_id", result.DocID), zap.Error(err))
		}
		if cfg.Callbacks.OnEvalComplete != nil {
			cfg.Callbacks.OnEvalComplete(result.DocID, result.JudgeModel, result.Trial, result)
		}
	}

	pairwiseJudge := judge.NewPairwiseJudge(judgeCaller, cfg.Eval.PairwiseInstructions,
		cfg.Eval.Criteria, cfg.Eval.Retries, cfg.RequestTimeout, logger)
	tournament := judge.NewTournament(pairwiseJudge, cfg.Eval.JudgeModels,
		cfg.Eval.Iterations, evalSem, cfg.Pairwise.DynamicK, logger)

	return pipeline.Deps{
		Generators: generators,
		Evaluator:  evaluator,
		Tournament: tournament,
		Combiner:   judgeCaller,
		Store:      e.opts.Store,
		Bus:        e.opts.Bus,
		Stats:      stats,
		GenSem:     genSem,
		Logger:     logger,
		Cancelled:  e.cancelled.Load,
	}, nil
}
