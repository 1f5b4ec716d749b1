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
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Template engine exit codes. The external binary classifies its own
// validation outcome so the parent never reparses the raw response.
const (
	engineExitOK                = 0
	engineExitMissingGrounding  = 1
	engineExitMissingReasoning  = 2
	engineExitMissingBoth       = 3
	engineExitUnknownValidation = 4
)

// runEngine delegates one template generation to the external engine binary.
// The prompt goes in through a temp file, the document comes back out
// through another, and the exit code carries the validation verdict.
func (g *TemplateGenerator) runEngine(ctx context.Context, req *Request) (*Result, error) {
	workDir, err := os.MkdirTemp("", "template-engine-*")
	if err != nil {
		return nil, NewCallError(KindFatal, req.Provider, fmt.Errorf("failed to create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	promptPath := filepath.Join(workDir, "prompt.txt")
	outputPath := filepath.Join(workDir, "output.md")

	prompt := req.Query
	if req.Instructions != "" {
		prompt = req.Instructions + "\n\n" + req.Query
	}
	if err := os.WriteFile(promptPath, []byte(prompt), 0o644); err != nil {
		return nil, NewCallError(KindFatal, req.Provider, fmt.Errorf("failed to write prompt file: %w", err))
	}

	cmd := exec.Command(g.cfg.EnginePath,
		"--provider", req.Provider,
		"--model", req.Model,
		"--prompt-file", promptPath,
		"--output-file", outputPath,
	)
	cmd.Env = append(os.Environ(), envList(req.Env)...)
	if g.cfg.EngineLogPath != "" {
		logFile, err := os.OpenFile(g.cfg.EngineLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			defer logFile.Close()
			cmd.Stdout = logFile
			cmd.Stderr = logFile
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, NewCallError(KindFatal, req.Provider, fmt.Errorf("failed to start template engine: %w", err))
	}
	g.logger.Debug("template engine started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("provider", req.Provider),
		zap.String("model", req.Model))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		stopProcess(cmd, done, g.logger)
		return nil, NewCallError(KindCancelled, req.Provider, ctx.Err())
	case err = <-done:
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, NewCallError(KindTransient, req.Provider, fmt.Errorf("template engine failed: %w", err))
		}
		switch exitErr.ExitCode() {
		case engineExitMissingGrounding:
			return nil, g.engineValidationFailure(req, KindMissingGrounding,
				Validation{ReasoningPresent: true}, "engine reported missing grounding")
		case engineExitMissingReasoning:
			return nil, g.engineValidationFailure(req, KindMissingReasoning,
				Validation{GroundingPresent: true}, "engine reported missing reasoning")
		case engineExitMissingBoth:
			return nil, g.engineValidationFailure(req, KindMissingBoth,
				Validation{}, "engine reported missing grounding and reasoning")
		case engineExitUnknownValidation:
			return nil, g.engineValidationFailure(req, KindUnknownValidation,
				Validation{}, "engine reported an unclassified validation failure")
		default:
			return nil, NewCallError(KindTransient, req.Provider,
				fmt.Errorf("template engine exited with code %d", exitErr.ExitCode()))
		}
	}

	output, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, NewCallError(KindFatal, req.Provider, fmt.Errorf("failed to read engine output: %w", err))
	}
	content := string(output)
	if strings.TrimSpace(content) == "" {
		return nil, NewCallError(KindEmptyContent, req.Provider,
			fmt.Errorf("template engine produced empty output"))
	}

	cost := 0.0
	if g.cfg.Pricing != nil {
		cost = g.cfg.Pricing.Cost(req.Provider, req.Model, Usage{}, prompt, content)
	}

	return &Result{
		Content: content,
		CostUSD: cost,
		Status:  "ok",
		Metadata: map[string]any{
			"provider": req.Provider,
			"model":    req.Model,
			"engine":   filepath.Base(g.cfg.EnginePath),
		},
	}, nil
}

// engineValidationFailure records the artifact for an engine-classified
// validation failure and returns the typed error. The engine never hands
// back the raw response, so the artifact summary is empty.
func (g *TemplateGenerator) engineValidationFailure(req *Request, kind Kind, v Validation, msg string) error {
	WriteFailureArtifact(g.cfg.DataDir, req.Provider, g.cfg.EnginePath, kind, v, &ProviderResponse{}, g.logger)
	return NewCallError(kind, req.Provider, fmt.Errorf("%s", msg))
}

// envList flattens a map into KEY=VALUE pairs, skipping keys the parent
// environment already carries so caller overrides never clobber the
// operator's own settings.
func envList(env map[string]string) []string {
	var out []string
	for key, value := range env {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		out = append(out, key+"="+value)
	}
	return out
}
