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

// Command crucible generates candidate documents with multiple models,
// grades them with LLM judges, and synthesises the winners.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/internal/log"
	"github.com/teradata-labs/crucible/pkg/config"
	"github.com/teradata-labs/crucible/pkg/llm"
	"github.com/teradata-labs/crucible/pkg/ratelimit"
	"github.com/teradata-labs/crucible/pkg/runner"
	"github.com/teradata-labs/crucible/pkg/store"
)

var (
	flagConfig     string
	flagLimits     string
	flagPricing    string
	flagResearcher string
	flagLogLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "crucible",
		Short: "Multi-model document generation and evaluation",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a configured run",
		RunE:  runRun,
	}
	runCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "run config file (YAML)")
	runCmd.Flags().StringVar(&flagLimits, "limits", "", "provider rate limits file (YAML, watched for changes)")
	runCmd.Flags().StringVar(&flagPricing, "pricing", "", "model pricing file (YAML)")
	runCmd.Flags().StringVar(&flagResearcher, "researcher", "", "researcher agent entrypoint")
	runCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	runCmd.MarkFlagRequired("config")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	log.Init(flagLogLevel)
	logger := log.Logger()
	defer log.Sync()

	cfg, err := loadRunConfig(flagConfig)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewRegistry(nil, logger)
	if flagLimits != "" {
		limits, err := ratelimit.LoadLimitsFile(flagLimits)
		if err != nil {
			return err
		}
		limiter = ratelimit.NewRegistry(limits, logger)
		watcher, err := limiter.WatchFile(flagLimits)
		if err != nil {
			logger.Warn("limits file watch unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	var pricing *llm.Pricing
	if flagPricing != "" {
		pricing, err = llm.LoadPricingFile(flagPricing, logger)
		if err != nil {
			return err
		}
	}

	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	exec, err := runner.NewExecutor(runner.Options{
		Store:            st,
		Bus:              store.NewBus(logger),
		Limiter:          limiter,
		APIKeys:          apiKeysFromEnv(),
		Pricing:          pricing,
		ResearcherScript: flagResearcher,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("cancel requested, letting in-flight calls finish")
		exec.Cancel()
	}()

	run, err := exec.Execute(context.Background(), cfg)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func loadRunConfig(path string) (*config.RunConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg config.RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return &cfg, nil
}

// apiKeysFromEnv collects provider keys from CRUCIBLE_API_KEY_<PROVIDER>
// variables, e.g. CRUCIBLE_API_KEY_GOOGLE.
func apiKeysFromEnv() map[string]string {
	const prefix = "CRUCIBLE_API_KEY_"
	keys := map[string]string{}
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		provider := strings.ToLower(strings.TrimPrefix(name, prefix))
		if provider != "" && value != "" {
			keys[provider] = value
		}
	}
	return keys
}
