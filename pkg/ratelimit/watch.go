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

package ratelimit

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// limitsFile is the on-disk shape of a provider limits file:
//
//	google:
//	  min_delay: 1s
//	  max_concurrent: 2
//	anthropic:
//	  min_delay: 500ms
type limitsFile map[string]struct {
	MinDelay      string `yaml:"min_delay"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LoadLimitsFile parses a YAML provider limits file.
func LoadLimitsFile(path string) (map[string]Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read limits file: %w", err)
	}
	var raw limitsFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse limits file: %w", err)
	}

	limits := make(map[string]Limits, len(raw))
	for provider, entry := range raw {
		delay := DefaultMinDelay
		if entry.MinDelay != "" {
			d, err := time.ParseDuration(entry.MinDelay)
			if err != nil {
				return nil, fmt.Errorf("invalid min_delay for provider %s: %w", provider, err)
			}
			delay = d
		}
		limits[provider] = Limits{MinDelay: delay, MaxConcurrent: entry.MaxConcurrent}
	}
	return limits, nil
}

// WatchFile applies the limits file now and then re-applies it on every
// change until Close is called on the returned watcher. Parse failures keep
// the previous limits.
func (r *Registry) WatchFile(path string) (*fsnotify.Watcher, error) {
	if limits, err := LoadLimitsFile(path); err == nil {
		for provider, l := range limits {
			r.UpdateLimits(provider, l)
		}
	} else {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				limits, err := LoadLimitsFile(path)
				if err != nil {
					r.logger.Warn("limits file reload failed, keeping previous limits",
						zap.String("path", path),
						zap.Error(err),
					)
					continue
				}
				for provider, l := range limits {
					r.UpdateLimits(provider, l)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("limits file watcher error", zap.Error(err))
			}
		}
	}()

	return watcher, nil
}
