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
	"net/http"
	"sync"
)

// Source is a named retrieval source reported by a search-tool provider.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ProviderResponse is a provider payload normalised into the signals the
// strict validator inspects.
type ProviderResponse struct {
	Content       string
	Reasoning     string
	ToolCallCount int
	Citations     []string
	SearchQueries []string
	Sources       []Source
	Usage         Usage
	Raw           string
}

// ProviderAdapter is the explicit capability set one provider family
// implements. A registry maps provider name to one implementation; there is
// no dynamic discovery.
type ProviderAdapter interface {
	// Name returns the provider family name.
	Name() string

	// BuildRequest builds the provider HTTP request for a generation.
	BuildRequest(ctx context.Context, req *Request, apiKey string) (*http.Request, error)

	// ParseResponse normalises a 200 payload into validator signals.
	ParseResponse(body []byte) (*ProviderResponse, error)
}

// AdapterRegistry maps provider names to adapters. Unknown providers fall
// back to the bearer-token adapter, which covers the OpenAI-compatible
// family.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]ProviderAdapter
	fallback ProviderAdapter
}

// NewAdapterRegistry builds a registry with the built-in provider families
// registered.
func NewAdapterRegistry() *AdapterRegistry {
	r := &AdapterRegistry{
		adapters: make(map[string]ProviderAdapter),
		fallback: newBearerAdapter("openai", defaultBearerBaseURL),
	}
	r.Register(&googleAdapter{})
	r.Register(&anthropicAdapter{})
	r.Register(r.fallback)
	return r
}

// Register adds or replaces an adapter.
func (r *AdapterRegistry) Register(a ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Adapter returns the adapter for the provider, or the bearer fallback.
func (r *AdapterRegistry) Adapter(provider string) ProviderAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[provider]; ok {
		return a
	}
	return r.fallback
}
