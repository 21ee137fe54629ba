package analyzer

import (
	"fmt"
	"sync"
)

type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
}

func NewRegistry() *Registry {
	return &Registry{
		analyzers: make(map[string]Analyzer),
	}
}

func (r *Registry) Register(a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[a.Provider()] = a
}

func (r *Registry) Get(provider string) (Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[provider]
	if !ok {
		return nil, fmt.Errorf("analyzer not found for provider: %s", provider)
	}
	return a, nil
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]string, 0, len(r.analyzers))
	for p := range r.analyzers {
		providers = append(providers, p)
	}
	return providers
}
