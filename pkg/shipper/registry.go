package shipper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// QuoteResult holds the outcome of one carrier's quote call.
type QuoteResult struct {
	Carrier string
	Quotes  []RateQuote
	Err     error
}

// Registry manages registered shipping carriers.
type Registry struct {
	shippers map[string]Shipper
	mu       sync.RWMutex
}

// NewRegistry creates a new shipper registry.
func NewRegistry() *Registry {
	return &Registry{
		shippers: make(map[string]Shipper),
	}
}

// Register adds a shipper to the registry.
func (r *Registry) Register(s Shipper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shippers[s.Name()] = s
}

// Get returns a shipper by name.
func (r *Registry) Get(name string) (Shipper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.shippers[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCarrierNotFound, name)
}

// All returns all registered shippers sorted by name.
func (r *Registry) All() []Shipper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Shipper, 0, len(r.shippers))
	for _, s := range r.shippers {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Names returns the names of all registered shippers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.shippers))
	for name := range r.shippers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered shippers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shippers)
}

// QuoteProviders returns the registered shippers that serve live quotes,
// excluding the named carriers.
func (r *Registry) QuoteProviders(exclude ...string) []QuoteProvider {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	providers := make([]QuoteProvider, 0)
	for _, s := range r.All() {
		if skip[s.Name()] {
			continue
		}
		if qp, ok := s.(QuoteProvider); ok {
			providers = append(providers, qp)
		}
	}
	return providers
}

// GetAllQuotes fetches quotes from every quote provider in parallel.
// A failing carrier is reported in its QuoteResult and never fails the
// other calls. Results are ordered by carrier name.
func (r *Registry) GetAllQuotes(ctx context.Context, req *RateQuoteRequest, exclude ...string) []QuoteResult {
	providers := r.QuoteProviders(exclude...)
	results := make([]QuoteResult, len(providers))

	var g errgroup.Group

	for i, p := range providers {
		g.Go(func() error {
			quotes, err := p.GetQuotes(ctx, req)
			results[i] = QuoteResult{Carrier: p.Name(), Quotes: quotes}
			if err != nil {
				results[i].Err = fmt.Errorf("%s: %w", p.Name(), err)
			}
			return nil // Don't fail the group, continue with other carriers
		})
	}

	_ = g.Wait()
	return results
}
