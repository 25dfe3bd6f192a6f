package pattern

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// Factory builds a fresh Pattern instance for one run. Pattern state is never
// shared across runs.
type Factory func() Pattern

// Registry manages a named collection of pattern factories that can be looked
// up at runtime. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns a Registry preloaded with the built-in patterns.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("squeeze_breakout", func() Pattern {
		return newPhasePattern("squeeze_breakout", squeezeBreakoutTable())
	})
	r.Register("accumulation", func() Pattern {
		return newPhasePattern("accumulation", accumulationTable())
	})
	r.Register("distribution", func() Pattern {
		return newPhasePattern("distribution", distributionTable())
	})
	r.Register("moving_average", func() Pattern {
		return newCrossoverPattern("moving_average", func() indicator {
			return newMACross(2.0/13, 2.0/27) // 12- and 26-tick spans
		})
	})
	r.Register("macd", func() Pattern {
		return newCrossoverPattern("macd", func() indicator {
			return newMACDCross(2.0/13, 2.0/27, 2.0/10) // 9-tick signal span
		})
	})
	r.Register("rsi_divergence", func() Pattern {
		return newDivergencePattern()
	})

	return r
}

// Register adds a pattern factory under the given name. An existing factory
// with the same name is replaced.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds a fresh instance of the named pattern. It returns an error when
// the name is not registered.
func (r *Registry) New(name string) (Pattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("pattern %q: %w", name, domain.ErrNotFound)
	}
	return f(), nil
}

// List returns the names of all registered patterns in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
