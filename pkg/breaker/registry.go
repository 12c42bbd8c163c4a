package breaker

import "sync"

// Registry holds one breaker per protected-operation name. Breakers are
// created lazily on first use with the registry's default Config, so every
// call site naming the same operation shares fate.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates a registry whose breakers are created with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: cfg.withDefaults(),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.defaults)
		r.breakers[name] = b
	}
	return b
}

// Reset closes and clears every breaker in the registry. Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}

// Do runs fn under the breaker registered for name. If the breaker rejects
// the request, fn is never invoked and ErrCircuitOpen is returned. Errors
// from fn are recorded as failures and propagated unchanged.
func (r *Registry) Do(name string, fn func() error) error {
	b := r.Get(name)
	if !b.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
