package queue

import (
	"fmt"
	"sync"
)

// Registry is the explicit registration table mapping handler and callback
// names to functions. Handlers must be registered (or resolvable through the
// optional Resolver) before the first job referencing them is executed.
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	callbacks map[string]CallbackFunc
	resolver  Resolver
}

// NewRegistry creates an empty registry. An optional resolver may be
// attached with SetResolver.
func NewRegistry() *Registry {
	return &Registry{
		handlers:  make(map[string]Handler),
		callbacks: make(map[string]CallbackFunc),
	}
}

// SetResolver attaches a pluggable fallback used when a name is not in the
// table. Resolved entries are cached back into the table.
func (r *Registry) SetResolver(resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = resolver
}

// RegisterHandler adds a handler to the table, replacing any previous
// registration under the same qualified name.
func (r *Registry) RegisterHandler(h Handler) error {
	if h.Name == "" || h.Fn == nil || !h.Kind.Valid() {
		return ErrInvalidHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[QueueName(h.Namespace, h.Name)] = h
	return nil
}

// RegisterCallback adds a named callback to the table.
func (r *Registry) RegisterCallback(namespace, name string, fn CallbackFunc) error {
	if name == "" || fn == nil {
		return ErrInvalidHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[QueueName(namespace, name)] = fn
	return nil
}

// Handler resolves a processor by name and namespace: table first, then the
// resolver, caching resolver hits. A miss returns ErrHandlerNotFound.
func (r *Registry) Handler(name, namespace string) (Handler, error) {
	qualified := QueueName(namespace, name)

	r.mu.RLock()
	h, ok := r.handlers[qualified]
	resolver := r.resolver
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	if resolver == nil {
		return Handler{}, fmt.Errorf("%w: %s", ErrHandlerNotFound, qualified)
	}

	h, err := resolver.ResolveHandler(name, namespace)
	if err != nil || h.Fn == nil {
		return Handler{}, fmt.Errorf("%w: %s", ErrHandlerNotFound, qualified)
	}
	if h.Name == "" {
		h.Name = name
		h.Namespace = namespace
	}
	if !h.Kind.Valid() {
		h.Kind = NonBlocking
	}

	r.mu.Lock()
	r.handlers[qualified] = h
	r.mu.Unlock()
	return h, nil
}

// Callback resolves a callback by name and namespace with the same
// table-then-resolver strategy as Handler.
func (r *Registry) Callback(name, namespace string) (CallbackFunc, error) {
	qualified := QueueName(namespace, name)

	r.mu.RLock()
	fn, ok := r.callbacks[qualified]
	resolver := r.resolver
	r.mu.RUnlock()
	if ok {
		return fn, nil
	}

	if resolver == nil {
		return nil, fmt.Errorf("%w: %s", ErrCallbackNotFound, qualified)
	}

	fn, err := resolver.ResolveCallback(name, namespace)
	if err != nil || fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrCallbackNotFound, qualified)
	}

	r.mu.Lock()
	r.callbacks[qualified] = fn
	r.mu.Unlock()
	return fn, nil
}
