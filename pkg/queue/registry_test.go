package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relayq/pkg/queue"
)

func noopHandler(context.Context, json.RawMessage) (any, error) { return nil, nil }

// stubResolver counts lookups so tests can verify resolver hits are cached.
type stubResolver struct {
	handlerCalls  int
	callbackCalls int
	known         map[string]queue.Handler
}

func (r *stubResolver) ResolveHandler(name, namespace string) (queue.Handler, error) {
	r.handlerCalls++
	h, ok := r.known[queue.QueueName(namespace, name)]
	if !ok {
		return queue.Handler{}, errors.New("unknown handler")
	}
	return h, nil
}

func (r *stubResolver) ResolveCallback(name, namespace string) (queue.CallbackFunc, error) {
	r.callbackCalls++
	if name != "known_cb" {
		return nil, errors.New("unknown callback")
	}
	return func(context.Context, queue.CallbackPayload) {}, nil
}

func TestRegistry_RegisterHandler(t *testing.T) {
	t.Parallel()

	t.Run("rejects invalid registrations", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		assert.ErrorIs(t, r.RegisterHandler(queue.Handler{Kind: queue.NonBlocking, Fn: noopHandler}), queue.ErrInvalidHandler)
		assert.ErrorIs(t, r.RegisterHandler(queue.Handler{Name: "x", Kind: queue.NonBlocking}), queue.ErrInvalidHandler)
		assert.ErrorIs(t, r.RegisterHandler(queue.Handler{Name: "x", Kind: "weird", Fn: noopHandler}), queue.ErrInvalidHandler)
	})

	t.Run("resolves by qualified name", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		require.NoError(t, r.RegisterHandler(queue.Handler{
			Name: "charge", Namespace: "billing", Kind: queue.Blocking, Fn: noopHandler,
		}))

		h, err := r.Handler("charge", "billing")
		require.NoError(t, err)
		assert.Equal(t, queue.Blocking, h.Kind)

		_, err = r.Handler("charge", "")
		assert.ErrorIs(t, err, queue.ErrHandlerNotFound)
	})
}

func TestRegistry_ResolverFallback(t *testing.T) {
	t.Parallel()

	t.Run("resolver hit is cached", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{known: map[string]queue.Handler{
			"ext": {Name: "ext", Kind: queue.NonBlocking, Fn: noopHandler},
		}}
		r := queue.NewRegistry()
		r.SetResolver(resolver)

		_, err := r.Handler("ext", "")
		require.NoError(t, err)
		_, err = r.Handler("ext", "")
		require.NoError(t, err)
		assert.Equal(t, 1, resolver.handlerCalls, "second lookup must hit the cache")
	})

	t.Run("resolver miss is a not-found error", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		r.SetResolver(&stubResolver{})

		_, err := r.Handler("ghost", "ns")
		assert.ErrorIs(t, err, queue.ErrHandlerNotFound)
	})

	t.Run("resolved handler gets defaults filled in", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{known: map[string]queue.Handler{
			"bare": {Fn: noopHandler}, // no name, no kind
		}}
		r := queue.NewRegistry()
		r.SetResolver(resolver)

		h, err := r.Handler("bare", "")
		require.NoError(t, err)
		assert.Equal(t, "bare", h.Name)
		assert.Equal(t, queue.NonBlocking, h.Kind)
	})
}

func TestRegistry_Callbacks(t *testing.T) {
	t.Parallel()

	t.Run("registered callback is found", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		require.NoError(t, r.RegisterCallback("", "notify", func(context.Context, queue.CallbackPayload) {}))

		fn, err := r.Callback("notify", "")
		require.NoError(t, err)
		assert.NotNil(t, fn)
	})

	t.Run("missing callback without resolver", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		_, err := r.Callback("missing", "")
		assert.ErrorIs(t, err, queue.ErrCallbackNotFound)
	})

	t.Run("resolver hit is cached", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{}
		r := queue.NewRegistry()
		r.SetResolver(resolver)

		_, err := r.Callback("known_cb", "")
		require.NoError(t, err)
		_, err = r.Callback("known_cb", "")
		require.NoError(t, err)
		assert.Equal(t, 1, resolver.callbackCalls)
	})
}
