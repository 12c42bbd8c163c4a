package queue

import (
	"context"
	"time"
)

// Store abstracts the keyed-list and keyed-set operations the queue needs
// from its backing store. Pop must be atomic: it is the only mutual
// exclusion primitive between concurrent worker loops, so two loops must
// never receive the same physical item.
//
// List semantics: Push adds at the head, Pop removes from the tail, Peek
// reads the tail without removing it. Empty-queue Pop and Peek return
// (nil, nil), not an error.
type Store interface {
	// Push appends a payload at the head of the list stored at key.
	Push(ctx context.Context, key string, payload []byte) error

	// PushBatch pushes all payloads onto key as one atomic round trip.
	// Partial failure must fail the whole batch.
	PushBatch(ctx context.Context, key string, payloads [][]byte) error

	// Pop atomically removes and returns the tail item of the list at key.
	Pop(ctx context.Context, key string) ([]byte, error)

	// Peek returns the tail item of the list at key without removing it.
	Peek(ctx context.Context, key string) ([]byte, error)

	// Len returns the number of items in the list at key.
	Len(ctx context.Context, key string) (int64, error)

	// Purge deletes the list at key and returns how many items it held.
	Purge(ctx context.Context, key string) (int64, error)

	// SetAdd adds members to the set stored at key.
	SetAdd(ctx context.Context, key string, members ...string) error

	// SetMembers returns all members of the set stored at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// SetNX stores value at key only if the key does not exist yet,
	// reporting whether the claim succeeded. Used as the dedup guard.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes the key regardless of its type. Deleting a missing key is
	// not an error. Used to release a dedup claim whose enqueue failed.
	Del(ctx context.Context, key string) error
}
