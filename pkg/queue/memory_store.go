package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process maps, for tests and local
// development. It mirrors the Redis list semantics: Push at the head, Pop
// and Peek at the tail.
type MemoryStore struct {
	mu    sync.Mutex
	lists map[string][][]byte
	sets  map[string]map[string]struct{}
	kv    map[string]memoryValue
}

type memoryValue struct {
	value     string
	expiresAt time.Time // zero = never
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists: make(map[string][][]byte),
		sets:  make(map[string]map[string]struct{}),
		kv:    make(map[string]memoryValue),
	}
}

func (s *MemoryStore) Push(ctx context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(key, payload)
	return nil
}

func (s *MemoryStore) PushBatch(ctx context.Context, key string, payloads [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, payload := range payloads {
		s.push(key, payload)
	}
	return nil
}

// push prepends so index 0 is the most recent item; the tail is the oldest.
// Callers must hold the mutex.
func (s *MemoryStore) push(key string, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.lists[key] = append([][]byte{cp}, s.lists[key]...)
}

func (s *MemoryStore) Pop(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if len(list) == 0 {
		return nil, nil
	}
	item := list[len(list)-1]
	s.lists[key] = list[:len(list)-1]
	return item, nil
}

func (s *MemoryStore) Peek(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (s *MemoryStore) Len(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) Purge(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.lists[key]))
	delete(s.lists, key)
	return n, nil
}

func (s *MemoryStore) SetAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.kv[key]; ok {
		if existing.expiresAt.IsZero() || now.Before(existing.expiresAt) {
			return false, nil
		}
	}

	v := memoryValue{value: value}
	if ttl > 0 {
		v.expiresAt = now.Add(ttl)
	}
	s.kv[key] = v
	return true, nil
}

func (s *MemoryStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.kv, key)
	delete(s.lists, key)
	delete(s.sets, key)
	return nil
}
