package staging

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps encoded artifacts in memory. Values are round-tripped
// through JSON so loads behave like the durable backends.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (s *MemoryStore) Save(ctx context.Context, name string, v interface{}) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("MemoryStore.Save: encoding %s: %w", name, err)
	}
	s.mu.Lock()
	s.items[name] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, name string, v interface{}) error {
	s.mu.RLock()
	data, ok := s.items[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return decode(data, v)
}

func (s *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[name]
	return ok, nil
}

// Names lists saved artifact names.
func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.items))
	for n := range s.items {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var _ Store = (*MemoryStore)(nil)
