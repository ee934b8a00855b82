package storage

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStore is a bounded in-memory Store evicting least recently used keys.
// Meant to be the fast half of a Paired store.
type LRUStore struct {
	cache        *lru.Cache[string, []byte]
	maxValueSize int
}

// NewLRUStore creates a cache holding at most size values. Values longer than
// maxValueSize bytes are not cached; zero means no limit.
func NewLRUStore(size int, maxValueSize int) (*LRUStore, error) {
	if maxValueSize < 0 {
		return nil, fmt.Errorf("negative maximum value size %d", maxValueSize)
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("could not create cache of size %d: %w", size, err)
	}
	return &LRUStore{cache: cache, maxValueSize: maxValueSize}, nil
}

// Put caches the value. An oversized value is dropped, along with any older
// value cached for the key.
func (s *LRUStore) Put(key string, value []byte) error {
	if s.maxValueSize > 0 && len(value) > s.maxValueSize {
		s.cache.Remove(key)
		return nil
	}
	s.cache.Add(key, dup(value))
	return nil
}

func (s *LRUStore) Get(key string) ([]byte, error) {
	value, ok := s.cache.Get(key)
	if !ok {
		return nil, fmt.Errorf("%.40q: %w", key, ErrNotFound)
	}
	return dup(value), nil
}

func (s *LRUStore) Delete(key string) error {
	if !s.cache.Remove(key) {
		return fmt.Errorf("%.40q: %w", key, ErrNotFound)
	}
	return nil
}

// Len returns the number of cached keys.
func (s *LRUStore) Len() int {
	return s.cache.Len()
}
