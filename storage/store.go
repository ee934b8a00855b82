package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Store represents a blob store, mapping keys such as "buildpacks/<guid>" to
// opaque values.
type Store interface {
	Put(key string, value []byte) (err error)

	// Get should return ErrNotFound if the key is not in the store.
	Get(key string) (value []byte, err error)

	// Delete should return ErrNotFound if the key is not in the store.
	Delete(key string) (err error)
}

// Presigner is implemented by stores that can hand out URLs giving direct,
// time-limited access to a key, bypassing this service.
type Presigner interface {
	SignedURL(key string, method string, ttl time.Duration) (string, error)
}

var (
	// ErrNotFound indicates a key is not in the store.
	ErrNotFound = errors.New("not found")

	// ErrNotPresignable is returned by wrappers implementing Presigner when the
	// store they wrap does not.
	ErrNotPresignable = errors.New("store cannot presign URLs")
)

type VersionedStore interface {
	// Put should return ErrStalePut if the current version is not the version
	// passed as argument minus one. The client should have to prove that they've
	// seen the most current version before trying to update it.
	Put(version uint64, key string, value []byte) (err error)

	// Get should return ErrNotFound if the key is not in the store.
	Get(key string) (version uint64, value []byte, err error)
}

var (
	// ErrStalePut indicates that some client has not see the latest version of the
	// value being put. The client should get the current version, decide if it
	// still wants to do the put, and in that case do the put with the correct
	// version.
	ErrStalePut = errors.New("stale put")
)

// VersionedWrapper is a VersionedStore implementation wrapping a given Store
// implementation. It serializes all calls to the underlying Store, so it only
// guards against concurrent writers within this process.
type VersionedWrapper struct {
	sync.Mutex
	delegate Store
}

func NewVersionedWrapper(delegate Store) *VersionedWrapper {
	return &VersionedWrapper{delegate: delegate}
}

// Put stores the given value at the given key, provided the passed version
// number is newer than the current one. Any version is accepted for new keys.
func (s *VersionedWrapper) Put(version uint64, key string, value []byte) error {
	s.Lock()
	defer s.Unlock()
	curr, err := s.delegate.Get(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil {
		if len(curr) < 8 {
			return fmt.Errorf("%q: corrupt versioned value of %d bytes", key, len(curr))
		}
		expectedVersion := binary.BigEndian.Uint64(curr[0:8]) + 1
		if version < expectedVersion {
			return ErrStalePut
		}
	}
	val := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(val, version)
	copy(val[8:], value)
	return s.delegate.Put(key, val)
}

// Get retrieves the value associated with a key and its version number.
func (s *VersionedWrapper) Get(key string) (version uint64, value []byte, err error) {
	s.Lock()
	defer s.Unlock()
	value, err = s.delegate.Get(key)
	if err != nil {
		return 0, nil, err
	}
	if len(value) < 8 {
		return 0, nil, fmt.Errorf("%q: corrupt versioned value of %d bytes", key, len(value))
	}
	return binary.BigEndian.Uint64(value[:8]), value[8:], nil
}

// Delete removes the versioned value. A later put for the same key is
// accepted with any version.
func (s *VersionedWrapper) Delete(key string) error {
	s.Lock()
	defer s.Unlock()
	return s.delegate.Delete(key)
}

func dup(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
