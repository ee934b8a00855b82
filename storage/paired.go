package storage

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Paired implements Store wrapping a pair of stores, one fast, one slow. It
// will handle gets from the fast store if possible, otherwise from the slow
// store (and in this case also propagate the data from the slow to the fast
// store, for next time that piece of data is requested). Puts and deletes hit
// the slow store first, which is the source of truth, and are then mirrored to
// the fast store. Refilling the fast store after a miss is serialized with puts
// and deletes of the same key, so a refill never overwrites newer data.
type Paired struct {
	fast Store
	slow Store

	// Striped per-key locks, shared by copies of the value.
	locks *[64]sync.Mutex
}

func NewPaired(fast, slow Store) Paired {
	return Paired{
		fast:  fast,
		slow:  slow,
		locks: new([64]sync.Mutex),
	}
}

func (s Paired) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &s.locks[h.Sum32()%uint32(len(s.locks))]
	mu.Lock()
	return mu.Unlock
}

func (s Paired) Get(key string) (value []byte, err error) {
	value, err = s.fast.Get(key)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrNotFound) {
		log.WithFields(log.Fields{
			"key": key,
			"err": err,
		}).Warn("Could not get from fast, falling back to slow")
	}
	unlock := s.lock(key)
	defer unlock()
	value, err = s.slow.Get(key)
	if err != nil {
		return nil, err
	}
	logger := log.WithField("key", key)
	if ferr := s.fast.Put(key, value); ferr != nil {
		logger.WithField("err", ferr).Warn("Could not propagate from slow to fast")
	} else {
		logger.Debug("Propagated from slow to fast")
	}
	return value, nil
}

func (s Paired) Put(key string, value []byte) (err error) {
	unlock := s.lock(key)
	defer unlock()
	if err = s.slow.Put(key, value); err != nil {
		// Whatever the fast store holds might now be stale.
		s.evict(key)
		return err
	}
	if ferr := s.fast.Put(key, value); ferr != nil {
		log.WithFields(log.Fields{
			"key": key,
			"err": ferr,
		}).Warn("Could not propagate to fast")
		s.evict(key)
	}
	return nil
}

func (s Paired) Delete(key string) (err error) {
	unlock := s.lock(key)
	defer unlock()
	s.evict(key)
	return s.slow.Delete(key)
}

func (s Paired) evict(key string) {
	if err := s.fast.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		log.WithFields(log.Fields{
			"key": key,
			"err": err,
		}).Warn("Could not evict from fast")
	}
}

// SignedURL implements Presigner if the slow store does, otherwise it returns
// ErrNotPresignable.
func (s Paired) SignedURL(key string, method string, ttl time.Duration) (string, error) {
	if p, ok := s.slow.(Presigner); ok {
		return p.SignedURL(key, method, ttl)
	}
	return "", ErrNotPresignable
}
