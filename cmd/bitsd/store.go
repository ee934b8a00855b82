package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"github.com/nicolagi/bitsd/config"
	"github.com/nicolagi/bitsd/storage"
	log "github.com/sirupsen/logrus"
)

// newStore builds the configured backend. The returned cleanup function must
// be called on shutdown.
func newStore(c config.Blobstore) (store storage.Store, cleanup func(), err error) {
	cleanup = func() {}
	logger := log.WithField("type", c.Type)
	switch c.Type {
	case "local":
		if err := os.MkdirAll(c.Path, 0700); err != nil {
			return nil, nil, fmt.Errorf("could not ensure directory %q exists: %w", c.Path, err)
		}
		store = storage.NewDiskStore(c.Path)
		logger = logger.WithField("path", c.Path)
	case "memory":
		store = storage.NewInMemoryStore()
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
			return nil, nil, fmt.Errorf("could not ensure directory for %q exists: %w", c.Path, err)
		}
		db, err := bolt.Open(c.Path, 0600, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open database %q: %w", c.Path, err)
		}
		store, err = storage.NewBoltStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("could not instantiate boltdb store at %q: %w", c.Path, err)
		}
		cleanup = func() {
			if err := db.Close(); err != nil {
				log.Warnf("Could not close boltdb database: %v", err)
			}
		}
		logger = logger.WithField("path", c.Path)
	case "s3":
		store = storage.NewS3(c.Profile, c.Region, c.Bucket)
		logger = logger.WithField("bucket", c.Bucket)
	case "webdav":
		store = storage.NewWebDAVStore(c.Endpoint, c.Username, c.Password, nil)
		logger = logger.WithField("endpoint", c.Endpoint)
	default:
		return nil, nil, fmt.Errorf("unknown blobstore type %q", c.Type)
	}
	if c.CacheSize > 0 {
		cache, err := storage.NewLRUStore(c.CacheSize, c.CacheMaxBlobSize)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		store = storage.NewPaired(cache, store)
		logger = logger.WithFields(log.Fields{
			"cache_size":          c.CacheSize,
			"cache_max_blob_size": c.CacheMaxBlobSize,
		})
	}
	logger.Info("Blobstore ready")
	return store, cleanup, nil
}
