package storage

import (
	"fmt"

	"github.com/boltdb/bolt"
)

// BoltStore is an implementation of Store whose backend is a Bolt database.
type BoltStore bolt.DB

var (
	bucketName = []byte("bits")
)

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return fmt.Errorf("could not ensure bucket %q exists: %w", bucketName, err)
		}
		return nil
	})
	return (*BoltStore)(db), err
}

func (s *BoltStore) Put(key string, value []byte) error {
	return (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketName).Put([]byte(key), dup(value)); err != nil {
			return fmt.Errorf("could not put %.40q: %w", key, err)
		}
		return nil
	})
}

func (s *BoltStore) Get(key string) (value []byte, err error) {
	err = (*bolt.DB)(s).View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%.40q: %w", key, ErrNotFound)
		}
		// Bolt values are only valid for the life of the transaction.
		value = dup(v)
		return nil
	})
	return value, err
}

func (s *BoltStore) Delete(key string) error {
	return (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get([]byte(key)) == nil {
			return fmt.Errorf("%.40q: %w", key, ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}
