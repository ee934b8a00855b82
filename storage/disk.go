package storage

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DiskStore implements Store on top of a local directory. Values are written
// to a temporary file first and renamed into place, so readers never observe
// partial writes.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func (s *DiskStore) Put(key string, value []byte) (err error) {
	valpath := s.pathFor(key)
	err = s.writeFile(valpath, value)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not write %q: %w", valpath, err)
	}
	if err = os.MkdirAll(filepath.Dir(valpath), 0700); err != nil {
		return fmt.Errorf("could not make dir for %q: %w", valpath, err)
	}
	return s.writeFile(valpath, value)
}

func (s *DiskStore) Get(key string) (value []byte, err error) {
	value, err = os.ReadFile(s.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%.40q: %w", key, ErrNotFound)
	}
	if err == nil && value == nil {
		value = []byte{}
	}
	return value, err
}

func (s *DiskStore) Delete(key string) (err error) {
	err = os.Remove(s.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%.40q: %w", key, ErrNotFound)
	}
	return err
}

func (s *DiskStore) writeFile(valpath string, value []byte) error {
	f, err := os.CreateTemp(filepath.Dir(valpath), ".put-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(value); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, valpath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *DiskStore) pathFor(key string) string {
	b := []byte(key)
	// Prevent ENAMETOOLONG, while retaining low probability of clashes.
	if len(b) > sha512.Size {
		hash := sha512.Sum512(b)
		b = hash[:]
	}
	hex := fmt.Sprintf("%02x", b)
	if hex == "" {
		hex = "00"
	}
	return filepath.Join(s.dir, hex[:2], hex)
}
