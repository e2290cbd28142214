package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Backend is the opaque byte-addressed persistent map the typed stores sit
// on. A successful Put is observable by a later Get in the same process;
// crash consistency is the backend's responsibility.
type Backend interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, bool, error)
	Delete(key []byte) error
	Contains(key []byte) (bool, error)
	// ForEach visits every entry in key order. Returning an error from fn
	// stops the iteration and surfaces the error.
	ForEach(fn func(key, value []byte) error) error
}

// Env owns the embedded database file and hands out one Backend per named
// store.
type Env struct {
	db *bolt.DB
}

// Open opens (or creates) the embedded database at path.
func Open(path string) (*Env, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	return &Env{db: db}, nil
}

// Close releases the underlying database file.
func (e *Env) Close() error {
	return e.db.Close()
}

// Backend returns the byte map for the named store, creating it on first use.
func (e *Env) Backend(name string) (Backend, error) {
	bucket := []byte(name)
	err := e.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating store %s: %w", name, err)
	}
	return &boltBackend{db: e.db, bucket: bucket}, nil
}

type boltBackend struct {
	db     *bolt.DB
	bucket []byte
}

func (b *boltBackend) Put(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put(key, value)
	})
}

func (b *boltBackend) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(b.bucket).Get(key); v != nil {
			out = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	return out, found, err
}

func (b *boltBackend) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete(key)
	})
}

func (b *boltBackend) Contains(key []byte) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(b.bucket).Get(key) != nil
		return nil
	})
	return found, err
}

func (b *boltBackend) ForEach(fn func(key, value []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).ForEach(func(k, v []byte) error {
			key := append([]byte(nil), k...)
			value := append([]byte(nil), v...)
			return fn(key, value)
		})
	})
}
