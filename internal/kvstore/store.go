// Package kvstore wraps an embedded BoltDB file as a bucket-per-concern
// key/value store, used by the queue persistence layer.
package kvstore

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Store is a thin, bucket-scoped wrapper over a single BoltDB file.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the BoltDB file at path, pre-creating buckets.
func Open(path string, buckets ...string) (*Store, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		NoSync:       false,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Read fetches the value stored at key in bucket. ok is false when the key
// or bucket is absent; both are treated as "nothing persisted yet" by
// callers rather than as an error.
func (s *Store) Read(bucket, key string) (value []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		value = append([]byte(nil), v...)
		ok = true
		return nil
	})
	return value, ok, err
}

// Write stores value at key in bucket, creating the bucket if needed.
func (s *Store) Write(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

// Delete removes key from bucket. Deleting an absent key is a no-op.
func (s *Store) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// ForEach walks every key/value pair in bucket in key order. Iteration stops
// early if fn returns an error, and that error is returned from ForEach.
func (s *Store) ForEach(bucket string, fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}
