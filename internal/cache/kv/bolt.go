package kv

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("postings")

type boltStore struct {
	db   *bolt.DB
	path string
}

func openBolt(dir string) (*boltStore, error) {
	file := filepath.Join(dir, "cache.bolt")
	db, err := bolt.Open(file, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt at %s: %w", file, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bolt bucket: %w", err)
	}
	return &boltStore{db: db, path: dir}, nil
}

func (b *boltStore) Path() string { return b.path }

func (b *boltStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		val = bytes.Clone(v)
		return nil
	})
	return val, err
}

func (b *boltStore) Set(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

func (b *boltStore) BatchSet(keys, values [][]byte) error {
	if len(keys) != len(values) {
		return fmt.Errorf("kv: %d keys but %d values", len(keys), len(values))
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for i, key := range keys {
			if err := bucket.Put(key, values[i]); err != nil {
				return fmt.Errorf("bolt put: %w", err)
			}
		}
		return nil
	})
}

func (b *boltStore) IterPrefix(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
