package kv

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

type badgerStore struct {
	db   *badger.DB
	path string
}

func openBadger(dir string) (*badgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithNumVersionsToKeep(1).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", dir, err)
	}
	return &badgerStore{db: db, path: dir}, nil
}

func (b *badgerStore) Path() string { return b.path }

func (b *badgerStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return val, err
}

func (b *badgerStore) Set(key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// BatchSet streams through a WriteBatch, which splits oversized
// transactions on its own.
func (b *badgerStore) BatchSet(keys, values [][]byte) error {
	if len(keys) != len(values) {
		return fmt.Errorf("kv: %d keys but %d values", len(keys), len(values))
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for i, key := range keys {
		if err := wb.Set(key, values[i]); err != nil {
			return fmt.Errorf("badger batch set: %w", err)
		}
	}
	return wb.Flush()
}

func (b *badgerStore) IterPrefix(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.Key()
			if err := item.Value(func(v []byte) error {
				return fn(k, v)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
