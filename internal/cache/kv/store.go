// Package kv is the sorted byte-oriented key-value layer under the
// persistent cache backend.
package kv

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Engine names a storage engine.
type Engine string

const (
	Badger Engine = "badger"
	Bolt   Engine = "bolt"
)

// ErrKeyNotFound is returned by Get for a missing key.
var ErrKeyNotFound = errors.New("kv: key not found")

// Store is a sorted key-value store. Keys iterate in byte order.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	BatchSet(keys, values [][]byte) error
	// IterPrefix visits every key starting with prefix in order. Slices
	// passed to fn are only valid during the call. A non-nil error from fn
	// stops the walk and is returned.
	IterPrefix(prefix []byte, fn func(key, value []byte) error) error
	Path() string
	Close() error
}

func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case Badger, Bolt:
		return e, nil
	case "":
		return Badger, nil
	}
	return "", fmt.Errorf("kv: unknown engine %q", s)
}

// Open opens or creates a store of the given engine rooted at dir.
func Open(engine Engine, dir string) (Store, error) {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		slog.Info("creating kv directory", "path", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating kv directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat kv directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("kv path %s is not a directory", dir)
	}

	switch engine {
	case Badger, "":
		return openBadger(dir)
	case Bolt:
		return openBolt(dir)
	}
	return nil, fmt.Errorf("kv: unknown engine %q", engine)
}
