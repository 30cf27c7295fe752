// Package shard maps cache keys onto shard ids. Every cache backend and the
// build pipeline must agree on the same Func for a given keyspace.
package shard

import (
	farmhash "github.com/leemcloughlin/gofarmhash"
)

// Func returns the shard id for key.
type Func func(key string) uint32

// Farmhash returns a Func hashing the whole key with farmhash modulo count.
func Farmhash(count uint32) Func {
	if count == 0 {
		count = 1
	}
	return func(key string) uint32 {
		return farmhash.Hash32WithSeed([]byte(key), 0) % count
	}
}

// Fixed routes every key to the same shard.
func Fixed(id uint32) Func {
	return func(string) uint32 { return id }
}
