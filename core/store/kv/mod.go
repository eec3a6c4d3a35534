// Package kv is the persistent storage of the substates. A database holds
// named buckets of ordered keys and is only accessed through transactions.
//
// Two engines are available: bbolt (NewBolt) with native buckets, and LevelDB
// (NewLevelDB) where a bucket is a key prefix.
package kv

import "go.dedis.ch/rexec/core/store"

// Bucket is a namespace of ordered keys.
type Bucket interface {
	// Get returns the value of the key, or nil when it is missing.
	Get(key []byte) []byte

	Set(key, value []byte) error

	// Delete removes the key. A missing key is not an error.
	Delete(key []byte) error

	// ForEach calls fn for every key in order and stops at the first error,
	// which is returned.
	ForEach(fn func(k, v []byte) error) error

	// Scan calls fn for every key starting with the prefix, in order. The
	// iteration stops at the first error.
	Scan(prefix []byte, fn func(k, v []byte) error) error
}

// ReadableTx is a read-only view of the database.
type ReadableTx interface {
	// GetBucket returns the bucket, or nil when it does not exist.
	GetBucket(name []byte) Bucket
}

// WritableTx is a transaction that can modify the database.
type WritableTx interface {
	store.Transaction

	ReadableTx

	// GetBucketOrCreate returns the bucket and creates it if needed.
	GetBucketOrCreate(name []byte) (Bucket, error)
}

// DB is a key/value database.
type DB interface {
	// View runs fn on a consistent view of the database.
	View(fn func(ReadableTx) error) error

	// Update runs fn in a transaction that is committed when fn returns nil,
	// and discarded otherwise.
	Update(fn func(WritableTx) error) error

	Close() error
}
