package kv

import (
	"bytes"
	"os"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// BoltOption is the type of options to open a bbolt database.
type BoltOption func(*bbolt.Options)

// WithTimeout sets the amount of time to wait for the file lock of the
// database. By default, it waits forever.
func WithTimeout(d time.Duration) BoltOption {
	return func(opts *bbolt.Options) {
		opts.Timeout = d
	}
}

// WithNoSync disables the fsync after each commit. It should only be used for
// throw-away databases.
func WithNoSync() BoltOption {
	return func(opts *bbolt.Options) {
		opts.NoSync = true
		opts.NoFreelistSync = true
	}
}

// boltStore is the kv.DB backed by a bbolt file. Buckets are native bbolt
// buckets.
//
// - implements kv.DB
type boltStore struct {
	file *bbolt.DB
}

// NewBolt opens the bbolt database at the given path, or creates it.
func NewBolt(path string, opts ...BoltOption) (DB, error) {
	options := &bbolt.Options{}
	for _, opt := range opts {
		opt(options)
	}

	var mode os.FileMode = 0600

	file, err := bbolt.Open(path, mode, options)
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	return boltStore{file: file}, nil
}

// View implements kv.DB. It runs the function inside a read-only bbolt
// transaction.
func (s boltStore) View(fn func(ReadableTx) error) error {
	return s.file.View(func(txn *bbolt.Tx) error {
		return fn(boltTxn{inner: txn})
	})
}

// Update implements kv.DB. It runs the function inside a read-write bbolt
// transaction which is rolled back when the function returns an error.
func (s boltStore) Update(fn func(WritableTx) error) error {
	return s.file.Update(func(txn *bbolt.Tx) error {
		return fn(boltTxn{inner: txn})
	})
}

// Close implements kv.DB. It releases the file lock. Transactions opened
// afterwards fail.
func (s boltStore) Close() error {
	return s.file.Close()
}

// boltTxn wraps a bbolt transaction, either read-only or writable.
//
// - implements kv.ReadableTx
// - implements kv.WritableTx
type boltTxn struct {
	inner *bbolt.Tx
}

// GetBucket implements kv.ReadableTx.
func (txn boltTxn) GetBucket(name []byte) Bucket {
	b := txn.inner.Bucket(name)
	if b == nil {
		return nil
	}

	return boltBucket{b}
}

// GetBucketOrCreate implements kv.WritableTx.
func (txn boltTxn) GetBucketOrCreate(name []byte) (Bucket, error) {
	b, err := txn.inner.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, xerrors.Errorf("failed to create bucket: %v", err)
	}

	return boltBucket{b}, nil
}

// OnCommit implements store.Transaction. The callback runs only if the
// transaction commits.
func (txn boltTxn) OnCommit(fn func()) {
	txn.inner.OnCommit(fn)
}

// boltBucket is a bbolt bucket seen through the kv.Bucket interface. The
// slices it returns are only valid during the transaction.
//
// - implements kv.Bucket
type boltBucket struct {
	*bbolt.Bucket
}

// Set implements kv.Bucket.
func (b boltBucket) Set(key, value []byte) error {
	return b.Put(key, value)
}

// Scan implements kv.Bucket. It seeks the first key with the prefix and walks
// the cursor until a key stops matching.
func (b boltBucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	cursor := b.Cursor()

	k, v := cursor.Seek(prefix)
	for k != nil && bytes.HasPrefix(k, prefix) {
		err := fn(k, v)
		if err != nil {
			return xerrors.Errorf("callback failed: %v", err)
		}

		k, v = cursor.Next()
	}

	return nil
}
