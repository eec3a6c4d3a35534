// Package mem implements an in-memory key/value database. Buckets are kept
// ordered in red-black trees so that scans follow the order of the keys like
// the durable implementations.
package mem

import (
	"bytes"
	"strings"
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
	"go.dedis.ch/rexec/core/store/kv"
	"golang.org/x/xerrors"
)

// DB is an in-memory database. A writable transaction works on copies of the
// buckets it touches, which replace the originals only when it succeeds.
//
// - implements kv.DB
type DB struct {
	sync.RWMutex
	buckets map[string]*redblacktree.Tree
}

// NewDB returns a new empty in-memory database.
func NewDB() *DB {
	return &DB{
		buckets: make(map[string]*redblacktree.Tree),
	}
}

// View implements kv.DB. It executes the read-only transaction.
func (db *DB) View(fn func(kv.ReadableTx) error) error {
	db.RLock()
	defer db.RUnlock()

	return fn(&tx{db: db})
}

// Update implements kv.DB. It executes the read-write transaction and applies
// its changes only if it returns no error.
func (db *DB) Update(fn func(kv.WritableTx) error) error {
	db.Lock()
	defer db.Unlock()

	txn := &tx{
		db:      db,
		staging: make(map[string]*redblacktree.Tree),
	}

	err := fn(txn)
	if err != nil {
		return err
	}

	for name, tree := range txn.staging {
		db.buckets[name] = tree
	}

	for _, callback := range txn.callbacks {
		callback()
	}

	return nil
}

// Close implements kv.DB. It does nothing.
func (db *DB) Close() error {
	return nil
}

// tx is a transaction over the in-memory database.
//
// - implements kv.ReadableTx
// - implements kv.WritableTx
type tx struct {
	db        *DB
	staging   map[string]*redblacktree.Tree
	callbacks []func()
}

// GetBucket implements kv.ReadableTx. It returns the bucket if it exists,
// otherwise nil.
func (t *tx) GetBucket(name []byte) kv.Bucket {
	key := string(name)

	if t.staging != nil {
		tree, found := t.staging[key]
		if found {
			return bucket{tree: tree, writable: true}
		}
	}

	tree, found := t.db.buckets[key]
	if !found {
		return nil
	}

	if t.staging == nil {
		return bucket{tree: tree}
	}

	clone := cloneTree(tree)
	t.staging[key] = clone

	return bucket{tree: clone, writable: true}
}

// GetBucketOrCreate implements kv.WritableTx. It returns the bucket or creates
// it if it does not exist.
func (t *tx) GetBucketOrCreate(name []byte) (kv.Bucket, error) {
	if len(name) == 0 {
		return nil, xerrors.New("failed to create bucket: bucket name required")
	}

	b := t.GetBucket(name)
	if b != nil {
		return b, nil
	}

	tree := redblacktree.NewWith(utils.StringComparator)
	t.staging[string(name)] = tree

	return bucket{tree: tree, writable: true}, nil
}

// OnCommit implements store.Transaction. The callback is called after the
// changes are applied.
func (t *tx) OnCommit(fn func()) {
	t.callbacks = append(t.callbacks, fn)
}

// bucket is an ordered set of keys.
//
// - implements kv.Bucket
type bucket struct {
	tree     *redblacktree.Tree
	writable bool
}

// Get implements kv.Bucket. It returns a copy of the value of the key, or nil.
func (b bucket) Get(key []byte) []byte {
	value, found := b.tree.Get(string(key))
	if !found {
		return nil
	}

	return append([]byte{}, value.([]byte)...)
}

// Set implements kv.Bucket. It stores a copy of the value.
func (b bucket) Set(key, value []byte) error {
	if !b.writable {
		return xerrors.New("read-only transaction")
	}

	b.tree.Put(string(key), append([]byte{}, value...))

	return nil
}

// Delete implements kv.Bucket.
func (b bucket) Delete(key []byte) error {
	if !b.writable {
		return xerrors.New("read-only transaction")
	}

	b.tree.Remove(string(key))

	return nil
}

// ForEach implements kv.Bucket. It iterates over the keys in order.
func (b bucket) ForEach(fn func(k, v []byte) error) error {
	iter := b.tree.Iterator()

	for iter.Next() {
		err := fn([]byte(iter.Key().(string)), iter.Value().([]byte))
		if err != nil {
			return err
		}
	}

	return nil
}

// Scan implements kv.Bucket. It iterates in order over the keys that match
// the prefix.
func (b bucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	start, found := b.tree.Ceiling(string(prefix))
	if !found {
		return nil
	}

	iter := b.tree.IteratorAt(start)

	for ok := true; ok; ok = iter.Next() {
		key := iter.Key().(string)
		if !strings.HasPrefix(key, string(prefix)) {
			return nil
		}

		err := fn([]byte(key), iter.Value().([]byte))
		if err != nil {
			return xerrors.Errorf("callback failed: %v", err)
		}
	}

	return nil
}

func cloneTree(tree *redblacktree.Tree) *redblacktree.Tree {
	clone := redblacktree.NewWith(utils.StringComparator)

	iter := tree.Iterator()
	for iter.Next() {
		clone.Put(iter.Key(), iter.Value())
	}

	return clone
}

// Equal returns true if both databases hold the same buckets and the same
// keys and values.
func Equal(a, b *DB) bool {
	a.RLock()
	defer a.RUnlock()

	b.RLock()
	defer b.RUnlock()

	if len(a.buckets) != len(b.buckets) {
		return false
	}

	for name, left := range a.buckets {
		right, found := b.buckets[name]
		if !found || left.Size() != right.Size() {
			return false
		}

		iter := left.Iterator()
		for iter.Next() {
			value, found := right.Get(iter.Key())
			if !found || !bytes.Equal(value.([]byte), iter.Value().([]byte)) {
				return false
			}
		}
	}

	return true
}

// Clone returns a deep copy of the database.
func (db *DB) Clone() *DB {
	db.RLock()
	defer db.RUnlock()

	clone := NewDB()
	for name, tree := range db.buckets {
		clone.buckets[name] = cloneTree(tree)
	}

	return clone
}
