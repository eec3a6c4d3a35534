package kv

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/xerrors"
)

// bucketsPrefix is the prefix of the keys that register the existing buckets.
const bucketsPrefix = "\x00buckets/"

// levelReader is the common interface of a LevelDB snapshot and transaction.
type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// levelDB is an adapter of the KV store using LevelDB. Buckets are emulated
// by prefixing the keys with the length and the name of the bucket.
//
// - implements kv.DB
type levelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens a new database at the given path using LevelDB.
func NewLevelDB(path string) (DB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		Filter: filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	return levelDB{db: db}, nil
}

// View implements kv.DB. It executes the read-only transaction on a snapshot
// of the database.
func (db levelDB) View(fn func(ReadableTx) error) error {
	snap, err := db.db.GetSnapshot()
	if err != nil {
		return xerrors.Errorf("failed to take snapshot: %v", err)
	}

	defer snap.Release()

	return fn(&levelTx{reader: snap})
}

// Update implements kv.DB. It executes the read-write transaction and commits
// it if no error is returned, otherwise the transaction is discarded.
func (db levelDB) Update(fn func(WritableTx) error) error {
	txn, err := db.db.OpenTransaction()
	if err != nil {
		return xerrors.Errorf("failed to open transaction: %v", err)
	}

	tx := &levelTx{reader: txn, txn: txn}

	err = fn(tx)
	if err != nil {
		txn.Discard()
		return err
	}

	err = txn.Commit()
	if err != nil {
		return xerrors.Errorf("failed to commit: %v", err)
	}

	for _, callback := range tx.callbacks {
		callback()
	}

	return nil
}

// Close implements kv.DB. It closes the database.
func (db levelDB) Close() error {
	return db.db.Close()
}

// levelTx is the adapter of a LevelDB snapshot or transaction.
//
// - implements kv.ReadableTx
// - implements kv.WritableTx
type levelTx struct {
	reader    levelReader
	txn       *leveldb.Transaction
	callbacks []func()
}

// GetBucket implements kv.ReadableTx. It returns the bucket with the given
// name or nil if it does not exist.
func (tx *levelTx) GetBucket(name []byte) Bucket {
	found, err := tx.reader.Has(append([]byte(bucketsPrefix), name...), nil)
	if err != nil || !found {
		return nil
	}

	return tx.makeBucket(name)
}

// GetBucketOrCreate implements kv.WritableTx. It returns the bucket with the
// given name or creates it if it does not exist.
func (tx *levelTx) GetBucketOrCreate(name []byte) (Bucket, error) {
	if len(name) == 0 {
		return nil, xerrors.New("failed to create bucket: bucket name required")
	}

	if len(name) > 255 {
		return nil, xerrors.New("failed to create bucket: bucket name too long")
	}

	err := tx.txn.Put(append([]byte(bucketsPrefix), name...), []byte{}, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to create bucket: %v", err)
	}

	return tx.makeBucket(name), nil
}

// OnCommit implements store.Transaction. It registers a callback that is
// called after the transaction is successfully committed.
func (tx *levelTx) OnCommit(fn func()) {
	tx.callbacks = append(tx.callbacks, fn)
}

func (tx *levelTx) makeBucket(name []byte) levelBucket {
	prefix := make([]byte, 0, len(name)+1)
	prefix = append(prefix, byte(len(name)))
	prefix = append(prefix, name...)

	return levelBucket{tx: tx, prefix: prefix}
}

// levelBucket is a view of the keys of a LevelDB transaction sharing a
// prefix.
//
// - implements kv.Bucket
type levelBucket struct {
	tx     *levelTx
	prefix []byte
}

// Get implements kv.Bucket. It returns the value associated to the key or nil.
func (b levelBucket) Get(key []byte) []byte {
	value, err := b.tx.reader.Get(b.key(key), nil)
	if err != nil {
		return nil
	}

	return value
}

// Set implements kv.Bucket. It sets the provided key to the value.
func (b levelBucket) Set(key, value []byte) error {
	if b.tx.txn == nil {
		return xerrors.New("read-only transaction")
	}

	return b.tx.txn.Put(b.key(key), value, nil)
}

// Delete implements kv.Bucket. It deletes the key from the bucket.
func (b levelBucket) Delete(key []byte) error {
	if b.tx.txn == nil {
		return xerrors.New("read-only transaction")
	}

	return b.tx.txn.Delete(b.key(key), nil)
}

// ForEach implements kv.Bucket. It iterates over the whole bucket.
func (b levelBucket) ForEach(fn func(k, v []byte) error) error {
	return b.iterate(nil, fn)
}

// Scan implements kv.Bucket. It iterates over the keys matching the prefix.
func (b levelBucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	err := b.iterate(prefix, fn)
	if err != nil {
		return xerrors.Errorf("callback failed: %v", err)
	}

	return nil
}

func (b levelBucket) iterate(prefix []byte, fn func(k, v []byte) error) error {
	iter := b.tx.reader.NewIterator(util.BytesPrefix(b.key(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		key := append([]byte{}, iter.Key()[len(b.prefix):]...)
		value := append([]byte{}, iter.Value()...)

		err := fn(key, value)
		if err != nil {
			return err
		}
	}

	return iter.Error()
}

func (b levelBucket) key(key []byte) []byte {
	full := make([]byte, 0, len(b.prefix)+len(key))
	full = append(full, b.prefix...)

	return append(full, key...)
}
