package substate

import (
	"encoding/binary"

	"github.com/golang/snappy"
	"go.dedis.ch/rexec"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/store/kv"
	"golang.org/x/xerrors"
)

const versionLength = 8

var substateBucket = []byte("substates")

// KVDatabase is a substate database on top of a key/value database. Each entry
// holds the version followed by the compressed value.
//
// - implements substate.Database
type KVDatabase struct {
	db kv.DB
}

// NewKVDatabase returns a substate database using the key/value database.
func NewKVDatabase(db kv.DB) KVDatabase {
	return KVDatabase{db: db}
}

// Read implements substate.Database. It returns the value and the version of
// the substate if it exists.
func (d KVDatabase) Read(id address.SubstateID) ([]byte, uint64, bool, error) {
	var value []byte
	var version uint64
	var found bool

	err := d.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(substateBucket)
		if bucket == nil {
			return nil
		}

		entry := bucket.Get(id.Key())
		if entry == nil {
			return nil
		}

		var err error
		version, value, err = decodeEntry(entry)
		found = err == nil

		return err
	})
	if err != nil {
		return nil, 0, false, xerrors.Errorf("failed to read: %v", err)
	}

	return value, version, found, nil
}

// Commit implements substate.Database. It applies the changes in a single
// transaction after checking that the versions did not move.
func (d KVDatabase) Commit(changes []Change) error {
	return d.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(substateBucket)
		if err != nil {
			return xerrors.Errorf("bucket: %v", err)
		}

		for _, change := range changes {
			var current uint64

			entry := bucket.Get(change.ID.Key())
			if entry != nil {
				current, _, err = decodeEntry(entry)
				if err != nil {
					return err
				}
			}

			if current != change.OldVersion {
				return xerrors.Errorf("version mismatch for %v: %d != %d",
					change.ID, current, change.OldVersion)
			}

			err = bucket.Set(change.ID.Key(), encodeEntry(change.NewVersion, change.Value))
			if err != nil {
				return xerrors.Errorf("failed to write %v: %v", change.ID, err)
			}
		}

		tx.OnCommit(func() {
			rexec.Logger.Debug().
				Str("component", "substate").
				Int("changes", len(changes)).
				Msg("database committed")
		})

		return nil
	})
}

// Scan iterates over the substates of the node in the order of the offsets.
func (d KVDatabase) Scan(node address.NodeID, fn func(Change) error) error {
	return d.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(substateBucket)
		if bucket == nil {
			return nil
		}

		prefix := address.NewSubstateID(node, "").Key()

		return bucket.Scan(prefix, func(k, v []byte) error {
			id, err := address.ParseKey(k)
			if err != nil {
				return err
			}

			version, value, err := decodeEntry(v)
			if err != nil {
				return err
			}

			return fn(Change{ID: id, NewVersion: version, Value: value})
		})
	})
}

func encodeEntry(version uint64, value []byte) []byte {
	entry := make([]byte, versionLength, versionLength+snappy.MaxEncodedLen(len(value)))
	binary.BigEndian.PutUint64(entry, version)

	return append(entry, snappy.Encode(nil, value)...)
}

func decodeEntry(entry []byte) (uint64, []byte, error) {
	if len(entry) < versionLength {
		return 0, nil, xerrors.Errorf("entry too short: %d", len(entry))
	}

	value, err := snappy.Decode(nil, entry[versionLength:])
	if err != nil {
		return 0, nil, xerrors.Errorf("failed to decompress: %v", err)
	}

	return binary.BigEndian.Uint64(entry), value, nil
}
