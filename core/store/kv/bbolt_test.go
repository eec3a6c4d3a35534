package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "substates.db")

	db, err := NewBolt(path)
	require.NoError(t, err)

	err = db.Update(func(tx WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("nodes"))
		if err != nil {
			return err
		}

		return b.Set([]byte("vault"), []byte("100"))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = db.View(func(ReadableTx) error { return nil })
	require.Error(t, err)

	db, err = NewBolt(path)
	require.NoError(t, err)

	defer db.Close()

	err = db.View(func(tx ReadableTx) error {
		require.Equal(t, []byte("100"), tx.GetBucket([]byte("nodes")).Get([]byte("vault")))
		return nil
	})
	require.NoError(t, err)
}

func TestBoltDB_ReadOnlyBucket(t *testing.T) {
	db := makeBolt(t)

	err := db.Update(func(tx WritableTx) error {
		_, err := tx.GetBucketOrCreate([]byte("nodes"))
		return err
	})
	require.NoError(t, err)

	err = db.View(func(tx ReadableTx) error {
		return tx.GetBucket([]byte("nodes")).Set([]byte("vault"), []byte("100"))
	})
	require.EqualError(t, err, "tx not writable")
}
