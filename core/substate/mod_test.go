package substate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/store/mem"
	"go.dedis.ch/rexec/testing/fake"
	"golang.org/x/xerrors"
)

var (
	fakeComponent = address.Derive(address.EntityComponent, nil, 0)
	fakeBucket    = address.Derive(address.EntityBucket, nil, 1)

	stateID  = address.NewSubstateID(fakeComponent, address.OffsetState)
	infoID   = address.NewSubstateID(fakeComponent, address.OffsetInfo)
	bucketID = address.NewSubstateID(fakeBucket, address.OffsetBucket)
)

func TestStore_Create_Read(t *testing.T) {
	store := NewStore(newMemDatabase(), fakeCodec{})

	_, err := store.Read(stateID)
	require.True(t, xerrors.Is(err, ErrNotFound))

	require.NoError(t, store.Create(stateID, fakeValue{N: 1}))

	value, err := store.Read(stateID)
	require.NoError(t, err)
	require.Equal(t, fakeValue{N: 1}, value)

	err = store.Create(stateID, fakeValue{N: 2})
	require.True(t, xerrors.Is(err, ErrAlreadyExists))

	found, err := store.Exists(stateID)
	require.NoError(t, err)
	require.True(t, found)
}

func TestStore_Lock(t *testing.T) {
	store := NewStore(newMemDatabase(), fakeCodec{})
	require.NoError(t, store.Create(stateID, fakeValue{N: 1}))

	r1, err := store.Lock(stateID, LockRead)
	require.NoError(t, err)

	r2, err := store.Lock(stateID, LockRead)
	require.NoError(t, err)

	_, err = store.Lock(stateID, LockWrite)
	require.True(t, xerrors.Is(err, ErrLockConflict))

	require.NoError(t, store.Unlock(r1))
	require.NoError(t, store.Unlock(r2))

	w, err := store.Lock(stateID, LockWrite)
	require.NoError(t, err)

	_, err = store.Lock(stateID, LockRead)
	require.True(t, xerrors.Is(err, ErrLockConflict))

	_, err = store.Lock(stateID, LockWrite)
	require.True(t, xerrors.Is(err, ErrLockConflict))

	require.NoError(t, store.Unlock(w))

	_, err = store.Lock(infoID, LockRead)
	require.True(t, xerrors.Is(err, ErrNotFound))
}

func TestStore_Get_Write(t *testing.T) {
	store := NewStore(newMemDatabase(), fakeCodec{})
	require.NoError(t, store.Create(stateID, fakeValue{N: 1}))

	r, err := store.Lock(stateID, LockRead)
	require.NoError(t, err)

	err = store.Write(r, fakeValue{N: 2})
	require.True(t, xerrors.Is(err, ErrNotWritable))
	require.NoError(t, store.Unlock(r))

	_, err = store.Get(r)
	require.True(t, xerrors.Is(err, ErrStaleHandle))

	err = store.Write(r, fakeValue{N: 2})
	require.True(t, xerrors.Is(err, ErrStaleHandle))

	err = store.Unlock(r)
	require.True(t, xerrors.Is(err, ErrStaleHandle))

	w, err := store.Lock(stateID, LockWrite)
	require.NoError(t, err)
	require.NoError(t, store.Write(w, fakeValue{N: 3}))

	value, err := store.Get(w)
	require.NoError(t, err)
	require.Equal(t, fakeValue{N: 3}, value)
}

func TestStore_ExitFrame_ReleasesLocks(t *testing.T) {
	store := NewStore(newMemDatabase(), fakeCodec{})
	require.NoError(t, store.Create(stateID, fakeValue{N: 1}))

	for _, commit := range []bool{true, false} {
		store.EnterFrame()

		h, err := store.Lock(stateID, LockWrite)
		require.NoError(t, err)

		require.NoError(t, store.ExitFrame(commit))

		_, err = store.Get(h)
		require.True(t, xerrors.Is(err, ErrStaleHandle))

		h, err = store.Lock(stateID, LockWrite)
		require.NoError(t, err)
		require.NoError(t, store.Unlock(h))
	}

	err := store.ExitFrame(true)
	require.EqualError(t, err, "no frame to exit")
}

func TestStore_ExitFrame_Abort(t *testing.T) {
	store := NewStore(newMemDatabase(), fakeCodec{})

	store.EnterFrame()
	require.NoError(t, store.Create(stateID, fakeValue{N: 1}))
	require.NoError(t, store.ExitFrame(true))

	store.EnterFrame()
	write(t, store, stateID, 2)

	store.EnterFrame()
	write(t, store, stateID, 3)
	require.NoError(t, store.Create(infoID, fakeValue{N: 10}))
	require.Equal(t, 2, store.Depth())
	require.NoError(t, store.ExitFrame(true))

	value, err := store.Read(stateID)
	require.NoError(t, err)
	require.Equal(t, fakeValue{N: 3}, value)

	require.NoError(t, store.ExitFrame(false))

	value, err = store.Read(stateID)
	require.NoError(t, err)
	require.Equal(t, fakeValue{N: 1}, value)

	_, err = store.Read(infoID)
	require.True(t, xerrors.Is(err, ErrNotFound))
}

func TestStore_Drop(t *testing.T) {
	store := NewStore(newMemDatabase(), fakeCodec{})
	require.NoError(t, store.Create(stateID, fakeValue{N: 1}))

	err := store.Drop(stateID)
	require.EqualError(t, err, "cannot drop persistent substate "+stateID.String())

	err = store.Drop(bucketID)
	require.True(t, xerrors.Is(err, ErrNotFound))

	require.NoError(t, store.Create(bucketID, fakeValue{N: 5}))

	h, err := store.Lock(bucketID, LockRead)
	require.NoError(t, err)

	err = store.Drop(bucketID)
	require.True(t, xerrors.Is(err, ErrLockConflict))

	require.NoError(t, store.Unlock(h))

	store.EnterFrame()
	require.NoError(t, store.Drop(bucketID))
	require.NoError(t, store.ExitFrame(false))

	_, err = store.Read(bucketID)
	require.NoError(t, err)

	require.NoError(t, store.Drop(bucketID))
}

func TestStore_Commit(t *testing.T) {
	db := newMemDatabase()
	store := NewStore(db, fakeCodec{})

	require.NoError(t, store.Create(stateID, fakeValue{N: 1}))
	require.NoError(t, store.Create(bucketID, fakeValue{N: 5}))

	_, err := store.Commit()
	require.True(t, xerrors.Is(err, ErrTransientLeak))

	require.NoError(t, store.Drop(bucketID))

	store.EnterFrame()
	_, err = store.Commit()
	require.True(t, xerrors.Is(err, ErrOpenFrames))
	require.NoError(t, store.ExitFrame(true))

	changes, err := store.Commit()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, stateID, changes[0].ID)
	require.Equal(t, uint64(0), changes[0].OldVersion)
	require.Equal(t, uint64(1), changes[0].NewVersion)

	write(t, store, stateID, 2)

	changes, err = store.Commit()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, uint64(1), changes[0].OldVersion)

	fresh := NewStore(db, fakeCodec{})
	value, err := fresh.Read(stateID)
	require.NoError(t, err)
	require.Equal(t, fakeValue{N: 2}, value)

	changes, err = fresh.Commit()
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestStore_Commit_Failures(t *testing.T) {
	store := NewStore(badDatabase{}, fakeCodec{})

	_, err := store.Read(stateID)
	require.EqualError(t, err, fake.Err("failed to read "+stateID.String()))

	store = NewStore(newMemDatabase(), badCodec{})
	require.NoError(t, store.Create(stateID, fakeValue{}))

	_, err = store.Commit()
	require.EqualError(t, err, fake.Err("invalid changes: failed to encode "+stateID.String()))

	store = NewStore(badDatabase{}, fakeCodec{})
	require.NoError(t, store.Create(bucketID, fakeValue{}))
	require.NoError(t, store.Drop(bucketID))

	_, err = store.Commit()
	require.EqualError(t, err, fake.Err("database failed"))
}

func TestStore_Rollback(t *testing.T) {
	store := NewStore(newMemDatabase(), fakeCodec{})

	require.NoError(t, store.Create(stateID, fakeValue{N: 1}))
	store.EnterFrame()
	_, err := store.Lock(stateID, LockRead)
	require.NoError(t, err)

	store.Rollback()

	require.Equal(t, 0, store.Depth())

	_, err = store.Read(stateID)
	require.True(t, xerrors.Is(err, ErrNotFound))

	changes, err := store.Commit()
	require.NoError(t, err)
	require.Empty(t, changes)
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeValue struct {
	N int
}

func (v fakeValue) Clone() Value {
	return v
}

type fakeCodec struct{}

func (fakeCodec) Encode(v Value) ([]byte, error) {
	return json.Marshal(v)
}

func (fakeCodec) Decode(data []byte) (Value, error) {
	var v fakeValue
	err := json.Unmarshal(data, &v)

	return v, err
}

type badCodec struct {
	fakeCodec
}

func (badCodec) Encode(Value) ([]byte, error) {
	return nil, fake.GetError()
}

type badDatabase struct{}

func (badDatabase) Read(address.SubstateID) ([]byte, uint64, bool, error) {
	return nil, 0, false, fake.GetError()
}

func (badDatabase) Commit([]Change) error {
	return fake.GetError()
}

func newMemDatabase() Database {
	return NewKVDatabase(mem.NewDB())
}

func write(t *testing.T, store *Store, id address.SubstateID, n int) {
	h, err := store.Lock(id, LockWrite)
	require.NoError(t, err)
	require.NoError(t, store.Write(h, fakeValue{N: n}))
	require.NoError(t, store.Unlock(h))
}
