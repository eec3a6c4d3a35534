// Package substate implements the versioned and lockable state cells that the
// kernel reads and writes during a transaction.
//
// The store keeps the cells of the running transaction in a cache on top of a
// durable database. Every mutation is recorded in the journal of the innermost
// frame so that an aborted frame can be undone without touching its parent.
// The database is only written when the whole transaction commits.
package substate

import (
	"sort"

	"go.dedis.ch/rexec/core/address"
	"golang.org/x/xerrors"
)

var (
	// ErrNotFound is returned when a substate does not exist.
	ErrNotFound = xerrors.New("substate not found")
	// ErrAlreadyExists is returned when a substate is created twice.
	ErrAlreadyExists = xerrors.New("substate already exists")
	// ErrLockConflict is returned when a lock is incompatible with the locks
	// already held on the substate.
	ErrLockConflict = xerrors.New("lock conflict")
	// ErrStaleHandle is returned when a handle is unknown or released.
	ErrStaleHandle = xerrors.New("stale lock handle")
	// ErrNotWritable is returned when writing through a read lock.
	ErrNotWritable = xerrors.New("substate not writable")
	// ErrTransientLeak is returned when a transient substate is still alive
	// at commit time.
	ErrTransientLeak = xerrors.New("transient substate leaked")
	// ErrOpenFrames is returned when committing while frames or locks are
	// still open.
	ErrOpenFrames = xerrors.New("frames or locks still open")
)

// Value is the value of a substate.
type Value interface {
	// Clone returns a deep copy of the value.
	Clone() Value
}

// Codec encodes and decodes the values stored in the database.
type Codec interface {
	Encode(Value) ([]byte, error)
	Decode([]byte) (Value, error)
}

// Change is the new value of a substate produced by a transaction. The old
// version is zero for a substate created by the transaction.
type Change struct {
	ID         address.SubstateID
	OldVersion uint64
	NewVersion uint64
	Value      []byte
}

// Database is the durable storage of the substates.
type Database interface {
	// Read returns the encoded value and the version of the substate, or
	// false if it does not exist.
	Read(id address.SubstateID) ([]byte, uint64, bool, error)

	// Commit applies the changes atomically.
	Commit(changes []Change) error
}

// LockMode is the mode of a lock.
type LockMode uint8

const (
	// LockRead is a shared lock.
	LockRead LockMode = iota
	// LockWrite is an exclusive lock.
	LockWrite
)

// String implements fmt.Stringer.
func (m LockMode) String() string {
	if m == LockWrite {
		return "write"
	}

	return "read"
}

// Handle identifies a lock held on a substate.
type Handle uint32

type cell struct {
	id      address.SubstateID
	value   Value
	version uint64
	exists  bool
	dirty   bool
	readers int
	writer  bool
}

type lockEntry struct {
	key  string
	mode LockMode
}

type undo struct {
	key    string
	value  Value
	exists bool
	dirty  bool
}

type frame struct {
	journal []undo
	handles []Handle
}

// Store is the substate store of one transaction at a time. It is not safe
// for concurrent use.
type Store struct {
	db     Database
	codec  Codec
	cells  map[string]*cell
	locks  map[Handle]lockEntry
	next   Handle
	frames []*frame
}

// NewStore returns a store on top of the database.
func NewStore(db Database, codec Codec) *Store {
	s := &Store{
		db:    db,
		codec: codec,
	}

	s.reset()

	return s
}

// Depth returns the number of open frames.
func (s *Store) Depth() int {
	return len(s.frames)
}

// Read returns a copy of the current value of the substate, including the
// uncommitted writes of the transaction.
func (s *Store) Read(id address.SubstateID) (Value, error) {
	c, err := s.load(id)
	if err != nil {
		return nil, err
	}

	if !c.exists {
		return nil, xerrors.Errorf("%v: %w", id, ErrNotFound)
	}

	return c.value.Clone(), nil
}

// Exists returns true if the substate exists.
func (s *Store) Exists(id address.SubstateID) (bool, error) {
	c, err := s.load(id)
	if err != nil {
		return false, err
	}

	return c.exists, nil
}

// Create creates the substate with the value.
func (s *Store) Create(id address.SubstateID, value Value) error {
	c, err := s.load(id)
	if err != nil {
		return err
	}

	if c.exists {
		return xerrors.Errorf("%v: %w", id, ErrAlreadyExists)
	}

	s.record(c)

	c.value = value.Clone()
	c.exists = true
	c.dirty = true

	return nil
}

// Drop removes a transient substate.
func (s *Store) Drop(id address.SubstateID) error {
	if !id.Node.Type().IsTransient() {
		return xerrors.Errorf("cannot drop persistent substate %v", id)
	}

	c, err := s.load(id)
	if err != nil {
		return err
	}

	if !c.exists {
		return xerrors.Errorf("%v: %w", id, ErrNotFound)
	}

	if c.writer || c.readers > 0 {
		return xerrors.Errorf("cannot drop locked %v: %w", id, ErrLockConflict)
	}

	s.record(c)

	c.value = nil
	c.exists = false
	c.dirty = true

	return nil
}

// Lock acquires a lock on the substate. A write lock is exclusive while read
// locks can be shared.
func (s *Store) Lock(id address.SubstateID, mode LockMode) (Handle, error) {
	c, err := s.load(id)
	if err != nil {
		return 0, err
	}

	if !c.exists {
		return 0, xerrors.Errorf("%v: %w", id, ErrNotFound)
	}

	if c.writer || (mode == LockWrite && c.readers > 0) {
		return 0, xerrors.Errorf("%s lock on %v: %w", mode, id, ErrLockConflict)
	}

	if mode == LockWrite {
		c.writer = true
	} else {
		c.readers++
	}

	s.next++
	handle := s.next

	s.locks[handle] = lockEntry{key: string(id.Key()), mode: mode}

	if len(s.frames) > 0 {
		f := s.frames[len(s.frames)-1]
		f.handles = append(f.handles, handle)
	}

	return handle, nil
}

// Get returns a copy of the value of the locked substate.
func (s *Store) Get(h Handle) (Value, error) {
	entry, found := s.locks[h]
	if !found {
		return nil, xerrors.Errorf("handle %d: %w", h, ErrStaleHandle)
	}

	return s.cells[entry.key].value.Clone(), nil
}

// Write replaces the value of a substate locked in write mode.
func (s *Store) Write(h Handle, value Value) error {
	entry, found := s.locks[h]
	if !found {
		return xerrors.Errorf("handle %d: %w", h, ErrStaleHandle)
	}

	if entry.mode != LockWrite {
		return xerrors.Errorf("handle %d: %w", h, ErrNotWritable)
	}

	c := s.cells[entry.key]

	s.record(c)

	c.value = value.Clone()
	c.dirty = true

	return nil
}

// Unlock releases the lock.
func (s *Store) Unlock(h Handle) error {
	entry, found := s.locks[h]
	if !found {
		return xerrors.Errorf("handle %d: %w", h, ErrStaleHandle)
	}

	s.release(h, entry)

	return nil
}

// EnterFrame opens a new frame. Mutations and locks are attributed to the
// innermost frame.
func (s *Store) EnterFrame() {
	s.frames = append(s.frames, &frame{})
}

// ExitFrame closes the innermost frame and releases the locks it still holds.
// When commit is false, every mutation of the frame and of its children is
// undone.
func (s *Store) ExitFrame(commit bool) error {
	if len(s.frames) == 0 {
		return xerrors.New("no frame to exit")
	}

	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]

	for _, h := range f.handles {
		entry, found := s.locks[h]
		if found {
			s.release(h, entry)
		}
	}

	if !commit {
		for i := len(f.journal) - 1; i >= 0; i-- {
			u := f.journal[i]

			c := s.cells[u.key]
			c.value = u.value
			c.exists = u.exists
			c.dirty = u.dirty
		}

		return nil
	}

	if len(s.frames) > 0 {
		parent := s.frames[len(s.frames)-1]
		parent.journal = append(parent.journal, f.journal...)
	}

	return nil
}

// Changes returns the pending changes of the persistent substates sorted by
// key.
func (s *Store) Changes() ([]Change, error) {
	keys := make([]string, 0)

	for key, c := range s.cells {
		if !c.dirty {
			continue
		}

		if c.id.Node.Type().IsTransient() {
			if c.exists {
				return nil, xerrors.Errorf("%v: %w", c.id, ErrTransientLeak)
			}

			continue
		}

		keys = append(keys, key)
	}

	sort.Strings(keys)

	changes := make([]Change, len(keys))

	for i, key := range keys {
		c := s.cells[key]

		value, err := s.codec.Encode(c.value)
		if err != nil {
			return nil, xerrors.Errorf("failed to encode %v: %v", c.id, err)
		}

		changes[i] = Change{
			ID:         c.id,
			OldVersion: c.version,
			NewVersion: c.version + 1,
			Value:      value,
		}
	}

	return changes, nil
}

// Commit writes the changes of the transaction to the database atomically.
func (s *Store) Commit() ([]Change, error) {
	if len(s.frames) > 0 || len(s.locks) > 0 {
		return nil, xerrors.Errorf("%d frames and %d locks: %w",
			len(s.frames), len(s.locks), ErrOpenFrames)
	}

	changes, err := s.Changes()
	if err != nil {
		return nil, xerrors.Errorf("invalid changes: %w", err)
	}

	err = s.db.Commit(changes)
	if err != nil {
		return nil, xerrors.Errorf("database failed: %v", err)
	}

	for _, change := range changes {
		c := s.cells[string(change.ID.Key())]
		c.version = change.NewVersion
		c.dirty = false
	}

	for key, c := range s.cells {
		if c.dirty {
			delete(s.cells, key)
		}
	}

	return changes, nil
}

// Rollback discards every change since the last commit.
func (s *Store) Rollback() {
	s.reset()
}

func (s *Store) reset() {
	s.cells = make(map[string]*cell)
	s.locks = make(map[Handle]lockEntry)
	s.frames = nil
}

func (s *Store) load(id address.SubstateID) (*cell, error) {
	key := string(id.Key())

	c, found := s.cells[key]
	if found {
		return c, nil
	}

	c = &cell{id: id}

	if !id.Node.Type().IsTransient() {
		data, version, found, err := s.db.Read(id)
		if err != nil {
			return nil, xerrors.Errorf("failed to read %v: %v", id, err)
		}

		if found {
			value, err := s.codec.Decode(data)
			if err != nil {
				return nil, xerrors.Errorf("failed to decode %v: %v", id, err)
			}

			c.value = value
			c.version = version
			c.exists = true
		}
	}

	s.cells[key] = c

	return c, nil
}

func (s *Store) record(c *cell) {
	if len(s.frames) == 0 {
		return
	}

	f := s.frames[len(s.frames)-1]
	f.journal = append(f.journal, undo{
		key:    string(c.id.Key()),
		value:  c.value,
		exists: c.exists,
		dirty:  c.dirty,
	})
}

func (s *Store) release(h Handle, entry lockEntry) {
	c := s.cells[entry.key]

	if entry.mode == LockWrite {
		c.writer = false
	} else {
		c.readers--
	}

	delete(s.locks, h)
}
