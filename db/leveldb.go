package db

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key does not exist
var ErrNotFound = leveldb.ErrNotFound

// ErrReadOnly is returned when writing through a read-only view
var ErrReadOnly = errors.New("db: read-only view")

// Reader is the read surface shared by the database, transactions and snapshots
type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewIterator(slice *util.Range) iterator.Iterator
}

// KV is a Reader that can also be written to
type KV interface {
	Reader
	Put(key, value []byte) error
	Delete(key []byte) error
}

// LevelDB wraps the actual LevelDB connection
type LevelDB struct {
	conn *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB instance at the given path
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{conn: db}, nil
}

// NewMemLevelDB opens a LevelDB instance backed by memory, used by tests
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{conn: db}, nil
}

// Close safely closes the LevelDB connection
func (l *LevelDB) Close() error {
	return l.conn.Close()
}

// Put inserts or updates a key-value pair
func (l *LevelDB) Put(key, value []byte) error {
	return l.conn.Put(key, value, nil)
}

// Get retrieves the value for a given key
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	return l.conn.Get(key, nil)
}

// Has reports whether the key exists
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.conn.Has(key, nil)
}

// Delete removes the key, deleting a missing key is not an error
func (l *LevelDB) Delete(key []byte) error {
	return l.conn.Delete(key, nil)
}

// NewIterator returns an iterator over the given key range, nil means everything
func (l *LevelDB) NewIterator(slice *util.Range) iterator.Iterator {
	return l.conn.NewIterator(slice, nil)
}

// Begin opens a transaction. Writes are invisible to other readers until
// Commit, and Discard drops all of them. Only one transaction can be open
// at a time; Begin blocks until the previous one finishes.
func (l *LevelDB) Begin() (*Tx, error) {
	tr, err := l.conn.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &Tx{tr: tr}, nil
}

// Snapshot returns a consistent read-only view of the committed state.
// The caller must Release it.
func (l *LevelDB) Snapshot() (*Snapshot, error) {
	snap, err := l.conn.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &Snapshot{snap: snap}, nil
}

// Tx is an open LevelDB transaction
type Tx struct {
	tr *leveldb.Transaction
}

func (t *Tx) Get(key []byte) ([]byte, error) {
	return t.tr.Get(key, nil)
}

func (t *Tx) Has(key []byte) (bool, error) {
	return t.tr.Has(key, nil)
}

func (t *Tx) Put(key, value []byte) error {
	return t.tr.Put(key, value, nil)
}

func (t *Tx) Delete(key []byte) error {
	return t.tr.Delete(key, nil)
}

func (t *Tx) NewIterator(slice *util.Range) iterator.Iterator {
	return t.tr.NewIterator(slice, nil)
}

// Commit makes every write of the transaction visible atomically
func (t *Tx) Commit() error {
	return t.tr.Commit()
}

// Discard drops every write of the transaction. It is a no-op after Commit.
func (t *Tx) Discard() {
	t.tr.Discard()
}

// Snapshot is a point-in-time read view of the database
type Snapshot struct {
	snap *leveldb.Snapshot
}

func (s *Snapshot) Get(key []byte) ([]byte, error) {
	return s.snap.Get(key, nil)
}

func (s *Snapshot) Has(key []byte) (bool, error) {
	return s.snap.Has(key, nil)
}

func (s *Snapshot) NewIterator(slice *util.Range) iterator.Iterator {
	return s.snap.NewIterator(slice, nil)
}

// Release frees the snapshot
func (s *Snapshot) Release() {
	s.snap.Release()
}

// ReadOnly adapts a Reader to KV, rejecting every write with ErrReadOnly
func ReadOnly(r Reader) KV {
	return readOnly{r}
}

type readOnly struct {
	Reader
}

func (readOnly) Put(_, _ []byte) error { return ErrReadOnly }

func (readOnly) Delete(_ []byte) error { return ErrReadOnly }
