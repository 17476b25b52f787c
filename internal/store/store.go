// Package store wraps a per-type pebble.DB: one pebble database per
// aggregate type (strings/hashes/sets/lists/zsets), with every column
// family name realized as a byte-prefixed keyspace inside that single
// database rather than as a separate RocksDB column-family handle. See
// internal/comparator for the per-type Comparer that makes this work.
package store

import (
	"io"

	"github.com/cockroachdb/pebble"

	"github.com/gholt/redistore/internal/kverrors"
)

// DB is a thin wrapper around *pebble.DB that translates pebble's sentinel
// errors into the kverrors taxonomy.
type DB struct {
	*pebble.DB
	Dir string
}

// Open opens (or creates, if createIfMissing) the pebble database rooted at
// dir using cmp as its comparator.
func Open(dir string, cmp *pebble.Comparer, createIfMissing bool) (*DB, error) {
	opts := &pebble.Options{
		Comparer:                    cmp,
		ErrorIfNotExists:            !createIfMissing,
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
	}
	pdb, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, kverrors.WrapIO(err, "open store at %s", dir)
	}
	return &DB{DB: pdb, Dir: dir}, nil
}

// Get reads key under the given read snapshot (or the DB's current state if
// snap is nil), returning a KindNotFound error when absent and a
// freshly-copied value slice (pebble's own Get result is only valid until
// its io.Closer is closed, so callers never see that lifetime).
func (db *DB) Get(snap *pebble.Snapshot, key []byte) ([]byte, error) {
	var (
		v      []byte
		closer io.Closer
		err    error
	)
	if snap != nil {
		v, closer, err = snap.Get(key)
	} else {
		v, closer, err = db.DB.Get(key)
	}
	if err == pebble.ErrNotFound {
		return nil, kverrors.NotFound
	}
	if err != nil {
		return nil, kverrors.WrapIO(err, "get")
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

// NewBatch returns a new write batch. Callers stage every mutation for one
// user operation (meta + data + index records) into a single batch and
// commit it once: a commit failure leaves the store unchanged.
func (db *DB) NewBatch() *pebble.Batch {
	return db.DB.NewBatch()
}

// Commit applies batch durably (WaitForFS sync, i.e. fsync-on-commit).
func (db *DB) Commit(batch *pebble.Batch) error {
	if err := batch.Commit(pebble.Sync); err != nil {
		return kverrors.WrapIO(err, "commit batch")
	}
	return nil
}

// NewIter opens an iterator bounded to [lower, upper) under snap (or the
// DB's current state if snap is nil).
func (db *DB) NewIter(snap *pebble.Snapshot, lower, upper []byte) (*pebble.Iterator, error) {
	opts := &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
	var (
		it  *pebble.Iterator
		err error
	)
	if snap != nil {
		it, err = snap.NewIter(opts)
	} else {
		it, err = db.DB.NewIter(opts)
	}
	if err != nil {
		return nil, kverrors.WrapIO(err, "new iterator")
	}
	return it, nil
}

// CompactRange runs a synchronous range compaction over [start, end), the
// same mechanism the background worker in internal/compact drives for
// its clean-all and compact-key tasks.
func (db *DB) CompactRange(start, end []byte) error {
	if err := db.DB.Compact(start, end, true); err != nil {
		return kverrors.WrapIO(err, "compact range")
	}
	return nil
}
