// Package compact implements two predicates — the meta filter and the
// data filter — plus the background range-compaction worker that runs
// them. A RocksDB-alike engine would invoke these as a CompactionFilter
// callback per candidate record during an actual LSM merge; pebble has
// no such plugin hook, so each filter instead runs as an explicit scrub
// pass that deletes any record failing its predicate immediately before
// the worker asks pebble to physically compact the now-smaller range.
// The predicates are the same either way; only when they run differs.
package compact

import (
	"bytes"

	"github.com/gholt/redistore/internal/codec"
	"github.com/gholt/redistore/internal/store"
)

// MetaShouldDrop implements the meta filter: drop a meta iff
// `(expire_ts != 0 AND expire_ts < now AND version < now) OR (count == 0
// AND version < now)`.
func MetaShouldDrop(mv codec.MetaValue, now int64) bool {
	expired := mv.ExpireTS != 0 && int64(mv.ExpireTS) < now
	empty := mv.Count == 0
	versionAged := int64(mv.Version) < now
	return (expired && versionAged) || (empty && versionAged)
}

// DataState is the per-compaction-pass mutable state: the last observed
// user key and its meta's {version, expire_ts}. Each compaction job must
// use its own DataState instance; it is not safe to share across
// concurrent passes.
type DataState struct {
	lookupMeta func(userKey []byte) (codec.MetaValue, bool, error)
	haveLast   bool
	lastKey    []byte
	hasMeta    bool
	meta       codec.MetaValue
}

// NewDataState builds a DataState that resolves a user key's current meta
// via lookupMeta (reading the meta CF directly, never through a snapshot —
// compaction always sees the latest committed state).
func NewDataState(lookupMeta func(userKey []byte) (codec.MetaValue, bool, error)) *DataState {
	return &DataState{lookupMeta: lookupMeta}
}

// ShouldDrop implements the data filter for a record carrying
// userKey and dataVersion: drop iff the meta is absent, the meta's
// expire_ts has elapsed, or the meta's version is newer than the record's.
// Candidates must be presented in user-key order (the natural order of any
// of the three tagged CFs, since the tag+length-prefixed user key always
// sorts before whatever follows it) so the single-entry meta cache stays
// valid.
func (d *DataState) ShouldDrop(userKey []byte, dataVersion int32, now int64) (bool, error) {
	if !d.haveLast || !bytes.Equal(d.lastKey, userKey) {
		meta, ok, err := d.lookupMeta(userKey)
		if err != nil {
			return false, err
		}
		d.lastKey = append(d.lastKey[:0], userKey...)
		d.haveLast = true
		d.hasMeta = ok
		d.meta = meta
	}
	if !d.hasMeta {
		return true, nil
	}
	if d.meta.ExpireTS != 0 && int64(d.meta.ExpireTS) < now {
		return true, nil
	}
	if d.meta.Version > dataVersion {
		return true, nil
	}
	return false, nil
}

// SweepMeta deletes every meta record in db's meta CF for which
// MetaShouldDrop holds, under the given [start, end) meta-key range
// (nil, nil for the whole CF).
func SweepMeta(db *store.DB, start, end []byte, now int64) (dropped int, err error) {
	it, err := db.NewIter(nil, start, end)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	batch := db.NewBatch()
	defer batch.Close()
	for it.First(); it.Valid(); it.Next() {
		if it.Key()[0] != byte(codec.CFMeta) {
			continue
		}
		mv := codec.DecodeMetaValue(it.Value())
		if MetaShouldDrop(mv, now) {
			if err := batch.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
				return dropped, err
			}
			dropped++
		}
	}
	if err := it.Error(); err != nil {
		return dropped, err
	}
	if dropped > 0 {
		if err := db.Commit(batch); err != nil {
			return dropped, err
		}
	}
	return dropped, nil
}

// SweepData deletes every record in one of the data/member/score CFs for
// which the data filter holds, under [start, end).
func SweepData(db *store.DB, tag codec.CFTag, start, end []byte, lookupMeta func([]byte) (codec.MetaValue, bool, error), now int64) (dropped int, err error) {
	it, err := db.NewIter(nil, start, end)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	batch := db.NewBatch()
	defer batch.Close()
	ds := NewDataState(lookupMeta)
	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		if codec.CFTag(key[0]) != tag {
			continue
		}
		userKey, rest := codec.SplitLeadingUserKey(key)
		version := codec.Int32(rest)
		drop, err := ds.ShouldDrop(userKey, version, now)
		if err != nil {
			return dropped, err
		}
		if drop {
			if err := batch.Delete(append([]byte(nil), key...), nil); err != nil {
				return dropped, err
			}
			dropped++
		}
	}
	if err := it.Error(); err != nil {
		return dropped, err
	}
	if dropped > 0 {
		if err := db.Commit(batch); err != nil {
			return dropped, err
		}
	}
	return dropped, nil
}
