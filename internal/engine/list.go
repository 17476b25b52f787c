package engine

import (
	"bytes"
	"math"

	"github.com/cockroachdb/pebble"

	"github.com/gholt/redistore/internal/codec"
	"github.com/gholt/redistore/internal/kverrors"
)

// List implements the list type: meta plus one data CF ordered by the
// list comparator, addressed by an unsigned 64-bit index derived from a
// signed int32 left/right split.
//
// initialLeft/initialRight are the bit patterns that split starts from
// (2^31-1 and 2^31); toU/toI32 move between the int32 storage form and
// the unsigned-64 arithmetic space the comparator orders by, by
// zero-extending the 32-bit pattern rather than sign-extending it.
type List struct {
	base
}

const (
	initialLeft  int32 = math.MaxInt32
	initialRight int32 = math.MinInt32
)

func toU(i int32) uint64   { return uint64(uint32(i)) }
func toI32(u uint64) int32 { return int32(uint32(u)) }

// NewList wires a List engine onto an already-opened per-type database.
func NewList(b base) *List { return &List{base: b} }

func (l *List) dataTags() []codec.CFTag { return []codec.CFTag{codec.CFData} }

// DataTags exposes the data column families a background compaction
// worker must sweep for this engine.
func (l *List) DataTags() []codec.CFTag { return l.dataTags() }

// LookupMeta exposes a raw (unclassified) meta lookup for the background
// compaction worker's data-filter pass.
func (l *List) LookupMeta(key []byte) (codec.MetaValue, bool, error) {
	return getMeta(l.db, nil, key)
}

func listDataKey(key []byte, version int32, index uint64) []byte {
	return codec.EncodeListDataKey(nil, key, version, index)
}

// listUpperBound returns the exclusive scan bound for the inclusive index
// range ending at hiIdx. The list data CF orders by index as uint64, not
// byte-wise, so the bound must be the key for the next index value rather
// than codec.PrefixUpperBound's byte-increment, which bumps a byte inside
// the encoded index itself and lands arbitrarily far from hiIdx under the
// numeric order.
func listUpperBound(key []byte, version int32, hiIdx uint64) []byte {
	return listDataKey(key, version, hiIdx+1)
}

func (l *List) liveMeta(key []byte, now int64) (codec.MetaValue, bool, error) {
	mv, ok, err := getMeta(l.db, nil, key)
	if err != nil || !ok {
		return mv, false, err
	}
	return mv, classifyMeta(mv, now) == metaLive, nil
}

func freshListMeta(now int64, current int32) codec.MetaValue {
	return codec.MetaValue{Type: codec.TypeList, Version: nextVersion(current, now), LeftIdx: initialLeft, RightIdx: initialRight}
}

func listLen(mv codec.MetaValue) int64 {
	return int64(toU(mv.RightIdx) - toU(mv.LeftIdx) - 1)
}

// LPush pushes values left-to-right; each value is placed at the current
// left boundary before that boundary moves, so the last value supplied
// ends up at the head.
func (l *List) LPush(key []byte, values [][]byte) (int64, error) {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := l.now()
	mv, live, err := l.liveMeta(key, now)
	if err != nil {
		return 0, err
	}
	if !live {
		mv = freshListMeta(now, mv.Version)
	}
	batch := l.db.NewBatch()
	defer batch.Close()
	for _, v := range values {
		idx := toU(mv.LeftIdx)
		if err := batch.Set(listDataKey(key, mv.Version, idx), v, nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage lpush")
		}
		mv.LeftIdx = toI32(idx - 1)
		mv.Count++
	}
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := l.db.Commit(batch); err != nil {
		return 0, err
	}
	return listLen(mv), nil
}

// RPush is LPush's mirror on the right.
func (l *List) RPush(key []byte, values [][]byte) (int64, error) {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := l.now()
	mv, live, err := l.liveMeta(key, now)
	if err != nil {
		return 0, err
	}
	if !live {
		mv = freshListMeta(now, mv.Version)
	}
	batch := l.db.NewBatch()
	defer batch.Close()
	for _, v := range values {
		idx := toU(mv.RightIdx)
		if err := batch.Set(listDataKey(key, mv.Version, idx), v, nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage rpush")
		}
		mv.RightIdx = toI32(idx + 1)
		mv.Count++
	}
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := l.db.Commit(batch); err != nil {
		return 0, err
	}
	return listLen(mv), nil
}

// LLen returns key's length, 0 if absent or stale.
func (l *List) LLen(key []byte) (int64, error) {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	mv, live, err := l.liveMeta(key, l.now())
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, nil
	}
	return listLen(mv), nil
}

// normalizeIndex translates a possibly-negative logical index against
// length, returning ok=false if it falls outside [0, length).
func normalizeIndex(i, length int64) (int64, bool) {
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

// LIndex returns the element at logical index i (negative counts from the
// end), or NotFound if out of range.
func (l *List) LIndex(key []byte, i int64) ([]byte, error) {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	mv, live, err := l.liveMeta(key, l.now())
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, kverrors.NotFound
	}
	length := listLen(mv)
	idx, ok := normalizeIndex(i, length)
	if !ok {
		return nil, kverrors.NotFound
	}
	abs := toU(mv.LeftIdx) + 1 + uint64(idx)
	v, err := l.db.Get(nil, listDataKey(key, mv.Version, abs))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}

// LSet overwrites the element at logical index i.
func (l *List) LSet(key []byte, i int64, value []byte) error {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	mv, live, err := l.liveMeta(key, l.now())
	if err != nil {
		return err
	}
	if !live {
		return kverrors.NotFound
	}
	length := listLen(mv)
	idx, ok := normalizeIndex(i, length)
	if !ok {
		return kverrors.InvalidArgumentf("lset index %d out of range for length %d", i, length)
	}
	abs := toU(mv.LeftIdx) + 1 + uint64(idx)
	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(listDataKey(key, mv.Version, abs), value, nil); err != nil {
		return kverrors.WrapIO(err, "stage lset")
	}
	return l.db.Commit(batch)
}

// LRange returns the translated [start, stop] inclusive slice: negative
// bounds count from the end, out-of-range collapses to empty, and stop
// is clamped to the last element.
func (l *List) LRange(key []byte, start, stop int64) ([][]byte, error) {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	mv, live, err := l.liveMeta(key, l.now())
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, nil
	}
	length := listLen(mv)
	if length == 0 {
		return nil, nil
	}
	if start < 0 {
		start += length
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 {
		stop += length
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return nil, nil
	}
	loAbs := toU(mv.LeftIdx) + 1 + uint64(start)
	hiAbs := toU(mv.LeftIdx) + 1 + uint64(stop)
	lower := listDataKey(key, mv.Version, loAbs)
	upper := listUpperBound(key, mv.Version, hiAbs)
	it, err := l.db.NewIter(nil, lower, upper)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out [][]byte
	for it.First(); it.Valid(); it.Next() {
		out = append(out, append([]byte(nil), it.Value()...))
	}
	return out, it.Error()
}

// LTrim retains only the translated [start, stop] range, deleting
// everything outside it and adjusting the bound indices.
func (l *List) LTrim(key []byte, start, stop int64) error {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	mv, live, err := l.liveMeta(key, l.now())
	if err != nil {
		return err
	}
	if !live {
		return nil
	}
	length := listLen(mv)
	if length == 0 {
		return nil
	}
	if start < 0 {
		start += length
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 {
		stop += length
	}
	if stop >= length {
		stop = length - 1
	}
	headAbs := toU(mv.LeftIdx) + 1
	batch := l.db.NewBatch()
	defer batch.Close()
	if start > stop || start >= length {
		lower := listDataKey(key, mv.Version, headAbs)
		upper := listUpperBound(key, mv.Version, toU(mv.RightIdx)-1)
		if err := l.deleteRange(batch, lower, upper); err != nil {
			return err
		}
		mv.LeftIdx = toI32(toU(mv.RightIdx) - 1)
		mv.Count = 0
		if err := stageMeta(batch, key, mv); err != nil {
			return err
		}
		return l.db.Commit(batch)
	}
	keepLoAbs := headAbs + uint64(start)
	keepHiAbs := headAbs + uint64(stop)
	if start > 0 {
		lower := listDataKey(key, mv.Version, headAbs)
		upper := listUpperBound(key, mv.Version, keepLoAbs-1)
		if err := l.deleteRange(batch, lower, upper); err != nil {
			return err
		}
	}
	if uint64(stop) < uint64(length-1) {
		lower := listDataKey(key, mv.Version, keepHiAbs+1)
		upper := listUpperBound(key, mv.Version, toU(mv.RightIdx)-1)
		if err := l.deleteRange(batch, lower, upper); err != nil {
			return err
		}
	}
	mv.LeftIdx = toI32(keepLoAbs - 1)
	mv.RightIdx = toI32(keepHiAbs + 1)
	mv.Count = int32(stop - start + 1)
	if err := stageMeta(batch, key, mv); err != nil {
		return err
	}
	return l.db.Commit(batch)
}

// deleteRange stages a delete for every record in [lower, upper) into
// batch.
func (l *List) deleteRange(batch *pebble.Batch, lower, upper []byte) error {
	it, err := l.db.NewIter(nil, lower, upper)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if err := batch.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
			return kverrors.WrapIO(err, "stage ltrim delete")
		}
	}
	return it.Error()
}

// LInsert finds the first occurrence of pivot (scanning head to tail) and
// inserts value immediately before or after it, shifting every element
// from the insertion point to the tail over by one (the simpler of the
// two valid shifting strategies, at the cost of an O(n) rewrite).
// Returns the new length, or -1 if pivot is not found.
func (l *List) LInsert(key []byte, before bool, pivot, value []byte) (int64, error) {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	mv, live, err := l.liveMeta(key, l.now())
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, nil
	}
	it, err := l.db.NewIter(nil, listDataKey(key, mv.Version, toU(mv.LeftIdx)+1), listUpperBound(key, mv.Version, toU(mv.RightIdx)-1))
	if err != nil {
		return 0, err
	}
	found := false
	var pivotAbs uint64
	for it.First(); it.Valid(); it.Next() {
		if bytes.Equal(it.Value(), pivot) {
			_, _, pivotAbs = codec.ParseListDataKey(it.Key())
			found = true
			break
		}
	}
	if err := it.Error(); err != nil {
		it.Close()
		return 0, err
	}
	it.Close()
	if !found {
		return -1, nil
	}
	insertAt := pivotAbs
	if !before {
		insertAt = pivotAbs + 1
	}
	tail, err := l.db.NewIter(nil, listDataKey(key, mv.Version, insertAt), listUpperBound(key, mv.Version, toU(mv.RightIdx)-1))
	if err != nil {
		return 0, err
	}
	type shift struct {
		from, to uint64
		val      []byte
	}
	var shifts []shift
	for tail.First(); tail.Valid(); tail.Next() {
		_, _, idx := codec.ParseListDataKey(tail.Key())
		shifts = append(shifts, shift{from: idx, to: idx + 1, val: append([]byte(nil), tail.Value()...)})
	}
	if err := tail.Error(); err != nil {
		tail.Close()
		return 0, err
	}
	tail.Close()
	batch := l.db.NewBatch()
	defer batch.Close()
	for i := len(shifts) - 1; i >= 0; i-- {
		sh := shifts[i]
		if err := batch.Delete(listDataKey(key, mv.Version, sh.from), nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage linsert shift delete")
		}
		if err := batch.Set(listDataKey(key, mv.Version, sh.to), sh.val, nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage linsert shift write")
		}
	}
	if err := batch.Set(listDataKey(key, mv.Version, insertAt), value, nil); err != nil {
		return 0, kverrors.WrapIO(err, "stage linsert insert")
	}
	mv.RightIdx = toI32(toU(mv.RightIdx) + 1)
	mv.Count++
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := l.db.Commit(batch); err != nil {
		return 0, err
	}
	return listLen(mv), nil
}

// LPop returns and removes the head element, adjusting count and left_idx.
func (l *List) LPop(key []byte) ([]byte, error) {
	return l.popEnd(key, true)
}

// RPop returns and removes the tail element, adjusting count and
// right_idx.
func (l *List) RPop(key []byte) ([]byte, error) {
	return l.popEnd(key, false)
}

func (l *List) popEnd(key []byte, head bool) ([]byte, error) {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	mv, live, err := l.liveMeta(key, l.now())
	if err != nil {
		return nil, err
	}
	if !live || listLen(mv) == 0 {
		return nil, kverrors.NotFound
	}
	var idx uint64
	if head {
		idx = toU(mv.LeftIdx) + 1
	} else {
		idx = toU(mv.RightIdx) - 1
	}
	dk := listDataKey(key, mv.Version, idx)
	v, err := l.db.Get(nil, dk)
	if err != nil {
		return nil, err
	}
	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(dk, nil); err != nil {
		return nil, kverrors.WrapIO(err, "stage pop delete")
	}
	if head {
		mv.LeftIdx = toI32(idx)
	} else {
		mv.RightIdx = toI32(idx)
	}
	mv.Count--
	if err := stageMeta(batch, key, mv); err != nil {
		return nil, err
	}
	if err := l.db.Commit(batch); err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}

// LRem deletes elements equal to value by signed count semantics
// count > 0 removes from head up to count matches, count < 0
// from tail, count == 0 deletes every match. The survivors are repacked
// into a contiguous run under a fresh version (the same
// version-bump-and-rewrite shape ZUnionstore/ZInterstore use), so
// left_idx/right_idx/count stay consistent with listLen and positional
// access never has to skip a hole left by a deleted element; the old
// version's data records become orphaned and are reclaimed by the
// background compaction sweep.
func (l *List) LRem(key []byte, count int64, value []byte) (int64, error) {
	g, err := l.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := l.now()
	mv, live, err := l.liveMeta(key, now)
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, nil
	}
	it, err := l.db.NewIter(nil, listDataKey(key, mv.Version, toU(mv.LeftIdx)+1), listUpperBound(key, mv.Version, toU(mv.RightIdx)-1))
	if err != nil {
		return 0, err
	}
	type elem struct {
		val []byte
	}
	var all []elem
	var matchPos []int
	for it.First(); it.Valid(); it.Next() {
		v := append([]byte(nil), it.Value()...)
		if bytes.Equal(v, value) {
			matchPos = append(matchPos, len(all))
		}
		all = append(all, elem{val: v})
	}
	if err := it.Error(); err != nil {
		it.Close()
		return 0, err
	}
	it.Close()
	var drop []int
	switch {
	case count == 0:
		drop = matchPos
	case count > 0:
		n := int(count)
		if n > len(matchPos) {
			n = len(matchPos)
		}
		drop = matchPos[:n]
	default:
		n := int(-count)
		if n > len(matchPos) {
			n = len(matchPos)
		}
		drop = matchPos[len(matchPos)-n:]
	}
	if len(drop) == 0 {
		return 0, nil
	}
	dropSet := make(map[int]bool, len(drop))
	for _, p := range drop {
		dropSet[p] = true
	}
	version := nextVersion(mv.Version, now)
	batch := l.db.NewBatch()
	defer batch.Close()
	out := codec.MetaValue{Type: codec.TypeList, Version: version, LeftIdx: initialLeft, RightIdx: initialRight}
	for i, e := range all {
		if dropSet[i] {
			continue
		}
		idx := toU(out.RightIdx)
		if err := batch.Set(listDataKey(key, version, idx), e.val, nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage lrem repack")
		}
		out.RightIdx = toI32(idx + 1)
		out.Count++
	}
	if err := stageMeta(batch, key, out); err != nil {
		return 0, err
	}
	if err := l.db.Commit(batch); err != nil {
		return 0, err
	}
	return int64(len(drop)), nil
}

// --- key-type commands: List keeps a meta record, so these delegate
// straight to base's shared implementation.

func (l *List) Expire(key []byte, ttlSeconds int64) error { return l.expire(key, ttlSeconds) }
func (l *List) ExpireAt(key []byte, ts int64) error        { return l.expireAt(key, ts) }
func (l *List) Persist(key []byte) error                   { return l.persist(key) }
func (l *List) TTL(key []byte) (int64, error)              { return l.ttl(key) }
func (l *List) Delete(key []byte) (bool, error)            { return l.delete(key) }
func (l *List) Scan(start []byte, pattern string, count int) ([][]byte, []byte, bool, error) {
	return l.scan(start, pattern, count)
}
func (l *List) CompactRange() error {
	return l.compactRange(l.dataTags(), func(k []byte) (codec.MetaValue, bool, error) { return getMeta(l.db, nil, k) })
}
func (l *List) ScanKeyNum(stop *int32) (int64, error) { return l.scanKeyNum(stop) }
