package engine

import (
	"math"
	"strconv"

	"github.com/cockroachdb/pebble"

	"github.com/gholt/redistore/internal/codec"
	"github.com/gholt/redistore/internal/kverrors"
)

// Hash implements the hash type: meta plus one data CF of
// field -> value, keyed by (key, version, field).
type Hash struct {
	base
}

// NewHash wires a Hash engine onto an already-opened per-type database.
func NewHash(b base) *Hash { return &Hash{base: b} }

func (h *Hash) dataTags() []codec.CFTag { return []codec.CFTag{codec.CFData} }

// DataTags exposes the data column families a background compaction
// worker must sweep for this engine.
func (h *Hash) DataTags() []codec.CFTag { return h.dataTags() }

// LookupMeta exposes a raw (unclassified) meta lookup for the background
// compaction worker's data-filter pass.
func (h *Hash) LookupMeta(key []byte) (codec.MetaValue, bool, error) {
	return getMeta(h.db, nil, key)
}

// hashDataKey builds the field key for one (key, version, field).
func hashDataKey(key []byte, version int32, field []byte) []byte {
	return codec.EncodeMemberKey(nil, codec.CFData, key, version, field)
}

// liveMeta fetches key's meta and classifies it, returning
// (meta, live, error). A stale-but-present meta is reported as not live
// but its version/fields are still returned so callers can decide whether
// to reset in place.
func (h *Hash) liveMeta(key []byte, now int64) (codec.MetaValue, bool, error) {
	mv, ok, err := getMeta(h.db, nil, key)
	if err != nil || !ok {
		return mv, false, err
	}
	return mv, classifyMeta(mv, now) == metaLive, nil
}

// HSet sets field to value under key, creating or resetting the meta as
// needed, and returns 1 if the field was newly created (0 if it already
// existed under the live version).
func (h *Hash) HSet(key, field, value []byte) (int, error) {
	g, err := h.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := h.now()
	h.bumpAccessCounter(key)
	mv, live, err := h.liveMeta(key, now)
	if err != nil {
		return 0, err
	}
	if !live {
		mv = codec.MetaValue{Type: codec.TypeHash, Version: nextVersion(mv.Version, now)}
	}
	existed, err := h.fieldExists(key, mv.Version, field)
	if err != nil {
		return 0, err
	}
	batch := h.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(hashDataKey(key, mv.Version, field), value, nil); err != nil {
		return 0, kverrors.WrapIO(err, "stage hset")
	}
	if !existed {
		mv.Count++
	}
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := h.db.Commit(batch); err != nil {
		return 0, err
	}
	if existed {
		return 0, nil
	}
	return 1, nil
}

// HSetnx sets field to value only if it does not already exist, returning
// whether it was set.
func (h *Hash) HSetnx(key, field, value []byte) (bool, error) {
	g, err := h.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return false, err
	}
	defer g.Release()
	now := h.now()
	mv, live, err := h.liveMeta(key, now)
	if err != nil {
		return false, err
	}
	if !live {
		mv = codec.MetaValue{Type: codec.TypeHash, Version: nextVersion(mv.Version, now)}
	} else {
		existed, err := h.fieldExists(key, mv.Version, field)
		if err != nil {
			return false, err
		}
		if existed {
			return false, nil
		}
	}
	batch := h.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(hashDataKey(key, mv.Version, field), value, nil); err != nil {
		return false, kverrors.WrapIO(err, "stage hsetnx")
	}
	mv.Count++
	if err := stageMeta(batch, key, mv); err != nil {
		return false, err
	}
	if err := h.db.Commit(batch); err != nil {
		return false, err
	}
	return true, nil
}

// HMSet sets multiple fields atomically, deduplicating fields and keeping
// the last occurrence when a field appears more than once.
func (h *Hash) HMSet(key []byte, fields, values [][]byte) error {
	if len(fields) != len(values) {
		return kverrors.InvalidArgumentf("hmset field/value count mismatch: %d vs %d", len(fields), len(values))
	}
	g, err := h.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	now := h.now()
	h.bumpAccessCounter(key)
	mv, live, err := h.liveMeta(key, now)
	if err != nil {
		return err
	}
	if !live {
		mv = codec.MetaValue{Type: codec.TypeHash, Version: nextVersion(mv.Version, now)}
	}
	dedup := make(map[string][]byte, len(fields))
	order := make([]string, 0, len(fields))
	for i, f := range fields {
		fs := string(f)
		if _, ok := dedup[fs]; !ok {
			order = append(order, fs)
		}
		dedup[fs] = values[i]
	}
	batch := h.db.NewBatch()
	defer batch.Close()
	for _, fs := range order {
		existed, err := h.fieldExists(key, mv.Version, []byte(fs))
		if err != nil {
			return err
		}
		if !existed {
			mv.Count++
		}
		if err := batch.Set(hashDataKey(key, mv.Version, []byte(fs)), dedup[fs], nil); err != nil {
			return kverrors.WrapIO(err, "stage hmset")
		}
	}
	if err := stageMeta(batch, key, mv); err != nil {
		return err
	}
	return h.db.Commit(batch)
}

func (h *Hash) fieldExists(key []byte, version int32, field []byte) (bool, error) {
	_, err := h.db.Get(nil, hashDataKey(key, version, field))
	if kverrors.Is(err, kverrors.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HGet returns field's value, or NotFound if the key or field is absent.
func (h *Hash) HGet(key, field []byte) ([]byte, error) {
	g, err := h.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	mv, live, err := h.liveMeta(key, h.now())
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, kverrors.NotFound
	}
	v, err := h.db.Get(nil, hashDataKey(key, mv.Version, field))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}

// HExists reports whether field exists under key.
func (h *Hash) HExists(key, field []byte) (bool, error) {
	_, err := h.HGet(key, field)
	if kverrors.Is(err, kverrors.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HStrlen returns the byte length of field's value, 0 if absent.
func (h *Hash) HStrlen(key, field []byte) (int, error) {
	v, err := h.HGet(key, field)
	if kverrors.Is(err, kverrors.KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(v), nil
}

// HLen returns the number of fields under key, 0 if absent or stale.
func (h *Hash) HLen(key []byte) (int, error) {
	g, err := h.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	mv, live, err := h.liveMeta(key, h.now())
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, nil
	}
	return int(mv.Count), nil
}

// hashIterate walks every live field of key, calling fn(field, value) for
// each; fn returning false stops the iteration early.
func (h *Hash) hashIterate(key []byte, fn func(field, value []byte) bool) error {
	g, err := h.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	mv, live, err := h.liveMeta(key, h.now())
	if err != nil {
		return err
	}
	if !live {
		return nil
	}
	prefix := codec.EncodeMemberPrefix(nil, codec.CFData, key, mv.Version)
	it, err := h.db.NewIter(nil, prefix, codec.PrefixUpperBound(prefix))
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		_, _, field := codec.ParseMemberKey(it.Key())
		if !fn(append([]byte(nil), field...), append([]byte(nil), it.Value()...)) {
			break
		}
	}
	return it.Error()
}

// HGetall returns every (field, value) pair under key.
func (h *Hash) HGetall(key []byte) (fields, values [][]byte, err error) {
	err = h.hashIterate(key, func(f, v []byte) bool {
		fields = append(fields, f)
		values = append(values, v)
		return true
	})
	return fields, values, err
}

// HKeys returns every field name under key.
func (h *Hash) HKeys(key []byte) ([][]byte, error) {
	var out [][]byte
	err := h.hashIterate(key, func(f, _ []byte) bool {
		out = append(out, f)
		return true
	})
	return out, err
}

// HVals returns every field value under key.
func (h *Hash) HVals(key []byte) ([][]byte, error) {
	var out [][]byte
	err := h.hashIterate(key, func(_, v []byte) bool {
		out = append(out, v)
		return true
	})
	return out, err
}

// HIncrby parses field's value as a signed 64-bit decimal integer, adds
// delta, stores and returns the result.
func (h *Hash) HIncrby(key, field []byte, delta int64) (int64, error) {
	g, err := h.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := h.now()
	mv, live, err := h.liveMeta(key, now)
	if err != nil {
		return 0, err
	}
	if !live {
		mv = codec.MetaValue{Type: codec.TypeHash, Version: nextVersion(mv.Version, now)}
	}
	var current int64
	existed := false
	if v, err := h.db.Get(nil, hashDataKey(key, mv.Version, field)); err == nil {
		existed = true
		current, err = strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, kverrors.InvalidArgumentf("hash value is not an integer")
		}
	} else if !kverrors.Is(err, kverrors.KindNotFound) {
		return 0, err
	}
	if delta > 0 && current > math.MaxInt64-delta {
		return 0, kverrors.InvalidArgumentf("hincrby would overflow")
	}
	if delta < 0 && current < math.MinInt64-delta {
		return 0, kverrors.InvalidArgumentf("hincrby would overflow")
	}
	next := current + delta
	batch := h.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(hashDataKey(key, mv.Version, field), []byte(strconv.FormatInt(next, 10)), nil); err != nil {
		return 0, kverrors.WrapIO(err, "stage hincrby")
	}
	if !existed {
		mv.Count++
	}
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := h.db.Commit(batch); err != nil {
		return 0, err
	}
	return next, nil
}

// HDel removes the given fields, adjusting count; the meta is left in
// place with count possibly 0 (the compaction filter reclaims it once the
// version has aged).
func (h *Hash) HDel(key []byte, fields [][]byte) (int, error) {
	g, err := h.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	mv, live, err := h.liveMeta(key, h.now())
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, nil
	}
	batch := h.db.NewBatch()
	defer batch.Close()
	removed := 0
	for _, f := range fields {
		dk := hashDataKey(key, mv.Version, f)
		if _, err := h.db.Get(nil, dk); kverrors.Is(err, kverrors.KindNotFound) {
			continue
		} else if err != nil {
			return 0, err
		}
		if err := batch.Delete(dk, nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage hdel")
		}
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	mv.Count -= int32(removed)
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := h.db.Commit(batch); err != nil {
		return 0, err
	}
	return removed, nil
}

// stageMeta stages a meta-CF write into batch, shared by every
// meta-keeping engine's write paths.
func stageMeta(batch *pebble.Batch, key []byte, mv codec.MetaValue) error {
	var scratch [codec.StackBufSize]byte
	mk := codec.EncodeMetaKey(scratch[:0], key)
	if err := batch.Set(append([]byte(nil), mk...), mv.Encode(nil), nil); err != nil {
		return kverrors.WrapIO(err, "stage meta write")
	}
	return nil
}

// --- key-type commands: Hash keeps a meta record, so these delegate
// straight to base's shared implementation.

func (h *Hash) Expire(key []byte, ttlSeconds int64) error { return h.expire(key, ttlSeconds) }
func (h *Hash) ExpireAt(key []byte, ts int64) error       { return h.expireAt(key, ts) }
func (h *Hash) Persist(key []byte) error                  { return h.persist(key) }
func (h *Hash) TTL(key []byte) (int64, error)             { return h.ttl(key) }
func (h *Hash) Delete(key []byte) (bool, error)           { return h.delete(key) }

func (h *Hash) Scan(start []byte, pattern string, count int) ([][]byte, []byte, bool, error) {
	return h.scan(start, pattern, count)
}
func (h *Hash) CompactRange() error {
	return h.compactRange(h.dataTags(), func(k []byte) (codec.MetaValue, bool, error) { return getMeta(h.db, nil, k) })
}
func (h *Hash) ScanKeyNum(stop *int32) (int64, error) { return h.scanKeyNum(stop) }
