// Package engine implements the five aggregate type engines: String,
// Hash, Set, List, and ZSet. They share a universal read-modify-write
// envelope (acquire lock → read meta → classify → mutate batch → commit
// → release); single-key commands read the current committed state under
// the per-key lock and open no snapshot. They also share a key-type
// command set
// (expire/persist/ttl/delete/scan/compact_range/scan_key_num),
// implemented once in this file and reused by every engine that keeps a
// meta record (all but String, whose expire_ts travels inside the value
// itself rather than a separate meta — see string.go).
package engine

import (
	"bytes"
	"context"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/orca-zhang/ecache2"

	"github.com/gholt/redistore/internal/codec"
	"github.com/gholt/redistore/internal/compact"
	"github.com/gholt/redistore/internal/kverrors"
	"github.com/gholt/redistore/internal/lockmgr"
	"github.com/gholt/redistore/internal/store"
)

// Clock lets tests substitute a fixed notion of "now"; production code
// leaves it nil and gets wall-clock seconds.
type Clock func() int64

func wallClock() int64 { return time.Now().Unix() }

// base holds everything every engine needs: the per-type database, the
// lock manager, the background compaction worker, and the per-key access
// counter LRU that drives `small_compaction_threshold`. Each type engine
// embeds base and adds its own CF-tag layout.
type base struct {
	db        *store.DB
	locks     *lockmgr.Manager
	worker    *compact.Worker
	clock     Clock
	accessLRU *ecache2.Cache // nil when statistics_max_size == 0 (disabled)
	threshold int
}

func newBase(db *store.DB, locks *lockmgr.Manager, worker *compact.Worker, statisticsMaxSize, smallCompactionThreshold int) base {
	b := base{db: db, locks: locks, worker: worker, threshold: smallCompactionThreshold}
	if statisticsMaxSize > 0 {
		b.accessLRU = ecache2.NewLRUCache(1, statisticsMaxSize, 0)
	}
	return b
}

// NewBase wires the plumbing every type engine embeds: its per-type
// database, the shared lock manager, its background compaction worker,
// and the access-counter LRU used for small_compaction_threshold. Callers
// outside this package construct one base per engine and pass it to the
// matching NewXxx constructor (NewString, NewHash, NewSet, NewList,
// NewZSet).
func NewBase(db *store.DB, locks *lockmgr.Manager, worker *compact.Worker, statisticsMaxSize, smallCompactionThreshold int) base {
	return newBase(db, locks, worker, statisticsMaxSize, smallCompactionThreshold)
}

// AttachWorker wires a background compaction worker onto an already
// constructed engine. The façade uses this to build a worker from the
// engine's own DataTags/LookupMeta after construction, rather than
// constructing each engine twice.
func (b *base) AttachWorker(w *compact.Worker) { b.worker = w }

func (b *base) now() int64 {
	if b.clock != nil {
		return b.clock()
	}
	return wallClock()
}

// bumpAccessCounter records a write/pop touching key and, once the count
// crosses b.threshold, enqueues a compact-key task and resets the
// counter. small_compaction_threshold is a façade-wide config option
// applying to every engine alike.
func (b *base) bumpAccessCounter(key []byte) {
	if b.accessLRU == nil || b.threshold <= 0 {
		return
	}
	ks := string(key)
	v, ok := b.accessLRU.Get(ks)
	count := 1
	if ok {
		count = v.(int) + 1
	}
	if count >= b.threshold {
		b.accessLRU.Del(ks)
		if b.worker != nil {
			b.worker.Enqueue(compact.Task{Op: compact.OpCompactKey, Key: append([]byte(nil), key...)})
		}
		return
	}
	b.accessLRU.Put(ks, count)
}

// metaState classifies a meta record during the "read meta → classify"
// step of the read-modify-write envelope.
type metaState int

const (
	metaAbsent metaState = iota
	metaStale            // expired or count==0; stale-on-read
	metaLive
)

// classifyMeta implements the stale-on-read policy: present but expired
// or empty is reported as stale, never physically cleaned up here
// (that's the compaction filter's job).
func classifyMeta(mv codec.MetaValue, now int64) metaState {
	if mv.Count == 0 {
		return metaStale
	}
	if mv.ExpireTS != 0 && int64(mv.ExpireTS) < now {
		return metaStale
	}
	return metaLive
}

// nextVersion computes the next version on a reset: version becomes
// max(current_version+1, now_seconds), so a key reused after a large clock
// jump still gets a strictly increasing version.
func nextVersion(current int32, now int64) int32 {
	next := current + 1
	if int64(next) < now {
		return int32(now)
	}
	return next
}

// getMeta reads and decodes the meta record for key under snap (nil means
// the current committed state, which the engines' own commands and
// compaction's meta lookups both use). Returns (zero, false, nil) for
// absent.
func getMeta(db *store.DB, snap *pebble.Snapshot, key []byte) (codec.MetaValue, bool, error) {
	var scratch [codec.StackBufSize]byte
	mk := codec.EncodeMetaKey(scratch[:0], key)
	v, err := db.Get(snap, append([]byte(nil), mk...))
	if kverrors.Is(err, kverrors.KindNotFound) {
		return codec.MetaValue{}, false, nil
	}
	if err != nil {
		return codec.MetaValue{}, false, err
	}
	return codec.DecodeMetaValue(v), true, nil
}

// acquireCtx is the context used for lock acquisition; the core exposes
// no cancellation of its own beyond the lock-manager timeout, so a
// background context is enough everywhere a ctx parameter isn't
// threaded in from a caller.
func acquireCtx() context.Context { return context.Background() }

// --- key-type commands, shared by every meta-keeping
// engine (hash, set, list, zset). String implements these itself in
// string.go because its expire_ts travels inside the value, not a meta.

// expire sets expire_ts = now + ttl on a live key; ttl <= 0 behaves as
// Delete. Returns NotFound for an absent or already-stale key.
func (b *base) expire(key []byte, ttlSeconds int64) error {
	if ttlSeconds <= 0 {
		_, err := b.delete(key)
		return err
	}
	g, err := b.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	now := b.now()
	mv, ok, err := getMeta(b.db, nil, key)
	if err != nil {
		return err
	}
	if !ok || classifyMeta(mv, now) != metaLive {
		return kverrors.NotFound
	}
	mv.ExpireTS = int32(now + ttlSeconds)
	return b.writeMeta(key, mv)
}

// ExpireAt sets an absolute expiration timestamp; it is treated like
// Expire with ttl computed against the current time, so a timestamp
// already in the past behaves as Delete.
func (b *base) expireAt(key []byte, ts int64) error {
	return b.expire(key, ts-b.now())
}

// persist clears expire_ts on a live key.
func (b *base) persist(key []byte) error {
	g, err := b.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	now := b.now()
	mv, ok, err := getMeta(b.db, nil, key)
	if err != nil {
		return err
	}
	if !ok || classifyMeta(mv, now) != metaLive {
		return kverrors.NotFound
	}
	if mv.ExpireTS == 0 {
		return nil
	}
	mv.ExpireTS = 0
	return b.writeMeta(key, mv)
}

// ttl returns -2 if the key is not found, -1 if it has no expiration,
// else its remaining seconds.
func (b *base) ttl(key []byte) (int64, error) {
	now := b.now()
	mv, ok, err := getMeta(b.db, nil, key)
	if err != nil {
		return 0, err
	}
	if !ok || classifyMeta(mv, now) != metaLive {
		return -2, nil
	}
	if mv.ExpireTS == 0 {
		return -1, nil
	}
	return int64(mv.ExpireTS) - now, nil
}

// delete bumps version, zeroes count, and leaves data records for the
// compaction filter to clean up. Returns false if the key was already
// absent.
func (b *base) delete(key []byte) (bool, error) {
	g, err := b.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return false, err
	}
	defer g.Release()
	mv, ok, err := getMeta(b.db, nil, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	now := b.now()
	wasLive := classifyMeta(mv, now) == metaLive
	mv.Count = 0
	mv.Version = nextVersion(mv.Version, now)
	mv.ExpireTS = 0
	if err := b.writeMeta(key, mv); err != nil {
		return false, err
	}
	return wasLive, nil
}

// writeMeta commits a single meta-CF mutation.
func (b *base) writeMeta(key []byte, mv codec.MetaValue) error {
	batch := b.db.NewBatch()
	defer batch.Close()
	var scratch [codec.StackBufSize]byte
	mk := codec.EncodeMetaKey(scratch[:0], key)
	if err := batch.Set(append([]byte(nil), mk...), mv.Encode(nil), nil); err != nil {
		return kverrors.WrapIO(err, "stage meta write")
	}
	return b.db.Commit(batch)
}

// scan does best-effort cursor-less iteration over the meta CF, skipping
// stale metas without cleaning them up, returning up to count matching
// live keys plus the resume point.
func (b *base) scan(start []byte, pattern string, count int) (keys [][]byte, next []byte, done bool, err error) {
	now := b.now()
	var lower []byte
	if len(start) > 0 {
		var scratch [codec.StackBufSize]byte
		lower = append([]byte(nil), codec.EncodeMetaKey(scratch[:0], start)...)
	} else {
		lower = []byte{byte(codec.CFMeta)}
	}
	upper := codec.PrefixUpperBound([]byte{byte(codec.CFMeta)})
	it, err := b.db.NewIter(nil, lower, upper)
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if len(keys) >= count {
			nk := append([]byte(nil), codec.MetaUserKey(it.Key())...)
			return keys, nk, false, nil
		}
		mv := codec.DecodeMetaValue(it.Value())
		if classifyMeta(mv, now) != metaLive {
			continue
		}
		uk := codec.MetaUserKey(it.Key())
		if globMatch(pattern, uk) {
			keys = append(keys, append([]byte(nil), uk...))
		}
	}
	if err := it.Error(); err != nil {
		return keys, nil, false, err
	}
	return keys, nil, true, nil
}

// compactRange runs a synchronous sweep-then-compact of every CF this
// engine owns, unlike the façade's background worker tasks which run
// the same sweep asynchronously off a queue.
func (b *base) compactRange(dataTags []codec.CFTag, lookupMeta func([]byte) (codec.MetaValue, bool, error)) error {
	now := b.now()
	if _, err := compact.SweepMeta(b.db, nil, nil, now); err != nil {
		return err
	}
	for _, tag := range dataTags {
		// Unbounded: SweepData skips other tags itself, and a one-byte
		// bound key cannot be parsed by the list/zset comparators.
		if _, err := compact.SweepData(b.db, tag, nil, nil, lookupMeta, now); err != nil {
			return err
		}
	}
	return b.db.CompactRange(nil, nil)
}

// scanKeyNum counts live keys in the meta CF, checking stop between
// records so a long count can be interrupted.
func (b *base) scanKeyNum(stop *int32) (int64, error) {
	now := b.now()
	it, err := b.db.NewIter(nil, []byte{byte(codec.CFMeta)}, codec.PrefixUpperBound([]byte{byte(codec.CFMeta)}))
	if err != nil {
		return 0, err
	}
	defer it.Close()
	var n int64
	for it.First(); it.Valid(); it.Next() {
		if stop != nil && *stop != 0 {
			break
		}
		mv := codec.DecodeMetaValue(it.Value())
		if classifyMeta(mv, now) == metaLive {
			n++
		}
	}
	return n, it.Error()
}

// globMatch reports whether key matches pattern, interpreted as a glob
// with only '*' as a wildcard (e.g. "P_*"). Scan is explicitly
// best-effort, so a single '*' is the only form implemented, falling
// back to an exact match otherwise.
func globMatch(pattern string, key []byte) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if i := bytes.IndexByte([]byte(pattern), '*'); i >= 0 {
		prefix := pattern[:i]
		suffix := pattern[i+1:]
		if len(key) < len(prefix)+len(suffix) {
			return false
		}
		return bytes.HasPrefix(key, []byte(prefix)) && bytes.HasSuffix(key, []byte(suffix))
	}
	return string(key) == pattern
}
