// Package facade implements the multi-type store's flat public API: it
// owns one instance of each type engine, dispatches the cross-type
// operations (Del, Exists, Expire, Persist, TTL, Type, Keys) across them
// in a fixed order, and runs the cursor-indirected cross-type scan.
package facade

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/gholt/brimtext"
	"github.com/orca-zhang/ecache2"
	"github.com/spaolacci/murmur3"

	"github.com/gholt/redistore/config"
	"github.com/gholt/redistore/internal/comparator"
	"github.com/gholt/redistore/internal/compact"
	"github.com/gholt/redistore/internal/engine"
	"github.com/gholt/redistore/internal/kverrors"
	"github.com/gholt/redistore/internal/lockmgr"
	"github.com/gholt/redistore/internal/store"
)

// typeEngine is the capability set every one of the five engines
// implements (expire, persist, ttl, delete, scan, compact_range,
// scan_key_num), used here so
// the façade's cross-type helpers iterate over one slice instead of five
// parallel switch arms.
type typeEngine interface {
	Expire(key []byte, ttlSeconds int64) error
	ExpireAt(key []byte, ts int64) error
	Persist(key []byte) error
	TTL(key []byte) (int64, error)
	Delete(key []byte) (bool, error)
	Scan(start []byte, pattern string, count int) (keys [][]byte, next []byte, done bool, err error)
	CompactRange() error
	ScanKeyNum(stop *int32) (int64, error)
}

// typeIndex enumerates the fixed iteration order every cross-type
// operation and the cursor scan use: strings, hashes, sets, lists, sorted
// sets.
type typeIndex int

const (
	typeString typeIndex = iota
	typeHash
	typeSet
	typeList
	typeZSet
	typeCount
)

var typeNames = [typeCount]string{"string", "hash", "set", "list", "zset"}

// typePrefixes are the one-byte cursor-scan type tags names.
var typePrefixes = [typeCount]byte{'k', 'h', 's', 'l', 'z'}

var subdirNames = [typeCount]string{"strings", "hashes", "sets", "lists", "zsets"}

// Facade owns one instance of each engine plus the cursor LRU and the
// background compaction workers.
type Facade struct {
	cfg *config.Config

	strings *engine.String
	hashes  *engine.Hash
	sets    *engine.Set
	lists   *engine.List
	zsets   *engine.ZSet

	engines [typeCount]typeEngine
	dbs     [typeCount]*store.DB
	workers [typeCount]*compact.Worker // strings carries no background worker; see Open

	cursorLRU  *ecache2.Cache
	nextCursor int64
}

// Open opens (or creates) the five per-type databases rooted at dir and
// wires a Facade over them.
func Open(dir string, opts ...config.Option) (*Facade, error) {
	cfg := config.Resolve(dir, opts...)
	f := &Facade{cfg: cfg}
	locks := lockmgr.New(cfg.LockTimeout)

	stringsDB, err := store.Open(filepath.Join(cfg.Dir, subdirNames[typeString]), comparator.ForType(false, false), cfg.CreateIfMissing)
	if err != nil {
		return nil, err
	}
	f.dbs[typeString] = stringsDB

	hashesDB, err := store.Open(filepath.Join(cfg.Dir, subdirNames[typeHash]), comparator.ForType(false, false), cfg.CreateIfMissing)
	if err != nil {
		return nil, err
	}
	f.dbs[typeHash] = hashesDB

	setsDB, err := store.Open(filepath.Join(cfg.Dir, subdirNames[typeSet]), comparator.ForType(false, false), cfg.CreateIfMissing)
	if err != nil {
		return nil, err
	}
	f.dbs[typeSet] = setsDB

	listsDB, err := store.Open(filepath.Join(cfg.Dir, subdirNames[typeList]), comparator.ForType(true, false), cfg.CreateIfMissing)
	if err != nil {
		return nil, err
	}
	f.dbs[typeList] = listsDB

	zsetsDB, err := store.Open(filepath.Join(cfg.Dir, subdirNames[typeZSet]), comparator.ForType(false, true), cfg.CreateIfMissing)
	if err != nil {
		return nil, err
	}
	f.dbs[typeZSet] = zsetsDB

	// Strings keep their expiry inline on the single record and have no
	// separate meta CF, so they get no background worker: bumpAccessCounter
	// still counts but never enqueues a task for them (base.worker == nil)
	// and CompactRange runs
	// its own synchronous sweep (see engine/string.go).
	f.strings = engine.NewString(engine.NewBase(stringsDB, locks, nil, cfg.StatisticsMaxSize, cfg.SmallCompactionThreshold))

	f.hashes = engine.NewHash(engine.NewBase(hashesDB, locks, nil, cfg.StatisticsMaxSize, cfg.SmallCompactionThreshold))
	f.workers[typeHash] = compact.NewWorker(compact.Target{DB: hashesDB, DataTags: f.hashes.DataTags(), LookupMeta: f.hashes.LookupMeta}, 1024)
	f.hashes.AttachWorker(f.workers[typeHash])

	f.sets = engine.NewSet(engine.NewBase(setsDB, locks, nil, cfg.StatisticsMaxSize, cfg.SmallCompactionThreshold))
	f.workers[typeSet] = compact.NewWorker(compact.Target{DB: setsDB, DataTags: f.sets.DataTags(), LookupMeta: f.sets.LookupMeta}, 1024)
	f.sets.AttachWorker(f.workers[typeSet])

	f.lists = engine.NewList(engine.NewBase(listsDB, locks, nil, cfg.StatisticsMaxSize, cfg.SmallCompactionThreshold))
	f.workers[typeList] = compact.NewWorker(compact.Target{DB: listsDB, DataTags: f.lists.DataTags(), LookupMeta: f.lists.LookupMeta}, 1024)
	f.lists.AttachWorker(f.workers[typeList])

	f.zsets = engine.NewZSet(engine.NewBase(zsetsDB, locks, nil, cfg.StatisticsMaxSize, cfg.SmallCompactionThreshold))
	f.workers[typeZSet] = compact.NewWorker(compact.Target{DB: zsetsDB, DataTags: f.zsets.DataTags(), LookupMeta: f.zsets.LookupMeta}, 1024)
	f.zsets.AttachWorker(f.workers[typeZSet])

	f.engines = [typeCount]typeEngine{f.strings, f.hashes, f.sets, f.lists, f.zsets}
	f.cursorLRU = ecache2.NewLRUCache(1, cfg.CursorMaxSize, 0)
	return f, nil
}

// Strings returns the string engine for type-specific command dispatch.
func (f *Facade) Strings() *engine.String { return f.strings }

// Hashes returns the hash engine for type-specific command dispatch.
func (f *Facade) Hashes() *engine.Hash { return f.hashes }

// Sets returns the set engine for type-specific command dispatch.
func (f *Facade) Sets() *engine.Set { return f.sets }

// Lists returns the list engine for type-specific command dispatch.
func (f *Facade) Lists() *engine.List { return f.lists }

// ZSets returns the sorted-set engine for type-specific command dispatch.
func (f *Facade) ZSets() *engine.ZSet { return f.zsets }

// Close shuts down every background worker and closes every per-type
// database.
func (f *Facade) Close() error {
	for _, w := range f.workers {
		if w != nil {
			w.Shutdown()
		}
	}
	var firstErr error
	for _, db := range f.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// typeOf returns the index of the engine currently holding key, or
// kverrors.NotFound if no engine does.
func (f *Facade) typeOf(key []byte) (typeIndex, error) {
	for i, eng := range f.engines {
		ttl, err := eng.TTL(key)
		if err != nil {
			return 0, err
		}
		if ttl != -2 {
			return typeIndex(i), nil
		}
	}
	return 0, kverrors.NotFound
}

// Type returns the type name of key ("string", "hash", "set", "list",
// "zset"), or a not-found error if key does not exist under any type.
func (f *Facade) Type(key []byte) (string, error) {
	idx, err := f.typeOf(key)
	if err != nil {
		return "", err
	}
	return typeNames[idx], nil
}

// Exists reports whether key exists under any type.
func (f *Facade) Exists(key []byte) (bool, error) {
	_, err := f.typeOf(key)
	if err != nil {
		if kverrors.Is(err, kverrors.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Del removes key from whichever engines currently hold it, iterating all
// five in the fixed order and aggregating the result; any per-engine
// error is reported as a corruption error rather than silently dropped.
func (f *Facade) Del(key []byte) (bool, error) {
	deletedAny := false
	var firstErr error
	for _, eng := range f.engines {
		ok, err := eng.Delete(key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			deletedAny = true
		}
	}
	if firstErr != nil {
		return deletedAny, kverrors.Corruptionf("del: aggregated failure across types: %v", firstErr)
	}
	return deletedAny, nil
}

// Expire sets key's TTL on whichever engine currently holds it.
func (f *Facade) Expire(key []byte, ttlSeconds int64) error {
	idx, err := f.typeOf(key)
	if err != nil {
		return err
	}
	return f.engines[idx].Expire(key, ttlSeconds)
}

// ExpireAt sets key's absolute expiration on whichever engine currently
// holds it.
func (f *Facade) ExpireAt(key []byte, ts int64) error {
	idx, err := f.typeOf(key)
	if err != nil {
		return err
	}
	return f.engines[idx].ExpireAt(key, ts)
}

// Persist clears key's TTL on whichever engine currently holds it.
func (f *Facade) Persist(key []byte) error {
	idx, err := f.typeOf(key)
	if err != nil {
		return err
	}
	return f.engines[idx].Persist(key)
}

// TTL returns key's remaining seconds to live, -1 if it has no
// expiration, or -2 if it exists under no type.
func (f *Facade) TTL(key []byte) (int64, error) {
	for _, eng := range f.engines {
		ttl, err := eng.TTL(key)
		if err != nil {
			return 0, err
		}
		if ttl != -2 {
			return ttl, nil
		}
	}
	return -2, nil
}

// Keys returns every live key across all five types matching pattern,
// draining each engine's cursor-less scan to completion in the fixed
// type order. Best-effort: a key that expires mid-scan may or may not be
// included, per the per-engine scan's own contract.
func (f *Facade) Keys(pattern string) ([][]byte, error) {
	const batch = 256
	var out [][]byte
	for _, eng := range f.engines {
		var resume []byte
		for {
			keys, next, done, err := eng.Scan(resume, pattern, batch)
			if err != nil {
				return nil, err
			}
			out = append(out, keys...)
			if done {
				break
			}
			resume = next
		}
	}
	return out, nil
}

// cursorState is what the cursor LRU maps an opaque client cursor to: the
// next type to resume scanning and, within it, the intra-engine resume
// key.
type cursorState struct {
	typeIdx typeIndex
	resume  []byte
}

// encodeCursorState appends a murmur3 checksum after the payload, the same
// checksum-then-verify-on-read shape the per-type databases' own on-disk
// file format uses, so a cursor value retrieved from the LRU that somehow
// got corrupted is detected rather than silently misread as a different
// resume point.
func encodeCursorState(s cursorState) []byte {
	payload := append([]byte{typePrefixes[s.typeIdx]}, s.resume...)
	sum := murmur3.Sum32(payload)
	out := make([]byte, len(payload)+4)
	copy(out, payload)
	binary.BigEndian.PutUint32(out[len(payload):], sum)
	return out
}

func decodeCursorState(b []byte) (cursorState, bool) {
	if len(b) < 5 {
		return cursorState{}, false
	}
	payload, sum := b[:len(b)-4], b[len(b)-4:]
	if murmur3.Sum32(payload) != binary.BigEndian.Uint32(sum) {
		return cursorState{}, false
	}
	idx := typeString
	for i, p := range typePrefixes {
		if p == payload[0] {
			idx = typeIndex(i)
			break
		}
	}
	return cursorState{typeIdx: idx, resume: append([]byte(nil), payload[1:]...)}, true
}

func (f *Facade) loadCursor(cursor int64) cursorState {
	if cursor == 0 {
		return cursorState{typeIdx: typeString}
	}
	v, ok := f.cursorLRU.Get(strconv.FormatInt(cursor, 10))
	if !ok {
		// A non-present cursor (evicted or never seen) resumes as a fresh scan.
		return cursorState{typeIdx: typeString}
	}
	state, ok := decodeCursorState(v.([]byte))
	if !ok {
		return cursorState{typeIdx: typeString}
	}
	return state
}

func (f *Facade) storeCursor(s cursorState) int64 {
	id := atomic.AddInt64(&f.nextCursor, 1)
	f.cursorLRU.Put(strconv.FormatInt(id, 10), encodeCursorState(s))
	return id
}

// Scan runs one step of the cross-type key scan: it resumes from cursor
// (0 starts fresh), walks the engines in the fixed strings->hashes->
// sets->lists->zsets order, and returns up to count keys plus the cursor
// to pass on the next call (0 once every type reports done).
func (f *Facade) Scan(cursor int64, pattern string, count int) ([][]byte, int64, error) {
	state := f.loadCursor(cursor)
	var out [][]byte
	remaining := count
	for remaining > 0 && state.typeIdx < typeCount {
		keys, next, done, err := f.engines[state.typeIdx].Scan(state.resume, pattern, remaining)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, keys...)
		remaining -= len(keys)
		if done {
			state = cursorState{typeIdx: state.typeIdx + 1}
			continue
		}
		state.resume = next
		break
	}
	if state.typeIdx >= typeCount {
		return out, 0, nil
	}
	return out, f.storeCursor(state), nil
}

// ScanKeyNum counts every live key across all five types, honoring the
// shared stop flag that interrupts the only long-running background
// counting operation.
func (f *Facade) ScanKeyNum(stop *int32) (int64, error) {
	var total int64
	for _, eng := range f.engines {
		n, err := eng.ScanKeyNum(stop)
		if err != nil {
			return total, err
		}
		total += n
		if stop != nil && *stop != 0 {
			break
		}
	}
	return total, nil
}

// CompactAll runs a synchronous compact_range over every type, in the
// fixed order.
func (f *Facade) CompactAll() error {
	for _, eng := range f.engines {
		if err := eng.CompactRange(); err != nil {
			return err
		}
	}
	return nil
}

// Stats is a snapshot of each per-type database's pebble.Metrics, rendered
// as an aligned table by String.
type Stats struct {
	rows [typeCount]pebble.Metrics
}

// Stats reads pebble.Metrics from every per-type database.
func (f *Facade) Stats() Stats {
	var s Stats
	for i, db := range f.dbs {
		if db != nil {
			s.rows[i] = *db.Metrics()
		}
	}
	return s
}

// String renders Stats as an aligned table, one row per type.
func (s Stats) String() string {
	table := [][]string{{"type", "disk_size", "num_sstables", "open_snapshots"}}
	for i, m := range s.rows {
		table = append(table, []string{
			typeNames[i],
			fmt.Sprintf("%d", m.DiskSpaceUsage()),
			fmt.Sprintf("%d", m.Total().NumFiles),
			fmt.Sprintf("%d", m.Snapshots.Count),
		})
	}
	return brimtext.Align(table, nil)
}
