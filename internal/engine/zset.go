package engine

import (
	"math"

	"github.com/cockroachdb/pebble"

	"github.com/gholt/redistore/internal/codec"
	"github.com/gholt/redistore/internal/comparator"
	"github.com/gholt/redistore/internal/kverrors"
)

// ZSet implements the sorted-set type: meta plus a data CF (member -> score)
// and a score-index CF (score -> ∅), kept in duality: every write that
// touches a member's score updates both.
type ZSet struct {
	base
}

// NewZSet wires a ZSet engine onto an already-opened per-type database.
func NewZSet(b base) *ZSet { return &ZSet{base: b} }

func (z *ZSet) dataTags() []codec.CFTag { return []codec.CFTag{codec.CFData, codec.CFScore} }

// DataTags exposes the data column families a background compaction
// worker must sweep for this engine.
func (z *ZSet) DataTags() []codec.CFTag { return z.dataTags() }

// LookupMeta exposes a raw (unclassified) meta lookup for the background
// compaction worker's data-filter pass.
func (z *ZSet) LookupMeta(key []byte) (codec.MetaValue, bool, error) {
	return getMeta(z.db, nil, key)
}

func zsetDataKey(key []byte, version int32, member []byte) []byte {
	return codec.EncodeMemberKey(nil, codec.CFData, key, version, member)
}

func zsetScoreKey(key []byte, version int32, score float64, member []byte) []byte {
	return codec.EncodeZSetScoreKey(nil, key, version, score, member)
}

func (z *ZSet) liveMeta(key []byte, now int64) (codec.MetaValue, bool, error) {
	mv, ok, err := getMeta(z.db, nil, key)
	if err != nil || !ok {
		return mv, false, err
	}
	return mv, classifyMeta(mv, now) == metaLive, nil
}

// memberScore returns the current score of member under (key, version), or
// ok=false if absent.
func (z *ZSet) memberScore(snap *pebble.Snapshot, key []byte, version int32, member []byte) (float64, bool, error) {
	v, err := z.db.Get(snap, zsetDataKey(key, version, member))
	if kverrors.Is(err, kverrors.KindNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return codec.Float64Bits(v), true, nil
}

// putMember stages a duality-preserving write for one member's score into
// batch: deletes the old score-index record (if any) and writes the new
// data and score-index records.
func (z *ZSet) putMember(batch *pebble.Batch, key []byte, version int32, member []byte, oldScore float64, hadOld bool, newScore float64) error {
	if hadOld {
		if err := batch.Delete(zsetScoreKey(key, version, oldScore, member), nil); err != nil {
			return kverrors.WrapIO(err, "stage zset score delete")
		}
	}
	var scratch [8]byte
	codec.PutFloat64Bits(scratch[:0], newScore)
	if err := batch.Set(zsetDataKey(key, version, member), scratch[:], nil); err != nil {
		return kverrors.WrapIO(err, "stage zset data write")
	}
	if err := batch.Set(zsetScoreKey(key, version, newScore, member), nil, nil); err != nil {
		return kverrors.WrapIO(err, "stage zset score write")
	}
	return nil
}

// ScoredMember pairs a member with its score for bulk APIs.
type ScoredMember struct {
	Member []byte
	Score  float64
}

// ZAdd adds or updates scored members, maintaining the duality invariant
// atomically, and returns the number of newly-inserted members.
func (z *ZSet) ZAdd(key []byte, members []ScoredMember) (int, error) {
	for _, m := range members {
		if comparator.IsNaN(m.Score) {
			return 0, kverrors.InvalidArgumentf("zadd score must not be NaN")
		}
	}
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := z.now()
	mv, live, err := z.liveMeta(key, now)
	if err != nil {
		return 0, err
	}
	if !live {
		mv = codec.MetaValue{Type: codec.TypeZSet, Version: nextVersion(mv.Version, now)}
	}
	batch := z.db.NewBatch()
	defer batch.Close()
	added := 0
	for _, m := range members {
		oldScore, had, err := z.memberScore(nil, key, mv.Version, m.Member)
		if err != nil {
			return 0, err
		}
		if err := z.putMember(batch, key, mv.Version, m.Member, oldScore, had, m.Score); err != nil {
			return 0, err
		}
		if !had {
			added++
		}
	}
	mv.Count += int32(added)
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := z.db.Commit(batch); err != nil {
		return 0, err
	}
	return added, nil
}

// ZScore returns member's score, or NotFound if absent.
func (z *ZSet) ZScore(key, member []byte) (float64, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	mv, live, err := z.liveMeta(key, z.now())
	if err != nil || !live {
		if err == nil {
			err = kverrors.NotFound
		}
		return 0, err
	}
	score, ok, err := z.memberScore(nil, key, mv.Version, member)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, kverrors.NotFound
	}
	return score, nil
}

// ZCard returns the number of members under key, 0 if absent or stale.
func (z *ZSet) ZCard(key []byte) (int, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	mv, live, err := z.liveMeta(key, z.now())
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, nil
	}
	return int(mv.Count), nil
}

// scoreIterate walks the score CF for key in ascending score order,
// calling fn(member, score) for each; fn returning false stops early.
func (z *ZSet) scoreIterate(snap *pebble.Snapshot, key []byte, version int32, fn func(member []byte, score float64) bool) error {
	// Full score keys as bounds: the score comparator cannot parse a bare
	// tag|key|version prefix. NaN scores never reach the store, so -Inf
	// sorts first within a version.
	lower := zsetScoreKey(key, version, math.Inf(-1), nil)
	upper := zsetScoreKey(key, version+1, math.Inf(-1), nil)
	it, err := z.db.NewIter(snap, lower, upper)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		_, _, score, member := codec.ParseZSetScoreKey(it.Key())
		if !fn(append([]byte(nil), member...), score) {
			break
		}
	}
	return it.Error()
}

// zsetOrdered collects every (member, score) for key in ascending score
// order.
func (z *ZSet) zsetOrdered(key []byte) ([]ScoredMember, bool, error) {
	mv, live, err := z.liveMeta(key, z.now())
	if err != nil || !live {
		return nil, live, err
	}
	var out []ScoredMember
	err = z.scoreIterate(nil, key, mv.Version, func(m []byte, s float64) bool {
		out = append(out, ScoredMember{Member: m, Score: s})
		return true
	})
	return out, true, err
}

// ZRange returns the rank-ordered [start, stop] inclusive slice ascending
// by score; negative bounds count from the end.
func (z *ZSet) ZRange(key []byte, start, stop int64) ([]ScoredMember, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	all, live, err := z.zsetOrdered(key)
	if err != nil || !live {
		return nil, err
	}
	return sliceRange(all, start, stop), nil
}

// ZRevrange is ZRange over the descending order.
func (z *ZSet) ZRevrange(key []byte, start, stop int64) ([]ScoredMember, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	all, live, err := z.zsetOrdered(key)
	if err != nil || !live {
		return nil, err
	}
	rev := make([]ScoredMember, len(all))
	for i, m := range all {
		rev[len(all)-1-i] = m
	}
	return sliceRange(rev, start, stop), nil
}

func sliceRange(all []ScoredMember, start, stop int64) []ScoredMember {
	length := int64(len(all))
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
	if start > stop || start >= length {
		return nil
	}
	return all[start : stop+1]
}

// ZRank returns member's 0-based ascending-score rank, or NotFound.
func (z *ZSet) ZRank(key, member []byte) (int64, error) {
	return z.rank(key, member, false)
}

// ZRevrank returns member's 0-based descending-score rank, or NotFound.
func (z *ZSet) ZRevrank(key, member []byte) (int64, error) {
	return z.rank(key, member, true)
}

func (z *ZSet) rank(key, member []byte, reverse bool) (int64, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	all, live, err := z.zsetOrdered(key)
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, kverrors.NotFound
	}
	for i, m := range all {
		if string(m.Member) == string(member) {
			if reverse {
				return int64(len(all) - 1 - i), nil
			}
			return int64(i), nil
		}
	}
	return 0, kverrors.NotFound
}

// ZRangebyscore returns every member whose score lies in [min, max] (or
// half-open per leftClose/rightClose), ascending by score.
func (z *ZSet) ZRangebyscore(key []byte, min, max float64, leftClose, rightClose bool) ([]ScoredMember, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	all, live, err := z.zsetOrdered(key)
	if err != nil || !live {
		return nil, err
	}
	var out []ScoredMember
	for _, m := range all {
		if inBounds(m.Score, min, max, leftClose, rightClose) {
			out = append(out, m)
		}
	}
	return out, nil
}

func inBounds(score, min, max float64, leftClose, rightClose bool) bool {
	if leftClose {
		if score < min {
			return false
		}
	} else if score <= min {
		return false
	}
	if rightClose {
		if score > max {
			return false
		}
	} else if score >= max {
		return false
	}
	return true
}

// ZRangebylex requires every scored member to share one score and
// returns the members in [min, max] lexicographic order
// (empty bound means unbounded on that side).
func (z *ZSet) ZRangebylex(key []byte, min, max []byte, leftClose, rightClose bool) ([][]byte, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	all, live, err := z.zsetOrdered(key)
	if err != nil || !live {
		return nil, err
	}
	var out [][]byte
	for _, m := range all {
		if len(min) > 0 {
			c := compareBytes(m.Member, min)
			if leftClose && c < 0 {
				continue
			}
			if !leftClose && c <= 0 {
				continue
			}
		}
		if len(max) > 0 {
			c := compareBytes(m.Member, max)
			if rightClose && c > 0 {
				continue
			}
			if !rightClose && c >= 0 {
				continue
			}
		}
		out = append(out, m.Member)
	}
	return out, nil
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// ZIncrby adds delta to member's score (treating an absent member as 0),
// preserving the duality invariant atomically, and returns the new score.
func (z *ZSet) ZIncrby(key, member []byte, delta float64) (float64, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := z.now()
	mv, live, err := z.liveMeta(key, now)
	if err != nil {
		return 0, err
	}
	if !live {
		mv = codec.MetaValue{Type: codec.TypeZSet, Version: nextVersion(mv.Version, now)}
	}
	oldScore, had, err := z.memberScore(nil, key, mv.Version, member)
	if err != nil {
		return 0, err
	}
	next := oldScore + delta
	if comparator.IsNaN(next) {
		return 0, kverrors.InvalidArgumentf("zincrby result is NaN")
	}
	batch := z.db.NewBatch()
	defer batch.Close()
	if err := z.putMember(batch, key, mv.Version, member, oldScore, had, next); err != nil {
		return 0, err
	}
	if !had {
		mv.Count++
	}
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := z.db.Commit(batch); err != nil {
		return 0, err
	}
	return next, nil
}

// ZCount returns the number of members whose score lies in [min, max].
func (z *ZSet) ZCount(key []byte, min, max float64, leftClose, rightClose bool) (int, error) {
	members, err := z.ZRangebyscore(key, min, max, leftClose, rightClose)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// ZRem removes the given members, adjusting count and the duality
// invariant; leaves the meta in place even if count reaches zero.
func (z *ZSet) ZRem(key []byte, members [][]byte) (int, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	mv, live, err := z.liveMeta(key, z.now())
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, nil
	}
	batch := z.db.NewBatch()
	defer batch.Close()
	removed := 0
	for _, m := range members {
		score, ok, err := z.memberScore(nil, key, mv.Version, m)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if err := batch.Delete(zsetDataKey(key, mv.Version, m), nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage zrem data")
		}
		if err := batch.Delete(zsetScoreKey(key, mv.Version, score, m), nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage zrem score")
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
	if err := z.db.Commit(batch); err != nil {
		return 0, err
	}
	return removed, nil
}

// ZRemrangebyscore removes every member whose score lies in [min, max].
func (z *ZSet) ZRemrangebyscore(key []byte, min, max float64, leftClose, rightClose bool) (int, error) {
	members, err := z.ZRangebyscore(key, min, max, leftClose, rightClose)
	if err != nil {
		return 0, err
	}
	names := make([][]byte, len(members))
	for i, m := range members {
		names[i] = m.Member
	}
	return z.ZRem(key, names)
}

// ZRemrangebyrank removes every member whose ascending rank lies in
// [start, stop] (Redis-style negative bounds supported).
func (z *ZSet) ZRemrangebyrank(key []byte, start, stop int64) (int, error) {
	g, err := z.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	all, live, err := z.zsetOrdered(key)
	if err != nil || !live {
		return 0, err
	}
	victims := sliceRange(all, start, stop)
	if len(victims) == 0 {
		return 0, nil
	}
	mv, _, err := getMeta(z.db, nil, key)
	if err != nil {
		return 0, err
	}
	batch := z.db.NewBatch()
	defer batch.Close()
	for _, m := range victims {
		if err := batch.Delete(zsetDataKey(key, mv.Version, m.Member), nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage zremrangebyrank data")
		}
		if err := batch.Delete(zsetScoreKey(key, mv.Version, m.Score, m.Member), nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage zremrangebyrank score")
		}
	}
	mv.Count -= int32(len(victims))
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := z.db.Commit(batch); err != nil {
		return 0, err
	}
	return len(victims), nil
}

// ZAggregation selects the combining function ZUnionstore/ZInterstore use
// to merge a member's scores across sources.
type ZAggregation int

const (
	ZAggSum ZAggregation = iota
	ZAggMin
	ZAggMax
)

func aggregate(agg ZAggregation, have bool, acc, next float64) float64 {
	if !have {
		return next
	}
	switch agg {
	case ZAggMin:
		return math.Min(acc, next)
	case ZAggMax:
		return math.Max(acc, next)
	default:
		return acc + next
	}
}

// ZUnionstore computes the weighted, aggregated union of srcs and
// atomically replaces dest's zset with it under a fresh version. Missing
// source keys contribute nothing.
func (z *ZSet) ZUnionstore(dest []byte, srcs [][]byte, weights []float64, agg ZAggregation) (int, error) {
	merged := make(map[string]float64)
	have := make(map[string]bool)
	var order []string
	for i, src := range srcs {
		members, live, err := z.zsetOrdered(src)
		if err != nil {
			return 0, err
		}
		if !live {
			continue
		}
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		for _, m := range members {
			ms := string(m.Member)
			if !have[ms] {
				order = append(order, ms)
			}
			merged[ms] = aggregate(agg, have[ms], merged[ms], m.Score*w)
			have[ms] = true
		}
	}
	return z.storeMerged(dest, order, merged)
}

// ZInterstore is ZUnionstore restricted to members present in every
// source.
func (z *ZSet) ZInterstore(dest []byte, srcs [][]byte, weights []float64, agg ZAggregation) (int, error) {
	if len(srcs) == 0 {
		return 0, kverrors.InvalidArgumentf("zinterstore requires at least one source")
	}
	perSource := make([]map[string]float64, len(srcs))
	var order []string
	for i, src := range srcs {
		members, live, err := z.zsetOrdered(src)
		if err != nil {
			return 0, err
		}
		if !live {
			return 0, nil
		}
		set := make(map[string]float64, len(members))
		for _, m := range members {
			set[string(m.Member)] = m.Score
			if i == 0 {
				order = append(order, string(m.Member))
			}
		}
		perSource[i] = set
	}
	merged := make(map[string]float64)
	var kept []string
	for _, ms := range order {
		present := true
		var acc float64
		have := false
		for i, set := range perSource {
			score, ok := set[ms]
			if !ok {
				present = false
				break
			}
			w := 1.0
			if i < len(weights) {
				w = weights[i]
			}
			acc = aggregate(agg, have, acc, score*w)
			have = true
		}
		if present {
			merged[ms] = acc
			kept = append(kept, ms)
		}
	}
	return z.storeMerged(dest, kept, merged)
}

func (z *ZSet) storeMerged(dest []byte, order []string, merged map[string]float64) (int, error) {
	g, err := z.locks.Acquire(acquireCtx(), dest)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := z.now()
	mv, _, err := z.liveMeta(dest, now)
	if err != nil {
		return 0, err
	}
	version := nextVersion(mv.Version, now)
	batch := z.db.NewBatch()
	defer batch.Close()
	for _, ms := range order {
		score := merged[ms]
		var scratch [8]byte
		codec.PutFloat64Bits(scratch[:0], score)
		if err := batch.Set(zsetDataKey(dest, version, []byte(ms)), scratch[:], nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage store merged data")
		}
		if err := batch.Set(zsetScoreKey(dest, version, score, []byte(ms)), nil, nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage store merged score")
		}
	}
	out := codec.MetaValue{Type: codec.TypeZSet, Version: version, Count: int32(len(order))}
	if err := stageMeta(batch, dest, out); err != nil {
		return 0, err
	}
	if err := z.db.Commit(batch); err != nil {
		return 0, err
	}
	return len(order), nil
}

// --- key-type commands: ZSet keeps a meta record, so these delegate
// straight to base's shared implementation.

func (z *ZSet) Expire(key []byte, ttlSeconds int64) error { return z.expire(key, ttlSeconds) }
func (z *ZSet) ExpireAt(key []byte, ts int64) error        { return z.expireAt(key, ts) }
func (z *ZSet) Persist(key []byte) error                   { return z.persist(key) }
func (z *ZSet) TTL(key []byte) (int64, error)              { return z.ttl(key) }
func (z *ZSet) Delete(key []byte) (bool, error)            { return z.delete(key) }
func (z *ZSet) Scan(start []byte, pattern string, count int) ([][]byte, []byte, bool, error) {
	return z.scan(start, pattern, count)
}
func (z *ZSet) CompactRange() error {
	return z.compactRange(z.dataTags(), func(k []byte) (codec.MetaValue, bool, error) { return getMeta(z.db, nil, k) })
}
func (z *ZSet) ScanKeyNum(stop *int32) (int64, error) { return z.scanKeyNum(stop) }
