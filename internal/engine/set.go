package engine

import (
	"math/rand"

	"github.com/cockroachdb/pebble"

	"github.com/gholt/redistore/internal/codec"
	"github.com/gholt/redistore/internal/kverrors"
)

// Set implements the set type: meta plus one member CF storing members
// key-only (empty value).
type Set struct {
	base
}

// NewSet wires a Set engine onto an already-opened per-type database.
func NewSet(b base) *Set { return &Set{base: b} }

func (s *Set) dataTags() []codec.CFTag { return []codec.CFTag{codec.CFMember} }

// DataTags exposes the data column families a background compaction
// worker must sweep for this engine.
func (s *Set) DataTags() []codec.CFTag { return s.dataTags() }

// LookupMeta exposes a raw (unclassified) meta lookup for the background
// compaction worker's data-filter pass.
func (s *Set) LookupMeta(key []byte) (codec.MetaValue, bool, error) {
	return getMeta(s.db, nil, key)
}

func setMemberKey(key []byte, version int32, member []byte) []byte {
	return codec.EncodeMemberKey(nil, codec.CFMember, key, version, member)
}

func (s *Set) liveMeta(key []byte, now int64) (codec.MetaValue, bool, error) {
	mv, ok, err := getMeta(s.db, nil, key)
	if err != nil || !ok {
		return mv, false, err
	}
	return mv, classifyMeta(mv, now) == metaLive, nil
}

func (s *Set) memberExists(snap *pebble.Snapshot, key []byte, version int32, member []byte) (bool, error) {
	_, err := s.db.Get(snap, setMemberKey(key, version, member))
	if kverrors.Is(err, kverrors.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SAdd adds members to key's set, returning the number newly inserted.
func (s *Set) SAdd(key []byte, members [][]byte) (int, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := s.now()
	s.bumpAccessCounter(key)
	mv, live, err := s.liveMeta(key, now)
	if err != nil {
		return 0, err
	}
	if !live {
		mv = codec.MetaValue{Type: codec.TypeSet, Version: nextVersion(mv.Version, now)}
	}
	seen := make(map[string]bool, len(members))
	batch := s.db.NewBatch()
	defer batch.Close()
	added := 0
	for _, m := range members {
		ms := string(m)
		if seen[ms] {
			continue
		}
		seen[ms] = true
		exists, err := s.memberExists(nil, key, mv.Version, m)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		if err := batch.Set(setMemberKey(key, mv.Version, m), nil, nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage sadd")
		}
		added++
	}
	if added == 0 && live {
		return 0, nil
	}
	mv.Count += int32(added)
	if err := stageMeta(batch, key, mv); err != nil {
		return 0, err
	}
	if err := s.db.Commit(batch); err != nil {
		return 0, err
	}
	return added, nil
}

// SRem removes members from key's set, returning the number actually
// removed.
func (s *Set) SRem(key []byte, members [][]byte) (int, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	mv, live, err := s.liveMeta(key, s.now())
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	removed := 0
	for _, m := range members {
		exists, err := s.memberExists(nil, key, mv.Version, m)
		if err != nil {
			return 0, err
		}
		if !exists {
			continue
		}
		if err := batch.Delete(setMemberKey(key, mv.Version, m), nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage srem")
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
	if err := s.db.Commit(batch); err != nil {
		return 0, err
	}
	return removed, nil
}

// SCard returns the number of members under key, 0 if absent or stale.
func (s *Set) SCard(key []byte) (int, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	mv, live, err := s.liveMeta(key, s.now())
	if err != nil {
		return 0, err
	}
	if !live {
		return 0, nil
	}
	return int(mv.Count), nil
}

// SIsmember reports whether member belongs to key's live set.
func (s *Set) SIsmember(key, member []byte) (bool, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return false, err
	}
	defer g.Release()
	mv, live, err := s.liveMeta(key, s.now())
	if err != nil || !live {
		return false, err
	}
	return s.memberExists(nil, key, mv.Version, member)
}

// membersUnder returns every live member of key under snap (nil for
// current state), plus the meta version used. Absent or stale keys
// return an empty slice, not an error.
func (s *Set) membersUnder(snap *pebble.Snapshot, key []byte, now int64) ([][]byte, int32, error) {
	mv, ok, err := getMeta(s.db, snap, key)
	if err != nil {
		return nil, 0, err
	}
	if !ok || classifyMeta(mv, now) != metaLive {
		return nil, 0, nil
	}
	prefix := codec.EncodeMemberPrefix(nil, codec.CFMember, key, mv.Version)
	it, err := s.db.NewIter(snap, prefix, codec.PrefixUpperBound(prefix))
	if err != nil {
		return nil, 0, err
	}
	defer it.Close()
	var out [][]byte
	for it.First(); it.Valid(); it.Next() {
		_, _, member := codec.ParseMemberKey(it.Key())
		out = append(out, append([]byte(nil), member...))
	}
	return out, mv.Version, it.Error()
}

// SMembers returns every member of key.
func (s *Set) SMembers(key []byte) ([][]byte, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	out, _, err := s.membersUnder(nil, key, s.now())
	return out, err
}

// SRandmember follows Redis's semantics: count > 0 returns up to count
// distinct members; count < 0 returns exactly -count picks with possible
// repetition; count == 0 returns none.
func (s *Set) SRandmember(key []byte, count int) ([][]byte, error) {
	members, err := s.SMembers(key)
	if err != nil || len(members) == 0 || count == 0 {
		return nil, err
	}
	if count < 0 {
		n := -count
		out := make([][]byte, n)
		for i := range out {
			out[i] = members[rand.Intn(len(members))]
		}
		return out, nil
	}
	if count >= len(members) {
		return members, nil
	}
	perm := rand.Perm(len(members))[:count]
	out := make([][]byte, count)
	for i, p := range perm {
		out[i] = members[p]
	}
	return out, nil
}

// SPop removes up to count members from key, returning the popped values,
// and bumps the per-key access counter that can trigger a background
// compact-key task.
func (s *Set) SPop(key []byte, count int) ([][]byte, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	s.bumpAccessCounter(key)
	mv, live, err := s.liveMeta(key, s.now())
	if err != nil || !live || count <= 0 {
		return nil, err
	}
	prefix := codec.EncodeMemberPrefix(nil, codec.CFMember, key, mv.Version)
	it, err := s.db.NewIter(nil, prefix, codec.PrefixUpperBound(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	batch := s.db.NewBatch()
	defer batch.Close()
	var popped [][]byte
	for it.First(); it.Valid() && len(popped) < count; it.Next() {
		recKey := append([]byte(nil), it.Key()...)
		_, _, member := codec.ParseMemberKey(recKey)
		popped = append(popped, append([]byte(nil), member...))
		if err := batch.Delete(recKey, nil); err != nil {
			return nil, kverrors.WrapIO(err, "stage spop")
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if len(popped) == 0 {
		return nil, nil
	}
	mv.Count -= int32(len(popped))
	if err := stageMeta(batch, key, mv); err != nil {
		return nil, err
	}
	if err := s.db.Commit(batch); err != nil {
		return nil, err
	}
	return popped, nil
}

// SMove moves member from src to dst, locking both (sorted) for the
// duration; a no-op if member is absent from src.
func (s *Set) SMove(src, dst, member []byte) (bool, error) {
	g, err := s.locks.AcquireAll(acquireCtx(), [][]byte{src, dst})
	if err != nil {
		return false, err
	}
	defer g.Release()
	now := s.now()
	srcMeta, srcLive, err := s.liveMeta(src, now)
	if err != nil || !srcLive {
		return false, err
	}
	exists, err := s.memberExists(nil, src, srcMeta.Version, member)
	if err != nil || !exists {
		return false, err
	}
	dstMeta, dstLive, err := s.liveMeta(dst, now)
	if err != nil {
		return false, err
	}
	if !dstLive {
		dstMeta = codec.MetaValue{Type: codec.TypeSet, Version: nextVersion(dstMeta.Version, now)}
	}
	dstHasMember, err := s.memberExists(nil, dst, dstMeta.Version, member)
	if err != nil {
		return false, err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(setMemberKey(src, srcMeta.Version, member), nil); err != nil {
		return false, kverrors.WrapIO(err, "stage smove delete")
	}
	srcMeta.Count--
	if err := stageMeta(batch, src, srcMeta); err != nil {
		return false, err
	}
	if !dstHasMember {
		if err := batch.Set(setMemberKey(dst, dstMeta.Version, member), nil, nil); err != nil {
			return false, kverrors.WrapIO(err, "stage smove insert")
		}
		dstMeta.Count++
	}
	if err := stageMeta(batch, dst, dstMeta); err != nil {
		return false, err
	}
	if err := s.db.Commit(batch); err != nil {
		return false, err
	}
	return true, nil
}

// SDiff returns { m in keys[0] : for all i>0, m not in keys[i] },
// reading every source under one shared snapshot.
func (s *Set) SDiff(keys [][]byte) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, kverrors.InvalidArgumentf("sdiff requires at least one key")
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	now := s.now()
	first, _, err := s.membersUnder(snap, keys[0], now)
	if err != nil {
		return nil, err
	}
	others := make([]map[string]bool, len(keys)-1)
	for i, k := range keys[1:] {
		ms, _, err := s.membersUnder(snap, k, now)
		if err != nil {
			return nil, err
		}
		set := make(map[string]bool, len(ms))
		for _, m := range ms {
			set[string(m)] = true
		}
		others[i] = set
	}
	var out [][]byte
	for _, m := range first {
		in := false
		for _, o := range others {
			if o[string(m)] {
				in = true
				break
			}
		}
		if !in {
			out = append(out, m)
		}
	}
	return out, nil
}

// SInter returns { m in keys[0] : for all i>0, m in keys[i] }, short
// circuiting to empty if any source is stale or empty.
func (s *Set) SInter(keys [][]byte) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, kverrors.InvalidArgumentf("sinter requires at least one key")
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	now := s.now()
	first, _, err := s.membersUnder(snap, keys[0], now)
	if err != nil || len(first) == 0 {
		return nil, err
	}
	others := make([]map[string]bool, len(keys)-1)
	for i, k := range keys[1:] {
		ms, _, err := s.membersUnder(snap, k, now)
		if err != nil {
			return nil, err
		}
		if len(ms) == 0 {
			return nil, nil
		}
		set := make(map[string]bool, len(ms))
		for _, m := range ms {
			set[string(m)] = true
		}
		others[i] = set
	}
	var out [][]byte
	for _, m := range first {
		all := true
		for _, o := range others {
			if !o[string(m)] {
				all = false
				break
			}
		}
		if all {
			out = append(out, m)
		}
	}
	return out, nil
}

// SUnion returns the union of every key's live members.
func (s *Set) SUnion(keys [][]byte) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, kverrors.InvalidArgumentf("sunion requires at least one key")
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	now := s.now()
	seen := make(map[string]bool)
	var out [][]byte
	for _, k := range keys {
		ms, _, err := s.membersUnder(snap, k, now)
		if err != nil {
			return nil, err
		}
		for _, m := range ms {
			ks := string(m)
			if !seen[ks] {
				seen[ks] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// storeResult atomically replaces dest's set with members under a fresh
// version, in one batch, correctly handling dest coinciding with a source
// key (the snapshot used to compute members was taken before this write).
func (s *Set) storeResult(dest []byte, members [][]byte) (int, error) {
	g, err := s.locks.Acquire(acquireCtx(), dest)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	now := s.now()
	mv, _, err := s.liveMeta(dest, now)
	if err != nil {
		return 0, err
	}
	version := nextVersion(mv.Version, now)
	batch := s.db.NewBatch()
	defer batch.Close()
	seen := make(map[string]bool, len(members))
	count := 0
	for _, m := range members {
		ms := string(m)
		if seen[ms] {
			continue
		}
		seen[ms] = true
		if err := batch.Set(setMemberKey(dest, version, m), nil, nil); err != nil {
			return 0, kverrors.WrapIO(err, "stage store result")
		}
		count++
	}
	out := codec.MetaValue{Type: codec.TypeSet, Version: version, Count: int32(count)}
	if err := stageMeta(batch, dest, out); err != nil {
		return 0, err
	}
	if err := s.db.Commit(batch); err != nil {
		return 0, err
	}
	return count, nil
}

// SDiffstore, SInterstore, SUnionstore compute the corresponding result
// over srcs and atomically replace dest's set with it.
func (s *Set) SDiffstore(dest []byte, srcs [][]byte) (int, error) {
	members, err := s.SDiff(srcs)
	if err != nil {
		return 0, err
	}
	return s.storeResult(dest, members)
}

func (s *Set) SInterstore(dest []byte, srcs [][]byte) (int, error) {
	members, err := s.SInter(srcs)
	if err != nil {
		return 0, err
	}
	return s.storeResult(dest, members)
}

func (s *Set) SUnionstore(dest []byte, srcs [][]byte) (int, error) {
	members, err := s.SUnion(srcs)
	if err != nil {
		return 0, err
	}
	return s.storeResult(dest, members)
}

// --- key-type commands: Set keeps a meta record, so these delegate
// straight to base's shared implementation.

func (s *Set) Expire(key []byte, ttlSeconds int64) error { return s.expire(key, ttlSeconds) }
func (s *Set) ExpireAt(key []byte, ts int64) error        { return s.expireAt(key, ts) }
func (s *Set) Persist(key []byte) error                   { return s.persist(key) }
func (s *Set) TTL(key []byte) (int64, error)              { return s.ttl(key) }
func (s *Set) Delete(key []byte) (bool, error)            { return s.delete(key) }
func (s *Set) Scan(start []byte, pattern string, count int) ([][]byte, []byte, bool, error) {
	return s.scan(start, pattern, count)
}
func (s *Set) CompactRange() error {
	return s.compactRange(s.dataTags(), func(k []byte) (codec.MetaValue, bool, error) { return getMeta(s.db, nil, k) })
}
func (s *Set) ScanKeyNum(stop *int32) (int64, error) { return s.scanKeyNum(stop) }
