package engine

import (
	"math"
	"strconv"

	"github.com/gholt/redistore/internal/codec"
	"github.com/gholt/redistore/internal/kverrors"
)

// maxSetrangeLen is the 2^29 bound places on
// offset + len(value) for Setrange.
const maxSetrangeLen = 1 << 29

// String implements the string type: a single CF whose values carry the
// expiration timestamp inline rather than in a separate meta record, so it
// reuses base for locking/access-counter plumbing (its base carries no
// worker, so the counter never enqueues a task) but not for
// base's meta-record key-type commands (expire/persist/ttl/delete/scan),
// which it reimplements against its own one-record-per-key layout below.
type String struct {
	base
}

// NewString wires a String engine onto an already-opened per-type database.
func NewString(b base) *String { return &String{base: b} }

func (s *String) rawGet(key []byte) ([]byte, int32, bool, error) {
	var scratch [codec.StackBufSize]byte
	mk := codec.EncodeMetaKey(scratch[:0], key)
	v, err := s.db.Get(nil, append([]byte(nil), mk...))
	if kverrors.Is(err, kverrors.KindNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	payload, expireTS := codec.DecodeStringValue(v)
	if expireTS != 0 && int64(expireTS) < s.now() {
		return nil, 0, false, nil
	}
	return payload, expireTS, true, nil
}

func (s *String) rawPut(key, payload []byte, expireTS int32) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	var scratch [codec.StackBufSize]byte
	mk := codec.EncodeMetaKey(scratch[:0], key)
	if err := batch.Set(append([]byte(nil), mk...), codec.EncodeStringValue(nil, payload, expireTS), nil); err != nil {
		return kverrors.WrapIO(err, "stage string write")
	}
	return s.db.Commit(batch)
}

// Get returns the live value for key, or NotFound if absent or expired.
func (s *String) Get(key []byte) ([]byte, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	payload, _, ok, err := s.rawGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kverrors.NotFound
	}
	return append([]byte(nil), payload...), nil
}

// Set unconditionally replaces key's value, clearing any expiration.
func (s *String) Set(key, value []byte) error {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	s.bumpAccessCounter(key)
	return s.rawPut(key, value, 0)
}

// SetEx sets key's value with an expiration ttlSeconds from now;
// ttl <= 0 is an invalid-argument error.
func (s *String) SetEx(key, value []byte, ttlSeconds int64) error {
	if ttlSeconds <= 0 {
		return kverrors.InvalidArgumentf("setex ttl must be positive, got %d", ttlSeconds)
	}
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	return s.rawPut(key, value, int32(s.now()+ttlSeconds))
}

// GetSet atomically sets key to value and returns its previous live value
// (nil, false if it had none).
func (s *String) GetSet(key, value []byte) (old []byte, hadOld bool, err error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, false, err
	}
	defer g.Release()
	payload, _, ok, err := s.rawGet(key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		old = append([]byte(nil), payload...)
	}
	if err := s.rawPut(key, value, 0); err != nil {
		return nil, false, err
	}
	return old, ok, nil
}

// Append appends value to key's existing live value (or creates it),
// preserving any existing expiration, and returns the resulting length.
func (s *String) Append(key, value []byte) (int, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	payload, expireTS, _, err := s.rawGet(key)
	if err != nil {
		return 0, err
	}
	next := append(append([]byte(nil), payload...), value...)
	if err := s.rawPut(key, next, expireTS); err != nil {
		return 0, err
	}
	return len(next), nil
}

// Strlen returns the byte length of key's live value, 0 if absent.
func (s *String) Strlen(key []byte) (int, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	payload, _, _, err := s.rawGet(key)
	if err != nil {
		return 0, err
	}
	return len(payload), nil
}

// Getrange returns the [start, end] byte slice of key's live value, with
// Redis-style negative offsets meaning "from end"; absent key yields "".
func (s *String) Getrange(key []byte, start, end int) ([]byte, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	payload, _, _, err := s.rawGet(key)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := clampRange(start, end, len(payload))
	if !ok {
		return []byte{}, nil
	}
	return append([]byte(nil), payload[lo:hi+1]...), nil
}

// Setrange overwrites key's value starting at offset, NUL-padding if
// offset exceeds the current length, and returns the new length.
// Rejects offset < 0 or offset+len(value) > 2^29.
func (s *String) Setrange(key []byte, offset int, value []byte) (int, error) {
	if offset < 0 {
		return 0, kverrors.InvalidArgumentf("setrange offset must be non-negative, got %d", offset)
	}
	if offset+len(value) > maxSetrangeLen {
		return 0, kverrors.InvalidArgumentf("setrange offset+len exceeds %d", maxSetrangeLen)
	}
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	payload, expireTS, _, err := s.rawGet(key)
	if err != nil {
		return 0, err
	}
	needed := offset + len(value)
	next := payload
	if len(next) < needed {
		grown := make([]byte, needed)
		copy(grown, next)
		next = grown
	} else {
		next = append([]byte(nil), next...)
	}
	copy(next[offset:], value)
	if err := s.rawPut(key, next, expireTS); err != nil {
		return 0, err
	}
	return len(next), nil
}

// Incrby parses key's live value as a signed 64-bit decimal integer, adds
// delta, and stores the result, rejecting overflow or a non-integer
// existing payload.
func (s *String) Incrby(key []byte, delta int64) (int64, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	payload, expireTS, ok, err := s.rawGet(key)
	if err != nil {
		return 0, err
	}
	var current int64
	if ok {
		current, err = strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return 0, kverrors.InvalidArgumentf("value is not an integer")
		}
	}
	if delta > 0 && current > math.MaxInt64-delta {
		return 0, kverrors.InvalidArgumentf("increment would overflow")
	}
	if delta < 0 && current < math.MinInt64-delta {
		return 0, kverrors.InvalidArgumentf("increment would overflow")
	}
	next := current + delta
	if err := s.rawPut(key, []byte(strconv.FormatInt(next, 10)), expireTS); err != nil {
		return 0, err
	}
	return next, nil
}

// Decrby is Incrby with the sign of delta flipped, guarding the one delta
// value (math.MinInt64) that has no positive counterpart.
func (s *String) Decrby(key []byte, delta int64) (int64, error) {
	if delta == math.MinInt64 {
		return 0, kverrors.InvalidArgumentf("decrement would overflow")
	}
	return s.Incrby(key, -delta)
}

// Incrbyfloat parses key's live value as an IEEE-754 double, adds delta,
// and stores the result formatted without a trailing exponent.
func (s *String) Incrbyfloat(key []byte, delta float64) (float64, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	payload, expireTS, ok, err := s.rawGet(key)
	if err != nil {
		return 0, err
	}
	var current float64
	if ok {
		current, err = strconv.ParseFloat(string(payload), 64)
		if err != nil {
			return 0, kverrors.InvalidArgumentf("value is not a float")
		}
	}
	next := current + delta
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return 0, kverrors.InvalidArgumentf("increment produces a non-finite value")
	}
	if err := s.rawPut(key, []byte(strconv.FormatFloat(next, 'f', -1, 64)), expireTS); err != nil {
		return 0, err
	}
	return next, nil
}

// MSet writes every (key, value) pair in pairs atomically in a single
// batch.
func (s *String) MSet(pairs map[string][]byte) error {
	keys := make([][]byte, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, []byte(k))
	}
	g, err := s.locks.AcquireAll(acquireCtx(), keys)
	if err != nil {
		return err
	}
	defer g.Release()
	batch := s.db.NewBatch()
	defer batch.Close()
	for k, v := range pairs {
		var scratch [codec.StackBufSize]byte
		mk := codec.EncodeMetaKey(scratch[:0], []byte(k))
		if err := batch.Set(append([]byte(nil), mk...), codec.EncodeStringValue(nil, v, 0), nil); err != nil {
			return kverrors.WrapIO(err, "stage mset write")
		}
	}
	return s.db.Commit(batch)
}

// MSetnx writes every pair iff none of the target keys currently holds a
// live value; otherwise it writes nothing and reports false.
func (s *String) MSetnx(pairs map[string][]byte) (bool, error) {
	keys := make([][]byte, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, []byte(k))
	}
	g, err := s.locks.AcquireAll(acquireCtx(), keys)
	if err != nil {
		return false, err
	}
	defer g.Release()
	for k := range pairs {
		_, _, ok, err := s.rawGet([]byte(k))
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for k, v := range pairs {
		var scratch [codec.StackBufSize]byte
		mk := codec.EncodeMetaKey(scratch[:0], []byte(k))
		if err := batch.Set(append([]byte(nil), mk...), codec.EncodeStringValue(nil, v, 0), nil); err != nil {
			return false, kverrors.WrapIO(err, "stage msetnx write")
		}
	}
	if err := s.db.Commit(batch); err != nil {
		return false, err
	}
	return true, nil
}

// BitOpKind selects one of the four operators names.
type BitOpKind int

const (
	BitOpAnd BitOpKind = iota
	BitOpOr
	BitOpXor
	BitOpNot
)

// BitOp computes op over srcs (reading each under its own lock, in the
// order given) and stores the result at dest. NOT requires exactly one
// source. Shorter operands are zero-extended; the result length is the
// maximum source length (the single operand's length for NOT).
func (s *String) BitOp(op BitOpKind, dest []byte, srcs ...[]byte) (int, error) {
	if op == BitOpNot && len(srcs) != 1 {
		return 0, kverrors.InvalidArgumentf("bitop NOT requires exactly one source, got %d", len(srcs))
	}
	if len(srcs) == 0 {
		return 0, kverrors.InvalidArgumentf("bitop requires at least one source")
	}
	allKeys := append(append([][]byte{}, srcs...), dest)
	g, err := s.locks.AcquireAll(acquireCtx(), allKeys)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	payloads := make([][]byte, len(srcs))
	maxLen := 0
	for i, src := range srcs {
		payload, _, _, err := s.rawGet(src)
		if err != nil {
			return 0, err
		}
		payloads[i] = payload
		if len(payload) > maxLen {
			maxLen = len(payload)
		}
	}
	result := make([]byte, maxLen)
	if op == BitOpNot {
		for i, b := range payloads[0] {
			result[i] = ^b
		}
		for i := len(payloads[0]); i < maxLen; i++ {
			result[i] = 0xff
		}
	} else {
		for i := 0; i < maxLen; i++ {
			var acc byte
			for j, payload := range payloads {
				var b byte
				if i < len(payload) {
					b = payload[i]
				}
				if j == 0 {
					acc = b
					continue
				}
				switch op {
				case BitOpAnd:
					acc &= b
				case BitOpOr:
					acc |= b
				case BitOpXor:
					acc ^= b
				}
			}
			result[i] = acc
		}
	}
	if err := s.rawPut(dest, result, 0); err != nil {
		return 0, err
	}
	return len(result), nil
}

// BitCount counts set bits across key's live value. start/end nil means
// "whole string"; otherwise they are inclusive byte offsets with negative
// values meaning "from end", exactly like Getrange.
func (s *String) BitCount(key []byte, start, end *int) (int, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	payload, _, _, err := s.rawGet(key)
	if err != nil {
		return 0, err
	}
	if start == nil || end == nil {
		return countBits(payload), nil
	}
	lo, hi, ok := clampRange(*start, *end, len(payload))
	if !ok {
		return 0, nil
	}
	return countBits(payload[lo : hi+1]), nil
}

func countBits(b []byte) int {
	n := 0
	for _, v := range b {
		for v != 0 {
			n++
			v &= v - 1
		}
	}
	return n
}

// clampRange translates Redis-style possibly-negative [start, end]
// inclusive byte offsets against a value of the given length.
func clampRange(start, end, length int) (lo, hi int, ok bool) {
	if length == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += length
	}
	if end < 0 {
		end += length
	}
	if start < 0 {
		start = 0
	}
	if end >= length {
		end = length - 1
	}
	if start > end || start >= length {
		return 0, 0, false
	}
	return start, end, true
}

// --- key-type commands, reimplemented against String's
// single-record-with-inline-expiry layout rather than base's meta/data
// split, since String keeps no separate meta record to classify.

// Expire sets key's expiration ttlSeconds from now, or deletes it if
// ttlSeconds <= 0.
func (s *String) Expire(key []byte, ttlSeconds int64) error {
	if ttlSeconds <= 0 {
		_, err := s.Delete(key)
		return err
	}
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	payload, _, ok, err := s.rawGet(key)
	if err != nil {
		return err
	}
	if !ok {
		return kverrors.NotFound
	}
	return s.rawPut(key, payload, int32(s.now()+ttlSeconds))
}

// ExpireAt sets an absolute expiration timestamp.
func (s *String) ExpireAt(key []byte, ts int64) error {
	return s.Expire(key, ts-s.now())
}

// Persist clears key's expiration.
func (s *String) Persist(key []byte) error {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return err
	}
	defer g.Release()
	payload, expireTS, ok, err := s.rawGet(key)
	if err != nil {
		return err
	}
	if !ok {
		return kverrors.NotFound
	}
	if expireTS == 0 {
		return nil
	}
	return s.rawPut(key, payload, 0)
}

// TTL returns key's remaining seconds to live, -1 if it never expires, -2
// if not found.
func (s *String) TTL(key []byte) (int64, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	_, expireTS, ok, err := s.rawGet(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return -2, nil
	}
	if expireTS == 0 {
		return -1, nil
	}
	return int64(expireTS) - s.now(), nil
}

// Delete removes key, reporting whether it had a live value.
func (s *String) Delete(key []byte) (bool, error) {
	g, err := s.locks.Acquire(acquireCtx(), key)
	if err != nil {
		return false, err
	}
	defer g.Release()
	_, _, ok, err := s.rawGet(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	var scratch [codec.StackBufSize]byte
	mk := codec.EncodeMetaKey(scratch[:0], key)
	if err := batch.Delete(append([]byte(nil), mk...), nil); err != nil {
		return false, kverrors.WrapIO(err, "stage string delete")
	}
	if err := s.db.Commit(batch); err != nil {
		return false, err
	}
	return true, nil
}

// Scan iterates the string CF exactly as base.scan does; String shares the
// record layout (tag|key -> value) closely enough that only the liveness
// check differs (inline expire_ts vs. a meta's {count, expire_ts}).
func (s *String) Scan(start []byte, pattern string, count int) (keys [][]byte, next []byte, done bool, err error) {
	now := s.now()
	var lower []byte
	if len(start) > 0 {
		var scratch [codec.StackBufSize]byte
		lower = append([]byte(nil), codec.EncodeMetaKey(scratch[:0], start)...)
	} else {
		lower = []byte{byte(codec.CFMeta)}
	}
	upper := codec.PrefixUpperBound([]byte{byte(codec.CFMeta)})
	it, err := s.db.NewIter(nil, lower, upper)
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if len(keys) >= count {
			nk := append([]byte(nil), codec.MetaUserKey(it.Key())...)
			return keys, nk, false, nil
		}
		_, expireTS := codec.DecodeStringValue(it.Value())
		if expireTS != 0 && int64(expireTS) < now {
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

// CompactRange sweeps expired string records and then physically compacts
// the whole database, mirroring base.compactRange's contract for the
// meta/data engines.
func (s *String) CompactRange() error {
	now := s.now()
	if err := s.sweepExpired(nil, nil, now); err != nil {
		return err
	}
	return s.db.CompactRange(nil, nil)
}

func (s *String) sweepExpired(start, end []byte, now int64) error {
	it, err := s.db.NewIter(nil, start, end)
	if err != nil {
		return err
	}
	defer it.Close()
	batch := s.db.NewBatch()
	defer batch.Close()
	dropped := 0
	for it.First(); it.Valid(); it.Next() {
		_, expireTS := codec.DecodeStringValue(it.Value())
		if expireTS != 0 && int64(expireTS) < now {
			if err := batch.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
				return kverrors.WrapIO(err, "stage expired string sweep")
			}
			dropped++
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	if dropped == 0 {
		return nil
	}
	return s.db.Commit(batch)
}

// ScanKeyNum counts live (non-expired) keys, honoring the same
// interruptible stop flag as base.scanKeyNum.
func (s *String) ScanKeyNum(stop *int32) (int64, error) {
	now := s.now()
	it, err := s.db.NewIter(nil, []byte{byte(codec.CFMeta)}, codec.PrefixUpperBound([]byte{byte(codec.CFMeta)}))
	if err != nil {
		return 0, err
	}
	defer it.Close()
	var n int64
	for it.First(); it.Valid(); it.Next() {
		if stop != nil && *stop != 0 {
			break
		}
		_, expireTS := codec.DecodeStringValue(it.Value())
		if expireTS == 0 || int64(expireTS) >= now {
			n++
		}
	}
	return n, it.Error()
}
