// Package comparator implements two custom total orders — the list data
// comparator and the zset score comparator — plus the per-type
// pebble.Comparer that dispatches on the column-family tag documented in
// internal/codec before applying either the default lexicographic order
// (meta, hash/set/zset data_cf and member_cf) or one of the two
// specialized orders (list data_cf, zset score_cf).
//
// These names form part of the on-disk compatibility contract: pebble
// persists the Comparer's Name() in its manifest and refuses to open a
// database with a mismatched one, so a renamed comparator makes existing
// data unreadable.
package comparator

import (
	"bytes"
	"math"

	"github.com/cockroachdb/pebble"

	"github.com/gholt/redistore/internal/codec"
)

// CompareListData implements the list data-CF order: (user-key bytes, then
// embedded version as signed int32, then index as unsigned uint64). a and b
// are the raw tagged keys as produced by codec.EncodeListDataKey.
func CompareListData(a, b []byte) int {
	keyA, verA, idxA := codec.ParseListDataKey(a)
	keyB, verB, idxB := codec.ParseListDataKey(b)
	if c := bytes.Compare(keyA, keyB); c != 0 {
		return c
	}
	if verA != verB {
		if verA < verB {
			return -1
		}
		return 1
	}
	switch {
	case idxA < idxB:
		return -1
	case idxA > idxB:
		return 1
	default:
		return 0
	}
}

// CompareZSetScore implements the score-CF order: (user-key bytes, then
// version, then score as IEEE-754 double, then member bytes). a and b are
// the raw tagged keys as produced by codec.EncodeZSetScoreKey. +0.0 and
// -0.0 compare equal because Go's == on float64 already treats them that
// way; NaN is rejected at the write path (see internal/engine/zset), so
// this comparator is never asked to order one.
func CompareZSetScore(a, b []byte) int {
	keyA, verA, scoreA, memberA := codec.ParseZSetScoreKey(a)
	keyB, verB, scoreB, memberB := codec.ParseZSetScoreKey(b)
	if c := bytes.Compare(keyA, keyB); c != 0 {
		return c
	}
	if verA != verB {
		if verA < verB {
			return -1
		}
		return 1
	}
	if scoreA != scoreB {
		if scoreA < scoreB {
			return -1
		}
		return 1
	}
	return bytes.Compare(memberA, memberB)
}

// isNaN backs the exported IsNaN below, so the rejection logic for the
// zset engine's write path stays beside the comparator it protects.
func isNaN(f float64) bool { return math.IsNaN(f) }

// IsNaN reports whether f is NaN; the zset engine uses it to reject NaN
// scores at the write path, since a NaN score would sort unpredictably
// under the float64 comparison the score comparator uses.
func IsNaN(f float64) bool { return isNaN(f) }

// ForType returns the *pebble.Comparer to register when opening the
// per-type database for t. It dispatches on the leading CF tag byte
// (internal/codec.CFTag) and, within the data_cf/score_cf band, applies
// the specialized order the type requires; every other band (meta,
// member_cf, and the data_cf of hash/set/zset-by-member) keeps the
// default byte-wise order, matching RocksDB's own default comparator so
// meta keys sort the same way a scan over plain keys would expect.
func ForType(listData, zsetScore bool) *pebble.Comparer {
	name := "redistore.default"
	switch {
	case listData:
		name = "redistore.ListsDataKeyComparator"
	case zsetScore:
		name = "redistore.ZSetsScoreKeyComparator"
	}
	// numeric reports whether tag's band sorts by the specialized numeric
	// order rather than byte-wise, so AbbreviatedKey/Separator/Successor
	// below know when the inherited byte-wise defaults no longer apply.
	numeric := func(tag codec.CFTag) bool {
		switch tag {
		case codec.CFData:
			return listData
		case codec.CFScore:
			return zsetScore
		default:
			return false
		}
	}
	cmp := *pebble.DefaultComparer
	cmp.Name = name
	cmp.Compare = func(a, b []byte) int {
		tagA, tagB := codec.CFTag(a[0]), codec.CFTag(b[0])
		if tagA != tagB {
			if tagA < tagB {
				return -1
			}
			return 1
		}
		switch tagA {
		case codec.CFData:
			if listData {
				return CompareListData(a, b)
			}
			return bytes.Compare(a[1:], b[1:])
		case codec.CFScore:
			if zsetScore {
				return CompareZSetScore(a, b)
			}
			return bytes.Compare(a[1:], b[1:])
		default:
			return bytes.Compare(a[1:], b[1:])
		}
	}
	cmp.Equal = func(a, b []byte) bool { return cmp.Compare(a, b) == 0 }
	// AbbreviatedKey must rank consistently with Compare; 0 is always a
	// safe (if unhelpful) answer, so numeric bands return it rather than
	// the inherited byte-wise packing, which would mis-rank keys whose
	// encoded version/index bytes fall inside its first 8 bytes.
	cmp.AbbreviatedKey = func(key []byte) uint64 {
		if len(key) == 0 || numeric(codec.CFTag(key[0])) {
			return 0
		}
		return pebble.DefaultComparer.AbbreviatedKey(key)
	}
	// Separator/Successor only need to return something in [a, b) / >= a;
	// returning a unchanged is always a valid, if non-shortening, answer.
	// The inherited byte-wise shortening is only safe when both keys fall
	// in the same byte-wise band, so it is used exclusively there.
	cmp.Separator = func(dst, a, b []byte) []byte {
		if len(a) == 0 || len(b) == 0 || a[0] != b[0] || numeric(codec.CFTag(a[0])) {
			return append(dst, a...)
		}
		return pebble.DefaultComparer.Separator(dst, a, b)
	}
	cmp.Successor = func(dst, a []byte) []byte {
		if len(a) == 0 || numeric(codec.CFTag(a[0])) {
			return append(dst, a...)
		}
		return pebble.DefaultComparer.Successor(dst, a)
	}
	return &cmp
}
