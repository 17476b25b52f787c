package codec

// Column-family tag. Since the underlying store (pebble) registers one
// Comparer per database rather than one per column family, each of the
// five per-type databases is a single pebble.DB whose keys carry this
// tag as their first byte. The comparator in internal/comparator
// dispatches on it before applying any type-specific ordering within the
// data/score band.
type CFTag byte

const (
	// CFMeta is the "default" column family: one record per user key.
	CFMeta CFTag = 0
	// CFData is "data_cf": hash fields, list elements, zset member->score.
	CFData CFTag = 1
	// CFMember is "member_cf": set members (value-less).
	CFMember CFTag = 2
	// CFScore is "score_cf": zset score-index records (value-less).
	CFScore CFTag = 3
)

// Name returns the on-disk column-family name for the tag.
func (t CFTag) Name() string {
	switch t {
	case CFMeta:
		return "default"
	case CFData:
		return "data_cf"
	case CFMember:
		return "member_cf"
	case CFScore:
		return "score_cf"
	default:
		return "unknown"
	}
}

// EncodeMetaKey builds a meta-CF key: tag | key.
func EncodeMetaKey(scratch []byte, key []byte) []byte {
	buf := append(scratch[:0], byte(CFMeta))
	return append(buf, key...)
}

// MetaUserKey strips the CF tag from a meta key, returning the user key.
func MetaUserKey(k []byte) []byte {
	return k[1:]
}

// EncodeMemberKey builds a data/member-CF key of the form
// tag | u32 key_len | key | i32 version | member, used for hash fields, set
// members, and zset member->score records.
func EncodeMemberKey(scratch []byte, tag CFTag, key []byte, version int32, member []byte) []byte {
	buf := append(scratch[:0], byte(tag))
	buf = PutUint32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = PutInt32(buf, version)
	buf = append(buf, member...)
	return buf
}

// EncodeMemberPrefix builds the tag | u32 key_len | key | i32 version
// prefix shared by every member of one (key, version) generation, without
// the trailing member bytes. Used to seek/iterate a whole field, set, or
// zset-member listing.
func EncodeMemberPrefix(scratch []byte, tag CFTag, key []byte, version int32) []byte {
	buf := append(scratch[:0], byte(tag))
	buf = PutUint32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = PutInt32(buf, version)
	return buf
}

// EncodeKeyOnlyPrefix builds the tag | u32 key_len | key prefix, matching
// every version ever written for that key under that CF. Used by
// compact-key range compaction to bound a user key's whole keyspace
// regardless of version.
func EncodeKeyOnlyPrefix(scratch []byte, tag CFTag, key []byte) []byte {
	buf := append(scratch[:0], byte(tag))
	buf = PutUint32(buf, uint32(len(key)))
	return append(buf, key...)
}

// PrefixUpperBound returns the smallest key that sorts after every key
// having prefix, for use as an iterator's exclusive upper bound. Returns
// nil if prefix is all 0xff bytes (an unbounded scan covers the rest of
// the keyspace).
func PrefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] == 0xff {
			upper = upper[:i]
			continue
		}
		upper[i]++
		return upper[:i+1]
	}
	return nil
}

// SplitLeadingUserKey extracts the user key from the front of any
// tag|u32 key_len|key|... record (member_cf/data_cf/score_cf), returning it
// and the remaining bytes (version plus whatever follows). Meta keys have
// no length prefix and are not handled by this helper.
func SplitLeadingUserKey(b []byte) (userKey, rest []byte) {
	klen := Uint32(b[1:])
	userKey = b[5 : 5+klen]
	rest = b[5+klen:]
	return userKey, rest
}

// ParseMemberKey splits a member-CF key back into its key, version, and
// member parts. Panics if b is shorter than the fixed-width header; callers
// only apply this to keys they (or the comparator's own prefix check) have
// already confirmed belong to the member CF.
func ParseMemberKey(b []byte) (key []byte, version int32, member []byte) {
	klen := Uint32(b[1:])
	key = b[5 : 5+klen]
	version = Int32(b[5+klen:])
	member = b[5+klen+4:]
	return key, version, member
}

// EncodeListDataKey builds a list data-CF key: tag | u32 key_len | key |
// i32 version | u64 index. index is the unsigned 64-bit index derived
// from the signed int32 left/right split each List tracks in its meta
// record.
func EncodeListDataKey(scratch []byte, key []byte, version int32, index uint64) []byte {
	buf := append(scratch[:0], byte(CFData))
	buf = PutUint32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = PutInt32(buf, version)
	buf = PutUint64(buf, index)
	return buf
}

// ParseListDataKey splits a list data-CF key into key, version, and index.
func ParseListDataKey(b []byte) (key []byte, version int32, index uint64) {
	klen := Uint32(b[1:])
	key = b[5 : 5+klen]
	version = Int32(b[5+klen:])
	index = Uint64(b[5+klen+4:])
	return key, version, index
}

// EncodeZSetScoreKey builds a score-CF key: tag | u32 key_len | key | i32
// version | f64_bits score | member.
func EncodeZSetScoreKey(scratch []byte, key []byte, version int32, score float64, member []byte) []byte {
	buf := append(scratch[:0], byte(CFScore))
	buf = PutUint32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = PutInt32(buf, version)
	buf = PutFloat64Bits(buf, score)
	buf = append(buf, member...)
	return buf
}

// ParseZSetScoreKey splits a score-CF key into key, version, score, member.
func ParseZSetScoreKey(b []byte) (key []byte, version int32, score float64, member []byte) {
	klen := Uint32(b[1:])
	key = b[5 : 5+klen]
	rest := b[5+klen:]
	version = Int32(rest)
	score = Float64Bits(rest[4:])
	member = rest[12:]
	return key, version, score, member
}
