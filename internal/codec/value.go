package codec

// AggregateType tags which of the five engines a meta record belongs to:
// a single type byte that DecodeMetaValue uses only to decide whether the
// list bound fields follow — it is not checked against the engine reading
// it and never participates in any comparator ordering.
type AggregateType byte

const (
	TypeHash AggregateType = 1
	TypeSet  AggregateType = 2
	TypeList AggregateType = 3
	TypeZSet AggregateType = 4
)

// MetaValue is the decoded form of a meta-CF value:
// `i32 count | type | i32 version | i32 expire_ts`, with lists appending
// `i32 left_idx | i32 right_idx`.
type MetaValue struct {
	Count    int32
	Type     AggregateType
	Version  int32
	ExpireTS int32
	LeftIdx  int32 // list only
	RightIdx int32 // list only
}

// Encode serializes a MetaValue. LeftIdx/RightIdx are only written when
// Type == TypeList.
func (m *MetaValue) Encode(scratch []byte) []byte {
	buf := PutInt32(scratch[:0], m.Count)
	buf = append(buf, byte(m.Type))
	buf = PutInt32(buf, m.Version)
	buf = PutInt32(buf, m.ExpireTS)
	if m.Type == TypeList {
		buf = PutInt32(buf, m.LeftIdx)
		buf = PutInt32(buf, m.RightIdx)
	}
	return buf
}

// DecodeMetaValue parses a meta-CF value.
func DecodeMetaValue(b []byte) MetaValue {
	m := MetaValue{
		Count:    Int32(b),
		Type:     AggregateType(b[4]),
		Version:  Int32(b[5:]),
		ExpireTS: Int32(b[9:]),
	}
	if m.Type == TypeList && len(b) >= 21 {
		m.LeftIdx = Int32(b[13:])
		m.RightIdx = Int32(b[17:])
	}
	return m
}

// EncodeStringValue builds a string-type value: user_bytes | i32 expire_ts.
func EncodeStringValue(scratch []byte, payload []byte, expireTS int32) []byte {
	buf := append(scratch[:0], payload...)
	return PutInt32(buf, expireTS)
}

// DecodeStringValue splits a string value into its payload and expire_ts.
func DecodeStringValue(b []byte) (payload []byte, expireTS int32) {
	n := len(b) - 4
	return b[:n], Int32(b[n:])
}
