package codec

import (
	"bytes"
	"testing"
)

func TestMemberKeyRoundTrip(t *testing.T) {
	var scratch [StackBufSize]byte
	k := EncodeMemberKey(scratch[:0], CFData, []byte("myhash"), 12345, []byte("field1"))
	if k[0] != byte(CFData) {
		t.Fatalf("expected CFData tag, got %d", k[0])
	}
	key, version, member := ParseMemberKey(k)
	if !bytes.Equal(key, []byte("myhash")) {
		t.Fatalf("key = %q, want %q", key, "myhash")
	}
	if version != 12345 {
		t.Fatalf("version = %d, want 12345", version)
	}
	if !bytes.Equal(member, []byte("field1")) {
		t.Fatalf("member = %q, want %q", member, "field1")
	}
}

func TestMemberPrefixIsPrefixOfKey(t *testing.T) {
	var scratch [StackBufSize]byte
	prefix := EncodeMemberPrefix(scratch[:0], CFMember, []byte("myset"), 7)
	full := EncodeMemberKey(nil, CFMember, []byte("myset"), 7, []byte("elem"))
	if !bytes.HasPrefix(full, prefix) {
		t.Fatalf("full key %x does not have prefix %x", full, prefix)
	}
}

func TestKeyOnlyPrefixIgnoresVersion(t *testing.T) {
	p1 := EncodeKeyOnlyPrefix(nil, CFData, []byte("k"))
	full1 := EncodeMemberKey(nil, CFData, []byte("k"), 1, []byte("a"))
	full2 := EncodeMemberKey(nil, CFData, []byte("k"), 99, []byte("b"))
	if !bytes.HasPrefix(full1, p1) || !bytes.HasPrefix(full2, p1) {
		t.Fatalf("key-only prefix should match any version")
	}
}

func TestListDataKeyRoundTrip(t *testing.T) {
	k := EncodeListDataKey(nil, []byte("L"), -5, 1<<31)
	key, version, index := ParseListDataKey(k)
	if !bytes.Equal(key, []byte("L")) || version != -5 || index != 1<<31 {
		t.Fatalf("round trip mismatch: key=%q version=%d index=%d", key, version, index)
	}
}

func TestZSetScoreKeyRoundTrip(t *testing.T) {
	k := EncodeZSetScoreKey(nil, []byte("Z"), 3, -100.000000002, []byte("m4"))
	key, version, score, member := ParseZSetScoreKey(k)
	if !bytes.Equal(key, []byte("Z")) || version != 3 || score != -100.000000002 || !bytes.Equal(member, []byte("m4")) {
		t.Fatalf("round trip mismatch: %q %d %v %q", key, version, score, member)
	}
}

func TestMetaValueRoundTrip(t *testing.T) {
	mv := MetaValue{Count: 4, Type: TypeList, Version: 99, ExpireTS: 0, LeftIdx: 10, RightIdx: 20}
	b := mv.Encode(nil)
	got := DecodeMetaValue(b)
	if got != mv {
		t.Fatalf("got %+v, want %+v", got, mv)
	}
}

func TestStringValueRoundTrip(t *testing.T) {
	b := EncodeStringValue(nil, []byte("hello world"), 1234)
	payload, ts := DecodeStringValue(b)
	if string(payload) != "hello world" || ts != 1234 {
		t.Fatalf("got %q, %d", payload, ts)
	}
}

func TestCFTagName(t *testing.T) {
	cases := map[CFTag]string{CFMeta: "default", CFData: "data_cf", CFMember: "member_cf", CFScore: "score_cf"}
	for tag, want := range cases {
		if got := tag.Name(); got != want {
			t.Fatalf("tag %d name = %q, want %q", tag, got, want)
		}
	}
}
