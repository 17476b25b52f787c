package comparator

import (
	"testing"

	"github.com/gholt/redistore/internal/codec"
)

func TestCompareListDataOrdersByKeyThenVersionThenIndex(t *testing.T) {
	a := codec.EncodeListDataKey(nil, []byte("L"), 1, 5)
	b := codec.EncodeListDataKey(nil, []byte("L"), 1, 6)
	if CompareListData(a, b) >= 0 {
		t.Fatalf("expected a < b")
	}
	c := codec.EncodeListDataKey(nil, []byte("L"), 2, 0)
	if CompareListData(b, c) >= 0 {
		t.Fatalf("expected newer version to sort after any index of an older version")
	}
	d := codec.EncodeListDataKey(nil, []byte("M"), 0, 0)
	if CompareListData(c, d) >= 0 {
		t.Fatalf("expected key ordering to dominate version/index")
	}
}

func TestCompareZSetScoreOrdersByScore(t *testing.T) {
	a := codec.EncodeZSetScoreKey(nil, []byte("Z"), 0, -100.000000002, []byte("m4"))
	b := codec.EncodeZSetScoreKey(nil, []byte("Z"), 0, -100.000000001, []byte("m3"))
	c := codec.EncodeZSetScoreKey(nil, []byte("Z"), 0, 100.987654321, []byte("m2"))
	d := codec.EncodeZSetScoreKey(nil, []byte("Z"), 0, 54354.497895352, []byte("m1"))
	if !(CompareZSetScore(a, b) < 0 && CompareZSetScore(b, c) < 0 && CompareZSetScore(c, d) < 0) {
		t.Fatalf("expected ascending score order a<b<c<d")
	}
}

func TestCompareZSetScoreTieBreaksOnMember(t *testing.T) {
	a := codec.EncodeZSetScoreKey(nil, []byte("Z"), 0, 1.0, []byte("aa"))
	b := codec.EncodeZSetScoreKey(nil, []byte("Z"), 0, 1.0, []byte("bb"))
	if CompareZSetScore(a, b) >= 0 {
		t.Fatalf("expected member to break score ties")
	}
}

func TestCompareZSetScorePositiveNegativeZeroEqual(t *testing.T) {
	a := codec.EncodeZSetScoreKey(nil, []byte("Z"), 0, 0.0, []byte("m"))
	b := codec.EncodeZSetScoreKey(nil, []byte("Z"), 0, -0.0, []byte("m"))
	if CompareZSetScore(a, b) != 0 {
		t.Fatalf("expected +0.0 and -0.0 to compare equal")
	}
}

func TestForTypeDispatchesOnCFTag(t *testing.T) {
	cmp := ForType(true, false)
	meta1 := codec.EncodeMetaKey(nil, []byte("b"))
	meta2 := codec.EncodeMetaKey(nil, []byte("a"))
	if cmp.Compare(meta2, meta1) >= 0 {
		t.Fatalf("expected lexicographic order on meta keys")
	}
	// 256 encodes as 00 01 ..., 5 as 05 00 ...: byte-wise order would put
	// 256 first.
	listA := codec.EncodeListDataKey(nil, []byte("L"), 0, 256)
	listB := codec.EncodeListDataKey(nil, []byte("L"), 0, 5)
	if cmp.Compare(listB, listA) >= 0 {
		t.Fatalf("expected numeric index order on list data keys, not lexicographic")
	}
	// CF ordering itself: meta (tag 0) sorts before data (tag 1).
	if cmp.Compare(meta1, listA) >= 0 {
		t.Fatalf("expected CF tag to dominate ordering")
	}
}
