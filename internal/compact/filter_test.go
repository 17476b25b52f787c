package compact

import (
	"testing"

	"github.com/gholt/redistore/internal/codec"
)

func TestMetaShouldDropExpiredAndAged(t *testing.T) {
	mv := codec.MetaValue{Count: 3, ExpireTS: 100, Version: 50}
	if !MetaShouldDrop(mv, 200) {
		t.Fatalf("expired meta with aged version should drop")
	}
	if MetaShouldDrop(codec.MetaValue{Count: 3, ExpireTS: 100, Version: 150}, 120) {
		t.Fatalf("version not yet aged (< now) should not drop even though expired")
	}
}

func TestMetaShouldDropEmptyAndAged(t *testing.T) {
	mv := codec.MetaValue{Count: 0, ExpireTS: 0, Version: 50}
	if !MetaShouldDrop(mv, 100) {
		t.Fatalf("empty meta with aged version should drop")
	}
	if MetaShouldDrop(mv, 10) {
		t.Fatalf("empty meta with version still live should not drop")
	}
}

func TestMetaShouldDropLiveMetaNeverDrops(t *testing.T) {
	mv := codec.MetaValue{Count: 5, ExpireTS: 0, Version: 1}
	if MetaShouldDrop(mv, 1<<31) {
		t.Fatalf("a live, non-empty, non-expiring meta must never drop")
	}
}

func TestDataStateDropsWhenMetaAbsent(t *testing.T) {
	ds := NewDataState(func([]byte) (codec.MetaValue, bool, error) {
		return codec.MetaValue{}, false, nil
	})
	drop, err := ds.ShouldDrop([]byte("k"), 1, 1000)
	if err != nil || !drop {
		t.Fatalf("expected drop=true, err=nil; got drop=%v err=%v", drop, err)
	}
}

func TestDataStateDropsStaleVersion(t *testing.T) {
	ds := NewDataState(func([]byte) (codec.MetaValue, bool, error) {
		return codec.MetaValue{Version: 5}, true, nil
	})
	drop, _ := ds.ShouldDrop([]byte("k"), 4, 1000)
	if !drop {
		t.Fatalf("a data record whose version is older than meta's should drop")
	}
	drop, _ = ds.ShouldDrop([]byte("k"), 5, 1000)
	if drop {
		t.Fatalf("a data record matching meta's current version must not drop")
	}
}

func TestDataStateCachesAcrossSameKey(t *testing.T) {
	calls := 0
	ds := NewDataState(func([]byte) (codec.MetaValue, bool, error) {
		calls++
		return codec.MetaValue{Version: 1}, true, nil
	})
	for i := 0; i < 5; i++ {
		if _, err := ds.ShouldDrop([]byte("same"), 1, 1000); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one meta lookup for repeated same-key records, got %d", calls)
	}
	if _, err := ds.ShouldDrop([]byte("other"), 1, 1000); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected a fresh lookup once the user key changes, got %d", calls)
	}
}

func TestDataStateDropsExpiredMeta(t *testing.T) {
	ds := NewDataState(func([]byte) (codec.MetaValue, bool, error) {
		return codec.MetaValue{Version: 1, ExpireTS: 5}, true, nil
	})
	drop, _ := ds.ShouldDrop([]byte("k"), 1, 10)
	if !drop {
		t.Fatalf("data under an expired meta should drop even at the matching version")
	}
}
