package engine

import (
	"testing"
	"time"

	"github.com/gholt/redistore/internal/comparator"
	"github.com/gholt/redistore/internal/lockmgr"
	"github.com/gholt/redistore/internal/store"
)

// fixedClock returns a Clock that always reports t, and a setter to move
// it, so tests can control expiry deterministically.
func fixedClock(t int64) (Clock, func(int64)) {
	cur := t
	return func() int64 { return cur }, func(n int64) { cur = n }
}

func openTestBase(tb testing.TB, listData, zsetScore bool) base {
	tb.Helper()
	dir := tb.TempDir()
	db, err := store.Open(dir, comparator.ForType(listData, zsetScore), true)
	if err != nil {
		tb.Fatalf("open test store: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	locks := lockmgr.New(time.Second)
	return newBase(db, locks, nil, 0, 0)
}

func newTestString(tb testing.TB) (*String, func(int64)) {
	b := openTestBase(tb, false, false)
	clk, set := fixedClock(1000)
	b.clock = clk
	return NewString(b), set
}

func newTestHash(tb testing.TB) (*Hash, func(int64)) {
	b := openTestBase(tb, false, false)
	clk, set := fixedClock(1000)
	b.clock = clk
	return NewHash(b), set
}

func newTestSet(tb testing.TB) (*Set, func(int64)) {
	b := openTestBase(tb, false, false)
	clk, set := fixedClock(1000)
	b.clock = clk
	return NewSet(b), set
}

func newTestList(tb testing.TB) (*List, func(int64)) {
	b := openTestBase(tb, true, false)
	clk, set := fixedClock(1000)
	b.clock = clk
	return NewList(b), set
}

func newTestZSet(tb testing.TB) (*ZSet, func(int64)) {
	b := openTestBase(tb, false, true)
	clk, set := fixedClock(1000)
	b.clock = clk
	return NewZSet(b), set
}
