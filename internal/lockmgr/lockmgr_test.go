package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/gholt/redistore/internal/kverrors"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	m := New(time.Second)
	g, err := m.Acquire(context.Background(), []byte("k"))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	g.Release()
	g2, err := m.Acquire(context.Background(), []byte("k"))
	if err != nil {
		t.Fatalf("second acquire should not block: %v", err)
	}
	g2.Release()
}

func TestAcquireTimesOutWhenHeld(t *testing.T) {
	m := New(30 * time.Millisecond)
	g, err := m.Acquire(context.Background(), []byte("k"))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer g.Release()

	_, err = m.Acquire(context.Background(), []byte("k"))
	if !kverrors.Is(err, kverrors.KindLockTimeout) {
		t.Fatalf("expected lock-timeout, got %v", err)
	}
}

func TestAcquireAllSortsAndDeduplicates(t *testing.T) {
	m := New(time.Second)
	g, err := m.AcquireAll(context.Background(), [][]byte{[]byte("b"), []byte("a"), []byte("a")})
	if err != nil {
		t.Fatalf("acquire all: %v", err)
	}
	if len(g.keys) != 2 {
		t.Fatalf("expected 2 unique keys held, got %d (%v)", len(g.keys), g.keys)
	}
	if g.keys[0] != "a" || g.keys[1] != "b" {
		t.Fatalf("expected sorted order [a b], got %v", g.keys)
	}
	g.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New(time.Second)
	g, _ := m.Acquire(context.Background(), []byte("k"))
	g.Release()
	g.Release() // must not panic or double-unlock

	g2, err := m.Acquire(context.Background(), []byte("k"))
	if err != nil {
		t.Fatalf("acquire after double release: %v", err)
	}
	g2.Release()
}

func TestConcurrentAcquireAllNoDeadlock(t *testing.T) {
	m := New(2 * time.Second)
	done := make(chan struct{})
	go func() {
		g, err := m.AcquireAll(context.Background(), [][]byte{[]byte("x"), []byte("y")})
		if err != nil {
			t.Error(err)
			return
		}
		time.Sleep(10 * time.Millisecond)
		g.Release()
		done <- struct{}{}
	}()
	g, err := m.AcquireAll(context.Background(), [][]byte{[]byte("y"), []byte("x")})
	if err != nil {
		t.Fatalf("acquire all (reverse order): %v", err)
	}
	g.Release()
	<-done
}
