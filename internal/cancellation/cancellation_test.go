package cancellation

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRegisterConflict(t *testing.T) {
	r := NewRegistry[uint]()
	h1 := NewHandle(context.Background())
	defer h1.Release()
	if err := r.Register(1, h1); err != nil {
		t.Fatalf("first register: %v", err)
	}
	h2 := NewHandle(context.Background())
	defer h2.Release()
	if err := r.Register(1, h2); !errors.Is(err, ErrConflict) {
		t.Fatalf("second register err = %v, want ErrConflict", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	r := NewRegistry[uint]()
	if r.Cancel(7) {
		t.Fatalf("cancel of unknown id should be false")
	}
	h := NewHandle(context.Background())
	_ = r.Register(7, h)
	if !r.Cancel(7) {
		t.Fatalf("first cancel should be true")
	}
	if r.Cancel(7) {
		t.Fatalf("second cancel should be false")
	}
	select {
	case <-h.Context().Done():
	default:
		t.Fatalf("context should be done")
	}
	if !errors.Is(context.Cause(h.Context()), ErrCancelled) || !h.Cancelled() {
		t.Fatalf("cause = %v", context.Cause(h.Context()))
	}
	if !r.Active(7) {
		t.Fatalf("cancel must not unregister")
	}
}

func TestUnregisterOnlyByOwner(t *testing.T) {
	r := NewRegistry[uint]()
	stale := NewHandle(context.Background())
	owner := NewHandle(context.Background())
	defer stale.Release()
	defer owner.Release()
	_ = r.Register(3, owner)
	r.Unregister(3, stale)
	if !r.Active(3) {
		t.Fatalf("stale handle must not unregister the owner")
	}
	r.Unregister(3, owner)
	if r.Active(3) {
		t.Fatalf("owner unregister should remove the id")
	}
	if err := r.Register(3, stale); err != nil {
		t.Fatalf("register after unregister: %v", err)
	}
}

func TestReleaseIsNotCancel(t *testing.T) {
	h := NewHandle(context.Background())
	h.Release()
	if h.Cancelled() {
		t.Fatalf("release must not mark cancelled")
	}
	if !h.Cancel() {
		t.Fatalf("cancel after release should still report the first cancel")
	}
}

func TestConcurrentCancelExactlyOnce(t *testing.T) {
	r := NewRegistry[uint]()
	_ = r.Register(1, NewHandle(context.Background()))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Cancel(1) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestCancelAll(t *testing.T) {
	r := NewRegistry[uint]()
	for i := uint(0); i < 3; i++ {
		_ = r.Register(i, NewHandle(context.Background()))
	}
	r.Cancel(0)
	if n := r.CancelAll(); n != 2 {
		t.Fatalf("CancelAll = %d, want 2", n)
	}
}
