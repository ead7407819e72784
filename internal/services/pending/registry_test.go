package pending

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegisterAndCancel(t *testing.T) {
	r := NewRegistry()
	var called int32
	if err := r.Register("req-1", func() { atomic.AddInt32(&called, 1) }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !r.Has("req-1") {
		t.Fatalf("expected req-1 to be registered")
	}

	if !r.Cancel("req-1") {
		t.Fatalf("expected cancel to find req-1")
	}
	if atomic.LoadInt32(&called) != 1 {
		t.Fatalf("expected handle to be called once, got %d", called)
	}
	if r.Has("req-1") {
		t.Fatalf("expected req-1 to be removed after cancel")
	}
	if r.Cancel("req-1") {
		t.Fatalf("second cancel must report false")
	}
	if atomic.LoadInt32(&called) != 1 {
		t.Fatalf("handle called again after removal")
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("dup", func() {}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register("dup", func() {})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one entry, got %d", r.Len())
	}
}

func TestRegisterRejectsEmptyID(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", func() {}); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	called := false
	if err := r.Register("req", func() { called = true }); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Release("req")
	r.Release("req")
	r.Release("never-registered")
	if called {
		t.Fatalf("release must not signal the handle")
	}
	if r.Cancel("req") {
		t.Fatalf("cancel after release must report false")
	}
	if err := r.Register("req", func() {}); err != nil {
		t.Fatalf("id must be reusable after release: %v", err)
	}
}

func TestOnChangeTracksSize(t *testing.T) {
	r := NewRegistry()
	var sizes []int
	r.OnChange(func(size int) { sizes = append(sizes, size) })

	_ = r.Register("a", func() {})
	_ = r.Register("b", func() {})
	r.Cancel("a")
	r.Release("b")
	r.Release("b")

	want := []int{1, 2, 1, 0}
	if fmt.Sprint(sizes) != fmt.Sprint(want) {
		t.Fatalf("sizes = %v, want %v", sizes, want)
	}
}

func TestConcurrentDistinctIDs(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var canceled int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			if err := r.Register(id, func() { atomic.AddInt32(&canceled, 1) }); err != nil {
				t.Errorf("register %s: %v", id, err)
				return
			}
			if i%2 == 0 {
				r.Cancel(id)
			} else {
				r.Release(id)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	if canceled != 25 {
		t.Fatalf("expected 25 cancellations, got %d", canceled)
	}
}
