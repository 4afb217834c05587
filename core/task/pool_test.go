package task

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSpawnFuncDeliversValue(t *testing.T) {
	p := NewPool(2, nil)
	defer p.Shutdown()

	h := SpawnFunc(p, func() int { return 41 + 1 })
	out := h.Get()
	if out.Panic != nil {
		t.Fatalf("unexpected panic: %v", out.Panic)
	}
	if out.Value != 42 {
		t.Fatalf("expected 42, got %d", out.Value)
	}
}

func TestSpawnFuncPanicIsolation(t *testing.T) {
	p := NewPool(2, nil)
	defer p.Shutdown()

	h := SpawnFunc(p, func() int { panic("boom") })
	out := h.Get()
	if out.Panic == nil {
		t.Fatalf("expected panic info")
	}
	if out.Panic.Message != "boom" {
		t.Fatalf("expected message 'boom', got %q", out.Panic.Message)
	}

	// the pool must still be usable after a worker recovers from a panic
	h2 := SpawnFunc(p, func() int { return 7 })
	out2 := h2.Get()
	if out2.Panic != nil || out2.Value != 7 {
		t.Fatalf("pool did not survive panic: %+v", out2)
	}

	stats := p.Stats()
	if stats.Panicked == 0 {
		t.Fatalf("expected panicked counter to be incremented")
	}
	if stats.Completed < 2 {
		t.Fatalf("expected at least 2 completions, got %d", stats.Completed)
	}
}

// pendingThenReady is Pending on its first Poll, records that poll and
// its Waker, then reports Ready on the next Poll once woken.
type pendingThenReady struct {
	mu      sync.Mutex
	polls   int
	waker   *Waker
	release chan struct{}
}

func (f *pendingThenReady) Poll(w *Waker) PollState {
	f.mu.Lock()
	f.polls++
	first := f.polls == 1
	if first {
		f.waker = w
	}
	f.mu.Unlock()

	if first {
		go func() {
			<-f.release
			w.Wake()
		}()
		return Pending
	}
	return Ready
}

func TestSpawnPendingThenReady(t *testing.T) {
	p := NewPool(2, nil)
	defer p.Shutdown()

	f := &pendingThenReady{release: make(chan struct{})}
	h := Spawn(p, f, func() string { return "done" })

	if h.IsReady() {
		t.Fatalf("expected handle not ready before release")
	}
	close(f.release)

	out := h.Get()
	if out.Panic != nil {
		t.Fatalf("unexpected panic: %v", out.Panic)
	}
	if out.Value != "done" {
		t.Fatalf("expected 'done', got %q", out.Value)
	}

	f.mu.Lock()
	polls := f.polls
	f.mu.Unlock()
	if polls != 2 {
		t.Fatalf("expected exactly 2 polls, got %d", polls)
	}
}

// rewakeDuringPoll calls Wake on itself from inside Poll to exercise the
// at-most-one-poll invariant: the wake arriving mid-poll must collapse
// into a single re-enqueue rather than letting a second worker start
// polling the same task concurrently.
type rewakeDuringPoll struct {
	mu        sync.Mutex
	concurent int32
	maxSeen   int32
	polls     int
}

func (f *rewakeDuringPoll) Poll(w *Waker) PollState {
	n := atomic.AddInt32(&f.concurent, 1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, n) {
			break
		}
	}

	f.mu.Lock()
	f.polls++
	done := f.polls >= 3
	f.mu.Unlock()

	if !done {
		w.Wake()
	}

	time.Sleep(time.Millisecond)
	atomic.AddInt32(&f.concurent, -1)

	if done {
		return Ready
	}
	return Pending
}

func TestAtMostOnePollPerTask(t *testing.T) {
	p := NewPool(4, nil)
	defer p.Shutdown()

	f := &rewakeDuringPoll{}
	h := Spawn(p, f, func() int { return 1 })
	h.Get()

	if f.maxSeen > 1 {
		t.Fatalf("expected at most 1 concurrent poll, saw %d", f.maxSeen)
	}
}

func TestPoolStatsCountSpawned(t *testing.T) {
	p := NewPool(3, nil)
	defer p.Shutdown()

	var handles []*ResultHandle[Outcome[int]]
	for i := 0; i < 10; i++ {
		handles = append(handles, SpawnFunc(p, func() int { return 1 }))
	}
	for _, h := range handles {
		h.Get()
	}

	stats := p.Stats()
	if stats.Spawned != 10 {
		t.Fatalf("expected 10 spawned, got %d", stats.Spawned)
	}
	if stats.Completed != 10 {
		t.Fatalf("expected 10 completed, got %d", stats.Completed)
	}
	if stats.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", stats.Workers)
	}
}
