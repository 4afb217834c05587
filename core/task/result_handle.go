package task

import "sync"

// PanicInfo carries a recovered panic's stringified payload, mirroring
// the Rust source's boxed Any panic payload (futures/catch_unwind.rs).
type PanicInfo struct {
	Message string
}

// Outcome is what a spawned task ultimately delivers: either a value
// or panic information, never both.
type Outcome[T any] struct {
	Value T
	Panic *PanicInfo
}

// ResultHandle is a single-slot, synchronized rendezvous, the Go
// analogue of the Rust source's ResultHandle<T> (futures/result_handle.rs),
// which used a Mutex<Option<T>> + Condvar. Go's sync.Cond is the
// stdlib's direct equivalent of that primitive; no third-party library
// in the example corpus offers a generic single-slot rendezvous, so
// this stays on the standard library by design, not by default.
type ResultHandle[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value *T
}

// NewResultHandle creates an unset handle.
func NewResultHandle[T any]() *ResultHandle[T] {
	h := &ResultHandle[T]{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Set stores val, waking any blocked Get. Set must be called at most
// once per handle lifetime.
func (h *ResultHandle[T]) Set(val T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.value = &val
	h.cond.Broadcast()
}

// Get blocks until a value has been Set, then returns it.
func (h *ResultHandle[T]) Get() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.value == nil {
		h.cond.Wait()
	}
	return *h.value
}

// TryGet returns the value without blocking if one is already set.
func (h *ResultHandle[T]) TryGet() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.value == nil {
		var zero T
		return zero, false
	}
	return *h.value, true
}

// IsReady reports whether a value has been Set.
func (h *ResultHandle[T]) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value != nil
}
