package task

// Waker is a handle used to re-queue a pending task for polling. It
// carries only the task's slab id plus a back-reference to the pool's
// wake queue, avoiding the reference cycle a task-holds-waker/
// waker-holds-task design would create (the Rust source sidesteps the
// same problem via Arc<ChannelMsg>; here the slab owns the task and
// the Waker only owns an id).
type Waker struct {
	id   uint64
	pool *Pool
}

// Wake re-queues the task for polling. If the task is currently being
// polled by a worker, the wake is recorded and collapsed into a single
// re-enqueue at the end of that poll (see Pool.runOne) rather than
// racing a second worker onto the same task.
func (w *Waker) Wake() {
	w.pool.wake(w.id)
}
