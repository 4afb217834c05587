package task

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pirkus/nvo-servers/core/concurrent"
)

// taskFlag tracks where a task sits relative to the wake queue. A
// task transitions idle -> scheduled (enqueued in wakeCh) ->
// running (dequeued, mid-Poll) -> idle or scheduled again, always
// under taskState.mu, so at most one enqueue exists per scheduled
// task and at most one worker ever holds a running task's Future.
type taskFlag int

const (
	taskIdle taskFlag = iota
	taskScheduled
	taskRunning
)

// taskState is the slab entry for one in-flight task: its Future, the
// flag enforcing at-most-one-poll, and a "rewake" flag that collapses
// wakes arriving mid-poll into a single re-enqueue once that poll
// returns.
type taskState struct {
	mu      sync.Mutex
	future  Future
	flag    taskFlag
	rewake  bool
	done    bool
	deliver func(*PanicInfo)
}

// Pool is a fixed-size worker-goroutine runtime that polls Futures to
// completion. It generalizes the Rust source's Workers (futures/workers.rs):
// a shared wake channel feeds N worker goroutines instead of N OS
// threads each blocking on a std::sync::mpsc::Receiver.
type Pool struct {
	workers int
	slab    *concurrent.Map[uint64, *taskState]
	nextID  atomic.Uint64
	wakeCh  chan uint64
	closing atomic.Bool
	wg      sync.WaitGroup
	log     *zap.Logger

	stats struct {
		spawned   atomic.Uint64
		completed atomic.Uint64
		panicked  atomic.Uint64
	}
}

// NewPool starts a pool with the given worker count. A count <= 0
// defaults to runtime.GOMAXPROCS(0), matching the source's
// thread::available_parallelism() default.
func NewPool(workers int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = zap.NewNop()
	}

	p := &Pool{
		workers: workers,
		slab:    concurrent.New[uint64, *taskState](log),
		wakeCh:  make(chan uint64, 4096),
		log:     log,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.workerLoop(i)
	}
	return p
}

// Spawn schedules future and returns a handle that receives its
// outcome. Spawn only enqueues the task and returns; the first poll
// happens later on a worker goroutine, never inline.
func Spawn[T any](p *Pool, future Future, onReady func() T) *ResultHandle[Outcome[T]] {
	handle := NewResultHandle[Outcome[T]]()
	id := p.nextID.Add(1)

	st := &taskState{future: future, flag: taskScheduled}
	st.deliver = func(panicInfo *PanicInfo) {
		var out Outcome[T]
		if panicInfo != nil {
			out.Panic = panicInfo
		} else {
			out.Value = onReady()
		}
		handle.Set(out)
	}

	p.slab.Insert(id, st)
	p.stats.spawned.Add(1)
	p.enqueue(id)
	return handle
}

// SpawnFunc is the convenience path the reactor uses: f runs to
// completion in a single poll (handler invocation in this module is
// synchronous Go code), and its return value is delivered verbatim.
func SpawnFunc[T any](p *Pool, f func() T) *ResultHandle[Outcome[T]] {
	var result T
	future := FuncFuture(func() { result = f() })
	return Spawn(p, future, func() T { return result })
}

func (p *Pool) enqueue(id uint64) {
	select {
	case p.wakeCh <- id:
	default:
		// Queue momentarily full: spin a short-lived sender rather
		// than drop the wake or block the caller's goroutine.
		go func() { p.wakeCh <- id }()
	}
}

func (p *Pool) wake(id uint64) {
	st, ok := p.slab.Get(id)
	if !ok {
		return
	}
	st.mu.Lock()
	switch st.flag {
	case taskRunning:
		// Collapse into the re-enqueue runOne performs once this
		// poll returns, instead of enqueuing a second time now.
		st.rewake = true
		st.mu.Unlock()
	case taskScheduled:
		// Already queued for a worker; a second enqueue here would
		// let two workers dequeue and poll the same Future at once.
		st.mu.Unlock()
	default: // taskIdle
		st.flag = taskScheduled
		st.mu.Unlock()
		p.enqueue(id)
	}
}

const shutdownSentinel uint64 = 0

func (p *Pool) workerLoop(_ int) {
	defer p.wg.Done()
	for id := range p.wakeCh {
		if id == shutdownSentinel {
			return
		}
		p.runOne(id)
	}
}

func (p *Pool) runOne(id uint64) {
	st, ok := p.slab.Get(id)
	if !ok {
		return
	}

	st.mu.Lock()
	if st.done {
		st.mu.Unlock()
		return
	}
	// Only a task actually in "scheduled" state may be picked up. A
	// stale or duplicate entry in wakeCh for a task that is already
	// running (or was since completed) is dropped here rather than
	// polling its Future a second time concurrently.
	if st.flag != taskScheduled {
		st.mu.Unlock()
		return
	}
	st.flag = taskRunning
	st.rewake = false
	future := st.future
	st.mu.Unlock()

	state, panicInfo := p.pollCatchingPanic(future, &Waker{id: id, pool: p})

	st.mu.Lock()
	if panicInfo != nil || state == Ready {
		st.done = true
		st.flag = taskIdle
		st.mu.Unlock()
		p.slab.Remove(id)
		if panicInfo != nil {
			p.stats.panicked.Add(1)
		}
		p.stats.completed.Add(1)
		st.deliver(panicInfo)
		return
	}
	rewake := st.rewake
	if rewake {
		st.flag = taskScheduled
	} else {
		st.flag = taskIdle
	}
	st.mu.Unlock()

	if rewake {
		p.enqueue(id)
	}
}

func (p *Pool) pollCatchingPanic(future Future, w *Waker) (state PollState, panicInfo *PanicInfo) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("recovered panic in task poll", zap.Any("panic", r))
			panicInfo = &PanicInfo{Message: fmt.Sprint(r)}
		}
	}()
	state = future.Poll(w)
	return state, panicInfo
}

// Shutdown signals every worker to stop after draining the current
// wake queue contents and waits for them to exit. Cancellation is
// cooperative: a task parked mid-poll is not interrupted, only no
// longer re-polled once its worker observes the sentinel.
func (p *Pool) Shutdown() {
	if !p.closing.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wakeCh <- shutdownSentinel
	}
	p.wg.Wait()
}

// Stats reports point-in-time counters for diagnostics.
type Stats struct {
	Spawned   uint64
	Completed uint64
	Panicked  uint64
	Workers   int
}

func (p *Pool) Stats() Stats {
	return Stats{
		Spawned:   p.stats.spawned.Load(),
		Completed: p.stats.completed.Load(),
		Panicked:  p.stats.panicked.Load(),
		Workers:   p.workers,
	}
}
