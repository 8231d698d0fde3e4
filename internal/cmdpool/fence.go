package cmdpool

import (
	"runtime"
	"sync"
)

// Completer reports the highest queue submission index whose work finished.
// hal.Queue satisfies it.
type Completer interface {
	PollCompleted() uint64
}

type fencePoint struct {
	value      uint64
	submission uint64
}

// Fence is a monotonically increasing counter signaled when submitted GPU
// work completes. It is layered over HAL submission indices: Signal ties a
// fence value to the submission that carries it, and Completed advances as
// the queue reports those submissions done.
//
// Fence is safe for concurrent use.
type Fence struct {
	mu        sync.Mutex
	queue     Completer
	pending   []fencePoint
	completed uint64
	signaled  uint64
}

// NewFence creates a fence observing q.
func NewFence(q Completer) *Fence {
	return &Fence{queue: q}
}

// Signal records that value is reached once submission completes.
// Values must increase.
func (f *Fence) Signal(value, submission uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if value <= f.signaled {
		return
	}
	f.signaled = value
	f.pending = append(f.pending, fencePoint{value: value, submission: submission})
}

// Signaled returns the highest value passed to Signal.
func (f *Fence) Signaled() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

// Completed polls the queue and returns the highest completed value.
func (f *Fence) Completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return f.completed
	}
	done := f.queue.PollCompleted()
	i := 0
	for ; i < len(f.pending) && f.pending[i].submission <= done; i++ {
		f.completed = f.pending[i].value
	}
	if i > 0 {
		f.pending = append(f.pending[:0], f.pending[i:]...)
	}
	return f.completed
}

// Wait spins until Completed reaches value. There is no timeout: a GPU that
// never finishes the work hangs the caller.
func (f *Fence) Wait(value uint64) {
	for f.Completed() < value {
		runtime.Gosched()
	}
}
