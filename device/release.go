package device

import "sync"

type deferredRelease struct {
	label string
	fn    func()
}

type releaseBatch struct {
	fence uint64
	items []deferredRelease
}

// releaseQueue defers native object destruction until the GPU is done with
// every submission that might reference the object. Releases accumulate in
// an open batch; the device seals it with the last submitted index once no
// command buffer is recording, and runs every sealed batch the queue reports
// complete. This mirrors the descriptor
// heaps' deferred free so a view and the texture behind it retire together.
type releaseQueue struct {
	mu     sync.Mutex
	open   []deferredRelease
	sealed []releaseBatch
}

// Defer schedules fn. label is only used for logging.
func (q *releaseQueue) Defer(label string, fn func()) {
	q.mu.Lock()
	q.open = append(q.open, deferredRelease{label: label, fn: fn})
	q.mu.Unlock()
}

// Process seals the open batch with submitted and runs every batch whose
// fence is at or below completed. It returns the number of releases run.
func (q *releaseQueue) Process(submitted, completed uint64) int {
	q.Seal(submitted)
	return q.Reclaim(completed)
}

// Seal closes the open batch under fence.
func (q *releaseQueue) Seal(fence uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.open) > 0 {
		q.sealed = append(q.sealed, releaseBatch{fence: fence, items: q.open})
		q.open = nil
	}
}

// Reclaim runs every sealed batch whose fence is at or below completed.
func (q *releaseQueue) Reclaim(completed uint64) int {
	q.mu.Lock()
	var ready []deferredRelease
	keep := q.sealed[:0]
	for _, b := range q.sealed {
		if b.fence <= completed {
			ready = append(ready, b.items...)
		} else {
			keep = append(keep, b)
		}
	}
	clear(q.sealed[len(keep):])
	q.sealed = keep
	q.mu.Unlock()

	for _, r := range ready {
		r.fn()
	}
	if len(ready) > 0 {
		slogger().Debug("device: released objects", "count", len(ready), "completed", completed)
	}
	return len(ready)
}

// Drain runs everything regardless of fences. The device must be idle.
func (q *releaseQueue) Drain() int {
	q.mu.Lock()
	ready := q.open
	for _, b := range q.sealed {
		ready = append(ready, b.items...)
	}
	q.open = nil
	q.sealed = nil
	q.mu.Unlock()

	for _, r := range ready {
		r.fn()
	}
	return len(ready)
}

// Len returns the number of releases not yet run.
func (q *releaseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.open)
	for _, b := range q.sealed {
		n += len(b.items)
	}
	return n
}
