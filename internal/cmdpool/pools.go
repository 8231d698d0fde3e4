package cmdpool

import (
	"fmt"
)

// Sizes holds the number of command buffers per queue kind.
type Sizes [NumQueueKinds]int

// Pools bundles one Pool per queue kind.
type Pools struct {
	pools [NumQueueKinds]*Pool
	queue Queue
}

// NewPools creates the graphics, compute and copy pools. All kinds submit
// to queues[kind]; a nil entry falls back to the graphics queue.
func NewPools(factory EncoderFactory, queues [NumQueueKinds]Queue, sizes Sizes) (*Pools, error) {
	ps := &Pools{queue: queues[Graphics]}
	for k := QueueKind(0); k < NumQueueKinds; k++ {
		q := queues[k]
		if q == nil {
			q = queues[Graphics]
		}
		p, err := NewPool(factory, q, k, sizes[k])
		if err != nil {
			ps.Destroy()
			return nil, err
		}
		ps.pools[k] = p
	}
	return ps, nil
}

// SingleQueue returns a queue table that routes every kind to q.
func SingleQueue(q Queue) [NumQueueKinds]Queue {
	return [NumQueueKinds]Queue{q, q, q}
}

// Pool returns the pool for kind.
func (ps *Pools) Pool(kind QueueKind) *Pool { return ps.pools[kind] }

// GetFree returns a recording command buffer from the kind's pool.
func (ps *Pools) GetFree(kind QueueKind) (*CommandBuffer, error) {
	if kind >= NumQueueKinds {
		return nil, fmt.Errorf("cmdpool: unknown queue kind %d", kind)
	}
	return ps.pools[kind].GetFree()
}

// Execute submits cb on its own pool.
func (ps *Pools) Execute(cb *CommandBuffer) error {
	return ps.pools[cb.kind].Execute(cb)
}

// LastSubmitted returns the highest submission index across all pools.
func (ps *Pools) LastSubmitted() uint64 {
	var last uint64
	for _, p := range ps.pools {
		if p != nil {
			last = max(last, p.LastSubmission())
		}
	}
	return last
}

// Recording returns the number of buffers, across all pools, handed out by
// GetFree and not yet executed.
func (ps *Pools) Recording() int {
	n := 0
	for _, p := range ps.pools {
		if p != nil {
			n += p.Recording()
		}
	}
	return n
}

// Completed returns the highest submission index the graphics queue reports
// as complete.
func (ps *Pools) Completed() uint64 {
	return ps.queue.PollCompleted()
}

// Submissions returns the number of submissions per queue kind.
func (ps *Pools) Submissions() [NumQueueKinds]uint64 {
	var out [NumQueueKinds]uint64
	for k, p := range ps.pools {
		if p != nil {
			out[k] = p.Submissions()
		}
	}
	return out
}

// Flush blocks until no buffer in any pool is busy.
func (ps *Pools) Flush() {
	for _, p := range ps.pools {
		if p != nil {
			p.Flush()
		}
	}
}

// Destroy releases every pool.
func (ps *Pools) Destroy() {
	for k, p := range ps.pools {
		if p != nil {
			p.Destroy()
			ps.pools[k] = nil
		}
	}
}
