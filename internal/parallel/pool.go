// Package parallel runs CPU-side asset work, such as image decoding, on a
// fixed set of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a set of workers, each with its own queue. An idle worker steals
// from the other queues before blocking on its own.
//
// Pool is safe for concurrent use.
type Pool struct {
	queues []chan func()
	done   chan struct{}
	wg     sync.WaitGroup

	// mu is held for reading while jobs are queued so Close cannot stop
	// the workers under a sender.
	mu      sync.RWMutex
	running atomic.Bool
}

// NewPool starts a pool of n workers. n <= 0 uses GOMAXPROCS.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		queues: make([]chan func(), n),
		done:   make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), max(8, 4*n))
	}
	p.running.Store(true)
	p.wg.Add(n)
	for i := range n {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case fn := <-own:
			fn()
			continue
		case <-p.done:
			p.drain(own)
			return
		default:
		}
		if fn := p.steal(id); fn != nil {
			fn()
			continue
		}
		select {
		case fn := <-own:
			fn()
		case <-p.done:
			p.drain(own)
			return
		}
	}
}

func (p *Pool) drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i, q := range p.queues {
		if i == id {
			continue
		}
		select {
		case fn := <-q:
			return fn
		default:
		}
	}
	return nil
}

// Map calls fn(i) for every i in [0, n) across the workers and returns when
// all calls have finished. On a closed pool the calls run on the caller's
// goroutine.
func (p *Pool) Map(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	p.mu.RLock()
	if !p.running.Load() {
		p.mu.RUnlock()
		for i := range n {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		p.queues[i%len(p.queues)] <- func() {
			defer wg.Done()
			fn(i)
		}
	}
	p.mu.RUnlock()
	wg.Wait()
}

// Workers returns the number of workers.
func (p *Pool) Workers() int { return len(p.queues) }

// Close finishes queued work and stops the workers. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.mu.Unlock()
		return
	}
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}
