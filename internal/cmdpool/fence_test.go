package cmdpool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type counter struct{ done atomic.Uint64 }

func (c *counter) PollCompleted() uint64 { return c.done.Load() }

func TestFenceCompletesInOrder(t *testing.T) {
	q := &counter{}
	f := NewFence(q)
	assert.Equal(t, uint64(0), f.Completed())

	f.Signal(1, 10)
	f.Signal(2, 12)
	f.Signal(2, 13) // ignored
	assert.Equal(t, uint64(2), f.Signaled())
	assert.Equal(t, uint64(0), f.Completed())

	q.done.Store(11)
	assert.Equal(t, uint64(1), f.Completed())
	q.done.Store(20)
	assert.Equal(t, uint64(2), f.Completed())
	f.Wait(2)
}

func TestFenceWaitReturnsOnCompletion(t *testing.T) {
	q := &counter{}
	f := NewFence(q)
	f.Signal(1, 1)
	go q.done.Store(1)
	f.Wait(1)
	assert.Equal(t, uint64(1), f.Completed())
}
