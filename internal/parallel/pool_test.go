package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPoolWorkers(t *testing.T) {
	p := NewPool(3)
	defer p.Close()
	assert.Equal(t, 3, p.Workers())

	q := NewPool(0)
	defer q.Close()
	assert.Equal(t, runtime.GOMAXPROCS(0), q.Workers())
}

func TestMapVisitsEveryIndex(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	const n = 257
	var hits [n]atomic.Int32
	p.Map(n, func(i int) { hits[i].Add(1) })
	for i := range hits {
		assert.Equal(t, int32(1), hits[i].Load(), "index %d", i)
	}

	p.Map(0, func(int) { t.Error("called for empty range") })
}

func TestMapConcurrentCallers(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var total atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Map(50, func(int) { total.Add(1) })
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(400), total.Load())
}

func TestMapAfterCloseRunsInline(t *testing.T) {
	p := NewPool(2)
	p.Close()
	p.Close()

	var sum int
	p.Map(4, func(i int) { sum += i })
	assert.Equal(t, 6, sum)
}

func BenchmarkMap(b *testing.B) {
	p := NewPool(0)
	defer p.Close()
	var sink atomic.Int64
	for b.Loop() {
		p.Map(64, func(i int) { sink.Add(int64(i)) })
	}
}
