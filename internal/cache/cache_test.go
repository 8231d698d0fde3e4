package cache

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := New[string, int](2, func(k string, _ int) { evicted = append(evicted, k) })

	c.Set("a", 1)
	c.Set("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Set("c", 3)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestSetReplaceReportsOldValue(t *testing.T) {
	var old []int
	c := New[string, int](0, func(_ string, v int) { old = append(old, v) })
	c.Set("a", 1)
	c.Set("a", 2)
	v, _ := c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, []int{1}, old)
}

func TestGetOrCreate(t *testing.T) {
	c := New[int, string](4, nil)
	calls := 0
	build := func() (string, error) {
		calls++
		return "x", nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrCreate(7, build)
		require.NoError(t, err)
		assert.Equal(t, "x", v)
	}
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err := c.GetOrCreate(8, func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.Len(), "failed create must not be cached")

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestRemoveIfAndClear(t *testing.T) {
	var evicted int
	c := New[int, int](0, func(int, int) { evicted++ })
	for i := 0; i < 10; i++ {
		c.Set(i, i)
	}
	assert.Equal(t, 5, c.RemoveIf(func(k, _ int) bool { return k%2 == 0 }))
	assert.Equal(t, 5, c.Len())
	assert.True(t, c.Delete(1))
	assert.False(t, c.Delete(1))
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 10, evicted)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[string, int](64, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := strconv.Itoa((g*i + i) % 100)
				_, _ = c.GetOrCreate(k, func() (int, error) { return i, nil })
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func BenchmarkCacheGet(b *testing.B) {
	c := New[string, int](1000, nil)
	for i := 0; i < 100; i++ {
		c.Set(strconv.Itoa(i), i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get("50")
	}
}
