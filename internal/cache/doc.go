// Package cache provides a generic LRU cache with an eviction callback.
//
// The renderer uses it to keep bind groups keyed by the descriptor handles
// they were built from. Evicted values are handed to the callback so GPU
// objects can be queued for release instead of dropped:
//
//	c := cache.New[key, hal.BindGroup](256, func(k key, g hal.BindGroup) {
//		releases.Push(g)
//	})
//	g, err := c.GetOrCreate(k, build)
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
