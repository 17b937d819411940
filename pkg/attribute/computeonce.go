package attribute

import "sync"

// computeOnce caches the result of an expensive lookup after the first
// call. Unlike sync.Once it exposes the cached value directly.
type computeOnce[T any] struct {
	mu      sync.Mutex
	done    bool
	value   T
	compute func() T
}

func newComputeOnce[T any](compute func() T) *computeOnce[T] {
	return &computeOnce[T]{compute: compute}
}

func (c *computeOnce[T]) get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.value = c.compute()
		c.done = true
	}
	return c.value
}
