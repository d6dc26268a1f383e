package concurrency

// Acquire attempts to take one slot without blocking.
func (cl *concurrencyLimiter) Acquire() bool {
	for {
		cur := cl.inUse.Load()
		if cur >= cl.capacity {
			return false
		}
		if cl.inUse.CompareAndSwap(cur, cur+1) {
			cl.observePeak(cur + 1)
			return true
		}
	}
}

// Release returns one slot to the limiter.
func (cl *concurrencyLimiter) Release() {
	for {
		cur := cl.inUse.Load()
		if cur <= 0 {
			panic("concurrency: released more permits than acquired")
		}
		if cl.inUse.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Capacity returns the maximum number of concurrent operations allowed.
func (cl *concurrencyLimiter) Capacity() int {
	return int(cl.capacity)
}

// Available returns the number of slots currently free.
func (cl *concurrencyLimiter) Available() int {
	return int(cl.capacity - cl.inUse.Load())
}

// InUse returns the number of slots currently held.
func (cl *concurrencyLimiter) InUse() int {
	return int(cl.inUse.Load())
}

// Peak returns the highest InUse value observed.
func (cl *concurrencyLimiter) Peak() int {
	return int(cl.peak.Load())
}

func (cl *concurrencyLimiter) observePeak(n int64) {
	for {
		p := cl.peak.Load()
		if n <= p || cl.peak.CompareAndSwap(p, n) {
			return
		}
	}
}
