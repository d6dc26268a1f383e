/*
Package concurrency provides a non-blocking concurrency limiter.

A Limiter hands out at most Capacity slots. Acquire never blocks: it either
takes a slot or reports that none is free, leaving the caller to decide how
to wait. The capacity check and the increment are a single compare-and-swap,
so InUse can never exceed Capacity, even transiently.

Basic usage:

	limiter, err := concurrency.NewSafe(4)
	if err != nil {
		log.Fatal(err)
	}

	if limiter.Acquire() {
		go func() {
			defer limiter.Release()
			// Do work
		}()
	}

State inspection:

	limiter.Capacity()  // configured maximum
	limiter.InUse()     // slots held right now
	limiter.Available() // Capacity - InUse
	limiter.Peak()      // highest InUse seen

Metrics:

NewWithMetrics wraps the limiter so that active slots, capacity and refused
acquisitions are exported through the metrics package.
*/
package concurrency
