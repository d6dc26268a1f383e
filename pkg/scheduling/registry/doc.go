/*
Package registry holds the pending tasks of a scheduler.

A Registry is a mutex-guarded ordered collection. Enqueue and Dequeue are
linearizable: a task is handed to exactly one caller of Dequeue and is never
lost. The dequeue order is chosen at construction:

	r := registry.New(registry.FIFO) // submission order (default)
	r := registry.New(registry.LIFO) // most recent first

Add assigns the next id and enqueues under the same lock, so ids are unique,
never reused and, in FIFO order, dequeued in increasing order.

FIFO is backed by a gods linked-list queue and LIFO by a gods array stack.
Len is a snapshot for diagnostics only.
*/
package registry
