/*
Package task defines the unit of work handled by the registry and scheduler.

A Task pairs a diagnostic name and a scheduler-assigned ID with a work
function that takes no arguments and returns nothing. Tasks move through
four states and never go backwards:

	Pending -> Dispatched -> Running -> Completed

There is no cancelled state and no failed state. A task whose work panics is
still Completed; the failure is reported by the scheduler, not stored here.
*/
package task
