// Package errors defines the sentinel and structured error types shared by
// the taskrun packages.
//
// Sentinels are compared with errors.Is. Structured errors carry the module
// and field or operation that failed:
//
//	_, err := scheduler.New(scheduler.Config{MaxConcurrency: -1})
//	if errors.IsValidationError(err) {
//		log.Printf("bad config: %v", err)
//	}
package errors
