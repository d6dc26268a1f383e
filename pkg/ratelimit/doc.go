// Package ratelimit groups the admission controls used by taskrun.
//
//   - concurrency: bounds how many operations run at once
package ratelimit
