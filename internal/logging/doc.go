// Package logging builds the structured loggers used by taskrun binaries and
// examples.
//
// Output is JSON by default, with "ts" and "severity" keys and a "service"
// attribute on every record so logs from several processes can be merged.
package logging
