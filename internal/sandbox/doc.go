// Package sandbox contains plugin failures. It runs plugin entry calls
// under a configurable isolation level and supervises crash restarts
// with bounded exponential backoff.
package sandbox
