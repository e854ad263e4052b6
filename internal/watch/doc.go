// Package watch implements the change-detection loop: render the page,
// normalize it, fingerprint it, compare with the stored fingerprint, persist
// and notify. Two independent retry policies are stacked: a bounded
// exponential retry around each render and an unbounded, linearly capped
// backoff between failed checks.
package watch
