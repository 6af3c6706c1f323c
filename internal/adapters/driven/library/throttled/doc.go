// Package throttled wraps a library adapter with client-side rate
// limiting and retry. A token bucket enforces a minimum interval between
// requests; transient failures (source unavailable, server-side rate
// limits) are retried with exponential backoff and jitter. Everything else
// fails through unchanged.
package throttled
