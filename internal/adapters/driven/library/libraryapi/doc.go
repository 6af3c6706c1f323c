// Package libraryapi talks to the reference manager's hosted web API.
// It is the authoritative but slower source: every collection, item and
// attachment is available, subject to network latency, authentication and
// server-side rate limits. Collection keys are the API's fixed-length
// alphanumeric keys.
package libraryapi
