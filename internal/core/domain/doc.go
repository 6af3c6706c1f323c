// Package domain contains the core business entities for refsync.
// It has no dependencies on infrastructure or external services.
package domain
