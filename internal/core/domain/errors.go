package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	// Never retried and never routed to a fallback source.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown strategy, phase or adapter type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrSourceUnavailable indicates a library source is unreachable or locked.
	// Recoverable via router fallback to the alternate source.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrRateLimited indicates the remote API rate limit was exceeded.
	// Recoverable via backoff and retry.
	ErrRateLimited = errors.New("rate limited")

	// ErrKeyNotPortable indicates a collection key could not be converted
	// between the local and remote namespaces because the name lookup failed
	// on the target source.
	ErrKeyNotPortable = errors.New("collection key not portable between sources")

	// ErrCheckpointCorrupt indicates a checkpoint file exists but failed
	// schema validation. Fatal for resume: progress must never be guessed at.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrManifestCorrupt indicates a manifest file exists but failed
	// schema validation.
	ErrManifestCorrupt = errors.New("manifest corrupt")

	// ErrImportInProgress indicates an import is already running for the run id.
	ErrImportInProgress = errors.New("import in progress")

	// ErrAuthRequired indicates the remote source needs an API key but none
	// is configured.
	ErrAuthRequired = errors.New("authentication required")

	// ErrPipelineUnavailable indicates no processing pipeline is configured.
	ErrPipelineUnavailable = errors.New("processing pipeline unavailable")
)

// Transient reports whether an error is worth retrying against the same
// source. Not-found and validation failures are permanent; availability and
// rate-limit failures are not.
func Transient(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrRateLimited)
}
