package domain

import "fmt"

// Strategy selects which library source to use per fetch, and whether to
// fall back to the alternate source on failure. Configured per run.
type Strategy string

const (
	// StrategyLocalFirst tries the local database first, falling back to the
	// remote API per individual file.
	StrategyLocalFirst Strategy = "local-first"

	// StrategyRemoteFirst tries the remote API first, falling back to the
	// local database.
	StrategyRemoteFirst Strategy = "remote-first"

	// StrategyAuto picks per attachment: local when the database is
	// reachable and holds the file, remote otherwise.
	StrategyAuto Strategy = "auto"

	// StrategyLocalOnly uses only the local database; no fallback.
	StrategyLocalOnly Strategy = "local-only"

	// StrategyRemoteOnly uses only the remote API; no fallback.
	StrategyRemoteOnly Strategy = "remote-only"
)

// ParseStrategy validates a strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLocalFirst, StrategyRemoteFirst, StrategyAuto,
		StrategyLocalOnly, StrategyRemoteOnly:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: strategy %q", ErrUnsupportedType, s)
}

// SourceMarker records which source a file was actually fetched from.
type SourceMarker string

const (
	// SourceLocal marks a file fetched from the local library database.
	SourceLocal SourceMarker = "local"

	// SourceRemote marks a file fetched from the remote API.
	SourceRemote SourceMarker = "remote"
)
