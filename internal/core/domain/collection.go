package domain

// Namespace identifies which source's key space a collection key belongs to.
// The local library database uses decimal row ids; the remote API uses
// fixed-length alphanumeric keys. The two spaces are disjoint and keys are
// never portable between them without explicit conversion.
type Namespace string

const (
	// NamespaceLocal is the local library database key space (numeric).
	NamespaceLocal Namespace = "local"

	// NamespaceRemote is the remote API key space (8-char alphanumeric).
	NamespaceRemote Namespace = "remote"
)

// RemoteKeyLength is the fixed length of remote collection and item keys.
const RemoteKeyLength = 8

// CollectionRef is a user-addressable handle to a collection.
type CollectionRef struct {
	// Key is the namespace-tagged collection key.
	Key string

	// Namespace identifies which key space Key belongs to.
	Namespace Namespace

	// Name is the human-readable collection name. A name resolves to at
	// most one key per namespace at lookup time.
	Name string

	// ParentKey is the parent collection's key, empty for top-level
	// collections. Always in the same namespace as Key.
	ParentKey string
}

// DetectNamespace guesses the namespace of a collection key by shape:
// all-digits means local, 8-char upper-case alphanumeric means remote.
// Returns empty Namespace when the key matches neither shape.
func DetectNamespace(key string) Namespace {
	if key == "" {
		return ""
	}
	if isDigits(key) {
		return NamespaceLocal
	}
	if isRemoteKey(key) {
		return NamespaceRemote
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isRemoteKey(s string) bool {
	if len(s) != RemoteKeyLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
