package driven

import (
	"context"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
)

// LibraryAdapter fetches collections, items and attachment files from one
// library source. Implemented twice: librarydb reads the reference
// manager's local database, libraryapi talks to its web API. The two differ
// in latency, availability and collection key namespace; the source router
// chooses between them per fetch.
//
// All calls must be safely retryable: re-downloading to the same path
// overwrites, never appends.
type LibraryAdapter interface {
	// Namespace returns the collection key space this adapter uses.
	Namespace() domain.Namespace

	// Reachable checks whether the source can serve requests right now.
	// For the local database this checks the file exists and is not
	// exclusively locked; for the remote API it makes a lightweight call.
	// Returns an error wrapping domain.ErrSourceUnavailable otherwise.
	Reachable(ctx context.Context) error

	// ListCollections returns every collection, keyed in this adapter's
	// namespace.
	ListCollections(ctx context.Context) ([]domain.CollectionRef, error)

	// FindCollectionByName resolves a collection name in this adapter's
	// namespace. Returns domain.ErrNotFound when no collection has the name.
	FindCollectionByName(ctx context.Context, name string) (*domain.CollectionRef, error)

	// CollectionItems returns the items of a collection. When includeSub
	// is true, sub-collections are traversed recursively; the traversal
	// carries its own visited set so an item appearing in several
	// sub-collections is returned once.
	CollectionItems(ctx context.Context, collectionKey string, includeSub bool) ([]domain.Item, error)

	// ItemAttachments returns the attachments of an item.
	ItemAttachments(ctx context.Context, itemKey string) ([]domain.Attachment, error)

	// HasAttachmentFile reports whether this source can produce the file
	// for an attachment without contacting the other source. Used by the
	// auto strategy.
	HasAttachmentFile(ctx context.Context, itemKey, attachmentKey string) (bool, error)

	// DownloadAttachment fetches one attachment file to destPath,
	// overwriting any existing file, and returns the written path.
	DownloadAttachment(ctx context.Context, itemKey, attachmentKey, destPath string) (string, error)

	// ItemMetadata fetches one item's catalog metadata.
	ItemMetadata(ctx context.Context, itemKey string) (*domain.Item, error)

	// ListTags returns every tag known to the source.
	ListTags(ctx context.Context) ([]string, error)

	// RecentItems returns up to limit items, most recently added first.
	RecentItems(ctx context.Context, limit int) ([]domain.Item, error)

	// Close releases resources.
	Close() error
}
