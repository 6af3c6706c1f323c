package librarydb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/refsync-cli/internal/logger"
)

// Ensure Adapter implements the interface.
var _ driven.LibraryAdapter = (*Adapter)(nil)

// Adapter reads the reference manager's local SQLite database. The
// connection is opened read-only: the database belongs to the reference
// manager, never to us.
type Adapter struct {
	db         *sql.DB
	dbPath     string
	storageDir string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithStorageDir overrides where embedded attachment files live. Defaults
// to the "storage" directory next to the database file.
func WithStorageDir(dir string) Option {
	return func(a *Adapter) {
		if dir != "" {
			a.storageDir = dir
		}
	}
}

// New opens the library database at dbPath read-only.
func New(dbPath string, opts ...Option) (*Adapter, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: library database %s: %v", domain.ErrSourceUnavailable, dbPath, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(2000)&_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("opening library database: %w", err)
	}

	a := &Adapter{
		db:         db,
		dbPath:     dbPath,
		storageDir: filepath.Join(filepath.Dir(dbPath), "storage"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Namespace returns the local (numeric) key space.
func (a *Adapter) Namespace() domain.Namespace {
	return domain.NamespaceLocal
}

// Reachable pings the database. A missing file or an exclusive lock held
// by the reference manager both surface as source-unavailable.
func (a *Adapter) Reachable(ctx context.Context) error {
	if _, err := os.Stat(a.dbPath); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	var one int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: library database locked or unreadable: %v", domain.ErrSourceUnavailable, err)
	}
	return nil
}

// ListCollections returns every collection with numeric keys.
func (a *Adapter) ListCollections(ctx context.Context) ([]domain.CollectionRef, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT collectionID, collectionName, COALESCE(parentCollectionID, 0)
		FROM collections
		ORDER BY collectionName
	`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var refs []domain.CollectionRef
	for rows.Next() {
		var id, parent int64
		var name string
		if err := rows.Scan(&id, &name, &parent); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		ref := domain.CollectionRef{
			Key:       strconv.FormatInt(id, 10),
			Namespace: domain.NamespaceLocal,
			Name:      name,
		}
		if parent != 0 {
			ref.ParentKey = strconv.FormatInt(parent, 10)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// FindCollectionByName resolves a collection name to its numeric key.
func (a *Adapter) FindCollectionByName(ctx context.Context, name string) (*domain.CollectionRef, error) {
	var id int64
	var parent sql.NullInt64
	err := a.db.QueryRowContext(ctx, `
		SELECT collectionID, parentCollectionID
		FROM collections WHERE collectionName = ?
	`, name).Scan(&id, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding collection %q: %w", name, err)
	}
	ref := &domain.CollectionRef{
		Key:       strconv.FormatInt(id, 10),
		Namespace: domain.NamespaceLocal,
		Name:      name,
	}
	if parent.Valid {
		ref.ParentKey = strconv.FormatInt(parent.Int64, 10)
	}
	return ref, nil
}

// CollectionItems returns the items of a collection, traversing
// sub-collections breadth-first when includeSub is set. The visited set
// guards against cycles in the parent links and deduplicates items that
// appear in several sub-collections.
func (a *Adapter) CollectionItems(ctx context.Context, collectionKey string, includeSub bool) ([]domain.Item, error) {
	rootID, err := a.collectionID(ctx, collectionKey)
	if err != nil {
		return nil, err
	}

	queue := []int64{rootID}
	visitedColls := map[int64]bool{rootID: true}
	seenItems := make(map[string]bool)
	var items []domain.Item

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		batch, err := a.itemsOfCollection(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, item := range batch {
			if seenItems[item.Key] {
				continue
			}
			seenItems[item.Key] = true
			items = append(items, item)
		}

		if !includeSub {
			break
		}
		children, err := a.childCollections(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visitedColls[child] {
				logger.Warn("collection cycle at id %d, skipping", child)
				continue
			}
			visitedColls[child] = true
			queue = append(queue, child)
		}
	}
	return items, nil
}

// ItemAttachments returns the attachments of an item.
func (a *Adapter) ItemAttachments(ctx context.Context, itemKey string) ([]domain.Attachment, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT a.key, a.filename, a.contentType, a.linkMode
		FROM attachments a
		JOIN items i ON i.itemID = a.parentItemID
		WHERE i.key = ?
		ORDER BY a.key
	`, itemKey)
	if err != nil {
		return nil, fmt.Errorf("listing attachments of %s: %w", itemKey, err)
	}
	defer rows.Close()

	var atts []domain.Attachment
	for rows.Next() {
		var att domain.Attachment
		var linkMode string
		if err := rows.Scan(&att.Key, &att.Filename, &att.ContentType, &linkMode); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		att.ItemKey = itemKey
		if linkMode == "linked_file" {
			att.LinkMode = domain.LinkModeLinkedFile
		}
		atts = append(atts, att)
	}
	return atts, rows.Err()
}

// HasAttachmentFile reports whether the attachment's file is on disk.
func (a *Adapter) HasAttachmentFile(ctx context.Context, itemKey, attachmentKey string) (bool, error) {
	path, err := a.attachmentPath(ctx, itemKey, attachmentKey)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	return true, nil
}

// DownloadAttachment copies the attachment file to destPath. The copy
// keeps the source file's modification time so unchanged content
// fingerprints identically across runs.
func (a *Adapter) DownloadAttachment(ctx context.Context, itemKey, attachmentKey, destPath string) (string, error) {
	srcPath, err := a.attachmentPath(ctx, itemKey, attachmentKey)
	if err != nil {
		return "", err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("attachment file %s: %w", srcPath, domain.ErrNotFound)
		}
		return "", fmt.Errorf("opening attachment file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat attachment file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("creating destination directory: %w", err)
	}
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", destPath, err)
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		return "", fmt.Errorf("copying attachment: %w", err)
	}
	if err := dest.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", destPath, err)
	}
	if err := os.Chtimes(destPath, info.ModTime(), info.ModTime()); err != nil {
		return "", fmt.Errorf("preserving mtime on %s: %w", destPath, err)
	}
	return destPath, nil
}

// ItemMetadata fetches one item by key.
func (a *Adapter) ItemMetadata(ctx context.Context, itemKey string) (*domain.Item, error) {
	var item domain.Item
	var itemID int64
	var creators sql.NullString
	var year sql.NullInt64
	err := a.db.QueryRowContext(ctx, `
		SELECT itemID, key, title, creators, year FROM items WHERE key = ?
	`, itemKey).Scan(&itemID, &item.Key, &item.Title, &creators, &year)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", itemKey, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching item %s: %w", itemKey, err)
	}
	if creators.Valid && creators.String != "" {
		if err := json.Unmarshal([]byte(creators.String), &item.Creators); err != nil {
			logger.Warn("item %s has malformed creators: %v", itemKey, err)
		}
	}
	if year.Valid {
		item.Year = int(year.Int64)
	}
	if item.Tags, err = a.itemTags(ctx, itemID); err != nil {
		return nil, err
	}
	if item.AttachmentKeys, err = a.attachmentKeys(ctx, itemID); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListTags returns every distinct tag.
func (a *Adapter) ListTags(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT DISTINCT tag FROM itemTags ORDER BY tag")
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// RecentItems returns up to limit items, most recently added first.
func (a *Adapter) RecentItems(ctx context.Context, limit int) ([]domain.Item, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT itemID FROM items ORDER BY dateAdded DESC, itemID DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		item, err := a.itemByID(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// Close closes the database connection.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// collectionID parses and verifies a numeric collection key.
func (a *Adapter) collectionID(ctx context.Context, key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: collection key %q is not numeric", domain.ErrInvalidInput, key)
	}
	var exists int
	err = a.db.QueryRowContext(ctx,
		"SELECT 1 FROM collections WHERE collectionID = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("collection %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("looking up collection %s: %w", key, err)
	}
	return id, nil
}

// childCollections returns the direct children of a collection.
func (a *Adapter) childCollections(ctx context.Context, id int64) ([]int64, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT collectionID FROM collections WHERE parentCollectionID = ?", id)
	if err != nil {
		return nil, fmt.Errorf("listing sub-collections of %d: %w", id, err)
	}
	defer rows.Close()

	var children []int64
	for rows.Next() {
		var child int64
		if err := rows.Scan(&child); err != nil {
			return nil, fmt.Errorf("scanning sub-collection: %w", err)
		}
		children = append(children, child)
	}
	return children, rows.Err()
}

// itemsOfCollection returns the direct items of one collection.
func (a *Adapter) itemsOfCollection(ctx context.Context, collectionID int64) ([]domain.Item, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT i.itemID FROM items i
		JOIN collectionItems ci ON ci.itemID = i.itemID
		WHERE ci.collectionID = ?
		ORDER BY i.itemID
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing items of collection %d: %w", collectionID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		item, err := a.itemByID(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// itemByID loads one item row with its tags and attachment keys.
func (a *Adapter) itemByID(ctx context.Context, itemID int64) (*domain.Item, error) {
	var item domain.Item
	var creators sql.NullString
	var year sql.NullInt64
	err := a.db.QueryRowContext(ctx, `
		SELECT key, title, creators, year FROM items WHERE itemID = ?
	`, itemID).Scan(&item.Key, &item.Title, &creators, &year)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item id %d: %w", itemID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching item %d: %w", itemID, err)
	}
	if creators.Valid && creators.String != "" {
		if err := json.Unmarshal([]byte(creators.String), &item.Creators); err != nil {
			logger.Warn("item %s has malformed creators: %v", item.Key, err)
		}
	}
	if year.Valid {
		item.Year = int(year.Int64)
	}
	if item.Tags, err = a.itemTags(ctx, itemID); err != nil {
		return nil, err
	}
	if item.AttachmentKeys, err = a.attachmentKeys(ctx, itemID); err != nil {
		return nil, err
	}
	return &item, nil
}

// itemTags returns one item's tags.
func (a *Adapter) itemTags(ctx context.Context, itemID int64) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT tag FROM itemTags WHERE itemID = ? ORDER BY tag", itemID)
	if err != nil {
		return nil, fmt.Errorf("listing tags of item %d: %w", itemID, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// attachmentKeys returns the keys of one item's attachments.
func (a *Adapter) attachmentKeys(ctx context.Context, itemID int64) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT key FROM attachments WHERE parentItemID = ? ORDER BY key", itemID)
	if err != nil {
		return nil, fmt.Errorf("listing attachment keys of item %d: %w", itemID, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning attachment key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// attachmentPath resolves where an attachment's file lives on disk.
// Embedded files live under storage/<attachment key>/<filename>; linked
// files carry their own absolute path in the path column.
func (a *Adapter) attachmentPath(ctx context.Context, itemKey, attachmentKey string) (string, error) {
	var filename string
	var linkMode string
	var stored sql.NullString
	err := a.db.QueryRowContext(ctx, `
		SELECT a.filename, a.linkMode, a.path
		FROM attachments a
		JOIN items i ON i.itemID = a.parentItemID
		WHERE i.key = ? AND a.key = ?
	`, itemKey, attachmentKey).Scan(&filename, &linkMode, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("attachment %s/%s: %w", itemKey, attachmentKey, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolving attachment %s/%s: %w", itemKey, attachmentKey, err)
	}

	if linkMode == "linked_file" {
		if !stored.Valid || stored.String == "" {
			return "", fmt.Errorf("attachment %s/%s has no linked path: %w", itemKey, attachmentKey, domain.ErrNotFound)
		}
		return stored.String, nil
	}
	return filepath.Join(a.storageDir, attachmentKey, filename), nil
}
