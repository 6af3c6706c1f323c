package librarydb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
)

const fixtureSchema = `
CREATE TABLE collections (
	collectionID INTEGER PRIMARY KEY,
	collectionName TEXT NOT NULL,
	parentCollectionID INTEGER
);
CREATE TABLE items (
	itemID INTEGER PRIMARY KEY,
	key TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	creators TEXT,
	year INTEGER,
	dateAdded DATETIME NOT NULL
);
CREATE TABLE collectionItems (
	collectionID INTEGER NOT NULL,
	itemID INTEGER NOT NULL
);
CREATE TABLE itemTags (
	itemID INTEGER NOT NULL,
	tag TEXT NOT NULL
);
CREATE TABLE attachments (
	attachmentID INTEGER PRIMARY KEY,
	key TEXT NOT NULL UNIQUE,
	parentItemID INTEGER NOT NULL,
	filename TEXT NOT NULL,
	contentType TEXT NOT NULL,
	linkMode TEXT NOT NULL,
	path TEXT
);
`

// setupFixtureLibrary builds a small library database with a collection
// tree, three items and attachment files under storage/.
func setupFixtureLibrary(t *testing.T) *Adapter {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "library.sqlite")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(fixtureSchema)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO collections VALUES
			(42, 'Papers', NULL),
			(43, 'Preprints', 42),
			(44, 'Drafts', NULL);
		INSERT INTO items VALUES
			(1, 'ITEM1', 'Attention Is All You Need', '["Vaswani, A.","Shazeer, N."]', 2017, '2026-01-10 09:00:00'),
			(2, 'ITEM2', 'Epidemic Models on Networks', '["Kiss, I."]', 2017, '2026-02-20 09:00:00'),
			(3, 'ITEM3', 'Working Notes', NULL, NULL, '2026-03-05 09:00:00');
		INSERT INTO collectionItems VALUES
			(42, 1),
			(43, 2),
			(43, 1),
			(44, 3);
		INSERT INTO itemTags VALUES
			(1, 'ML'),
			(1, 'Transformers'),
			(2, 'Epi'),
			(3, 'Draft');
		INSERT INTO attachments VALUES
			(1, 'ATT1', 1, 'attention.pdf', 'application/pdf', 'imported_file', NULL),
			(2, 'ATT2', 2, 'models.pdf', 'application/pdf', 'imported_file', NULL),
			(3, 'ATT3', 3, 'notes.pdf', 'application/pdf', 'linked_file', ?);
	`, filepath.Join(dir, "elsewhere", "notes.pdf"))
	require.NoError(t, err)

	// Embedded attachment files under storage/<key>/<filename>.
	for _, f := range []struct{ key, name, content string }{
		{"ATT1", "attention.pdf", "attention pdf bytes"},
		{"ATT2", "models.pdf", "models pdf bytes"},
	} {
		path := filepath.Join(dir, "storage", f.key, f.name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(f.content), 0o644))
	}
	// The linked file.
	linked := filepath.Join(dir, "elsewhere", "notes.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(linked), 0o755))
	require.NoError(t, os.WriteFile(linked, []byte("notes pdf bytes"), 0o644))

	adapter, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, adapter.Close()) })
	return adapter
}

func TestAdapter_Namespace(t *testing.T) {
	adapter := setupFixtureLibrary(t)
	assert.Equal(t, domain.NamespaceLocal, adapter.Namespace())
}

func TestAdapter_Reachable(t *testing.T) {
	adapter := setupFixtureLibrary(t)
	assert.NoError(t, adapter.Reachable(context.Background()))
}

func TestNew_MissingDatabase(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.sqlite"))
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestAdapter_ListCollections(t *testing.T) {
	adapter := setupFixtureLibrary(t)

	refs, err := adapter.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 3)

	byName := make(map[string]domain.CollectionRef)
	for _, ref := range refs {
		assert.Equal(t, domain.NamespaceLocal, ref.Namespace)
		byName[ref.Name] = ref
	}
	assert.Equal(t, "42", byName["Papers"].Key)
	assert.Empty(t, byName["Papers"].ParentKey)
	assert.Equal(t, "43", byName["Preprints"].Key)
	assert.Equal(t, "42", byName["Preprints"].ParentKey)
}

func TestAdapter_FindCollectionByName(t *testing.T) {
	adapter := setupFixtureLibrary(t)
	ctx := context.Background()

	ref, err := adapter.FindCollectionByName(ctx, "Papers")
	require.NoError(t, err)
	assert.Equal(t, "42", ref.Key)

	_, err = adapter.FindCollectionByName(ctx, "Nonexistent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdapter_CollectionItems(t *testing.T) {
	adapter := setupFixtureLibrary(t)
	ctx := context.Background()

	// Direct members only.
	items, err := adapter.CollectionItems(ctx, "42", false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ITEM1", items[0].Key)
	assert.Equal(t, "Attention Is All You Need", items[0].Title)
	assert.Equal(t, []string{"Vaswani, A.", "Shazeer, N."}, items[0].Creators)
	assert.Equal(t, 2017, items[0].Year)
	assert.Equal(t, []string{"ML", "Transformers"}, items[0].Tags)
	assert.Equal(t, []string{"ATT1"}, items[0].AttachmentKeys)
}

func TestAdapter_CollectionItems_IncludeSubDeduplicates(t *testing.T) {
	adapter := setupFixtureLibrary(t)

	// ITEM1 is in both Papers and its Preprints sub-collection; it must
	// appear exactly once.
	items, err := adapter.CollectionItems(context.Background(), "42", true)
	require.NoError(t, err)
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.Key
	}
	assert.ElementsMatch(t, []string{"ITEM1", "ITEM2"}, keys)
}

func TestAdapter_CollectionItems_UnknownCollection(t *testing.T) {
	adapter := setupFixtureLibrary(t)

	_, err := adapter.CollectionItems(context.Background(), "999", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = adapter.CollectionItems(context.Background(), "notakey", false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAdapter_ItemAttachments(t *testing.T) {
	adapter := setupFixtureLibrary(t)

	atts, err := adapter.ItemAttachments(context.Background(), "ITEM3")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "ATT3", atts[0].Key)
	assert.Equal(t, "ITEM3", atts[0].ItemKey)
	assert.Equal(t, domain.LinkModeLinkedFile, atts[0].LinkMode)
}

func TestAdapter_HasAttachmentFile(t *testing.T) {
	adapter := setupFixtureLibrary(t)
	ctx := context.Background()

	has, err := adapter.HasAttachmentFile(ctx, "ITEM1", "ATT1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = adapter.HasAttachmentFile(ctx, "ITEM1", "NOPE")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestAdapter_DownloadAttachment(t *testing.T) {
	adapter := setupFixtureLibrary(t)
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "out", "attention.pdf")

	path, err := adapter.DownloadAttachment(ctx, "ITEM1", "ATT1", dest)
	require.NoError(t, err)
	assert.Equal(t, dest, path)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "attention pdf bytes", string(content))
}

func TestAdapter_DownloadAttachment_PreservesMtime(t *testing.T) {
	adapter := setupFixtureLibrary(t)
	ctx := context.Background()

	srcMtime := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	src := filepath.Join(adapter.storageDir, "ATT1", "attention.pdf")
	require.NoError(t, os.Chtimes(src, srcMtime, srcMtime))

	dest := filepath.Join(t.TempDir(), "attention.pdf")
	_, err := adapter.DownloadAttachment(ctx, "ITEM1", "ATT1", dest)
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(srcMtime))
}

func TestAdapter_DownloadAttachment_LinkedFile(t *testing.T) {
	adapter := setupFixtureLibrary(t)
	dest := filepath.Join(t.TempDir(), "notes.pdf")

	_, err := adapter.DownloadAttachment(context.Background(), "ITEM3", "ATT3", dest)
	require.NoError(t, err)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "notes pdf bytes", string(content))
}

func TestAdapter_DownloadAttachment_Unknown(t *testing.T) {
	adapter := setupFixtureLibrary(t)

	_, err := adapter.DownloadAttachment(context.Background(), "ITEM1", "NOPE",
		filepath.Join(t.TempDir(), "x.pdf"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdapter_ItemMetadata(t *testing.T) {
	adapter := setupFixtureLibrary(t)
	ctx := context.Background()

	item, err := adapter.ItemMetadata(ctx, "ITEM2")
	require.NoError(t, err)
	assert.Equal(t, "Epidemic Models on Networks", item.Title)
	assert.Equal(t, []string{"Epi"}, item.Tags)

	_, err = adapter.ItemMetadata(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdapter_ListTags(t *testing.T) {
	adapter := setupFixtureLibrary(t)

	tags, err := adapter.ListTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Draft", "Epi", "ML", "Transformers"}, tags)
}

func TestAdapter_RecentItems(t *testing.T) {
	adapter := setupFixtureLibrary(t)

	items, err := adapter.RecentItems(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ITEM3", items[0].Key)
	assert.Equal(t, "ITEM2", items[1].Key)
}
