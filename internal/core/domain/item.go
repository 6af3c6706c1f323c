package domain

// Item is one catalog entry (e.g. a paper). Immutable once fetched for a
// given run; re-fetched on the next run.
type Item struct {
	// Key is the stable item key, shared across sources.
	Key string

	// Title is the item title.
	Title string

	// Creators lists author/editor names in catalog order.
	Creators []string

	// Year is the publication year, 0 when unknown.
	Year int

	// Tags are the item's tags.
	Tags []string

	// AttachmentKeys lists the keys of the item's attachments.
	AttachmentKeys []string
}

// LinkMode describes how an attachment file is stored by the library.
type LinkMode int

const (
	// LinkModeEmbedded means the library holds its own copy of the file.
	LinkModeEmbedded LinkMode = iota

	// LinkModeLinkedFile means the library only references an external path.
	LinkModeLinkedFile
)

// Attachment is one downloadable file belonging to an item.
type Attachment struct {
	// Key is the attachment key.
	Key string

	// ItemKey is the owning item's key.
	ItemKey string

	// Filename is the target filename for the downloaded copy.
	Filename string

	// ContentType is the MIME type (e.g. "application/pdf").
	ContentType string

	// LinkMode describes how the source stores the file.
	LinkMode LinkMode
}

// DocumentID returns the stable processing identity for an attachment.
// Keyed by item and attachment keys so re-application across runs is
// idempotent.
func (a Attachment) DocumentID() string {
	return a.ItemKey + "/" + a.Key
}
