package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_ItemEntry(t *testing.T) {
	m := NewManifest("run-1", CollectionRef{Key: "42", Namespace: NamespaceLocal, Name: "Papers"})

	entry := m.ItemEntry(Item{Key: "ITEM0001", Title: "A Paper"})
	entry.Attachments = append(entry.Attachments, ManifestAttachment{
		Key: "ATTA0001", Filename: "paper.pdf", Status: DownloadPending,
	})

	// Same item returns the existing entry.
	again := m.ItemEntry(Item{Key: "ITEM0001"})
	assert.Len(t, again.Attachments, 1)
	assert.Len(t, m.Items, 1)
}

func TestManifest_Attachment(t *testing.T) {
	m := NewManifest("run-1", CollectionRef{Key: "42", Namespace: NamespaceLocal})
	entry := m.ItemEntry(Item{Key: "ITEM0001"})
	entry.Attachments = append(entry.Attachments, ManifestAttachment{Key: "ATTA0001", Status: DownloadPending})

	require.NotNil(t, m.Attachment("ITEM0001", "ATTA0001"))
	assert.Nil(t, m.Attachment("ITEM0001", "ATTA9999"))
	assert.Nil(t, m.Attachment("ITEM9999", "ATTA0001"))

	// Returned pointer mutates the manifest in place.
	m.Attachment("ITEM0001", "ATTA0001").Status = DownloadDone
	assert.Equal(t, DownloadDone, m.Items[0].Attachments[0].Status)
}

func TestManifest_Counts(t *testing.T) {
	m := NewManifest("run-1", CollectionRef{Key: "42", Namespace: NamespaceLocal})
	entry := m.ItemEntry(Item{Key: "ITEM0001"})
	entry.Attachments = append(entry.Attachments,
		ManifestAttachment{Key: "A1", Status: DownloadDone},
		ManifestAttachment{Key: "A2", Status: DownloadDone},
		ManifestAttachment{Key: "A3", Status: DownloadFailed},
		ManifestAttachment{Key: "A4", Status: DownloadPending},
	)

	pending, downloaded, failed := m.Counts()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 2, downloaded)
	assert.Equal(t, 1, failed)
}

func TestManifest_Validate(t *testing.T) {
	valid := func() *Manifest {
		m := NewManifest("run-1", CollectionRef{Key: "42", Namespace: NamespaceLocal})
		entry := m.ItemEntry(Item{Key: "ITEM0001"})
		entry.Attachments = append(entry.Attachments, ManifestAttachment{Key: "A1", Status: DownloadDone})
		return m
	}

	require.NoError(t, valid().Validate())

	m := valid()
	m.SchemaVersion = 99
	assert.ErrorIs(t, m.Validate(), ErrManifestCorrupt)

	m = valid()
	m.RunID = ""
	assert.ErrorIs(t, m.Validate(), ErrManifestCorrupt)

	m = valid()
	m.Items = append(m.Items, m.Items[0])
	assert.ErrorIs(t, m.Validate(), ErrManifestCorrupt)

	m = valid()
	m.Items[0].Attachments[0].Status = "uploading"
	assert.ErrorIs(t, m.Validate(), ErrManifestCorrupt)
}

func TestAttachment_DocumentID(t *testing.T) {
	a := Attachment{Key: "ATTA0001", ItemKey: "ITEM0001"}
	assert.Equal(t, "ITEM0001/ATTA0001", a.DocumentID())
}
