package domain

import "time"

// ManifestSchemaVersion is the current manifest file schema version.
// Bumped when the serialized shape changes so old files are rejected
// cleanly instead of silently misinterpreted.
const ManifestSchemaVersion = 1

// DownloadStatus is the outcome of one attachment download.
type DownloadStatus string

const (
	// DownloadPending means the attachment was discovered but not fetched.
	DownloadPending DownloadStatus = "pending"

	// DownloadDone means the file is on disk at LocalPath.
	DownloadDone DownloadStatus = "downloaded"

	// DownloadFailed means every applicable source failed.
	DownloadFailed DownloadStatus = "failed"
)

// Manifest is the durable record of every item and attachment discovered in
// one import run and their download outcomes. Owned exclusively by the
// import orchestrator for the run's lifetime and persisted after every
// mutation, so a crash mid-download loses at most the in-flight attachment.
type Manifest struct {
	SchemaVersion int            `json:"schema_version"`
	RunID         string         `json:"run_id"`
	Collection    CollectionRef  `json:"collection"`
	CreatedAt     time.Time      `json:"created_at"`
	Items         []ManifestItem `json:"items"`
}

// ManifestItem is one catalog item plus its attachment outcomes.
type ManifestItem struct {
	Item        Item                 `json:"item"`
	Attachments []ManifestAttachment `json:"attachments"`
}

// ManifestAttachment records one attachment's download outcome.
type ManifestAttachment struct {
	Key         string         `json:"key"`
	Filename    string         `json:"filename"`
	LocalPath   string         `json:"local_path,omitempty"`
	Status      DownloadStatus `json:"status"`
	Size        int64          `json:"size,omitempty"`
	Error       string         `json:"error,omitempty"`
	Source      SourceMarker   `json:"source,omitempty"`
	Fingerprint *Fingerprint   `json:"fingerprint,omitempty"`
}

// NewManifest creates an empty manifest for a run.
func NewManifest(runID string, collection CollectionRef) *Manifest {
	return &Manifest{
		SchemaVersion: ManifestSchemaVersion,
		RunID:         runID,
		Collection:    collection,
		CreatedAt:     time.Now().UTC(),
	}
}

// Attachment finds the manifest entry for an item/attachment pair.
// Returns nil when not present.
func (m *Manifest) Attachment(itemKey, attachmentKey string) *ManifestAttachment {
	for i := range m.Items {
		if m.Items[i].Item.Key != itemKey {
			continue
		}
		for j := range m.Items[i].Attachments {
			if m.Items[i].Attachments[j].Key == attachmentKey {
				return &m.Items[i].Attachments[j]
			}
		}
	}
	return nil
}

// ItemEntry finds the manifest entry for an item, appending a new one when
// absent. The returned pointer stays valid until the next append.
func (m *Manifest) ItemEntry(item Item) *ManifestItem {
	for i := range m.Items {
		if m.Items[i].Item.Key == item.Key {
			return &m.Items[i]
		}
	}
	m.Items = append(m.Items, ManifestItem{Item: item})
	return &m.Items[len(m.Items)-1]
}

// Counts tallies attachment outcomes across the manifest.
func (m *Manifest) Counts() (pending, downloaded, failed int) {
	for i := range m.Items {
		for j := range m.Items[i].Attachments {
			switch m.Items[i].Attachments[j].Status {
			case DownloadPending:
				pending++
			case DownloadDone:
				downloaded++
			case DownloadFailed:
				failed++
			}
		}
	}
	return pending, downloaded, failed
}

// Validate checks structural integrity: schema version, unique item keys
// and unique attachment keys per item.
func (m *Manifest) Validate() error {
	if m.SchemaVersion != ManifestSchemaVersion {
		return ErrManifestCorrupt
	}
	if m.RunID == "" {
		return ErrManifestCorrupt
	}
	seenItems := make(map[string]bool, len(m.Items))
	for i := range m.Items {
		key := m.Items[i].Item.Key
		if key == "" || seenItems[key] {
			return ErrManifestCorrupt
		}
		seenItems[key] = true
		seenAtt := make(map[string]bool, len(m.Items[i].Attachments))
		for j := range m.Items[i].Attachments {
			a := &m.Items[i].Attachments[j]
			if a.Key == "" || seenAtt[a.Key] {
				return ErrManifestCorrupt
			}
			seenAtt[a.Key] = true
			switch a.Status {
			case DownloadPending, DownloadDone, DownloadFailed:
			default:
				return ErrManifestCorrupt
			}
		}
	}
	return nil
}
