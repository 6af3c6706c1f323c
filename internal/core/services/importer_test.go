package services

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/refsync-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driving"
)

// importHarness wires an Importer over fake sources and in-memory stores.
type importHarness struct {
	local       *fakeAdapter
	remote      *fakeAdapter
	pipeline    *fakePipeline
	manifests   *memory.ManifestStore
	checkpoints *memory.CheckpointStore
	importer    *Importer
}

func newImportHarness(t *testing.T, strategy domain.Strategy) *importHarness {
	t.Helper()
	local, remote := twoSources()
	h := &importHarness{
		local:       local,
		remote:      remote,
		pipeline:    &fakePipeline{failFor: make(map[string]error)},
		manifests:   memory.NewManifestStore(),
		checkpoints: memory.NewCheckpointStore(),
	}
	h.importer = NewImporter(
		NewRouter(local, remote, strategy),
		h.manifests,
		h.checkpoints,
		h.pipeline,
		NewFingerprintService("nomic-embed-text", "v1", "v1"),
		t.TempDir(),
	)
	return h
}

// seedLibrary populates collection "42"/"ABCD1234" with three items
// carrying five attachments. The local source is missing one file, which
// the remote source holds.
func (h *importHarness) seedLibrary() {
	items := []domain.Item{
		{Key: "ITEM1", Title: "Attention Is All You Need", Tags: []string{"ML"}},
		{Key: "ITEM2", Title: "Epidemic Models", Tags: []string{"Epi"}},
		{Key: "ITEM3", Title: "Working Notes", Tags: []string{"Draft"}},
	}
	atts := map[string][]domain.Attachment{
		"ITEM1": {
			{Key: "ATT1", ItemKey: "ITEM1", Filename: "attention.pdf"},
			{Key: "ATT2", ItemKey: "ITEM1", Filename: "supplement.pdf"},
		},
		"ITEM2": {
			{Key: "ATT3", ItemKey: "ITEM2", Filename: "models.pdf"},
			{Key: "ATT4", ItemKey: "ITEM2", Filename: "data.csv"},
		},
		"ITEM3": {
			{Key: "ATT5", ItemKey: "ITEM3", Filename: "notes.pdf"},
		},
	}
	files := map[string][]byte{
		"ITEM1/ATT1": []byte("attention pdf bytes"),
		"ITEM1/ATT2": []byte("supplement pdf bytes"),
		"ITEM2/ATT3": []byte("models pdf bytes"),
		"ITEM2/ATT4": []byte("csv bytes"),
		"ITEM3/ATT5": []byte("notes pdf bytes"),
	}

	for _, src := range []*fakeAdapter{h.local, h.remote} {
		key := "42"
		if src.ns == domain.NamespaceRemote {
			key = "ABCD1234"
		}
		src.items[key] = items
		for k, v := range atts {
			src.attachments[k] = v
		}
		for k, v := range files {
			src.files[k] = v
		}
	}
	// The local database never synced ITEM3's file.
	delete(h.local.files, "ITEM3/ATT5")
}

func TestImporter_Run_LocalFirstWithRemoteFallback(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()

	summary, err := h.importer.Run(context.Background(), driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseComplete, summary.Phase)
	assert.Equal(t, 5, summary.Stats.DocumentsTotal)
	assert.Equal(t, 5, summary.Stats.DocumentsCompleted)
	assert.Zero(t, summary.Stats.DocumentsFailed)
	assert.Equal(t, 15, summary.Stats.ChunksCreated) // 3 chunks per document

	// Provenance: four attachments served locally, the missing one fell
	// back to the remote source.
	manifest, err := h.manifests.Load(context.Background(), summary.RunID)
	require.NoError(t, err)
	sources := make(map[domain.SourceMarker]int)
	for i := range manifest.Items {
		for j := range manifest.Items[i].Attachments {
			a := manifest.Items[i].Attachments[j]
			assert.Equal(t, domain.DownloadDone, a.Status)
			assert.NotNil(t, a.Fingerprint)
			sources[a.Source]++
		}
	}
	assert.Equal(t, 4, sources[domain.SourceLocal])
	assert.Equal(t, 1, sources[domain.SourceRemote])
}

func TestImporter_Run_StrategyOptionOverridesRouter(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()

	summary, err := h.importer.Run(context.Background(), driving.ImportOptions{
		Collection: "Papers",
		Strategy:   domain.StrategyRemoteOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Stats.DocumentsCompleted)

	manifest, err := h.manifests.Load(context.Background(), summary.RunID)
	require.NoError(t, err)
	for i := range manifest.Items {
		for j := range manifest.Items[i].Attachments {
			assert.Equal(t, domain.SourceRemote, manifest.Items[i].Attachments[j].Source)
		}
	}
}

func TestImporter_Run_UnchangedReimportSkipsAll(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	ctx := context.Background()

	first, err := h.importer.Run(ctx, driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err)
	require.Equal(t, 5, first.Stats.DocumentsCompleted)
	pipelineCalls := len(h.pipeline.calls())
	require.Equal(t, 5, pipelineCalls)

	second, err := h.importer.Run(ctx, driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseComplete, second.Phase)
	assert.Equal(t, 5, second.Stats.DocumentsSkipped)
	assert.Zero(t, second.Stats.DocumentsCompleted)
	assert.Len(t, h.pipeline.calls(), pipelineCalls, "unchanged documents must not re-enter the pipeline")
	for _, doc := range second.Documents {
		assert.True(t, doc.Skipped, "document %s", doc.DocumentID)
		assert.Equal(t, domain.DocDone, doc.Phase)
	}
}

func TestImporter_Run_ChangedContentReprocessed(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	ctx := context.Background()

	_, err := h.importer.Run(ctx, driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err)

	// One source file changes between runs.
	h.local.files["ITEM1/ATT1"] = []byte("attention pdf bytes, revised")
	h.local.fileMtime = h.local.fileMtime.Add(time.Hour)

	second, err := h.importer.Run(ctx, driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err)

	// Only the changed attachment is reprocessed. Its siblings share the
	// bumped mtime, so they are reprocessed too; the remote-sourced file
	// kept its old mtime and is skipped.
	assert.Equal(t, domain.PhaseComplete, second.Phase)
	assert.Equal(t, 1, second.Stats.DocumentsSkipped)
	assert.Equal(t, 4, second.Stats.DocumentsCompleted)
}

func TestImporter_Run_TagFilterBlocksDownloads(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()

	summary, err := h.importer.Run(context.Background(), driving.ImportOptions{
		Collection: "Papers",
		Tags:       domain.TagFilter{Exclude: []string{"Draft"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Stats.DocumentsTotal)
	for _, pair := range h.local.downloadedPairs {
		assert.NotContains(t, pair, "ITEM3", "filtered items must never be fetched")
	}
	assert.Zero(t, h.remote.downloadCalls, "the only remote-held file belongs to the filtered item")
}

func TestImporter_Run_SameFilenameAttachmentsDoNotCollide(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalOnly)
	h.local.items["42"] = []domain.Item{{Key: "ITEM1", Title: "Doubled"}}
	h.local.attachments["ITEM1"] = []domain.Attachment{
		{Key: "ATT1", ItemKey: "ITEM1", Filename: "paper.pdf"},
		{Key: "ATT2", ItemKey: "ITEM1", Filename: "paper.pdf"},
	}
	h.local.files["ITEM1/ATT1"] = []byte("first version")
	h.local.files["ITEM1/ATT2"] = []byte("second version")

	summary, err := h.importer.Run(context.Background(), driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stats.DocumentsCompleted)

	manifest, err := h.manifests.Load(context.Background(), summary.RunID)
	require.NoError(t, err)
	a := manifest.Attachment("ITEM1", "ATT1")
	b := manifest.Attachment("ITEM1", "ATT2")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotEqual(t, a.LocalPath, b.LocalPath, "equal filenames must not share a destination")

	first, err := os.ReadFile(a.LocalPath)
	require.NoError(t, err)
	second, err := os.ReadFile(b.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "first version", string(first))
	assert.Equal(t, "second version", string(second))
}

func TestImporter_Run_DocumentFailureIsolated(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	h.pipeline.failFor["ITEM2/ATT3"] = errors.New("conversion blew up")

	summary, err := h.importer.Run(context.Background(), driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err, "one bad document must not abort the batch")

	assert.Equal(t, domain.PhaseComplete, summary.Phase)
	assert.Equal(t, 4, summary.Stats.DocumentsCompleted)
	assert.Equal(t, 1, summary.Stats.DocumentsFailed)

	var failed *driving.DocumentOutcome
	for i := range summary.Documents {
		if summary.Documents[i].DocumentID == "ITEM2/ATT3" {
			failed = &summary.Documents[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, domain.DocFailed, failed.Phase)
	assert.Contains(t, failed.Error, "conversion blew up")
}

func TestImporter_Run_FailFast(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	h.pipeline.failFor["ITEM1/ATT1"] = errors.New("conversion blew up")

	summary, err := h.importer.Run(context.Background(), driving.ImportOptions{
		Collection: "Papers",
		FailFast:   true,
	})
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.NotEqual(t, domain.PhaseComplete, summary.Phase)
	assert.Less(t, summary.Stats.DocumentsCompleted, 5)
}

func TestImporter_Run_UnknownCollection(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()

	_, err := h.importer.Run(context.Background(), driving.ImportOptions{Collection: "Nonexistent"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImporter_Run_ProcessOnlyRequiresRunID(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)

	_, err := h.importer.Run(context.Background(), driving.ImportOptions{ProcessOnly: true})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestImporter_DownloadOnlyThenProcessOnly(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	ctx := context.Background()

	first, err := h.importer.Run(ctx, driving.ImportOptions{Collection: "Papers", DownloadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, h.pipeline.calls(), "download-only must not touch the pipeline")
	assert.NotEqual(t, domain.PhaseComplete, first.Phase)

	manifest, err := h.manifests.Load(ctx, first.RunID)
	require.NoError(t, err)
	_, downloaded, failed := manifest.Counts()
	assert.Equal(t, 5, downloaded)
	assert.Zero(t, failed)

	second, err := h.importer.Run(ctx, driving.ImportOptions{ProcessOnly: true, RunID: first.RunID})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseComplete, second.Phase)
	assert.Equal(t, 5, second.Stats.DocumentsCompleted)
	assert.Len(t, h.pipeline.calls(), 5)
}

func TestImporter_Resume_FromMidPipeline(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	ctx := context.Background()

	// An interrupted run: A finished, B was cut off mid-embedding, C never
	// started.
	filesDir := t.TempDir()
	cp := domain.NewCheckpoint("run-1", "42")
	cp.Phase = domain.PhaseProcessing
	cp.SetDocumentPhase("ITEM1/ATT1", domain.DocDone, "")
	cp.SetDocumentPhase("ITEM1/ATT2", domain.DocEmbedding, "")
	cp.EnsureDocument("ITEM2/ATT3")

	manifest := domain.NewManifest("run-1", domain.CollectionRef{
		Key: "42", Namespace: domain.NamespaceLocal, Name: "Papers",
	})
	for _, att := range []struct{ itemKey, attKey, filename string }{
		{"ITEM1", "ATT1", "attention.pdf"},
		{"ITEM1", "ATT2", "supplement.pdf"},
		{"ITEM2", "ATT3", "models.pdf"},
	} {
		item, err := h.local.ItemMetadata(ctx, att.itemKey)
		require.NoError(t, err)
		path, err := h.local.DownloadAttachment(ctx, att.itemKey, att.attKey, filesDir+"/"+att.filename)
		require.NoError(t, err)
		entry := manifest.ItemEntry(*item)
		entry.Attachments = append(entry.Attachments, domain.ManifestAttachment{
			Key:       att.attKey,
			Filename:  att.filename,
			Status:    domain.DownloadDone,
			LocalPath: path,
		})
	}
	require.NoError(t, h.checkpoints.Save(ctx, cp))
	require.NoError(t, h.manifests.Save(ctx, manifest))

	summary, err := h.importer.Resume(ctx, "run-1", driving.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseComplete, summary.Phase)

	// The finished document is untouched; the interrupted one resumes from
	// its recorded stage; the pending one runs from the top.
	assert.Nil(t, h.pipeline.callFor("ITEM1/ATT1"))
	b := h.pipeline.callFor("ITEM1/ATT2")
	require.NotNil(t, b)
	assert.Equal(t, domain.DocEmbedding, b.StartPhase)
	c := h.pipeline.callFor("ITEM2/ATT3")
	require.NotNil(t, c)
	assert.Equal(t, domain.DocConverting, c.StartPhase)
}

func TestImporter_Run_CancelledMidDownloadIsResumable(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()

	// The run is cut off during the second download. Batches of one keep
	// the interruption point deterministic.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	downloads := 0
	h.local.onDownload = func(string, string) {
		downloads++
		if downloads == 2 {
			cancel()
		}
	}

	summary, err := h.importer.Run(ctx, driving.ImportOptions{Collection: "Papers", BatchSize: 1})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)

	stored, err := h.checkpoints.Load(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDownloading, stored.Phase, "an interrupted download phase must stay resumable")
	manifest, err := h.manifests.Load(context.Background(), summary.RunID)
	require.NoError(t, err)
	pending, downloaded, failed := manifest.Counts()
	assert.Equal(t, 2, downloaded)
	assert.Equal(t, 3, pending)
	assert.Zero(t, failed)

	h.local.onDownload = nil
	before := len(h.local.downloadedPairs)
	resumed, err := h.importer.Resume(context.Background(), summary.RunID, driving.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseComplete, resumed.Phase)
	assert.Equal(t, 5, resumed.Stats.DocumentsCompleted)

	resumedPairs := h.local.downloadedPairs[before:]
	assert.NotContains(t, resumedPairs, "ITEM1/ATT1", "finished downloads must not repeat")
	assert.NotContains(t, resumedPairs, "ITEM1/ATT2", "finished downloads must not repeat")
}

func TestImporter_Resume_FailedRunRetriesDiscovery(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	ctx := context.Background()

	cp := domain.NewCheckpoint("run-f", "42")
	cp.Phase = domain.PhaseFailed
	manifest := domain.NewManifest("run-f", domain.CollectionRef{
		Key: "42", Namespace: domain.NamespaceLocal, Name: "Papers",
	})
	require.NoError(t, h.checkpoints.Save(ctx, cp))
	require.NoError(t, h.manifests.Save(ctx, manifest))

	// Sources still down: the retry fails again and the failure sticks.
	h.local.reachableErr = domain.ErrSourceUnavailable
	h.remote.reachableErr = domain.ErrSourceUnavailable
	_, err := h.importer.Resume(ctx, "run-f", driving.ImportOptions{})
	require.Error(t, err)
	stored, err := h.checkpoints.Load(ctx, "run-f")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFailed, stored.Phase, "a failed run must never flip to complete without work")

	// Sources back: discovery reruns from the top and the run finishes.
	h.local.reachableErr = nil
	h.remote.reachableErr = nil
	summary, err := h.importer.Resume(ctx, "run-f", driving.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseComplete, summary.Phase)
	assert.Equal(t, 5, summary.Stats.DocumentsCompleted)
}

func TestImporter_Resume_AlreadyComplete(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	ctx := context.Background()

	first, err := h.importer.Run(ctx, driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err)

	calls := len(h.pipeline.calls())
	again, err := h.importer.Resume(ctx, first.RunID, driving.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseComplete, again.Phase)
	assert.Len(t, h.pipeline.calls(), calls)
}

func TestImporter_Resume_CorruptCheckpoint(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	ctx := context.Background()

	bad := domain.NewCheckpoint("run-bad", "42")
	bad.SchemaVersion = 99
	require.NoError(t, h.checkpoints.Save(ctx, bad))

	_, err := h.importer.Resume(ctx, "run-bad", driving.ImportOptions{})
	assert.ErrorIs(t, err, domain.ErrCheckpointCorrupt)
}

func TestImporter_Resume_UnknownRun(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)

	_, err := h.importer.Resume(context.Background(), "no-such-run", driving.ImportOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImporter_Status_FinishedRun(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	ctx := context.Background()

	summary, err := h.importer.Run(ctx, driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err)

	status, err := h.importer.Status(ctx, summary.RunID)
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Equal(t, domain.PhaseComplete, status.Phase)
	assert.Equal(t, 5, status.DocumentsTotal)
	assert.Equal(t, 5, status.DocumentsCompleted)
}

func TestImporter_Active_ConcurrentPolling(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()

	// Poll the live status the whole time the run executes, the way the
	// progress displays do.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, s := range h.importer.Active() {
				_ = s.Downloaded + s.DocumentsCompleted + s.DocumentsFailed
			}
		}
	}()

	summary, err := h.importer.Run(context.Background(), driving.ImportOptions{Collection: "Papers"})
	close(stop)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, 5, summary.Stats.DocumentsCompleted)
	assert.Empty(t, h.importer.Active(), "finished runs leave the active set")
}

func TestImporter_Status_UnknownRun(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)

	_, err := h.importer.Status(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImporter_Cleanup(t *testing.T) {
	h := newImportHarness(t, domain.StrategyLocalFirst)
	h.seedLibrary()
	ctx := context.Background()

	summary, err := h.importer.Run(ctx, driving.ImportOptions{Collection: "Papers"})
	require.NoError(t, err)

	require.NoError(t, h.importer.Cleanup(ctx, summary.RunID))

	_, err = h.checkpoints.Load(ctx, summary.RunID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.manifests.Load(ctx, summary.RunID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
