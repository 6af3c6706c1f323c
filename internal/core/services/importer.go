package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driving"
	"github.com/custodia-labs/refsync-cli/internal/logger"
)

// Ensure Importer implements the interface.
var _ driving.BatchImporter = (*Importer)(nil)

// Default orchestration parameters.
const (
	// DefaultBatchSize bounds how many downloads run between checkpoint
	// flushes in phase 1.
	DefaultBatchSize = 16

	// DefaultWorkers sizes the phase-1 download worker pool.
	DefaultWorkers = 4
)

// Importer is the batch import orchestrator: a two-phase state machine
// (download-all, then process-all) that consults the router for fetches,
// the fingerprint service for skip decisions, and persists the manifest
// and checkpoint after every state transition.
//
// The importer exclusively owns the manifest and checkpoint aggregates for
// a run's lifetime; workers report results through a channel and a single
// collector goroutine applies every mutation.
type Importer struct {
	router       *Router
	manifests    driven.ManifestStore
	checkpoints  driven.CheckpointStore
	pipeline     driven.DocumentPipeline
	fingerprints *FingerprintService
	dataDir      string

	// Status tracking
	mu         sync.RWMutex
	activeRuns map[string]*driving.ImportStatus
}

// NewImporter creates the orchestrator. dataDir is where downloaded
// attachment files are placed, under runs/<run-id>/files.
func NewImporter(
	router *Router,
	manifests driven.ManifestStore,
	checkpoints driven.CheckpointStore,
	pipeline driven.DocumentPipeline,
	fingerprints *FingerprintService,
	dataDir string,
) *Importer {
	return &Importer{
		router:       router,
		manifests:    manifests,
		checkpoints:  checkpoints,
		pipeline:     pipeline,
		fingerprints: fingerprints,
		dataDir:      dataDir,
		activeRuns:   make(map[string]*driving.ImportStatus),
	}
}

// Run starts a fresh import run, or processes an existing manifest when
// opts.ProcessOnly is set.
func (im *Importer) Run(ctx context.Context, opts driving.ImportOptions) (*driving.ImportSummary, error) {
	if opts.ProcessOnly {
		if opts.RunID == "" {
			return nil, fmt.Errorf("%w: process-only requires a run id", domain.ErrInvalidInput)
		}
		return im.Resume(ctx, opts.RunID, opts)
	}

	if opts.Strategy != "" {
		im.router.SetStrategy(opts.Strategy)
	}

	ref, err := im.router.ResolveCollection(ctx, opts.Collection)
	if err != nil {
		return nil, err
	}

	// Prior fingerprints come from the most recent manifest for the same
	// collection, loaded before this run's manifest is first saved.
	prior := im.priorFingerprints(ctx, ref.Key)

	runID := uuid.NewString()
	cp := domain.NewCheckpoint(runID, ref.Key)
	manifest := domain.NewManifest(runID, *ref)

	if err := im.checkpoints.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	if err := im.manifests.Save(ctx, manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}

	return im.run(ctx, cp, manifest, prior, opts)
}

// Resume continues an interrupted run from its checkpoint.
func (im *Importer) Resume(ctx context.Context, runID string, opts driving.ImportOptions) (*driving.ImportSummary, error) {
	cp, err := im.checkpoints.Load(ctx, runID)
	if err != nil {
		// A corrupt checkpoint is fatal: never proceed on unverifiable state.
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	manifest, err := im.manifests.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", runID, err)
	}
	if cp.Phase == domain.PhaseComplete {
		logger.Info("run %s already complete", runID)
		return im.summarize(cp, nil), nil
	}
	if cp.Phase == domain.PhaseFailed {
		// A run only reaches the failed phase when discovery broke before
		// any document work, so retrying means going back to downloading.
		logger.Info("run %s previously failed, retrying", runID)
		cp.Phase = domain.PhaseDownloading
	}
	if opts.ProcessOnly {
		// A download-only run left the checkpoint in the downloading
		// phase with phase 1 finished; move straight to processing.
		cp.Phase = domain.PhaseProcessing
	}
	return im.run(ctx, cp, manifest, nil, opts)
}

// run drives the two phases from whatever state cp is in.
func (im *Importer) run(
	ctx context.Context,
	cp *domain.Checkpoint,
	manifest *domain.Manifest,
	prior map[string]*domain.Fingerprint,
	opts driving.ImportOptions,
) (*driving.ImportSummary, error) {
	im.mu.Lock()
	if _, running := im.activeRuns[cp.RunID]; running {
		im.mu.Unlock()
		return nil, fmt.Errorf("%w: run %s", domain.ErrImportInProgress, cp.RunID)
	}
	status := &driving.ImportStatus{RunID: cp.RunID, Running: true, Phase: cp.Phase}
	im.activeRuns[cp.RunID] = status
	im.mu.Unlock()
	defer im.clearStatus(cp.RunID)

	start := time.Now()
	skipped := make(map[string]bool)

	var runErr error
	if cp.Phase == domain.PhaseDownloading {
		runErr = im.downloadPhase(ctx, cp, manifest, opts, status)
	}

	if runErr == nil && !opts.DownloadOnly && cp.Phase != domain.PhaseFailed {
		if cp.Phase == domain.PhaseDownloading {
			cp.Phase = domain.PhaseProcessing
			if err := im.checkpoints.Save(ctx, cp); err != nil {
				runErr = fmt.Errorf("save checkpoint: %w", err)
			}
		}
		if runErr == nil {
			runErr = im.processPhase(ctx, cp, manifest, prior, opts, status, skipped)
		}
	}

	cp.Stats.ElapsedSeconds += time.Since(start).Seconds()
	// A failed run stays failed until a retry actually succeeds.
	if runErr == nil && !opts.DownloadOnly && cp.Phase != domain.PhaseFailed {
		cp.Phase = domain.PhaseComplete
	}
	if saveErr := im.checkpoints.Save(ctx, cp); saveErr != nil && runErr == nil {
		runErr = fmt.Errorf("save checkpoint: %w", saveErr)
	}

	summary := im.summarize(cp, skipped)
	if runErr != nil {
		return summary, runErr
	}
	logger.Info("run %s: %d completed, %d skipped, %d failed, %d chunks",
		cp.RunID, cp.Stats.DocumentsCompleted, cp.Stats.DocumentsSkipped,
		cp.Stats.DocumentsFailed, cp.Stats.ChunksCreated)
	return summary, nil
}

// downloadResult is one worker's report, applied by the collector only.
type downloadResult struct {
	itemKey string
	attKey  string
	path    string
	size    int64
	source  domain.SourceMarker
	err     error
}

// downloadPhase discovers items and attachments and downloads every
// pending attachment in bounded batches through a worker pool. All
// manifest mutations happen on the collector side of the results channel.
func (im *Importer) downloadPhase(
	ctx context.Context,
	cp *domain.Checkpoint,
	manifest *domain.Manifest,
	opts driving.ImportOptions,
	status *driving.ImportStatus,
) error {
	im.updateStatus(status, func(s *driving.ImportStatus) { s.Phase = domain.PhaseDownloading })
	logger.Section(fmt.Sprintf("download phase: run %s", cp.RunID))

	items, err := im.router.Items(ctx, manifest.Collection, opts.IncludeSub)
	if err != nil {
		// The target collection vanished or no source can serve it:
		// unrecoverable for this run.
		cp.Phase = domain.PhaseFailed
		if saveErr := im.checkpoints.Save(ctx, cp); saveErr != nil {
			logger.Warn("saving failed checkpoint: %v", saveErr)
		}
		return err
	}

	// Tag filtering happens before any attachment is fetched.
	seen := make(map[string]bool, len(items))
	kept := items[:0]
	for _, item := range items {
		if seen[item.Key] {
			continue
		}
		seen[item.Key] = true
		if !opts.Tags.Matches(item.Tags) {
			logger.Debug("item %s filtered out by tags %v", item.Key, item.Tags)
			continue
		}
		kept = append(kept, item)
	}

	// Discover attachments and record pending manifest entries.
	for _, item := range kept {
		if err := ctx.Err(); err != nil {
			return err
		}
		atts, err := im.router.ItemAttachments(ctx, item.Key)
		if err != nil {
			logger.Warn("discovering attachments of %s: %v", item.Key, err)
			continue
		}
		entry := manifest.ItemEntry(item)
		for _, att := range atts {
			if manifest.Attachment(item.Key, att.Key) != nil {
				continue // resumed run: already discovered
			}
			entry.Attachments = append(entry.Attachments, domain.ManifestAttachment{
				Key:      att.Key,
				Filename: att.Filename,
				Status:   domain.DownloadPending,
			})
		}
		if err := im.manifests.Save(ctx, manifest); err != nil {
			return fmt.Errorf("save manifest: %w", err)
		}
	}

	// Collect the pending work. Already-downloaded entries (resume) are
	// left untouched.
	type work struct{ itemKey, attKey, filename string }
	var pendingWork []work
	for i := range manifest.Items {
		itemKey := manifest.Items[i].Item.Key
		for j := range manifest.Items[i].Attachments {
			a := &manifest.Items[i].Attachments[j]
			if a.Status == domain.DownloadDone {
				continue
			}
			pendingWork = append(pendingWork, work{itemKey, a.Key, a.Filename})
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("create download pool: %w", err)
	}
	defer pool.Release()

	filesDir := im.runFilesDir(cp.RunID)

	for batchStart := 0; batchStart < len(pendingWork); batchStart += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := pendingWork[batchStart:min(batchStart+batchSize, len(pendingWork))]

		results := make(chan downloadResult, len(batch))
		var wg sync.WaitGroup
		for _, w := range batch {
			w := w
			wg.Add(1)
			submitErr := pool.Submit(func() {
				defer wg.Done()
				// Keyed per attachment: two attachments of one item may
				// carry the same filename.
				dest := filepath.Join(filesDir, w.itemKey, w.attKey, w.filename)
				path, source, err := im.router.FetchAttachment(ctx, w.itemKey, w.attKey, dest)
				res := downloadResult{itemKey: w.itemKey, attKey: w.attKey, err: err}
				if err == nil {
					res.path = path
					res.source = source
					if info, statErr := os.Stat(path); statErr == nil {
						res.size = info.Size()
					}
				}
				results <- res
			})
			if submitErr != nil {
				wg.Done()
				results <- downloadResult{itemKey: w.itemKey, attKey: w.attKey, err: submitErr}
			}
		}
		go func() {
			wg.Wait()
			close(results)
		}()

		// Single collector: the only writer of the manifest.
		for res := range results {
			entry := manifest.Attachment(res.itemKey, res.attKey)
			if entry == nil {
				continue
			}
			if res.err != nil {
				entry.Status = domain.DownloadFailed
				entry.Error = res.err.Error()
				im.updateStatus(status, func(s *driving.ImportStatus) { s.DownloadsFailed++ })
				logger.Warn("download %s/%s failed: %v", res.itemKey, res.attKey, res.err)
			} else {
				entry.Status = domain.DownloadDone
				entry.LocalPath = res.path
				entry.Size = res.size
				entry.Source = res.source
				entry.Error = ""
				im.updateStatus(status, func(s *driving.ImportStatus) { s.Downloaded++ })
			}
			if err := im.manifests.Save(ctx, manifest); err != nil {
				return fmt.Errorf("save manifest: %w", err)
			}
		}

		// Periodic checkpoint flush between batches.
		cp.UpdatedAt = time.Now().UTC()
		if err := im.checkpoints.Save(ctx, cp); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}

	_, downloaded, failed := manifest.Counts()
	logger.Info("download phase done: %d downloaded, %d failed", downloaded, failed)
	return ctx.Err()
}

// processPhase fingerprints every downloaded attachment, skips unchanged
// documents, and drives the pipeline for new or changed ones, persisting
// the checkpoint after each stage transition.
func (im *Importer) processPhase(
	ctx context.Context,
	cp *domain.Checkpoint,
	manifest *domain.Manifest,
	prior map[string]*domain.Fingerprint,
	opts driving.ImportOptions,
	status *driving.ImportStatus,
	skipped map[string]bool,
) error {
	im.updateStatus(status, func(s *driving.ImportStatus) { s.Phase = domain.PhaseProcessing })
	logger.Section(fmt.Sprintf("process phase: run %s", cp.RunID))

	if im.pipeline == nil {
		return domain.ErrPipelineUnavailable
	}

	// Register every downloaded attachment as a document.
	type candidate struct {
		docID string
		item  domain.Item
		att   *domain.ManifestAttachment
	}
	var candidates []candidate
	for i := range manifest.Items {
		item := manifest.Items[i].Item
		for j := range manifest.Items[i].Attachments {
			a := &manifest.Items[i].Attachments[j]
			if a.Status != domain.DownloadDone {
				continue
			}
			docID := item.Key + "/" + a.Key
			cp.EnsureDocument(docID)
			candidates = append(candidates, candidate{docID, item, a})
		}
	}
	cp.Stats.DocumentsTotal = len(candidates)
	if err := im.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	im.updateStatus(status, func(s *driving.ImportStatus) { s.DocumentsTotal = len(candidates) })

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		dc := cp.Document(c.docID)
		if dc.Phase == domain.DocDone {
			im.updateStatus(status, func(s *driving.ImportStatus) { s.DocumentsCompleted++ })
			continue // resumed run: already processed
		}

		fp, err := im.fingerprints.Compute(c.att.LocalPath)
		if err != nil {
			im.failDocument(ctx, cp, status, c.docID, err)
			if opts.FailFast {
				return err
			}
			continue
		}

		// Unchanged content never re-enters the pipeline. A document that
		// was interrupted mid-pipeline is never "unchanged": it must
		// finish what it started.
		priorFP := c.att.Fingerprint
		if priorFP == nil && prior != nil {
			priorFP = prior[c.docID]
		}
		if dc.Phase == domain.DocPending && im.fingerprints.Unchanged(priorFP, *fp) {
			logger.Debug("skip unchanged %s", c.docID)
			cp.SetDocumentPhase(c.docID, domain.DocDone, "")
			cp.Stats.DocumentsSkipped++
			skipped[c.docID] = true
			im.updateStatus(status, func(s *driving.ImportStatus) { s.DocumentsSkipped++ })
			c.att.Fingerprint = fp
			if err := im.manifests.Save(ctx, manifest); err != nil {
				return fmt.Errorf("save manifest: %w", err)
			}
			if err := im.checkpoints.Save(ctx, cp); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
			continue
		}

		// Failed documents retry from scratch; mid-pipeline documents
		// resume from their last recorded stage.
		startPhase := domain.DocConverting
		switch dc.Phase {
		case domain.DocConverting, domain.DocChunking, domain.DocEmbedding, domain.DocStoring:
			startPhase = dc.Phase
			logger.Debug("resuming %s from %s", c.docID, startPhase)
		}

		res, err := im.pipeline.Process(ctx, driven.PipelineRequest{
			DocumentID: c.docID,
			SourcePath: c.att.LocalPath,
			Item:       c.item,
			StartPhase: startPhase,
			OnPhase: func(phase domain.DocPhase) error {
				cp.SetDocumentPhase(c.docID, phase, "")
				return im.checkpoints.Save(ctx, cp)
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			im.failDocument(ctx, cp, status, c.docID, err)
			if opts.FailFast {
				return fmt.Errorf("process %s: %w", c.docID, err)
			}
			continue
		}

		cp.SetDocumentPhase(c.docID, domain.DocDone, "")
		dc = cp.Document(c.docID)
		dc.ChunkCount = res.ChunkCount
		cp.Stats.DocumentsCompleted++
		cp.Stats.ChunksCreated += res.ChunkCount
		im.updateStatus(status, func(s *driving.ImportStatus) { s.DocumentsCompleted++ })

		c.att.Fingerprint = fp
		if err := im.manifests.Save(ctx, manifest); err != nil {
			return fmt.Errorf("save manifest: %w", err)
		}
		if err := im.checkpoints.Save(ctx, cp); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}

	return ctx.Err()
}

// failDocument records a per-document failure without halting the batch.
func (im *Importer) failDocument(ctx context.Context, cp *domain.Checkpoint, status *driving.ImportStatus, docID string, cause error) {
	logger.Warn("document %s failed: %v", docID, cause)
	cp.SetDocumentPhase(docID, domain.DocFailed, cause.Error())
	cp.Stats.DocumentsFailed++
	im.updateStatus(status, func(s *driving.ImportStatus) { s.DocumentsFailed++ })
	if err := im.checkpoints.Save(ctx, cp); err != nil {
		logger.Warn("saving checkpoint after failure: %v", err)
	}
}

// Status reports progress for a run, live when running, otherwise derived
// from the stored checkpoint.
func (im *Importer) Status(ctx context.Context, runID string) (*driving.ImportStatus, error) {
	im.mu.RLock()
	if status, ok := im.activeRuns[runID]; ok {
		copied := *status
		im.mu.RUnlock()
		return &copied, nil
	}
	im.mu.RUnlock()

	cp, err := im.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &driving.ImportStatus{
		RunID:              cp.RunID,
		Running:            false,
		Phase:              cp.Phase,
		DocumentsTotal:     cp.Stats.DocumentsTotal,
		DocumentsCompleted: cp.Stats.DocumentsCompleted,
		DocumentsSkipped:   cp.Stats.DocumentsSkipped,
		DocumentsFailed:    cp.Stats.DocumentsFailed,
	}, nil
}

// Cleanup removes a run's checkpoint, manifest and downloaded files.
// The only path that ever deletes a checkpoint.
// Active snapshots the runs currently executing in this process.
func (im *Importer) Active() []*driving.ImportStatus {
	im.mu.RLock()
	defer im.mu.RUnlock()

	out := make([]*driving.ImportStatus, 0, len(im.activeRuns))
	for _, status := range im.activeRuns {
		copied := *status
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}

func (im *Importer) Cleanup(ctx context.Context, runID string) error {
	im.mu.RLock()
	_, running := im.activeRuns[runID]
	im.mu.RUnlock()
	if running {
		return fmt.Errorf("%w: run %s", domain.ErrImportInProgress, runID)
	}

	var errs []error
	if err := im.checkpoints.Delete(ctx, runID); err != nil {
		errs = append(errs, fmt.Errorf("delete checkpoint: %w", err))
	}
	if err := im.manifests.Delete(ctx, runID); err != nil {
		errs = append(errs, fmt.Errorf("delete manifest: %w", err))
	}
	if err := os.RemoveAll(filepath.Join(im.dataDir, "runs", runID)); err != nil {
		errs = append(errs, fmt.Errorf("remove run files: %w", err))
	}
	return errors.Join(errs...)
}

// priorFingerprints loads the fingerprints of the most recent manifest for
// a collection, keyed by document id. Nil when there is no prior run.
func (im *Importer) priorFingerprints(ctx context.Context, collectionKey string) map[string]*domain.Fingerprint {
	prev, err := im.manifests.LatestForCollection(ctx, collectionKey)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("loading prior manifest: %v", err)
		}
		return nil
	}
	prior := make(map[string]*domain.Fingerprint)
	for i := range prev.Items {
		itemKey := prev.Items[i].Item.Key
		for j := range prev.Items[i].Attachments {
			a := &prev.Items[i].Attachments[j]
			if a.Fingerprint != nil {
				prior[itemKey+"/"+a.Key] = a.Fingerprint
			}
		}
	}
	return prior
}

// summarize builds the final run report from the checkpoint.
func (im *Importer) summarize(cp *domain.Checkpoint, skipped map[string]bool) *driving.ImportSummary {
	summary := &driving.ImportSummary{
		RunID: cp.RunID,
		Phase: cp.Phase,
		Stats: cp.Stats,
	}
	for i := range cp.Documents {
		dc := &cp.Documents[i]
		summary.Documents = append(summary.Documents, driving.DocumentOutcome{
			DocumentID: dc.DocumentID,
			Phase:      dc.Phase,
			Skipped:    skipped[dc.DocumentID],
			ChunkCount: dc.ChunkCount,
			Error:      dc.Error,
		})
	}
	return summary
}

// runFilesDir is where a run's downloaded files live.
func (im *Importer) runFilesDir(runID string) string {
	return filepath.Join(im.dataDir, "runs", runID, "files")
}

// updateStatus mutates a run's live status under the lock. Status and
// Active snapshot these fields from other goroutines, so every write
// goes through here.
func (im *Importer) updateStatus(status *driving.ImportStatus, fn func(*driving.ImportStatus)) {
	im.mu.Lock()
	fn(status)
	im.mu.Unlock()
}

// clearStatus removes the live status for a run.
func (im *Importer) clearStatus(runID string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	delete(im.activeRuns, runID)
}
