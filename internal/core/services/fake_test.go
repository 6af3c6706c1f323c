package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
)

// fakeAdapter is an in-memory LibraryAdapter for router and importer tests.
type fakeAdapter struct {
	ns           domain.Namespace
	reachableErr error

	collections []domain.CollectionRef
	items       map[string][]domain.Item       // collection key -> items
	attachments map[string][]domain.Attachment // item key -> attachments
	files       map[string][]byte              // "itemKey/attKey" -> content
	fileMtime   time.Time                      // applied to every download
	onDownload  func(itemKey, attachmentKey string)

	mu              sync.Mutex
	listCollsCalls  int
	downloadCalls   int
	downloadedPairs []string
}

var _ driven.LibraryAdapter = (*fakeAdapter)(nil)

func newFakeAdapter(ns domain.Namespace) *fakeAdapter {
	return &fakeAdapter{
		ns:          ns,
		items:       make(map[string][]domain.Item),
		attachments: make(map[string][]domain.Attachment),
		files:       make(map[string][]byte),
		fileMtime:   time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (f *fakeAdapter) Namespace() domain.Namespace { return f.ns }

func (f *fakeAdapter) Reachable(context.Context) error { return f.reachableErr }

func (f *fakeAdapter) ListCollections(context.Context) ([]domain.CollectionRef, error) {
	f.mu.Lock()
	f.listCollsCalls++
	f.mu.Unlock()
	if f.reachableErr != nil {
		return nil, f.reachableErr
	}
	return f.collections, nil
}

func (f *fakeAdapter) FindCollectionByName(_ context.Context, name string) (*domain.CollectionRef, error) {
	if f.reachableErr != nil {
		return nil, f.reachableErr
	}
	for _, c := range f.collections {
		if c.Name == name {
			ref := c
			return &ref, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAdapter) CollectionItems(_ context.Context, collectionKey string, _ bool) ([]domain.Item, error) {
	if f.reachableErr != nil {
		return nil, f.reachableErr
	}
	items, ok := f.items[collectionKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return items, nil
}

func (f *fakeAdapter) ItemAttachments(_ context.Context, itemKey string) ([]domain.Attachment, error) {
	if f.reachableErr != nil {
		return nil, f.reachableErr
	}
	return f.attachments[itemKey], nil
}

func (f *fakeAdapter) HasAttachmentFile(_ context.Context, itemKey, attachmentKey string) (bool, error) {
	_, ok := f.files[itemKey+"/"+attachmentKey]
	return ok, nil
}

func (f *fakeAdapter) DownloadAttachment(_ context.Context, itemKey, attachmentKey, destPath string) (string, error) {
	f.mu.Lock()
	f.downloadCalls++
	f.downloadedPairs = append(f.downloadedPairs, itemKey+"/"+attachmentKey)
	f.mu.Unlock()
	if f.onDownload != nil {
		f.onDownload(itemKey, attachmentKey)
	}
	if f.reachableErr != nil {
		return "", f.reachableErr
	}
	content, ok := f.files[itemKey+"/"+attachmentKey]
	if !ok {
		return "", fmt.Errorf("attachment %s/%s: %w", itemKey, attachmentKey, domain.ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(destPath, content, 0o644); err != nil {
		return "", err
	}
	// Preserve the source modification time, as real adapters do, so
	// unchanged content fingerprints identically across runs.
	if err := os.Chtimes(destPath, f.fileMtime, f.fileMtime); err != nil {
		return "", err
	}
	return destPath, nil
}

func (f *fakeAdapter) ItemMetadata(_ context.Context, itemKey string) (*domain.Item, error) {
	for _, items := range f.items {
		for _, item := range items {
			if item.Key == itemKey {
				it := item
				return &it, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAdapter) ListTags(context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakeAdapter) RecentItems(_ context.Context, limit int) ([]domain.Item, error) {
	var all []domain.Item
	for _, items := range f.items {
		all = append(all, items...)
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeAdapter) Close() error { return nil }

// fakePipeline records pipeline requests and walks the stage callbacks the
// way the real pipeline does.
type fakePipeline struct {
	mu       sync.Mutex
	requests []driven.PipelineRequest
	failFor  map[string]error
	chunks   int
}

var _ driven.DocumentPipeline = (*fakePipeline)(nil)

var stageOrder = []domain.DocPhase{
	domain.DocConverting, domain.DocChunking, domain.DocEmbedding, domain.DocStoring,
}

func (p *fakePipeline) Process(_ context.Context, req driven.PipelineRequest) (*driven.PipelineResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	start := 0
	for i, phase := range stageOrder {
		if phase == req.StartPhase {
			start = i
			break
		}
	}
	for _, phase := range stageOrder[start:] {
		if req.OnPhase != nil {
			if err := req.OnPhase(phase); err != nil {
				return nil, err
			}
		}
	}
	if err := p.failFor[req.DocumentID]; err != nil {
		return nil, err
	}
	chunks := p.chunks
	if chunks == 0 {
		chunks = 3
	}
	return &driven.PipelineResult{ChunkCount: chunks}, nil
}

func (p *fakePipeline) calls() []driven.PipelineRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]driven.PipelineRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *fakePipeline) callFor(docID string) *driven.PipelineRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.requests {
		if p.requests[i].DocumentID == docID {
			return &p.requests[i]
		}
	}
	return nil
}
