// Package unavailable provides a null library source for sides that are
// not configured. Every call fails with domain.ErrSourceUnavailable, which
// the router treats like any transient source outage: fallback strategies
// move to the other source, single-source strategies surface the error.
package unavailable

import (
	"context"
	"fmt"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
)

// Ensure Adapter implements the interface.
var _ driven.LibraryAdapter = (*Adapter)(nil)

// Adapter is a library source that is never reachable.
type Adapter struct {
	ns     domain.Namespace
	reason string
}

// New creates the null adapter for a namespace. The reason appears in
// every returned error, e.g. "no library database configured".
func New(ns domain.Namespace, reason string) *Adapter {
	return &Adapter{ns: ns, reason: reason}
}

func (a *Adapter) Namespace() domain.Namespace {
	return a.ns
}

func (a *Adapter) err() error {
	return fmt.Errorf("%w: %s", domain.ErrSourceUnavailable, a.reason)
}

func (a *Adapter) Reachable(context.Context) error {
	return a.err()
}

func (a *Adapter) ListCollections(context.Context) ([]domain.CollectionRef, error) {
	return nil, a.err()
}

func (a *Adapter) FindCollectionByName(context.Context, string) (*domain.CollectionRef, error) {
	return nil, a.err()
}

func (a *Adapter) CollectionItems(context.Context, string, bool) ([]domain.Item, error) {
	return nil, a.err()
}

func (a *Adapter) ItemAttachments(context.Context, string) ([]domain.Attachment, error) {
	return nil, a.err()
}

func (a *Adapter) HasAttachmentFile(context.Context, string, string) (bool, error) {
	return false, a.err()
}

func (a *Adapter) DownloadAttachment(context.Context, string, string, string) (string, error) {
	return "", a.err()
}

func (a *Adapter) ItemMetadata(context.Context, string) (*domain.Item, error) {
	return nil, a.err()
}

func (a *Adapter) ListTags(context.Context) ([]string, error) {
	return nil, a.err()
}

func (a *Adapter) RecentItems(context.Context, int) ([]domain.Item, error) {
	return nil, a.err()
}

func (a *Adapter) Close() error {
	return nil
}
