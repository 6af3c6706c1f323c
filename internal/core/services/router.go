package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/refsync-cli/internal/logger"
)

// AutoPicker decides which source the auto strategy prefers for one
// attachment. Pluggable because "smart" selection is a heuristic, not a
// fixed formula.
type AutoPicker func(ctx context.Context, local, remote driven.LibraryAdapter, itemKey, attachmentKey string) domain.SourceMarker

// defaultAutoPicker prefers local when the database is reachable and holds
// the specific file, remote otherwise.
func defaultAutoPicker(ctx context.Context, local, remote driven.LibraryAdapter, itemKey, attachmentKey string) domain.SourceMarker {
	if err := local.Reachable(ctx); err != nil {
		logger.Debug("auto: local unreachable, preferring remote: %v", err)
		return domain.SourceRemote
	}
	if itemKey != "" && attachmentKey != "" {
		has, err := local.HasAttachmentFile(ctx, itemKey, attachmentKey)
		if err != nil || !has {
			logger.Debug("auto: %s/%s not in local store, preferring remote", itemKey, attachmentKey)
			return domain.SourceRemote
		}
	}
	logger.Debug("auto: preferring local for %s/%s", itemKey, attachmentKey)
	return domain.SourceLocal
}

// Router chooses, per fetch, which library source to use according to the
// run's strategy, normalizes collection keys between the two sources'
// namespaces, and falls back between sources on failure.
//
// The router is a pure query service: it records which source served each
// fetch but never writes the manifest itself.
type Router struct {
	local    driven.LibraryAdapter
	remote   driven.LibraryAdapter
	strategy domain.Strategy
	auto     AutoPicker

	// Memoized key conversions, scoped to this router (one run).
	mu       sync.Mutex
	keyCache map[string]string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithAutoPicker overrides the auto strategy heuristic.
func WithAutoPicker(picker AutoPicker) RouterOption {
	return func(r *Router) {
		if picker != nil {
			r.auto = picker
		}
	}
}

// NewRouter creates a router over the two library sources.
func NewRouter(local, remote driven.LibraryAdapter, strategy domain.Strategy, opts ...RouterOption) *Router {
	r := &Router{
		local:    local,
		remote:   remote,
		strategy: strategy,
		auto:     defaultAutoPicker,
		keyCache: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategy returns the configured strategy.
func (r *Router) Strategy() domain.Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

// SetStrategy switches the routing strategy for subsequent fetches. The
// importer applies a run's strategy option here before phase 1 starts.
func (r *Router) SetStrategy(s domain.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = s
}

// Adapter returns the adapter owning a namespace.
func (r *Router) Adapter(ns domain.Namespace) driven.LibraryAdapter {
	if ns == domain.NamespaceRemote {
		return r.remote
	}
	return r.local
}

// marked pairs an adapter with its source marker for ordered attempts.
type marked struct {
	adapter driven.LibraryAdapter
	source  domain.SourceMarker
}

// order returns the adapters to try, primary first, for an operation on
// the given item/attachment (keys may be empty for collection-level calls).
func (r *Router) order(ctx context.Context, itemKey, attachmentKey string) []marked {
	local := marked{r.local, domain.SourceLocal}
	remote := marked{r.remote, domain.SourceRemote}

	switch r.Strategy() {
	case domain.StrategyLocalOnly:
		return []marked{local}
	case domain.StrategyRemoteOnly:
		return []marked{remote}
	case domain.StrategyRemoteFirst:
		return []marked{remote, local}
	case domain.StrategyAuto:
		if r.auto(ctx, r.local, r.remote, itemKey, attachmentKey) == domain.SourceRemote {
			return []marked{remote, local}
		}
		return []marked{local, remote}
	default: // local-first
		return []marked{local, remote}
	}
}

// NormalizeKey converts a collection key into the target namespace.
// Keys already in the target namespace pass through. Conversion goes by
// way of the collection's human-readable name: look the name up via the
// source adapter, then resolve it against the target adapter. Conversions
// are memoized for the router's lifetime (one run).
//
// Returns an error wrapping domain.ErrKeyNotPortable when the name does
// not resolve on the target source.
func (r *Router) NormalizeKey(ctx context.Context, key string, target domain.Namespace) (string, error) {
	ns := domain.DetectNamespace(key)
	if ns == "" {
		return "", fmt.Errorf("%w: collection key %q matches no namespace", domain.ErrInvalidInput, key)
	}
	if ns == target {
		return key, nil
	}

	cacheKey := string(ns) + ":" + key + ">" + string(target)
	r.mu.Lock()
	if converted, ok := r.keyCache[cacheKey]; ok {
		r.mu.Unlock()
		return converted, nil
	}
	r.mu.Unlock()

	name, err := r.collectionName(ctx, r.Adapter(ns), key)
	if err != nil {
		return "", fmt.Errorf("%w: looking up name for %s key %q: %v",
			domain.ErrKeyNotPortable, ns, key, err)
	}

	ref, err := r.Adapter(target).FindCollectionByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: collection %q not found on %s source",
			domain.ErrKeyNotPortable, name, target)
	}

	r.mu.Lock()
	r.keyCache[cacheKey] = ref.Key
	r.mu.Unlock()
	return ref.Key, nil
}

// collectionName finds the human-readable name of a collection key on one
// adapter.
func (r *Router) collectionName(ctx context.Context, adapter driven.LibraryAdapter, key string) (string, error) {
	cols, err := adapter.ListCollections(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range cols {
		if c.Key == key {
			return c.Name, nil
		}
	}
	return "", domain.ErrNotFound
}

// ResolveCollection resolves a user-supplied collection name or key to a
// reference in the primary source's namespace.
func (r *Router) ResolveCollection(ctx context.Context, nameOrKey string) (*domain.CollectionRef, error) {
	order := r.order(ctx, "", "")

	// Key-shaped input: normalize into the primary namespace.
	if ns := domain.DetectNamespace(nameOrKey); ns != "" {
		primary := order[0]
		key, err := r.NormalizeKey(ctx, nameOrKey, primary.adapter.Namespace())
		if err != nil {
			return nil, err
		}
		name, nameErr := r.collectionName(ctx, primary.adapter, key)
		if nameErr != nil {
			return nil, fmt.Errorf("resolve collection %q: %w", nameOrKey, nameErr)
		}
		return &domain.CollectionRef{Key: key, Namespace: primary.adapter.Namespace(), Name: name}, nil
	}

	// Name: try sources in strategy order.
	var errs []error
	for _, m := range order {
		ref, err := m.adapter.FindCollectionByName(ctx, nameOrKey)
		if err == nil {
			return ref, nil
		}
		logger.Debug("collection %q not resolved on %s source: %v", nameOrKey, m.source, err)
		errs = append(errs, fmt.Errorf("%s: %w", m.source, err))
	}
	return nil, fmt.Errorf("resolve collection %q: %w", nameOrKey, errors.Join(errs...))
}

// Items lists a collection's items, falling back between sources per the
// strategy. The collection key is normalized into each attempted source's
// namespace.
func (r *Router) Items(ctx context.Context, ref domain.CollectionRef, includeSub bool) ([]domain.Item, error) {
	var errs []error
	for _, m := range r.order(ctx, "", "") {
		key, err := r.NormalizeKey(ctx, ref.Key, m.adapter.Namespace())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items, err := m.adapter.CollectionItems(ctx, key, includeSub)
		if err == nil {
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Debug("listing items via %s source failed: %v", m.source, err)
		errs = append(errs, fmt.Errorf("%s: %w", m.source, err))
	}
	return nil, fmt.Errorf("list items of %q: %w", ref.Name, errors.Join(errs...))
}

// ItemAttachments lists an item's attachments, falling back per the
// strategy.
func (r *Router) ItemAttachments(ctx context.Context, itemKey string) ([]domain.Attachment, error) {
	var errs []error
	for _, m := range r.order(ctx, itemKey, "") {
		atts, err := m.adapter.ItemAttachments(ctx, itemKey)
		if err == nil {
			return atts, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Debug("listing attachments of %s via %s source failed: %v", itemKey, m.source, err)
		errs = append(errs, fmt.Errorf("%s: %w", m.source, err))
	}
	return nil, fmt.Errorf("list attachments of %s: %w", itemKey, errors.Join(errs...))
}

// FetchAttachment downloads one attachment, trying sources in strategy
// order and falling back per individual file. Returns the written path and
// which source actually served the file, so the caller can record
// provenance in the manifest.
func (r *Router) FetchAttachment(ctx context.Context, itemKey, attachmentKey, destPath string) (string, domain.SourceMarker, error) {
	var errs []error
	for _, m := range r.order(ctx, itemKey, attachmentKey) {
		path, err := m.adapter.DownloadAttachment(ctx, itemKey, attachmentKey, destPath)
		if err == nil {
			logger.Debug("fetched %s/%s from %s source", itemKey, attachmentKey, m.source)
			return path, m.source, nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		logger.Debug("fetch %s/%s via %s source failed: %v", itemKey, attachmentKey, m.source, err)
		errs = append(errs, fmt.Errorf("%s: %w", m.source, err))
	}
	return "", "", fmt.Errorf("fetch %s/%s: %w", itemKey, attachmentKey, errors.Join(errs...))
}

// ItemMetadata fetches one item's metadata, falling back per the strategy.
func (r *Router) ItemMetadata(ctx context.Context, itemKey string) (*domain.Item, error) {
	var errs []error
	for _, m := range r.order(ctx, itemKey, "") {
		item, err := m.adapter.ItemMetadata(ctx, itemKey)
		if err == nil {
			return item, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.source, err))
	}
	return nil, fmt.Errorf("item metadata %s: %w", itemKey, errors.Join(errs...))
}

// Tags lists tags from the primary source, falling back per the strategy.
func (r *Router) Tags(ctx context.Context) ([]string, error) {
	var errs []error
	for _, m := range r.order(ctx, "", "") {
		tags, err := m.adapter.ListTags(ctx)
		if err == nil {
			return tags, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.source, err))
	}
	return nil, fmt.Errorf("list tags: %w", errors.Join(errs...))
}

// Recent lists recently added items from the primary source, falling back
// per the strategy.
func (r *Router) Recent(ctx context.Context, limit int) ([]domain.Item, error) {
	var errs []error
	for _, m := range r.order(ctx, "", "") {
		items, err := m.adapter.RecentItems(ctx, limit)
		if err == nil {
			return items, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.source, err))
	}
	return nil, fmt.Errorf("recent items: %w", errors.Join(errs...))
}
