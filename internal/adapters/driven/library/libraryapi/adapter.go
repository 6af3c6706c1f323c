package libraryapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
)

// Ensure Adapter implements the interface.
var _ driven.LibraryAdapter = (*Adapter)(nil)

// Default configuration values.
const (
	DefaultTimeout = 30 * time.Second
)

// Config holds configuration for the library API client.
type Config struct {
	// BaseURL is the API base URL, e.g. https://api.example.org/library.
	BaseURL string

	// APIKey authenticates requests. Empty means anonymous access, which
	// most servers reject for private libraries.
	APIKey string

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration

	// HTTPClient overrides the HTTP client, mainly for tests.
	HTTPClient *http.Client
}

// Adapter fetches library data over the reference manager's web API.
type Adapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// Wire formats.
type apiCollection struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	ParentKey string `json:"parentCollection,omitempty"`
}

type apiItem struct {
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Creators    []string `json:"creators,omitempty"`
	Year        int      `json:"year,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type apiAttachment struct {
	Key         string `json:"key"`
	ItemKey     string `json:"itemKey"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	LinkMode    string `json:"linkMode,omitempty"`
}

// New creates an API adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: API base URL is required", domain.ErrInvalidInput)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Adapter{
		client:  client,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}, nil
}

// Namespace returns the remote (alphanumeric) key space.
func (a *Adapter) Namespace() domain.Namespace {
	return domain.NamespaceRemote
}

// Reachable makes a lightweight call to verify the API answers.
func (a *Adapter) Reachable(ctx context.Context) error {
	resp, err := a.get(ctx, "/ping")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ListCollections returns every collection in the library.
func (a *Adapter) ListCollections(ctx context.Context) ([]domain.CollectionRef, error) {
	var cols []apiCollection
	if err := a.getJSON(ctx, "/collections", &cols); err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	refs := make([]domain.CollectionRef, 0, len(cols))
	for _, c := range cols {
		refs = append(refs, domain.CollectionRef{
			Key:       c.Key,
			Namespace: domain.NamespaceRemote,
			Name:      c.Name,
			ParentKey: c.ParentKey,
		})
	}
	return refs, nil
}

// FindCollectionByName resolves a collection name on the server.
func (a *Adapter) FindCollectionByName(ctx context.Context, name string) (*domain.CollectionRef, error) {
	refs, err := a.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.Name == name {
			found := ref
			return &found, nil
		}
	}
	return nil, fmt.Errorf("collection %q: %w", name, domain.ErrNotFound)
}

// CollectionItems returns a collection's items. The server handles the
// recursive traversal when includeSub is set.
func (a *Adapter) CollectionItems(ctx context.Context, collectionKey string, includeSub bool) ([]domain.Item, error) {
	path := "/collections/" + url.PathEscape(collectionKey) + "/items"
	if includeSub {
		path += "?recursive=1"
	}
	var items []apiItem
	if err := a.getJSON(ctx, path, &items); err != nil {
		return nil, fmt.Errorf("listing items of %s: %w", collectionKey, err)
	}
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		out = append(out, toItem(it))
	}
	return out, nil
}

// ItemAttachments returns an item's attachments.
func (a *Adapter) ItemAttachments(ctx context.Context, itemKey string) ([]domain.Attachment, error) {
	var atts []apiAttachment
	path := "/items/" + url.PathEscape(itemKey) + "/attachments"
	if err := a.getJSON(ctx, path, &atts); err != nil {
		return nil, fmt.Errorf("listing attachments of %s: %w", itemKey, err)
	}
	out := make([]domain.Attachment, 0, len(atts))
	for _, att := range atts {
		da := domain.Attachment{
			Key:         att.Key,
			ItemKey:     itemKey,
			Filename:    att.Filename,
			ContentType: att.ContentType,
		}
		if att.LinkMode == "linked_file" {
			da.LinkMode = domain.LinkModeLinkedFile
		}
		out = append(out, da)
	}
	return out, nil
}

// HasAttachmentFile asks the server whether the file exists, without
// transferring it.
func (a *Adapter) HasAttachmentFile(ctx context.Context, itemKey, attachmentKey string) (bool, error) {
	path := "/items/" + url.PathEscape(itemKey) + "/attachments/" + url.PathEscape(attachmentKey) + "/file"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	a.authorize(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, apiError(resp)
	}
}

// DownloadAttachment streams the attachment file to destPath. The written
// copy carries the server's Last-Modified time so unchanged content
// fingerprints identically across runs.
func (a *Adapter) DownloadAttachment(ctx context.Context, itemKey, attachmentKey, destPath string) (string, error) {
	path := "/items/" + url.PathEscape(itemKey) + "/attachments/" + url.PathEscape(attachmentKey) + "/file"
	resp, err := a.get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("download %s/%s: %w", itemKey, attachmentKey, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("creating destination directory: %w", err)
	}
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", destPath, err)
	}
	if _, err := io.Copy(dest, resp.Body); err != nil {
		dest.Close()
		os.Remove(destPath)
		return "", fmt.Errorf("writing %s: %w", destPath, err)
	}
	if err := dest.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", destPath, err)
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if mtime, err := http.ParseTime(lm); err == nil {
			if err := os.Chtimes(destPath, mtime, mtime); err != nil {
				return "", fmt.Errorf("preserving mtime on %s: %w", destPath, err)
			}
		}
	}
	return destPath, nil
}

// ItemMetadata fetches one item.
func (a *Adapter) ItemMetadata(ctx context.Context, itemKey string) (*domain.Item, error) {
	var it apiItem
	if err := a.getJSON(ctx, "/items/"+url.PathEscape(itemKey), &it); err != nil {
		return nil, fmt.Errorf("fetching item %s: %w", itemKey, err)
	}
	item := toItem(it)
	return &item, nil
}

// ListTags returns every tag in the library.
func (a *Adapter) ListTags(ctx context.Context) ([]string, error) {
	var tags []string
	if err := a.getJSON(ctx, "/tags", &tags); err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return tags, nil
}

// RecentItems returns up to limit items, most recently added first.
func (a *Adapter) RecentItems(ctx context.Context, limit int) ([]domain.Item, error) {
	var items []apiItem
	path := "/items/recent?limit=" + strconv.Itoa(limit)
	if err := a.getJSON(ctx, path, &items); err != nil {
		return nil, fmt.Errorf("listing recent items: %w", err)
	}
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		out = append(out, toItem(it))
	}
	return out, nil
}

// Close releases resources. The HTTP client needs none.
func (a *Adapter) Close() error {
	return nil
}

// get issues an authorized GET and maps HTTP status to domain errors.
func (a *Adapter) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.authorize(req)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp, nil
}

// getJSON issues a GET and decodes the JSON body into out.
func (a *Adapter) getJSON(ctx context.Context, path string, out any) error {
	resp, err := a.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// authorize attaches the API key.
func (a *Adapter) authorize(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

// apiError maps a non-200 response to a domain error.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, resp.Request.URL.Path)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", domain.ErrAuthRequired, resp.StatusCode, string(body))
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d: %s", domain.ErrSourceUnavailable, resp.StatusCode, string(body))
	default:
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}
}

// toItem converts the wire format to the domain item.
func toItem(it apiItem) domain.Item {
	return domain.Item{
		Key:            it.Key,
		Title:          it.Title,
		Creators:       it.Creators,
		Year:           it.Year,
		Tags:           it.Tags,
		AttachmentKeys: it.Attachments,
	}
}
