package throttled

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/refsync-cli/internal/logger"
)

// Ensure Client implements the interface.
var _ driven.LibraryAdapter = (*Client)(nil)

// Default throttle and retry parameters.
const (
	// DefaultMinInterval is the minimum spacing between requests.
	DefaultMinInterval = 100 * time.Millisecond

	// DefaultMaxRetries is how many times a transient failure is retried.
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the first backoff delay; it doubles per retry.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps the backoff delay.
	DefaultMaxDelay = 30 * time.Second
)

// Client decorates a LibraryAdapter with a shared request gate and
// transient-failure retry.
type Client struct {
	inner      driven.LibraryAdapter
	bucket     *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     func(time.Duration) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMinInterval sets the minimum spacing between requests.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.bucket = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// New wraps an adapter. All calls through the returned client share one
// request gate, so concurrent download workers collectively respect the
// interval.
func New(inner driven.LibraryAdapter, opts ...Option) *Client {
	c := &Client{
		inner:      inner,
		bucket:     rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		jitter: func(d time.Duration) time.Duration {
			return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs one operation under the gate, retrying transient failures with
// exponential backoff.
func (c *Client) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.bucket.Wait(ctx); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				logger.Debug("%s succeeded after %d retries", op, attempt)
			}
			return nil
		}
		if !domain.Transient(lastErr) || attempt == c.maxRetries {
			break
		}

		delay := c.baseDelay << attempt
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
		delay = c.jitter(delay)
		logger.Debug("%s failed (attempt %d/%d), backing off %s: %v",
			op, attempt+1, c.maxRetries+1, delay, lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// Namespace returns the wrapped source's namespace.
func (c *Client) Namespace() domain.Namespace {
	return c.inner.Namespace()
}

// Reachable checks the wrapped source, without retry: callers use it
// exactly to learn the current state.
func (c *Client) Reachable(ctx context.Context) error {
	if err := c.bucket.Wait(ctx); err != nil {
		return err
	}
	return c.inner.Reachable(ctx)
}

// ListCollections lists collections through the gate.
func (c *Client) ListCollections(ctx context.Context) ([]domain.CollectionRef, error) {
	var refs []domain.CollectionRef
	err := c.do(ctx, "list collections", func() error {
		var err error
		refs, err = c.inner.ListCollections(ctx)
		return err
	})
	return refs, err
}

// FindCollectionByName resolves a name through the gate.
func (c *Client) FindCollectionByName(ctx context.Context, name string) (*domain.CollectionRef, error) {
	var ref *domain.CollectionRef
	err := c.do(ctx, fmt.Sprintf("find collection %q", name), func() error {
		var err error
		ref, err = c.inner.FindCollectionByName(ctx, name)
		return err
	})
	return ref, err
}

// CollectionItems lists items through the gate.
func (c *Client) CollectionItems(ctx context.Context, collectionKey string, includeSub bool) ([]domain.Item, error) {
	var items []domain.Item
	err := c.do(ctx, "list items of "+collectionKey, func() error {
		var err error
		items, err = c.inner.CollectionItems(ctx, collectionKey, includeSub)
		return err
	})
	return items, err
}

// ItemAttachments lists attachments through the gate.
func (c *Client) ItemAttachments(ctx context.Context, itemKey string) ([]domain.Attachment, error) {
	var atts []domain.Attachment
	err := c.do(ctx, "list attachments of "+itemKey, func() error {
		var err error
		atts, err = c.inner.ItemAttachments(ctx, itemKey)
		return err
	})
	return atts, err
}

// HasAttachmentFile checks file presence through the gate.
func (c *Client) HasAttachmentFile(ctx context.Context, itemKey, attachmentKey string) (bool, error) {
	var has bool
	err := c.do(ctx, "check file "+itemKey+"/"+attachmentKey, func() error {
		var err error
		has, err = c.inner.HasAttachmentFile(ctx, itemKey, attachmentKey)
		return err
	})
	return has, err
}

// DownloadAttachment downloads through the gate. Retry is safe because
// downloads overwrite, never append.
func (c *Client) DownloadAttachment(ctx context.Context, itemKey, attachmentKey, destPath string) (string, error) {
	var path string
	err := c.do(ctx, "download "+itemKey+"/"+attachmentKey, func() error {
		var err error
		path, err = c.inner.DownloadAttachment(ctx, itemKey, attachmentKey, destPath)
		return err
	})
	return path, err
}

// ItemMetadata fetches metadata through the gate.
func (c *Client) ItemMetadata(ctx context.Context, itemKey string) (*domain.Item, error) {
	var item *domain.Item
	err := c.do(ctx, "item metadata "+itemKey, func() error {
		var err error
		item, err = c.inner.ItemMetadata(ctx, itemKey)
		return err
	})
	return item, err
}

// ListTags lists tags through the gate.
func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	var tags []string
	err := c.do(ctx, "list tags", func() error {
		var err error
		tags, err = c.inner.ListTags(ctx)
		return err
	})
	return tags, err
}

// RecentItems lists recent items through the gate.
func (c *Client) RecentItems(ctx context.Context, limit int) ([]domain.Item, error) {
	var items []domain.Item
	err := c.do(ctx, "recent items", func() error {
		var err error
		items, err = c.inner.RecentItems(ctx, limit)
		return err
	})
	return items, err
}

// Close closes the wrapped adapter.
func (c *Client) Close() error {
	return c.inner.Close()
}
