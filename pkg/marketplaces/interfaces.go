package marketplaces

import (
	"context"

	"github.com/samvad-hq/review-watcher/internal/domain"
	"github.com/samvad-hq/review-watcher/pkg/httpclient"
)

// Marketplace is the capability set a review source provides to the watcher:
// enumerate a publisher's extensions, fetch one extension's reviews, and
// translate one raw review into an outbound event.
type Marketplace interface {
	ID() string
	Type() string
	// IdentityField names the record field holding a review's stable identity.
	IdentityField() string
	ListExtensions(ctx context.Context, publisherID string) ([]domain.WatchTarget, error)
	FetchReviews(ctx context.Context, target domain.WatchTarget) ([]domain.Review, error)
	// Translate must be deterministic for a given target and review.
	Translate(target domain.WatchTarget, review domain.Review) (domain.Event, error)
}

// Registry builds the marketplace implementation for a given source config.
type Registry interface {
	MarketplaceFor(src Source) (Marketplace, error)
}

// HTTPClient aliases the shared httpclient.Client interface for clarity within marketplaces.
type HTTPClient = httpclient.Client
