package marketplaces

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samvad-hq/review-watcher/pkg/httpclient"
)

// Builder creates a Marketplace for a source using the shared HTTP client.
type Builder func(src Source, client HTTPClient) (Marketplace, error)

// builderRegistry implements Registry.
type builderRegistry struct {
	client         HTTPClient
	buildersByType map[string]Builder
	mu             sync.RWMutex
}

// NewRegistry builds a registry with type-keyed marketplace builders.
func NewRegistry(client HTTPClient, builders map[string]Builder) Registry {
	if client == nil {
		client = DefaultHTTPClient()
	}
	reg := &builderRegistry{
		client:         client,
		buildersByType: make(map[string]Builder),
	}
	for typ, b := range builders {
		reg.register(typ, b)
	}
	return reg
}

// register associates a builder with a marketplace type.
func (r *builderRegistry) register(typ string, b Builder) {
	if b == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(typ))
	if key == "" {
		return
	}

	r.mu.Lock()
	r.buildersByType[key] = b
	r.mu.Unlock()
}

// MarketplaceFor builds the marketplace implementation for the source's type.
func (r *builderRegistry) MarketplaceFor(src Source) (Marketplace, error) {
	if r == nil {
		return nil, fmt.Errorf("marketplace registry is nil")
	}
	if strings.TrimSpace(src.ID) == "" {
		return nil, fmt.Errorf("marketplace id is empty")
	}

	r.mu.RLock()
	b, ok := r.buildersByType[strings.ToLower(strings.TrimSpace(src.Type))]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no marketplace registered for %q (type %q)", src.ID, src.Type)
	}
	return b(src, r.client)
}

// DefaultHTTPClient returns a tuned client for marketplace calls.
func DefaultHTTPClient() HTTPClient { return httpclient.NewRestyClient(30 * time.Second) }

// DefaultRegistry wires up the known marketplaces.
func DefaultRegistry(client HTTPClient) Registry {
	return NewRegistry(client, map[string]Builder{
		TypeJetBrains: NewJetBrains,
		TypeVSCode:    NewVSCode,
	})
}
