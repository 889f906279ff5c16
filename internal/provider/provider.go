// Package provider implements the per-source adapters that fetch, normalize,
// filter and check real-estate listings.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/baxromumarov/estate-hunter/internal/httpx"
	"github.com/baxromumarov/estate-hunter/internal/model"
)

// Metadata is the static description of a source.
type Metadata struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	// SortByDateParam is appended to search URLs to request newest-first ordering.
	SortByDateParam string `json:"sortByDateParam,omitempty"`
	// PriceInIdentity marks sources whose native id alone is not a stable identity.
	PriceInIdentity bool `json:"-"`
}

// FilterConfig is the per-job, per-provider filter input.
type FilterConfig struct {
	Blacklist            []string
	BlacklistedDistricts []string
}

// Provider is implemented by every compiled-in source.
type Provider interface {
	Meta() Metadata
	// SearchURL turns a job's saved search URL into the URL FetchListings expects.
	SearchURL(cfg model.ProviderConfig) (string, error)
	FetchListings(ctx context.Context, searchURL string) ([]model.Listing, error)
	Normalize(l model.Listing) (model.Listing, error)
	Filter(l model.Listing, cfg FilterConfig) bool
	ActiveStatus(ctx context.Context, link string) model.ActiveStatus
}

// Fetcher is the simple retrieval strategy used by API and server-rendered sources.
type Fetcher interface {
	httpx.Retriever
	Do(ctx context.Context, req httpx.Request) ([]byte, int, error)
	FetchBytes(ctx context.Context, rawURL string) ([]byte, int, error)
}

type Options struct {
	PageConcurrency   int
	DetailConcurrency int
	SelectorTimeout   time.Duration
	PaginationTimeout time.Duration

	// MaxPages caps click-driven pagination in the scripted browser.
	MaxPages int
	// MaxAPIPages caps pages requested from a paginated JSON API per search.
	MaxAPIPages int

	// ImmoscoutAPIBase overrides the mobile API host.
	ImmoscoutAPIBase string
}

func (o Options) withDefaults() Options {
	if o.PageConcurrency <= 0 {
		o.PageConcurrency = 4
	}
	if o.DetailConcurrency <= 0 {
		o.DetailConcurrency = 8
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 10
	}
	if o.MaxAPIPages <= 0 {
		o.MaxAPIPages = 100
	}
	if o.SelectorTimeout <= 0 {
		o.SelectorTimeout = 10 * time.Second
	}
	if o.PaginationTimeout <= 0 {
		o.PaginationTimeout = 10 * time.Second
	}
	if o.ImmoscoutAPIBase == "" {
		o.ImmoscoutAPIBase = immoscoutAPIBase
	}
	return o
}

type Deps struct {
	Fetcher Fetcher
	Browser httpx.PageRunner
	Logger  *slog.Logger
	Options Options
}

// Defaults builds the three compiled-in providers. Errors are configuration
// errors (invalid selectors, unknown transforms) and must stop startup.
func Defaults(deps Deps) ([]Provider, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("provider: fetcher is required")
	}
	if deps.Browser == nil {
		return nil, fmt.Errorf("provider: browser is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	opts := deps.Options.withDefaults()

	immowelt, err := NewImmowelt(deps.Browser, deps.Fetcher, opts, deps.Logger)
	if err != nil {
		return nil, err
	}
	kleinanzeigen, err := NewKleinanzeigen(deps.Fetcher, opts, deps.Logger)
	if err != nil {
		return nil, err
	}
	return []Provider{
		NewImmoscout(deps.Fetcher, opts, deps.Logger),
		immowelt,
		kleinanzeigen,
	}, nil
}

// Registry is the fixed set of providers available to jobs.
type Registry struct {
	byID map[string]Provider
}

func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{byID: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		id := p.Meta().ID
		if id == "" {
			return nil, fmt.Errorf("provider: empty id")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("provider: duplicate id %q", id)
		}
		r.byID[id] = p
	}
	return r, nil
}

func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns the providers ordered by id.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta().ID < out[j].Meta().ID })
	return out
}
