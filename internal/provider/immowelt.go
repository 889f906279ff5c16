package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/baxromumarov/estate-hunter/internal/extract"
	"github.com/baxromumarov/estate-hunter/internal/httpx"
	"github.com/baxromumarov/estate-hunter/internal/model"
	"github.com/baxromumarov/estate-hunter/internal/observability"
	"github.com/baxromumarov/estate-hunter/internal/urlutil"
)

const (
	immoweltContainer     = `div[data-testid^="classified-card-mfe-"]`
	immoweltActivePageBtn = `button[aria-current="page"]`
)

var immoweltFields = map[string]string{
	"link":        `a[data-testid="card-mfe-covering-link-testid"]@href`,
	"title":       `a[data-testid="card-mfe-covering-link-testid"]@title`,
	"price":       `div[data-testid="cardmfe-price-testid"] | removeNewline | trim`,
	"size":        `div[data-testid="cardmfe-keyfacts-testid"] | removeNewline | trim`,
	"description": `div[data-testid="cardmfe-description-text-test-id"] > div:nth-of-type(2) | removeNewline | trim`,
	"address":     `div[data-testid="cardmfe-description-box-address"] | removeNewline | trim`,
	"image":       `div[data-testid="cardmfe-picture-box-opacity-layer-test-id"] img@src`,
}

// Immowelt renders its results client-side, so listings are read from a
// scripted browser page and pagination is driven by clicking page buttons.
type Immowelt struct {
	browser   httpx.PageRunner
	checker   Fetcher
	schema    *extract.Schema
	container cascadia.Selector
	opts      Options
	logger    *slog.Logger
}

func NewImmowelt(browser httpx.PageRunner, checker Fetcher, opts Options, logger *slog.Logger) (*Immowelt, error) {
	schema, err := extract.Compile(immoweltFields)
	if err != nil {
		return nil, fmt.Errorf("immowelt: %w", err)
	}
	container, err := extract.CompileSelector(immoweltContainer)
	if err != nil {
		return nil, fmt.Errorf("immowelt: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Immowelt{
		browser:   browser,
		checker:   checker,
		schema:    schema,
		container: container,
		opts:      opts.withDefaults(),
		logger:    logger.With("provider", "immowelt"),
	}, nil
}

func (p *Immowelt) Meta() Metadata {
	return Metadata{
		ID:              "immowelt",
		Name:            "Immowelt",
		BaseURL:         "https://www.immowelt.de/",
		SortByDateParam: "order=DateDesc",
		PriceInIdentity: true,
	}
}

func (p *Immowelt) SearchURL(cfg model.ProviderConfig) (string, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return "", fmt.Errorf("immowelt: %w: empty url", ErrUnsupportedSearchURL)
	}
	return urlutil.AppendParam(cfg.URL, p.Meta().SortByDateParam), nil
}

func (p *Immowelt) FetchListings(ctx context.Context, searchURL string) ([]model.Listing, error) {
	var records []extract.Record
	err := p.browser.WithPage(ctx, func(page httpx.Page) error {
		status, err := page.Navigate(searchURL)
		if err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if err := page.WaitFor(immoweltContainer, p.opts.SelectorTimeout); err != nil {
			p.logger.Warn("result container missing on page 1", "err", err)
		}
		first, html, err := p.scrape(page)
		if err != nil {
			return err
		}
		if httpx.DetectBot([]byte(html), status) {
			return &httpx.FetchError{Status: status, Err: httpx.ErrBotDetected}
		}
		records = append(records, first...)
		observability.IncPagesFetched("immowelt")

		for n := 2; n <= p.opts.MaxPages; n++ {
			if ctx.Err() != nil {
				return nil
			}
			button := fmt.Sprintf(`button[aria-label="zu seite %d"]`, n)
			ok, err := page.Exists(button)
			if err != nil || !ok {
				p.logger.Debug("pagination finished", "page", n-1)
				break
			}
			if err := page.Click(button, p.opts.PaginationTimeout); err != nil {
				p.logger.Warn("pagination click failed", "page", n, "err", err)
				break
			}
			if err := page.WaitText(immoweltActivePageBtn, strconv.Itoa(n), p.opts.PaginationTimeout); err != nil {
				p.logger.Warn("page did not become active", "page", n, "err", err)
				break
			}
			if err := page.WaitFor(immoweltContainer, p.opts.SelectorTimeout/2); err != nil {
				p.logger.Debug("result container missing", "page", n, "err", err)
			}
			recs, _, err := p.scrape(page)
			if err != nil {
				p.logger.Warn("page scrape failed", "page", n, "err", err)
				break
			}
			observability.IncPagesFetched("immowelt")
			records = append(records, recs...)
		}
		return nil
	})
	if err != nil {
		if len(records) == 0 || errors.Is(err, httpx.ErrBotDetected) {
			return nil, fmt.Errorf("immowelt: %w", err)
		}
		p.logger.Warn("browser session ended with error, keeping collected pages", "records", len(records), "err", err)
	}

	listings := make([]model.Listing, 0, len(records))
	for _, rec := range records {
		listings = append(listings, p.toListing(rec, searchURL))
	}
	return listings, nil
}

func (p *Immowelt) scrape(page httpx.Page) ([]extract.Record, string, error) {
	html, err := page.HTML()
	if err != nil {
		return nil, "", fmt.Errorf("read page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return nil, html, fmt.Errorf("parse page: %w", err)
	}
	return p.schema.ExtractEach(doc.Selection, p.container), html, nil
}

func (p *Immowelt) toListing(rec extract.Record, searchURL string) model.Listing {
	l := model.Listing{
		Title:       rec.String("title"),
		Price:       rec.String("price"),
		Size:        rec.String("size"),
		Description: rec.String("description"),
		AddressFull: rec.String("address"),
		ImageURL:    rec.String("image"),
	}
	if href, ok := rec.Get("link"); ok {
		l.Link = urlutil.Resolve(p.Meta().BaseURL, href)
		l.NativeID = urlutil.LastPathSegment(l.Link)
	}
	if l.Link == "" {
		l.Link = searchURL
	}
	return l
}

func (p *Immowelt) Normalize(l model.Listing) (model.Listing, error) {
	rawPrice, rawSize := l.Price, l.Size

	if rawPrice != "" {
		l.NumericPrice = ParsePrice(rawPrice)
		l.Price = strings.TrimSpace(strings.Replace(rawPrice, "Kaufpreis ", "", 1))
	}
	if rawSize != "" {
		l.Size = strings.TrimSpace(strings.Replace(rawSize, "Wohnfläche ", "", 1))
		rooms, size := ParseKeyfacts(l.Size)
		if rooms != nil {
			l.NumericRooms = rooms
		}
		l.NumericSize = size
	} else {
		l.Size = "N/A m²"
	}
	if nullOrEmpty(l.Title) {
		l.Title = "No title available"
	}
	if nullOrEmpty(l.NativeID) {
		l.NativeID = BuildHash(l.Title, l.Price)
	}
	l.PricePerSqm = PricePerSqm(l.NumericPrice, l.NumericSize)
	return l, nil
}

func (p *Immowelt) Filter(l model.Listing, cfg FilterConfig) bool {
	return !Blacklisted(l.Title, cfg.Blacklist) &&
		!Blacklisted(l.Description, cfg.Blacklist)
}

// ActiveStatus needs no browser: the detail page answers 404 once an
// expose is gone.
func (p *Immowelt) ActiveStatus(ctx context.Context, link string) model.ActiveStatus {
	if p.checker == nil {
		return model.StatusUnknown
	}
	return checkStatus(ctx, p.checker, httpx.Request{URL: link})
}
