package provider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
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
	kleinanzeigenContainer  = `#srchrslt-adtable .ad-listitem`
	kleinanzeigenDetailRoot = `#viewad-title`
)

var kleinanzeigenSummaryFields = map[string]string{
	"link": `.aditem-main .text-module-begin a@href`,
}

var kleinanzeigenDetailFields = map[string]string{
	"id":          `#viewad-ad-id-box | collapseWhitespace | trim`,
	"title":       `#viewad-title | collapseWhitespace | trim`,
	"price":       `h2#viewad-price | collapseWhitespace | trim`,
	"address":     `#viewad-locality | collapseWhitespace | trim`,
	"published":   `#viewad-extra-info > div:first-child > span | trim`,
	"description": `#viewad-description-text | collapseWhitespace | trim`,
	"image":       `#viewad-image@src`,
}

var adIDPattern = regexp.MustCompile(`\d+`)

// Kleinanzeigen is server-rendered: one overview page links to detail pages
// that carry every field.
type Kleinanzeigen struct {
	fetcher   Fetcher
	summary   *extract.Schema
	detail    *extract.Schema
	container cascadia.Selector
	opts      Options
	logger    *slog.Logger
}

func NewKleinanzeigen(f Fetcher, opts Options, logger *slog.Logger) (*Kleinanzeigen, error) {
	summary, err := extract.Compile(kleinanzeigenSummaryFields)
	if err != nil {
		return nil, fmt.Errorf("kleinanzeigen: %w", err)
	}
	detail, err := extract.Compile(kleinanzeigenDetailFields)
	if err != nil {
		return nil, fmt.Errorf("kleinanzeigen: %w", err)
	}
	container, err := extract.CompileSelector(kleinanzeigenContainer)
	if err != nil {
		return nil, fmt.Errorf("kleinanzeigen: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Kleinanzeigen{
		fetcher:   f,
		summary:   summary,
		detail:    detail,
		container: container,
		opts:      opts.withDefaults(),
		logger:    logger.With("provider", "kleinanzeigen"),
	}, nil
}

func (p *Kleinanzeigen) Meta() Metadata {
	return Metadata{
		ID:      "kleinanzeigen",
		Name:    "Kleinanzeigen",
		BaseURL: "https://www.kleinanzeigen.de/",
	}
}

func (p *Kleinanzeigen) SearchURL(cfg model.ProviderConfig) (string, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return "", fmt.Errorf("kleinanzeigen: %w: empty url", ErrUnsupportedSearchURL)
	}
	return cfg.URL, nil
}

func (p *Kleinanzeigen) FetchListings(ctx context.Context, searchURL string) ([]model.Listing, error) {
	body, _, err := p.fetcher.Retrieve(ctx, searchURL, httpx.Wait{Selector: kleinanzeigenContainer})
	if err != nil {
		return nil, fmt.Errorf("kleinanzeigen: overview: %w", err)
	}
	observability.IncPagesFetched("kleinanzeigen")

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kleinanzeigen: parse overview: %w", err)
	}
	var links []string
	for _, rec := range p.summary.ExtractEach(doc.Selection, p.container) {
		if link := urlutil.Resolve(p.Meta().BaseURL, rec.String("link")); link != "" {
			links = append(links, link)
		}
	}

	listings, errs := collectOrdered(ctx, len(links), p.opts.DetailConcurrency, func(ctx context.Context, i int) ([]model.Listing, error) {
		l, err := p.fetchDetail(ctx, links[i])
		if err != nil {
			return nil, err
		}
		if nullOrEmpty(l.NativeID) {
			return nil, nil
		}
		return []model.Listing{l}, nil
	})
	if n := countErrors(errs); n > 0 {
		p.logger.Warn("detail pages failed", "failed", n, "total", len(links), "err", firstError(errs))
	}
	return listings, nil
}

func (p *Kleinanzeigen) fetchDetail(ctx context.Context, link string) (model.Listing, error) {
	body, _, err := p.fetcher.Retrieve(ctx, link, httpx.Wait{Selector: kleinanzeigenDetailRoot})
	if err != nil {
		return model.Listing{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.Listing{}, fmt.Errorf("parse detail %s: %w", link, err)
	}
	return p.parseDetail(doc.Selection, link), nil
}

func (p *Kleinanzeigen) parseDetail(doc *goquery.Selection, link string) model.Listing {
	rec := p.detail.Extract(doc)
	details := detailList(doc)
	features := featureSet(doc)

	l := model.Listing{
		NativeID:      adIDPattern.FindString(rec.String("id")),
		Title:         rec.String("title"),
		Link:          link,
		AddressFull:   rec.String("address"),
		Price:         rec.String("price"),
		Size:          details["Wohnfläche"],
		Description:   rec.String("description"),
		ImageURL:      rec.String("image"),
		PublishedText: model.StringPtr(rec.String("published")),
		NumericRooms:  ExtractNumber(details["Zimmer"]),
		YearBuilt:     ExtractInt(details["Baujahr"]),
		ServiceCharge: ExtractNumber(details["Hausgeld"]),
		FlatType:      model.StringPtr(details["Wohnungstyp"]),
		Condition:     model.StringPtr(details["Objektzustand"]),
		HasBalcony:    features["balkon"],
		HasKitchen:    features["einbauküche"],
		HasCellar:     features["keller"],
		HasLift:       features["aufzug"],
		IsBarrierFree: features["stufenloser zugang"],
		HasGarden:     features["garten/-mitnutzung"] || features["garten"],
	}
	return l
}

// detailList reads the "key: value" rows of the attribute table.
func detailList(doc *goquery.Selection) map[string]string {
	out := map[string]string{}
	doc.Find("li.addetailslist--detail").Each(func(_ int, s *goquery.Selection) {
		key := strings.TrimSpace(s.Contents().First().Text())
		key = strings.TrimSpace(strings.Replace(key, ":", "", 1))
		value := extract.CollapseWhitespace(s.Find(".addetailslist--detail--value").Text())
		if key != "" && value != "" {
			out[key] = value
		}
	})
	return out
}

func featureSet(doc *goquery.Selection) map[string]bool {
	out := map[string]bool{}
	doc.Find("ul.checktaglist li.checktag").Each(func(_ int, s *goquery.Selection) {
		if f := strings.ToLower(strings.TrimSpace(s.Text())); f != "" {
			out[f] = true
		}
	})
	return out
}

func (p *Kleinanzeigen) Normalize(l model.Listing) (model.Listing, error) {
	if nullOrEmpty(l.NativeID) {
		return l, fmt.Errorf("kleinanzeigen: listing without id")
	}
	// "VB" (negotiable) prices are not numeric.
	if l.Price != "" && !strings.Contains(strings.ToLower(l.Price), "vb") {
		l.NumericPrice = ParsePrice(l.Price)
	}
	l.NumericSize = ExtractNumber(l.Size)
	l.PricePerSqm = PricePerSqm(l.NumericPrice, l.NumericSize)
	return l, nil
}

func (p *Kleinanzeigen) Filter(l model.Listing, cfg FilterConfig) bool {
	if nullOrEmpty(l.Title) || nullOrEmpty(l.NativeID) {
		return false
	}
	if Blacklisted(l.Title, cfg.Blacklist) {
		return false
	}
	return !Blacklisted(l.AddressFull, cfg.BlacklistedDistricts)
}

func (p *Kleinanzeigen) ActiveStatus(ctx context.Context, link string) model.ActiveStatus {
	return checkStatus(ctx, p.fetcher, httpx.Request{URL: link})
}
