package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/baxromumarov/estate-hunter/internal/httpx"
	"github.com/baxromumarov/estate-hunter/internal/model"
	"github.com/baxromumarov/estate-hunter/internal/observability"
	"github.com/baxromumarov/estate-hunter/internal/urlutil"
)

const immoscoutUserAgent = "ImmoScout_27.3_26.0_._"

var immoscoutListBody = []byte(`{"supportedResultListTypes":[],"userData":{}}`)

// Immoscout reads the mobile API: a paginated JSON search plus one JSON
// expose request per result for the detail fields.
type Immoscout struct {
	fetcher Fetcher
	opts    Options
	logger  *slog.Logger
}

func NewImmoscout(f Fetcher, opts Options, logger *slog.Logger) *Immoscout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Immoscout{
		fetcher: f,
		opts:    opts.withDefaults(),
		logger:  logger.With("provider", "immoscout"),
	}
}

func (p *Immoscout) Meta() Metadata {
	return Metadata{
		ID:              "immoscout",
		Name:            "Immoscout",
		BaseURL:         "https://www.immobilienscout24.de/",
		SortByDateParam: "sorting=-firstactivation",
		PriceInIdentity: true,
	}
}

func (p *Immoscout) SearchURL(cfg model.ProviderConfig) (string, error) {
	mobile, err := immoscoutSearchToMobile(cfg.URL, p.opts.ImmoscoutAPIBase)
	if err != nil {
		return "", err
	}
	return urlutil.AppendParam(mobile, p.Meta().SortByDateParam), nil
}

type isSearchPage struct {
	NumberOfPages   int            `json:"numberOfPages"`
	ResultListItems []isResultItem `json:"resultListItems"`
}

type isResultItem struct {
	Type string `json:"type"`
	Item isItem `json:"item"`
}

type isItem struct {
	ID      flexString `json:"id"`
	Title   string     `json:"title"`
	Address struct {
		Line     string     `json:"line"`
		Street   string     `json:"street"`
		Postcode flexString `json:"postcode"`
		City     string     `json:"city"`
	} `json:"address"`
	Attributes   []isAttribute `json:"attributes"`
	TitlePicture *struct {
		Preview string `json:"preview"`
	} `json:"titlePicture"`
	Published string `json:"published"`
	IsPrivate *bool  `json:"isPrivate"`
}

type isAttribute struct {
	Label string     `json:"label"`
	Value flexValue `json:"value"`
}

type isExpose struct {
	Header struct {
		Published             string `json:"published"`
		EnergyEfficiencyClass string `json:"energyEfficiencyClass"`
	} `json:"header"`
	Sections    []isSection           `json:"sections"`
	AdTargeting map[string]flexValue  `json:"adTargetingParameters"`
}

type isSection struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Attributes []struct {
		Label string `json:"label"`
		Text  string `json:"text"`
	} `json:"attributes"`
	AdditionalCosts *struct {
		Value flexNumber `json:"value"`
	} `json:"additionalCosts"`
	PriceBar *struct {
		PriceIndicatorPositionInPercent flexNumber `json:"priceIndicatorPositionInPercent"`
	} `json:"priceBar"`
}

func (p *Immoscout) FetchListings(ctx context.Context, searchURL string) ([]model.Listing, error) {
	first, err := p.fetchPage(ctx, searchURL, 1)
	if err != nil {
		return nil, fmt.Errorf("immoscout: first page: %w", err)
	}

	total := first.NumberOfPages
	if total < 1 {
		total = 1
	}
	if total > p.opts.MaxAPIPages {
		p.logger.Warn("search has more pages than the cap, skipping the rest", "pages", total, "max", p.opts.MaxAPIPages)
		total = p.opts.MaxAPIPages
	}

	items := append([]isResultItem(nil), first.ResultListItems...)
	rest, errs := collectOrdered(ctx, total-1, p.opts.PageConcurrency, func(ctx context.Context, i int) ([]isResultItem, error) {
		page, err := p.fetchPage(ctx, searchURL, i+2)
		if err != nil {
			return nil, err
		}
		return page.ResultListItems, nil
	})
	if n := countErrors(errs); n > 0 {
		p.logger.Warn("pages failed", "failed", n, "pages", total, "err", firstError(errs))
	}
	items = append(items, rest...)

	exposes := make([]isItem, 0, len(items))
	for _, it := range items {
		if it.Type == "EXPOSE_RESULT" {
			exposes = append(exposes, it.Item)
		}
	}

	listings, _ := collectOrdered(ctx, len(exposes), p.opts.DetailConcurrency, func(ctx context.Context, i int) ([]model.Listing, error) {
		item := exposes[i]
		expose, err := p.fetchExpose(ctx, item.ID.String())
		if err != nil {
			p.logger.Debug("expose fetch failed", "id", item.ID.String(), "err", err)
		}
		return []model.Listing{p.toListing(item, expose)}, nil
	})
	return listings, nil
}

func (p *Immoscout) fetchPage(ctx context.Context, searchURL string, page int) (*isSearchPage, error) {
	body, _, err := p.fetcher.Do(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    urlutil.SetParam(searchURL, "pagenumber", strconv.Itoa(page)),
		Body:   immoscoutListBody,
		Header: http.Header{
			"User-Agent":   {immoscoutUserAgent},
			"Accept":       {"application/json"},
			"Content-Type": {"application/json"},
		},
	})
	if err != nil {
		return nil, err
	}
	observability.IncPagesFetched("immoscout")

	var out isSearchPage
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}
	return &out, nil
}

func (p *Immoscout) fetchExpose(ctx context.Context, id string) (*isExpose, error) {
	exposeURL, err := immoscoutExposeURL(id, p.opts.ImmoscoutAPIBase)
	if err != nil {
		return nil, err
	}
	body, _, err := p.fetcher.Do(ctx, httpx.Request{
		URL:    exposeURL,
		Header: http.Header{"User-Agent": {immoscoutUserAgent}},
	})
	if err != nil {
		return nil, err
	}
	var out isExpose
	if err := json.Unmarshal(bytes.TrimSpace(body), &out); err != nil {
		return nil, fmt.Errorf("decode expose %s: %w", id, err)
	}
	return &out, nil
}

func (p *Immoscout) toListing(item isItem, expose *isExpose) model.Listing {
	if expose == nil {
		expose = &isExpose{}
	}
	id := item.ID.String()
	l := model.Listing{
		NativeID:    id,
		Title:       item.Title,
		Link:        p.Meta().BaseURL + "expose/" + id,
		AddressFull: item.Address.Line,
		Price:       "Auf Anfrage",
		Size:        "k.A.",
	}
	if item.TitlePicture != nil {
		l.ImageURL = item.TitlePicture.Preview
	}
	if len(item.Attributes) > 0 && !item.Attributes[0].Value.IsZero() {
		v := item.Attributes[0].Value
		l.Price = v.Display(FormatEuro)
		l.NumericPrice = v.Number()
	}
	if len(item.Attributes) > 1 && !item.Attributes[1].Value.IsZero() {
		v := item.Attributes[1].Value
		l.Size = v.Display(FormatArea)
		l.NumericSize = v.Number()
	}

	ad := expose.AdTargeting
	l.YearBuilt = ExtractInt(ad["obj_yearConstructed"].String())
	l.LastRefurbishmentYear = ExtractInt(ad["obj_lastRefurbish"].String())
	l.NumericRooms = parseDecimal(ad["obj_noRooms"].String())

	l.Condition = firstNonEmpty(expose.attribute("Bausubstanz & Energieausweis", "Objektzustand:"), ad["obj_condition"].String())
	l.InteriorQuality = firstNonEmpty(expose.attribute("Bausubstanz & Energieausweis", "Qualität der Ausstattung:"), ad["obj_interiorQual"].String())
	l.FlatType = firstNonEmpty(expose.attribute("Hauptkriterien", "Wohnungstyp:"), ad["obj_typeOfFlat"].String())
	l.HeatingType = firstNonEmpty(expose.attribute("Bausubstanz & Energieausweis", "Heizungsart:"), ad["obj_heatingType"].String())
	l.EnergySource = firstNonEmpty(expose.attribute("Bausubstanz & Energieausweis", "Wesentliche Energieträger:"), ad["obj_firingTypes"].String())
	l.EnergyClass = firstNonEmpty(ad["obj_energyEfficiencyClass"].String(), expose.Header.EnergyEfficiencyClass)

	street := firstNonEmpty(ad["obj_streetPlain"].String(), item.Address.Street)
	if street != nil {
		l.Street = model.StringPtr(strings.ReplaceAll(*street, "_", " "))
	}
	l.ZipCode = firstNonEmpty(ad["obj_zipCode"].String(), item.Address.Postcode.String())
	l.City = firstNonEmpty(ad["obj_regio2"].String(), item.Address.City)

	for _, s := range expose.Sections {
		switch {
		case s.Type == "FINANCE_COSTS" && s.AdditionalCosts != nil && l.AdditionalPurchaseCosts == nil:
			l.AdditionalPurchaseCosts = s.AdditionalCosts.Value.Value
		case s.Type == "PRICE_INFO" && s.PriceBar != nil && l.PriceIndicatorPercent == nil:
			l.PriceIndicatorPercent = s.PriceBar.PriceIndicatorPositionInPercent.Value
		}
	}

	l.HasBalcony = ad["obj_balcony"].String() == "y"
	l.HasGarden = ad["obj_garden"].String() == "y"
	l.HasKitchen = ad["obj_hasKitchen"].String() == "y"
	l.HasCellar = ad["obj_cellar"].String() == "y"
	l.HasLift = ad["obj_lift"].String() == "y"
	l.IsBarrierFree = ad["obj_barrierFree"].String() == "y"

	if charge := expose.attribute("Kosten", "Hausgeld:"); strings.TrimSpace(charge) != "" {
		l.ServiceCharge = ExtractNumber(charge)
	} else if !ad["obj_serviceCharge"].IsZero() {
		l.ServiceCharge = ad["obj_serviceCharge"].Number()
	}
	l.PublishedText = firstNonEmpty(expose.Header.Published, item.Published)
	if item.IsPrivate != nil {
		l.IsPrivate = *item.IsPrivate
	}
	return l
}

func (e *isExpose) attribute(sectionTitle, label string) string {
	for _, s := range e.Sections {
		if s.Type != "ATTRIBUTE_LIST" || s.Title != sectionTitle {
			continue
		}
		for _, a := range s.Attributes {
			if a.Label == label {
				return a.Text
			}
		}
	}
	return ""
}

func (p *Immoscout) Normalize(l model.Listing) (model.Listing, error) {
	if nullOrEmpty(l.NativeID) {
		return l, fmt.Errorf("immoscout: listing without id")
	}
	if nullOrEmpty(l.Title) {
		l.Title = "NO TITLE FOUND"
	} else {
		l.Title = strings.TrimSpace(strings.Replace(l.Title, "NEU", "", 1))
	}
	l.PricePerSqm = PricePerSqm(l.NumericPrice, l.NumericSize)
	return l, nil
}

func (p *Immoscout) Filter(l model.Listing, cfg FilterConfig) bool {
	return !Blacklisted(l.Title, cfg.Blacklist)
}

func (p *Immoscout) ActiveStatus(ctx context.Context, link string) model.ActiveStatus {
	exposeURL, err := immoscoutExposeURL(link, p.opts.ImmoscoutAPIBase)
	if err != nil {
		return model.StatusUnknown
	}
	status := checkStatus(ctx, p.fetcher, httpx.Request{
		URL:    exposeURL,
		Header: http.Header{"User-Agent": {immoscoutUserAgent}},
	})
	if status == model.StatusUnknown {
		p.logger.Warn("unknown status for listing", "link", link)
	}
	return status
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

func (s flexString) String() string { return string(s) }

// flexValue keeps the text of a JSON string or number and remembers whether
// the token was a bare number. Bare numbers use "." as the decimal point;
// strings are display text in German notation.
type flexValue struct {
	text string
	num  *float64
}

func (v *flexValue) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*v = flexValue{text: s.String()}
	b = bytes.TrimSpace(b)
	if v.text != "" && b[0] != '"' {
		if f, err := strconv.ParseFloat(v.text, 64); err == nil {
			v.num = &f
		}
	}
	return nil
}

func (v flexValue) String() string { return v.text }

func (v flexValue) IsZero() bool { return strings.TrimSpace(v.text) == "" }

// Number returns bare numbers as sent and parses strings by the German rules.
func (v flexValue) Number() *float64 {
	if v.num != nil {
		f := *v.num
		return &f
	}
	return ExtractNumber(v.text)
}

// Display renders bare numbers with format and returns strings unchanged.
func (v flexValue) Display(format func(float64) string) string {
	if v.num != nil {
		return format(*v.num)
	}
	return v.text
}

// flexNumber accepts a JSON number or a formatted numeric string.
type flexNumber struct {
	Value *float64
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	var v flexValue
	if err := v.UnmarshalJSON(b); err != nil {
		return err
	}
	n.Value = nil
	if !v.IsZero() {
		n.Value = v.Number()
	}
	return nil
}

// parseDecimal reads a plain decimal ("2.5" or "2,5") before falling back to
// the German grouping rules of ExtractNumber.
func parseDecimal(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil {
		return &v
	}
	return ExtractNumber(s)
}

func firstNonEmpty(values ...string) *string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return &v
		}
	}
	return nil
}
