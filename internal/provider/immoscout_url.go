package provider

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/baxromumarov/estate-hunter/internal/urlutil"
)

const immoscoutAPIBase = "https://api.mobile.immobilienscout24.de"

var ErrUnsupportedSearchURL = errors.New("unsupported search url")

var immoscoutRealEstateTypes = map[string]string{
	"wohnung-mieten": "apartmentrent",
	"wohnung-kaufen": "apartmentbuy",
	"haus-mieten":    "houserent",
	"haus-kaufen":    "housebuy",
}

// web-only parameters that the mobile search does not accept
var immoscoutDroppedParams = map[string]bool{
	"enteredFrom": true,
	"sorting":     true,
	"pagenumber":  true,
}

// immoscoutSearchToMobile translates a web search URL such as
// https://www.immobilienscout24.de/Suche/de/berlin/berlin/wohnung-mieten?price=-1000
// into the equivalent mobile list request. URLs already pointing at the
// mobile API are returned unchanged.
func immoscoutSearchToMobile(raw, apiBase string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("immoscout: parse search url: %w", err)
	}
	if strings.HasPrefix(raw, apiBase) || strings.HasPrefix(u.Path, "/search/list") {
		return raw, nil
	}

	segs := urlutil.SplitPath(raw)
	if len(segs) < 2 || !strings.EqualFold(segs[0], "Suche") {
		return "", fmt.Errorf("immoscout: %w: %s", ErrUnsupportedSearchURL, raw)
	}
	estateType, ok := immoscoutRealEstateTypes[strings.ToLower(segs[len(segs)-1])]
	if !ok {
		return "", fmt.Errorf("immoscout: %w: unknown listing type %q", ErrUnsupportedSearchURL, segs[len(segs)-1])
	}

	q := url.Values{}
	for key, values := range parseQueryLoose(u.RawQuery) {
		if immoscoutDroppedParams[key] {
			continue
		}
		q[key] = values
	}
	q.Set("realestatetype", estateType)
	if strings.HasSuffix(estateType, "rent") {
		q.Set("pricetype", "calculatedtotalrent")
	}

	middle := segs[1 : len(segs)-1]
	switch {
	case len(middle) == 1 && strings.EqualFold(middle[0], "radius"):
		q.Set("searchType", "radius")
	case len(middle) > 0:
		q.Set("searchType", "region")
		q.Set("geocodes", "/"+strings.Join(middle, "/"))
	default:
		return "", fmt.Errorf("immoscout: %w: missing region in %s", ErrUnsupportedSearchURL, raw)
	}

	return strings.TrimRight(apiBase, "/") + "/search/list?" + q.Encode(), nil
}

// immoscoutExposeURL maps a stored web expose link to its mobile detail resource.
func immoscoutExposeURL(link, apiBase string) (string, error) {
	id := urlutil.LastPathSegment(link)
	if id == "" {
		return "", fmt.Errorf("immoscout: no expose id in %q", link)
	}
	return strings.TrimRight(apiBase, "/") + "/expose/" + url.PathEscape(id), nil
}

// parseQueryLoose is url.ParseQuery without the semicolon rejection; web
// radius searches carry "geocoordinates=52.5;13.4;5.0".
func parseQueryLoose(raw string) url.Values {
	out := url.Values{}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			continue
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		out.Add(k, v)
	}
	return out
}
