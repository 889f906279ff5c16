package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	got, host, err := Normalize("HTTPS://WWW.Immowelt.de/expose/abc/?utm_source=x&b=2&a=1#top")
	require.NoError(t, err)
	assert.Equal(t, "https://immowelt.de/expose/abc?a=1&b=2", got)
	assert.Equal(t, "immowelt.de", host)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base, href, want string
	}{
		{"https://www.kleinanzeigen.de/", "/s-anzeige/wohnung/123-196-3331", "https://www.kleinanzeigen.de/s-anzeige/wohnung/123-196-3331"},
		{"https://www.kleinanzeigen.de/", "https://other.example/x", "https://other.example/x"},
		{"https://www.kleinanzeigen.de/", "mailto:someone@example.com", ""},
		{"https://www.kleinanzeigen.de/", "  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Resolve(tt.base, tt.href), tt.href)
	}
}

func TestAppendParam(t *testing.T) {
	assert.Equal(t, "https://x.de/suche?a=1&order=DateDesc", AppendParam("https://x.de/suche?a=1", "order=DateDesc"))
	assert.Equal(t, "https://x.de/suche?order=Price", AppendParam("https://x.de/suche?order=Price", "order=DateDesc"), "existing key wins")
	assert.Equal(t, "https://x.de/suche", AppendParam("https://x.de/suche", ""))
}

func TestLastPathSegment(t *testing.T) {
	assert.Equal(t, "2a4b6c", LastPathSegment("https://www.immowelt.de/expose/2a4b6c?x=1"))
	assert.Equal(t, "", LastPathSegment("https://www.immowelt.de/"))
}

func TestSetParam(t *testing.T) {
	assert.Equal(t, "https://api.example/search/list?pagenumber=3&searchType=region",
		SetParam("https://api.example/search/list?searchType=region&pagenumber=1", "pagenumber", "3"))
	assert.Equal(t, "https://api.example/list?pagenumber=1", SetParam("https://api.example/list", "pagenumber", "1"))
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"Suche", "de", "berlin", "berlin", "wohnung-mieten"},
		SplitPath("https://www.immobilienscout24.de/Suche/de/berlin/berlin/wohnung-mieten/"))
	assert.Empty(t, SplitPath("https://www.immobilienscout24.de"))
}
