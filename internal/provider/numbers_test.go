package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{in: "279.000 €", want: ptr(279000)},
		{in: "1.250,50 €", want: ptr(1250.5)},
		{in: "62,5 m²", want: ptr(62.5)},
		{in: "ca. 73 m²", want: ptr(73)},
		{in: "Auf Anfrage", want: nil},
		{in: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ExtractNumber(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.0001)
		})
	}
}

func TestParsePriceIgnoresPerAreaPart(t *testing.T) {
	got := ParsePrice("279.000 € 3.822 €/m²")
	require.NotNil(t, got)
	assert.Equal(t, 279000.0, *got)
	assert.Nil(t, ParsePrice(""))
}

func TestParseKeyfacts(t *testing.T) {
	rooms, size := ParseKeyfacts("2,5 Zimmer·62 m²·EG")
	require.NotNil(t, rooms)
	require.NotNil(t, size)
	assert.Equal(t, 2.5, *rooms)
	assert.Equal(t, 62.0, *size)

	rooms, size = ParseKeyfacts("3,5 Zimmer·1.073 m²·3. Geschoss")
	assert.Equal(t, 3.5, *rooms)
	assert.Equal(t, 1073.0, *size)

	rooms, size = ParseKeyfacts("73")
	assert.Nil(t, rooms)
	assert.Equal(t, 73.0, *size)
}

func TestPricePerSqm(t *testing.T) {
	assert.Equal(t, 4500.0, *PricePerSqm(ptr(279000), ptr(62)))
	assert.Equal(t, 3333.33, *PricePerSqm(ptr(10000), ptr(3)))
	assert.Nil(t, PricePerSqm(ptr(279000), ptr(0)))
	assert.Nil(t, PricePerSqm(nil, ptr(62)))
	assert.Nil(t, PricePerSqm(ptr(0), ptr(62)))
}

func TestBlacklisted(t *testing.T) {
	list := []string{"Tausch", " ", "WG-Zimmer"}
	assert.True(t, Blacklisted("Wohnungstausch gesucht", list))
	assert.True(t, Blacklisted("TAUSCH", list))
	assert.True(t, Blacklisted("schönes wg-zimmer", list))
	assert.True(t, Blacklisted("ÜBERGANGSWEISE möbliert", []string{"übergangsweise"}))
	assert.False(t, Blacklisted("Helle 3-Zimmer Wohnung", list))
	assert.False(t, Blacklisted("", list))
	assert.False(t, Blacklisted("Tausch", nil))
}

func TestBuildHashIsStable(t *testing.T) {
	assert.Equal(t, BuildHash("a", "b"), BuildHash("a", "", "b"))
	assert.NotEqual(t, BuildHash("ab"), BuildHash("a", "b"))
}

func TestCollectOrderedKeepsIndexOrder(t *testing.T) {
	pages := []string{"A", "B", "C", "D"}
	got, errs := collectOrdered(context.Background(), len(pages), 4, func(_ context.Context, i int) ([]string, error) {
		// later pages finish first
		time.Sleep(time.Duration(len(pages)-i) * 5 * time.Millisecond)
		return []string{pages[i]}, nil
	})
	assert.Equal(t, []string{"A", "B", "C", "D"}, got)
	assert.Equal(t, 0, countErrors(errs))
}

func TestCollectOrderedSkipsFailedIndexes(t *testing.T) {
	boom := errors.New("boom")
	got, errs := collectOrdered(context.Background(), 3, 1, func(_ context.Context, i int) ([]int, error) {
		if i == 1 {
			return nil, boom
		}
		return []int{i}, nil
	})
	assert.Equal(t, []int{0, 2}, got)
	assert.Equal(t, 1, countErrors(errs))
	assert.ErrorIs(t, firstError(errs), boom)
}

func ptr(v float64) *float64 { return &v }

func TestGermanFormatting(t *testing.T) {
	assert.Equal(t, "279.000,00 €", FormatEuro(279000))
	assert.Equal(t, "249.999,50 €", FormatEuro(249999.5))
	assert.Equal(t, "62 m²", FormatArea(62))
	assert.Equal(t, "62,5 m²", FormatArea(62.5))
}
