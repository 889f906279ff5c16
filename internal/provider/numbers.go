package provider

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var numberPattern = regexp.MustCompile(`\d[\d.]*(?:,\d+)?`)

// ExtractNumber parses the first German-formatted number in s: dots are
// thousands separators, a comma is the decimal separator. It returns nil when
// s holds no number.
func ExtractNumber(s string) *float64 {
	m := numberPattern.FindString(s)
	if m == "" {
		return nil
	}
	m = strings.ReplaceAll(m, ".", "")
	m = strings.Replace(m, ",", ".", 1)
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ExtractInt is ExtractNumber truncated to an integer.
func ExtractInt(s string) *int {
	v := ExtractNumber(s)
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}

// ParsePrice parses the leading amount of a price text such as
// "279.000 € 3.822 €/m²"; the per-area part after the first € is ignored.
func ParsePrice(s string) *float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	head, _, _ := strings.Cut(s, "€")
	return ExtractNumber(head)
}

// ParseKeyfacts splits a key-facts line such as "2,5 Zimmer·62 m²·EG" into
// rooms and living area.
func ParseKeyfacts(s string) (rooms, size *float64) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	matched := false
	for _, part := range strings.Split(s, "·") {
		part = strings.TrimSpace(part)
		switch {
		case strings.Contains(part, "Zimmer"):
			rooms = ExtractNumber(strings.ReplaceAll(part, "Zimmer", ""))
			matched = true
		case strings.Contains(part, "m²"):
			size = ExtractNumber(strings.ReplaceAll(part, "m²", ""))
			matched = true
		}
	}
	if !matched {
		size = ExtractNumber(s)
	}
	return rooms, size
}

// PricePerSqm is price/size rounded to two decimals, or nil unless both are positive.
func PricePerSqm(price, size *float64) *float64 {
	if price == nil || size == nil || *price <= 0 || *size <= 0 {
		return nil
	}
	v := round2(*price / *size)
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatEuro renders an amount the way German listings display it: "249.999,50 €".
func FormatEuro(v float64) string {
	return message.NewPrinter(language.German).Sprintf("%v €", number.Decimal(v, number.Scale(2)))
}

// FormatArea renders a living area such as "62,5 m²".
func FormatArea(v float64) string {
	return message.NewPrinter(language.German).Sprintf("%v m²", number.Decimal(v, number.MaxFractionDigits(2)))
}
