// Package httpx obtains raw page content for a URL, either through direct
// requests (CollyFetcher) or a scripted headless browser (Browser).
package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"regexp"
	"slices"
)

var (
	// ErrBotDetected is returned instead of content when the response looks like a challenge page.
	ErrBotDetected = errors.New("bot detection triggered")
	// ErrWaitTimeout is returned when a bounded browser wait expired.
	ErrWaitTimeout = errors.New("wait timed out")
)

// Wait names what a scripted retrieval waits for before reading the markup.
// An empty Selector means "document ready".
type Wait struct {
	Selector string
}

// Retriever is the common contract of both retrieval strategies. Content is
// nil whenever err is non-nil; status is preserved when a response was received.
type Retriever interface {
	Retrieve(ctx context.Context, rawURL string, wait Wait) ([]byte, int, error)
}

var suspiciousStatusCodes = []int{http.StatusForbidden, http.StatusTooManyRequests}

var botPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)verify you are human`),
	regexp.MustCompile(`(?i)access denied`),
	regexp.MustCompile(`(?i)x-amz-cf-id`),
}

// DetectBot reports whether content/status look like an anti-bot challenge.
func DetectBot(content []byte, status int) bool {
	if slices.Contains(suspiciousStatusCodes, status) {
		return true
	}
	for _, p := range botPatterns {
		if p.Match(content) {
			return true
		}
	}
	return false
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0",
}

func RandomUserAgent() string {
	return defaultUserAgents[rand.Intn(len(defaultUserAgents))]
}

// DefaultHeaders are sent with every scripted navigation.
func DefaultHeaders(userAgent string) map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language":           "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7",
		"Upgrade-Insecure-Requests": "1",
		"User-Agent":                userAgent,
	}
}

func randomViewport() (int, int) {
	return 1920 + rand.Intn(100), 1080 + rand.Intn(100)
}
