package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/baxromumarov/estate-hunter/internal/httpx"
)

const (
	ErrorNetwork     = "network"
	ErrorParsing     = "parsing"
	ErrorRateLimit   = "rate_limit"
	ErrorBotDetected = "bot_detected"
	ErrorNotFound    = "not_found"
	ErrorTimeout     = "timeout"
	ErrorStore       = "store"
	ErrorUnknown     = "unknown"
)

func ClassifyFetchError(err error) string {
	if err == nil {
		return ErrorUnknown
	}
	if errors.Is(err, httpx.ErrBotDetected) {
		return ErrorBotDetected
	}
	if errors.Is(err, httpx.ErrWaitTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var fe *httpx.FetchError
	if errors.As(err, &fe) {
		switch {
		case fe.Status == http.StatusTooManyRequests:
			return ErrorRateLimit
		case fe.Status == http.StatusNotFound || fe.Status == http.StatusGone:
			return ErrorNotFound
		default:
			return ErrorNetwork
		}
	}
	return ErrorUnknown
}

func ClassifyScrapeError(err error) string {
	if err == nil {
		return ErrorUnknown
	}
	if kind := ClassifyFetchError(err); kind != ErrorUnknown {
		return kind
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "parse failed") ||
		strings.Contains(msg, "decode failed") ||
		strings.Contains(msg, "unmarshal") ||
		strings.Contains(msg, "invalid character") {
		return ErrorParsing
	}
	return ErrorNetwork
}
