package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// CollyFetcher is the lightweight retrieval strategy: direct requests with
// per-host rate limits and backoff on 429/5xx.
type CollyFetcher struct {
	userAgent     string
	timeout       time.Duration
	respectRobots bool
	maxAttempts   int
	mu            sync.Mutex
	defaultRate   rate.Limit
	defaultBurst  int
	hosts         map[string]*hostPolicy
}

type hostPolicy struct {
	limiter     *rate.Limiter
	nextAllowed time.Time
	mu          sync.Mutex
}

// FetchError carries the HTTP status of a failed request. Status is 0 when no
// response was received (timeout, connection failure).
type FetchError struct {
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch error (status %d)", e.Status)
	}
	return fmt.Sprintf("fetch error (status %d): %v", e.Status, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusOf extracts the HTTP status from err, or 0.
func StatusOf(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}

type FetcherOptions struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
	RatePerSecond float64
	Burst         int
	MaxAttempts   int
	HostLimits    []HostLimit
}

// HostLimit overrides the default rate for one host: one request per Every
// with bursts up to Burst.
type HostLimit struct {
	Host  string
	Every time.Duration
	Burst int
}

// Request describes a single simple-strategy request.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

func NewCollyFetcher(opts FetcherOptions) *CollyFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgents[0]
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	f := &CollyFetcher{
		userAgent:     opts.UserAgent,
		timeout:       opts.Timeout,
		respectRobots: opts.RespectRobots,
		maxAttempts:   opts.MaxAttempts,
		defaultRate:   rate.Limit(opts.RatePerSecond),
		defaultBurst:  opts.Burst,
		hosts:         make(map[string]*hostPolicy),
	}
	for _, hl := range opts.HostLimits {
		f.SetHostLimit(hl.Host, hl.Every, hl.Burst)
	}
	return f
}

// SetHostLimit replaces the limiter of host. Invalid arguments are ignored.
func (f *CollyFetcher) SetHostLimit(host string, per time.Duration, burst int) {
	if host == "" || per <= 0 || burst <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := normalizeHost(host)
	policy := f.getOrCreatePolicyLocked(key)
	policy.mu.Lock()
	policy.limiter = rate.NewLimiter(rate.Every(per), burst)
	policy.mu.Unlock()
}

// FetchBytes issues a GET and returns the body and status. On a non-success
// status the body is nil and the error is a *FetchError carrying the status.
func (f *CollyFetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, int, error) {
	return f.Do(ctx, Request{URL: rawURL})
}

// Retrieve implements Retriever. The wait condition is meaningless for a
// direct request and is ignored; challenge pages come back as ErrBotDetected.
func (f *CollyFetcher) Retrieve(ctx context.Context, rawURL string, _ Wait) ([]byte, int, error) {
	body, status, err := f.FetchBytes(ctx, rawURL)
	if err != nil {
		return nil, status, err
	}
	if DetectBot(body, status) {
		return nil, status, &FetchError{Status: status, Err: ErrBotDetected}
	}
	return body, status, nil
}

func (f *CollyFetcher) Do(ctx context.Context, req Request) ([]byte, int, error) {
	var body []byte
	status, err := f.fetchWithRetry(ctx, req, func(c *colly.Collector) {
		c.OnResponse(func(r *colly.Response) {
			body = append([]byte(nil), r.Body...)
		})
	})
	if err != nil {
		return nil, status, err
	}
	return body, status, nil
}

func (f *CollyFetcher) fetchWithRetry(ctx context.Context, req Request, register func(*colly.Collector)) (int, error) {
	target, err := normalizeURL(req.URL)
	if err != nil {
		return 0, &FetchError{Err: err}
	}
	req.URL = target
	host := hostKey(target)

	var lastErr error
	var status int
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return 0, &FetchError{Err: ctx.Err()}
		}
		if err := f.waitForHost(ctx, host); err != nil {
			return 0, &FetchError{Err: err}
		}
		status, lastErr = f.fetchOnce(ctx, req, register)
		if lastErr == nil {
			return status, nil
		}
		if shouldBackoff(status) {
			f.applyBackoff(host, attempt)
			continue
		}
		return status, &FetchError{Status: status, Err: lastErr}
	}

	if lastErr == nil {
		lastErr = errors.New("colly fetch failed")
	}
	return status, &FetchError{Status: status, Err: lastErr}
}

func (f *CollyFetcher) fetchOnce(ctx context.Context, req Request, register func(*colly.Collector)) (int, error) {
	c := f.newCollector()
	if register != nil {
		register(c)
	}

	status := 0
	var reqErr error
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		reqErr = err
	})

	collyCtx := colly.NewContext()
	collyCtx.Put("ctx", ctx)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hdr := req.Header.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	var data *bytes.Reader
	if req.Body != nil {
		data = bytes.NewReader(req.Body)
	}

	var err error
	if data != nil {
		err = c.Request(method, req.URL, data, collyCtx, hdr)
	} else {
		err = c.Request(method, req.URL, nil, collyCtx, hdr)
	}
	if err != nil {
		return status, err
	}
	if reqErr != nil {
		return status, reqErr
	}
	if status >= 400 {
		return status, fmt.Errorf("status %d", status)
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, nil
}

func (f *CollyFetcher) newCollector() *colly.Collector {
	c := colly.NewCollector(colly.UserAgent(f.userAgent), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = !f.respectRobots
	c.SetRequestTimeout(f.timeout)

	c.OnRequest(func(r *colly.Request) {
		ctx := context.Background()
		if v := r.Ctx.GetAny("ctx"); v != nil {
			if reqCtx, ok := v.(context.Context); ok {
				ctx = reqCtx
			}
		}
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	return c
}

func (f *CollyFetcher) waitForHost(ctx context.Context, host string) error {
	policy := f.hostPolicy(host)
	if err := policy.waitBackoff(ctx); err != nil {
		return err
	}
	return policy.limiter.Wait(ctx)
}

func (f *CollyFetcher) hostPolicy(host string) *hostPolicy {
	key := normalizeHost(host)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getOrCreatePolicyLocked(key)
}

func (f *CollyFetcher) getOrCreatePolicyLocked(host string) *hostPolicy {
	if host == "" {
		host = "default"
	}
	if policy, ok := f.hosts[host]; ok {
		return policy
	}
	policy := &hostPolicy{
		limiter: rate.NewLimiter(f.defaultRate, f.defaultBurst),
	}
	f.hosts[host] = policy
	return policy
}

func (f *CollyFetcher) applyBackoff(host string, attempt int) {
	if attempt < 0 {
		attempt = 0
	}
	policy := f.hostPolicy(host)
	delay := time.Duration(500*(1<<attempt)) * time.Millisecond
	policy.mu.Lock()
	next := time.Now().Add(delay)
	if next.After(policy.nextAllowed) {
		policy.nextAllowed = next
	}
	policy.mu.Unlock()
}

func normalizeURL(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.String(), nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	return host
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "default"
	}
	return normalizeHost(u.Hostname())
}

func shouldBackoff(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *hostPolicy) waitBackoff(ctx context.Context) error {
	for {
		p.mu.Lock()
		next := p.nextAllowed
		p.mu.Unlock()
		now := time.Now()
		if !now.Before(next) {
			return nil
		}
		if err := sleepWithContext(ctx, next.Sub(now)); err != nil {
			return err
		}
	}
}
