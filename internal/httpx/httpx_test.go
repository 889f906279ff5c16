package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *CollyFetcher {
	return NewCollyFetcher(FetcherOptions{
		UserAgent:     "estate-hunter-test/1.0",
		Timeout:       5 * time.Second,
		RatePerSecond: 100,
		Burst:         100,
		MaxAttempts:   1,
	})
}

func TestDetectBot(t *testing.T) {
	tests := []struct {
		name    string
		content string
		status  int
		want    bool
	}{
		{name: "clean page", content: "<html><body>Wohnungen</body></html>", status: 200, want: false},
		{name: "forbidden", content: "<html></html>", status: 403, want: true},
		{name: "rate limited", content: "", status: 429, want: true},
		{name: "captcha text", content: "Please Verify you are human", status: 200, want: true},
		{name: "access denied", content: "<h1>Access Denied</h1>", status: 200, want: true},
		{name: "cloudfront marker", content: "X-Amz-Cf-Id: abc", status: 200, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBot([]byte(tt.content), tt.status))
		})
	}
}

func TestWithProfileDirRemovesDirectory(t *testing.T) {
	t.Run("on error", func(t *testing.T) {
		var dir string
		err := withProfileDir("profile-test-", func(d string) error {
			dir = d
			_, statErr := os.Stat(d)
			require.NoError(t, statErr)
			return errors.New("boom")
		})
		require.EqualError(t, err, "boom")
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("on panic", func(t *testing.T) {
		var dir string
		func() {
			defer func() { _ = recover() }()
			_ = withProfileDir("profile-test-", func(d string) error {
				dir = d
				panic("crash")
			})
		}()
		require.NotEmpty(t, dir)
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestCollyFetcherFetchBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("hello"))
		case "/gone":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	f := newTestFetcher()

	body, status, err := f.FetchBytes(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", string(body))

	body, status, err = f.FetchBytes(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	assert.Nil(t, body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestCollyFetcherPostWithHeaders(t *testing.T) {
	var gotBody, gotUA, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotUA = r.Header.Get("User-Agent")
		gotMethod = r.Method
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newTestFetcher()
	hdr := http.Header{}
	hdr.Set("User-Agent", "ImmoScout_27.3_26.0_._")
	hdr.Set("Content-Type", "application/json")

	body, status, err := f.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/search/list",
		Body:   []byte(`{"a":1}`),
		Header: hdr,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"a":1}`, gotBody)
	assert.Equal(t, "ImmoScout_27.3_26.0_._", gotUA)
}

func TestCollyFetcherCancelledContext(t *testing.T) {
	f := newTestFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, status, err := f.FetchBytes(ctx, "http://127.0.0.1:1/never")
	require.Error(t, err)
	assert.Equal(t, 0, status)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollyFetcherRetrieveDetectsBot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/challenge" {
			_, _ = w.Write([]byte("<html><body>Please verify you are human</body></html>"))
			return
		}
		_, _ = w.Write([]byte("<html><body>Wohnungen</body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	var r Retriever = f

	body, status, err := r.Retrieve(context.Background(), srv.URL+"/list", Wait{Selector: "#results"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "Wohnungen")

	body, status, err = r.Retrieve(context.Background(), srv.URL+"/challenge", Wait{})
	require.Error(t, err)
	assert.Nil(t, body)
	assert.Equal(t, http.StatusOK, status)
	assert.ErrorIs(t, err, ErrBotDetected)
	assert.Equal(t, http.StatusOK, StatusOf(err))
}

type fakePage struct {
	status  int
	navErr  error
	waitErr error
	html    string
	waited  []string
}

func (p *fakePage) Navigate(string) (int, error) { return p.status, p.navErr }

func (p *fakePage) WaitFor(selector string, _ time.Duration) error {
	p.waited = append(p.waited, selector)
	return p.waitErr
}

func (p *fakePage) HTML() (string, error) { return p.html, nil }
func (p *fakePage) Exists(string) (bool, error) { return false, nil }
func (p *fakePage) Click(string, time.Duration) error { return nil }
func (p *fakePage) WaitText(string, string, time.Duration) error { return nil }

func TestRetrievePage(t *testing.T) {
	tests := []struct {
		name       string
		page       *fakePage
		wait       Wait
		wantErr    error
		wantBody   string
		wantStatus int
		wantWaited string
	}{
		{
			name:       "rendered markup",
			page:       &fakePage{status: 200, html: "<html><ul id=\"r\"></ul></html>"},
			wait:       Wait{Selector: "#r"},
			wantBody:   "<html><ul id=\"r\"></ul></html>",
			wantStatus: 200,
			wantWaited: "#r",
		},
		{
			name:       "document ready by default",
			page:       &fakePage{status: 200, html: "<html></html>"},
			wantBody:   "<html></html>",
			wantStatus: 200,
			wantWaited: "body",
		},
		{
			name:       "challenge page",
			page:       &fakePage{status: 200, html: "Access Denied"},
			wantErr:    ErrBotDetected,
			wantStatus: 200,
			wantWaited: "body",
		},
		{
			name:       "forbidden status",
			page:       &fakePage{status: 403, html: "<html></html>"},
			wantErr:    ErrBotDetected,
			wantStatus: 403,
			wantWaited: "body",
		},
		{
			name:       "wait expired",
			page:       &fakePage{status: 200, waitErr: ErrWaitTimeout},
			wait:       Wait{Selector: "#r"},
			wantErr:    ErrWaitTimeout,
			wantStatus: 200,
			wantWaited: "#r",
		},
		{
			name:    "navigation failed",
			page:    &fakePage{navErr: ErrWaitTimeout},
			wantErr: ErrWaitTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, status, err := retrievePage(tt.page, "https://example.test/list", tt.wait, time.Second)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, body)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantBody, string(body))
			}
			if tt.wantWaited != "" {
				assert.Equal(t, []string{tt.wantWaited}, tt.page.waited)
			} else {
				assert.Empty(t, tt.page.waited)
			}
		})
	}
}

func TestHostLimits(t *testing.T) {
	f := NewCollyFetcher(FetcherOptions{
		RatePerSecond: 2,
		Burst:         4,
		HostLimits: []HostLimit{
			{Host: "WWW.API.Example.test", Every: 100 * time.Millisecond, Burst: 8},
			{Host: "ignored.example.test", Every: 0, Burst: 8},
		},
	})

	limited := f.hostPolicy("api.example.test").limiter
	assert.Equal(t, 8, limited.Burst())
	assert.InDelta(t, 10, float64(limited.Limit()), 0.001)

	assert.Equal(t, 4, f.hostPolicy("ignored.example.test").limiter.Burst())
	assert.Equal(t, 4, f.hostPolicy("other.example.test").limiter.Burst())

	f.SetHostLimit("other.example.test", time.Second, 1)
	assert.Equal(t, 1, f.hostPolicy("other.example.test").limiter.Burst())
}
