package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/estate-hunter/internal/httpx"
)

func TestRetrieveTo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blocked" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("<html>Wohnungen</html>"))
	}))
	defer srv.Close()

	r := httpx.NewCollyFetcher(httpx.FetcherOptions{Timeout: 5 * time.Second, RatePerSecond: 100, MaxAttempts: 1})

	tests := []struct {
		name       string
		path       string
		wantErr    bool
		wantOut    string
		wantStatus string
	}{
		{name: "page printed", path: "/list", wantOut: "<html>Wohnungen</html>", wantStatus: "status 200, 22 bytes\n"},
		{name: "blocked page", path: "/blocked", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, status bytes.Buffer
			err := retrieveTo(context.Background(), r, srv.URL+tt.path, httpx.Wait{}, &out, &status)
			if tt.wantErr {
				require.Error(t, err)
				assert.Empty(t, out.String())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOut, out.String())
			assert.Equal(t, tt.wantStatus, status.String())
		})
	}
}
