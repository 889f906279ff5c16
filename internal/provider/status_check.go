package provider

import (
	"context"
	"net/http"

	"github.com/baxromumarov/estate-hunter/internal/httpx"
	"github.com/baxromumarov/estate-hunter/internal/model"
	"github.com/baxromumarov/estate-hunter/internal/observability"
)

// checkStatus maps the response for a listing's detail resource to an
// active status: success is active, 404/410 inactive, anything else unknown.
func checkStatus(ctx context.Context, f Fetcher, req httpx.Request) model.ActiveStatus {
	_, status, err := f.Do(ctx, req)
	var result model.ActiveStatus
	switch {
	case err == nil && status >= 200 && status < 300:
		result = model.StatusActive
	case status == http.StatusNotFound || status == http.StatusGone:
		result = model.StatusInactive
	default:
		result = model.StatusUnknown
	}
	observability.IncStatusCheck(result.String())
	return result
}
