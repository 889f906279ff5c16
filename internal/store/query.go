package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/baxromumarov/estate-hunter/internal/model"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ListingQuery filters, sorts and pages listings. Empty fields do not filter.
type ListingQuery struct {
	Page     int
	PageSize int

	FreeText string
	JobID    string
	// JobName is only used when JobID is empty.
	JobName  string
	Provider string
	// Active filters on the activity flag when set.
	Active      *bool
	WatchedOnly bool

	SortField string
	SortDir   string

	UserID  string
	IsAdmin bool
}

type ListingRow struct {
	model.Listing
	JobName   string `json:"job_name"`
	IsWatched bool   `json:"isWatched"`
}

type ListingPage struct {
	Total    int          `json:"totalNumber"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
	Result   []ListingRow `json:"result"`
}

var watchedExpr = "CASE WHEN wl.id IS NOT NULL THEN 1 ELSE 0 END"

// sortColumns whitelists the sortable fields. Anything else sorts newest first.
var sortColumns = map[string]string{
	"created_at": "l.created_at",
	"price":      "l.numeric_price",
	"size":       "l.numeric_size",
	"provider":   "l.provider",
	"title":      "l.title",
	"job_name":   "j.name",
	"is_active":  "l.is_active",
	"isWatched":  watchedExpr,
}

type builtQuery struct {
	where  string
	order  string
	args   []any
	limit  int
	offset int
	page   int
}

func buildListingQuery(q ListingQuery) builtQuery {
	b := builtQuery{}
	b.limit = clampLimit(q.PageSize, defaultPageSize, maxPageSize)
	b.page = q.Page
	if b.page < 1 {
		b.page = 1
	}
	b.offset = (b.page - 1) * b.limit

	// $1 is always the caller, used by the watch-list join.
	b.args = []any{q.UserID}
	var where []string
	arg := func(v any) string {
		b.args = append(b.args, v)
		return fmt.Sprintf("$%d", len(b.args))
	}

	if !q.IsAdmin {
		where = append(where, "(j.user_id = $1 OR j.shared_with_user @> jsonb_build_array($1::text))")
	}
	if text := strings.TrimSpace(q.FreeText); text != "" {
		p := arg("%" + escapeLike(text) + "%")
		where = append(where, fmt.Sprintf("(l.title ILIKE %[1]s OR l.address_full ILIKE %[1]s OR l.provider ILIKE %[1]s OR l.link ILIKE %[1]s)", p))
	}
	if q.Active != nil {
		where = append(where, fmt.Sprintf("(l.is_active = %s)", arg(*q.Active)))
	}
	if id := strings.TrimSpace(q.JobID); id != "" {
		where = append(where, fmt.Sprintf("(l.job_id = %s)", arg(id)))
	} else if name := strings.TrimSpace(q.JobName); name != "" {
		where = append(where, fmt.Sprintf("(j.name = %s)", arg(name)))
	}
	if p := strings.TrimSpace(q.Provider); p != "" {
		where = append(where, fmt.Sprintf("(l.provider = %s)", arg(p)))
	}
	if q.WatchedOnly {
		where = append(where, "(wl.id IS NOT NULL)")
	}
	if len(where) > 0 {
		b.where = "WHERE " + strings.Join(where, " AND ")
	}

	col, ok := sortColumns[q.SortField]
	if !ok {
		b.order = "ORDER BY l.created_at DESC, l.id"
		return b
	}
	dir := "ASC"
	if strings.EqualFold(q.SortDir, "desc") {
		dir = "DESC"
	}
	b.order = fmt.Sprintf("ORDER BY %s %s NULLS LAST, l.id", col, dir)
	return b
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

const listingFrom = `
FROM listings l
LEFT JOIN jobs j ON j.id = l.job_id
LEFT JOIN watch_list wl ON wl.listing_id = l.id AND wl.user_id = $1
`

func (s *Store) QueryListings(ctx context.Context, q ListingQuery) (*ListingPage, error) {
	b := buildListingQuery(q)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1)"+listingFrom+b.where, b.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count listings: %w", err)
	}

	args := append(append([]any(nil), b.args...), b.limit, b.offset)
	pageSQL := fmt.Sprintf("SELECT %s, COALESCE(j.name, ''), %s%s%s\n%s\nLIMIT $%d OFFSET $%d",
		selectListingColumns("l"), watchedExpr, listingFrom, b.where, b.order, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, pageSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	page := &ListingPage{Total: total, Page: b.page, PageSize: b.limit, Result: []ListingRow{}}
	for rows.Next() {
		var (
			row     ListingRow
			watched int
		)
		l, err := scanListing(rows, &row.JobName, &watched)
		if err != nil {
			return nil, err
		}
		row.Listing = l
		row.IsWatched = watched == 1
		page.Result = append(page.Result, row)
	}
	return page, rows.Err()
}
