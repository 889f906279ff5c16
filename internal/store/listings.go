package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/baxromumarov/estate-hunter/internal/model"
)

var listingColumns = []string{
	"id", "created_at", "hash", "native_id", "provider", "job_id", "is_active",
	"price", "size", "title", "image_url", "description", "address_full", "link",
	"numeric_price", "numeric_size", "price_per_sqm", "numeric_rooms",
	"year_built", "last_refurbishment_year",
	"condition", "interior_quality", "flat_type", "street", "zip_code", "city",
	"energy_class", "heating_type", "energy_source",
	"service_charge", "additional_purchase_costs", "price_indicator_percent", "published_text",
	"has_balcony", "has_garden", "has_kitchen", "has_cellar", "has_lift", "is_barrier_free", "is_private",
}

// selectListingColumns is listingColumns qualified with alias.
func selectListingColumns(alias string) string {
	cols := make([]string, len(listingColumns))
	for i, c := range listingColumns {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

var insertListingSQL = func() string {
	placeholders := make([]string, len(listingColumns))
	for i := range listingColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(`
INSERT INTO listings (%s)
VALUES (%s)
ON CONFLICT (job_id, hash) DO NOTHING
RETURNING id
`, strings.Join(listingColumns, ", "), strings.Join(placeholders, ", "))
}()

func listingArgs(l model.Listing) []any {
	return []any{
		l.ID, l.CreatedAt, l.Hash, nullString(l.NativeID), l.Provider, l.JobID, l.IsActive,
		l.Price, l.Size, l.Title, l.ImageURL, l.Description, l.AddressFull, l.Link,
		l.NumericPrice, l.NumericSize, l.PricePerSqm, l.NumericRooms,
		l.YearBuilt, l.LastRefurbishmentYear,
		l.Condition, l.InteriorQuality, l.FlatType, l.Street, l.ZipCode, l.City,
		l.EnergyClass, l.HeatingType, l.EnergySource,
		l.ServiceCharge, l.AdditionalPurchaseCosts, l.PriceIndicatorPercent, l.PublishedText,
		l.HasBalcony, l.HasGarden, l.HasKitchen, l.HasCellar, l.HasLift, l.IsBarrierFree, l.IsPrivate,
	}
}

// InsertListings inserts each listing unless (job_id, hash) already exists
// and returns the listings that were actually written.
func (s *Store) InsertListings(ctx context.Context, listings []model.Listing) ([]model.Listing, error) {
	if len(listings) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertListingSQL)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := make([]model.Listing, 0, len(listings))
	for _, l := range listings {
		var id string
		err := stmt.QueryRowContext(ctx, listingArgs(l)...).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert listing %s: %w", l.Hash, err)
		}
		inserted = append(inserted, l)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (s *Store) KnownHashes(ctx context.Context, jobID, providerID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT hash
FROM listings
WHERE job_id = $1 AND provider = $2
`, jobID, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		known[h] = struct{}{}
	}
	return known, rows.Err()
}

// ActiveOrUnknownListings returns listings whose is_active flag is TRUE or NULL.
func (s *Store) ActiveOrUnknownListings(ctx context.Context) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+selectListingColumns("l")+`
FROM listings l
WHERE l.is_active IS NULL OR l.is_active = TRUE
ORDER BY l.provider
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) DeactivateListings(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE listings
SET is_active = FALSE
WHERE id = ANY($1)
`, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteListingsByJobID(ctx context.Context, jobID string) (int64, error) {
	if jobID == "" {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteListingsByIDs removes the given listings. Non-admin callers can only
// remove listings of jobs they own.
func (s *Store) DeleteListingsByIDs(ctx context.Context, ids []string, userID string, isAdmin bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var (
		res sql.Result
		err error
	)
	if isAdmin {
		res, err = s.db.ExecContext(ctx, `DELETE FROM listings WHERE id = ANY($1)`, pq.Array(ids))
	} else {
		res, err = s.db.ExecContext(ctx, `
DELETE FROM listings l
USING jobs j
WHERE j.id = l.job_id AND j.user_id = $2 AND l.id = ANY($1)
`, pq.Array(ids), userID)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ProviderHashTimeline groups a job's listings by provider, mapping each
// hash to the time it was first stored.
func (s *Store) ProviderHashTimeline(ctx context.Context, jobID string) (map[string]map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT provider, hash, created_at
FROM listings
WHERE job_id = $1
`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]time.Time)
	for rows.Next() {
		var (
			providerID, hash string
			createdAt        time.Time
		)
		if err := rows.Scan(&providerID, &hash, &createdAt); err != nil {
			return nil, err
		}
		if out[providerID] == nil {
			out[providerID] = make(map[string]time.Time)
		}
		out[providerID][hash] = createdAt
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanListing reads one row in listingColumns order plus any extra destinations.
func scanListing(row rowScanner, extra ...any) (model.Listing, error) {
	var (
		l                                               model.Listing
		nativeID                                        sql.NullString
		isActive                                        sql.NullBool
		price, size, title, image, desc, addr, link     sql.NullString
		numPrice, numSize, ppsqm, rooms                 sql.NullFloat64
		yearBuilt, refurbished                          sql.NullInt64
		condition, quality, flatType, street, zip, city sql.NullString
		energyClass, heating, energySource, published   sql.NullString
		serviceCharge, purchaseCosts, priceIndicator    sql.NullFloat64
	)
	var balcony, garden, kitchen, cellar, lift, barrierFree, private bool
	dest := []any{
		&l.ID, &l.CreatedAt, &l.Hash, &nativeID, &l.Provider, &l.JobID, &isActive,
		&price, &size, &title, &image, &desc, &addr, &link,
		&numPrice, &numSize, &ppsqm, &rooms,
		&yearBuilt, &refurbished,
		&condition, &quality, &flatType, &street, &zip, &city,
		&energyClass, &heating, &energySource,
		&serviceCharge, &purchaseCosts, &priceIndicator, &published,
		&balcony, &garden, &kitchen, &cellar, &lift, &barrierFree, &private,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.Listing{}, err
	}

	l.NativeID = nativeID.String
	if isActive.Valid {
		l.IsActive = model.BoolPtr(isActive.Bool)
	}
	l.Price, l.Size, l.Title = price.String, size.String, title.String
	l.ImageURL, l.Description, l.AddressFull, l.Link = image.String, desc.String, addr.String, link.String

	l.NumericPrice = floatPtr(numPrice)
	l.NumericSize = floatPtr(numSize)
	l.PricePerSqm = floatPtr(ppsqm)
	l.NumericRooms = floatPtr(rooms)
	l.YearBuilt = intPtr(yearBuilt)
	l.LastRefurbishmentYear = intPtr(refurbished)
	l.Condition = stringPtr(condition)
	l.InteriorQuality = stringPtr(quality)
	l.FlatType = stringPtr(flatType)
	l.Street = stringPtr(street)
	l.ZipCode = stringPtr(zip)
	l.City = stringPtr(city)
	l.EnergyClass = stringPtr(energyClass)
	l.HeatingType = stringPtr(heating)
	l.EnergySource = stringPtr(energySource)
	l.ServiceCharge = floatPtr(serviceCharge)
	l.AdditionalPurchaseCosts = floatPtr(purchaseCosts)
	l.PriceIndicatorPercent = floatPtr(priceIndicator)
	l.PublishedText = stringPtr(published)

	l.HasBalcony, l.HasGarden, l.HasKitchen, l.HasCellar = balcony, garden, kitchen, cellar
	l.HasLift, l.IsBarrierFree, l.IsPrivate = lift, barrierFree, private
	return l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
