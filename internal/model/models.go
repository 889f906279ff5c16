// Package model holds the records shared by the acquisition pipeline.
package model

import (
	"encoding/json"
	"slices"
	"time"
)

// ProviderConfig is one provider entry inside a job's provider list.
type ProviderConfig struct {
	ID                   string   `json:"id"`
	URL                  string   `json:"url"`
	Enabled              bool     `json:"enabled"`
	BlacklistedDistricts []string `json:"blacklistedDistricts,omitempty"`
}

// Job is a saved search owned by a user. The pipeline only reads it.
type Job struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"userId"`
	Enabled             bool             `json:"enabled"`
	Name                string           `json:"name"`
	Blacklist           []string         `json:"blacklist"`
	Providers           []ProviderConfig `json:"provider"`
	NotificationAdapter json.RawMessage  `json:"notificationAdapter,omitempty"`
	SharedWithUsers     []string         `json:"sharedWithUser"`
}

// VisibleTo reports whether userID owns the job or it was shared with them.
func (j Job) VisibleTo(userID string, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	if userID == "" {
		return false
	}
	return j.UserID == userID || slices.Contains(j.SharedWithUsers, userID)
}

// CanModify reports whether userID may change or remove the job. Sharing grants read access only.
func (j Job) CanModify(userID string, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	return userID != "" && j.UserID == userID
}

// EnabledProviders returns the provider entries that should run.
func (j Job) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(j.Providers))
	for _, p := range j.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Listing is the canonical, storage-ready representation of one classified ad.
// Pointer fields are nil when the source did not provide a usable value.
type Listing struct {
	ID        string    `json:"id"`
	NativeID  string    `json:"native_id"`
	Hash      string    `json:"hash"`
	Provider  string    `json:"provider"`
	JobID     string    `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  *bool     `json:"is_active"`

	Price       string `json:"price"`
	Size        string `json:"size"`
	Title       string `json:"title"`
	Description string `json:"description"`
	AddressFull string `json:"address_full"`
	Link        string `json:"link"`
	ImageURL    string `json:"image_url"`

	NumericPrice            *float64 `json:"numeric_price"`
	NumericSize             *float64 `json:"numeric_size"`
	PricePerSqm             *float64 `json:"price_per_sqm"`
	NumericRooms            *float64 `json:"numeric_rooms"`
	YearBuilt               *int     `json:"year_built"`
	LastRefurbishmentYear   *int     `json:"last_refurbishment_year"`
	Condition               *string  `json:"condition"`
	InteriorQuality         *string  `json:"interior_quality"`
	FlatType                *string  `json:"flat_type"`
	Street                  *string  `json:"street"`
	ZipCode                 *string  `json:"zip_code"`
	City                    *string  `json:"city"`
	EnergyClass             *string  `json:"energy_class"`
	HeatingType             *string  `json:"heating_type"`
	EnergySource            *string  `json:"energy_source"`
	ServiceCharge           *float64 `json:"service_charge"`
	AdditionalPurchaseCosts *float64 `json:"additional_purchase_costs"`
	PriceIndicatorPercent   *float64 `json:"price_indicator_percent"`
	PublishedText           *string  `json:"published_text"`

	HasBalcony    bool `json:"has_balcony"`
	HasGarden     bool `json:"has_garden"`
	HasKitchen    bool `json:"has_kitchen"`
	HasCellar     bool `json:"has_cellar"`
	HasLift       bool `json:"has_lift"`
	IsBarrierFree bool `json:"is_barrier_free"`
	IsPrivate     bool `json:"is_private"`
}

// ActiveStatus is the outcome of probing a stored listing's detail resource.
type ActiveStatus int

const (
	StatusUnknown ActiveStatus = iota
	StatusActive
	StatusInactive
)

func (s ActiveStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func BoolPtr(b bool) *bool { return &b }
