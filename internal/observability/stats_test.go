package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Counters are process-global, so assertions compare against a baseline.
func TestProviderCounters(t *testing.T) {
	before := Snapshot()

	IncPagesFetched("immowelt")
	IncPagesFetched("immowelt")
	IncPagesFetched("kleinanzeigen")
	IncPagesFetched("")
	AddListingsFetched("immowelt", 12)
	AddListingsFetched("immoscout", 0)
	AddListingsInserted("immowelt", 3)
	AddListingsInserted("kleinanzeigen", -1)

	after := Snapshot()
	tests := []struct {
		name string
		got  map[string]uint64
		base map[string]uint64
		key  string
		want uint64
	}{
		{"pages immowelt", after.PagesByProvider, before.PagesByProvider, "immowelt", 2},
		{"pages kleinanzeigen", after.PagesByProvider, before.PagesByProvider, "kleinanzeigen", 1},
		{"pages without id", after.PagesByProvider, before.PagesByProvider, "unknown", 1},
		{"fetched immowelt", after.ListingsFetchedByProvider, before.ListingsFetchedByProvider, "immowelt", 12},
		{"fetched zero ignored", after.ListingsFetchedByProvider, before.ListingsFetchedByProvider, "immoscout", 0},
		{"inserted immowelt", after.ListingsInsertedByProvider, before.ListingsInsertedByProvider, "immowelt", 3},
		{"inserted negative ignored", after.ListingsInsertedByProvider, before.ListingsInsertedByProvider, "kleinanzeigen", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got[tt.key]-tt.base[tt.key])
		})
	}

	assert.Equal(t, uint64(4), after.PagesFetched-before.PagesFetched)
	assert.Equal(t, uint64(12), after.ListingsFetched-before.ListingsFetched)
	assert.Equal(t, uint64(3), after.ListingsInserted-before.ListingsInserted)
}
