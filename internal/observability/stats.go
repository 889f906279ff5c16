package observability

import (
	"sync"
	"sync/atomic"
)

type StatsSnapshot struct {
	PagesFetched        uint64            `json:"pages_fetched"`
	ListingsFetched     uint64            `json:"listings_fetched"`
	ListingsInserted    uint64            `json:"listings_inserted"`
	StatusChecksRun     uint64            `json:"status_checks_run"`
	ListingsDeactivated uint64            `json:"listings_deactivated"`
	ErrorsTotal         uint64            `json:"errors_total"`
	RunSecondsAvg       float64           `json:"run_seconds_avg"`
	StatusCheckOutcomes map[string]uint64 `json:"status_check_outcomes,omitempty"`
	ErrorsByType        map[string]uint64 `json:"errors_by_type,omitempty"`
	ErrorsByComponent   map[string]uint64 `json:"errors_by_component,omitempty"`

	// Per-provider breakdowns of the totals above, keyed by provider id.
	PagesByProvider            map[string]uint64 `json:"pages_by_provider,omitempty"`
	ListingsFetchedByProvider  map[string]uint64 `json:"listings_fetched_by_provider,omitempty"`
	ListingsInsertedByProvider map[string]uint64 `json:"listings_inserted_by_provider,omitempty"`
}

var (
	pagesFetched        uint64
	listingsFetched     uint64
	listingsInserted    uint64
	statusChecksRun     uint64
	listingsDeactivated uint64
	errorsTotal         uint64

	runCount uint64
	runNanos uint64

	statsMu                    sync.Mutex
	statusCheckOutcomes        = map[string]uint64{}
	errorsByType               = map[string]uint64{}
	errorsByComponent          = map[string]uint64{}
	pagesByProvider            = map[string]uint64{}
	listingsFetchedByProvider  = map[string]uint64{}
	listingsInsertedByProvider = map[string]uint64{}
)

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func IncPagesFetched(providerID string) {
	atomic.AddUint64(&pagesFetched, 1)
	statsMu.Lock()
	pagesByProvider[orUnknown(providerID)]++
	statsMu.Unlock()
}

func AddListingsFetched(providerID string, n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&listingsFetched, uint64(n))
	statsMu.Lock()
	listingsFetchedByProvider[orUnknown(providerID)] += uint64(n)
	statsMu.Unlock()
}

func AddListingsInserted(providerID string, n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&listingsInserted, uint64(n))
	statsMu.Lock()
	listingsInsertedByProvider[orUnknown(providerID)] += uint64(n)
	statsMu.Unlock()
}

func AddListingsDeactivated(n int64) {
	if n > 0 {
		atomic.AddUint64(&listingsDeactivated, uint64(n))
	}
}

func IncStatusCheck(outcome string) {
	atomic.AddUint64(&statusChecksRun, 1)
	statsMu.Lock()
	statusCheckOutcomes[orUnknown(outcome)]++
	statsMu.Unlock()
}

func ObserveRunDuration(seconds float64) {
	if seconds <= 0 {
		return
	}
	atomic.AddUint64(&runCount, 1)
	atomic.AddUint64(&runNanos, uint64(seconds*1e9))
}

func IncError(errType, component string) {
	atomic.AddUint64(&errorsTotal, 1)
	statsMu.Lock()
	errorsByType[orUnknown(errType)]++
	errorsByComponent[orUnknown(component)]++
	statsMu.Unlock()
}

func Snapshot() StatsSnapshot {
	statsMu.Lock()
	s := StatsSnapshot{
		StatusCheckOutcomes:        copyMap(statusCheckOutcomes),
		ErrorsByType:               copyMap(errorsByType),
		ErrorsByComponent:          copyMap(errorsByComponent),
		PagesByProvider:            copyMap(pagesByProvider),
		ListingsFetchedByProvider:  copyMap(listingsFetchedByProvider),
		ListingsInsertedByProvider: copyMap(listingsInsertedByProvider),
	}
	statsMu.Unlock()

	count := atomic.LoadUint64(&runCount)
	if count > 0 {
		s.RunSecondsAvg = float64(atomic.LoadUint64(&runNanos)) / float64(count) / 1e9
	}
	s.PagesFetched = atomic.LoadUint64(&pagesFetched)
	s.ListingsFetched = atomic.LoadUint64(&listingsFetched)
	s.ListingsInserted = atomic.LoadUint64(&listingsInserted)
	s.StatusChecksRun = atomic.LoadUint64(&statusChecksRun)
	s.ListingsDeactivated = atomic.LoadUint64(&listingsDeactivated)
	s.ErrorsTotal = atomic.LoadUint64(&errorsTotal)
	return s
}

func copyMap(src map[string]uint64) map[string]uint64 {
	if len(src) == 0 {
		return map[string]uint64{}
	}
	out := make(map[string]uint64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
