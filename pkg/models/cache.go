package models

// CacheStats reports cache performance metrics.
type CacheStats struct {
	FastEntries    int   `json:"fast_entries"`
	DurableEntries int64 `json:"durable_entries"`
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Evictions      int64 `json:"evictions"`
}
