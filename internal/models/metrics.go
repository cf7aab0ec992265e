package models

import "time"

// SystemMetrics represents system level figures captured from instrumentation.
type SystemMetrics struct {
	CacheHitRatio              float64   `json:"cache_hit_ratio"`
	CacheHits                  uint64    `json:"cache_hits"`
	CacheMisses                uint64    `json:"cache_misses"`
	RequestsTotal              uint64    `json:"requests_total"`
	AverageRequestDurationMs   float64   `json:"average_request_duration_ms"`
	StoreCallCount             uint64    `json:"store_call_count"`
	AverageStoreCallDurationMs float64   `json:"average_store_call_duration_ms"`
	ClaimsSucceeded            uint64    `json:"claims_succeeded"`
	ClaimsRejected             uint64    `json:"claims_rejected"`
	DepositsSucceeded          uint64    `json:"deposits_succeeded"`
	PartialCommits             uint64    `json:"partial_commits"`
	PendingNotifications       int64     `json:"pending_notifications"`
	Goroutines                 int       `json:"goroutines"`
	GeneratedAt                time.Time `json:"generated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
