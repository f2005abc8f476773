package models

import "time"

// SystemMetrics represents aggregate instrumentation captured since process start.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	ConflictChecks           uint64    `json:"conflict_checks"`
	ConflictsDetected        uint64    `json:"conflicts_detected"`
	PublishAttempts          uint64    `json:"publish_attempts"`
	PublishRejections        uint64    `json:"publish_rejections"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
