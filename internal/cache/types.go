package cache

import (
	"time"

	"github.com/fbellamy/anonymiseur/internal/entity"
)

// CachedResult is a reconciled detection result stored by content hash.
// Only detector output is cached; operator edits never enter the cache.
type CachedResult struct {
	Entities []entity.Entity `json:"entities"`
	ModeUsed string          `json:"mode_used"`
	CachedAt time.Time       `json:"cached_at"`
}

// Stats reports cache performance counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}
