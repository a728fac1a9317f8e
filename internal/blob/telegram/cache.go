package telegram

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша resolve.
var (
	resolveCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tv_blob_resolve_cache_hits_total",
		Help: "Количество попаданий в кэш file_id → file_path.",
	})
	resolveCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tv_blob_resolve_cache_misses_total",
		Help: "Количество промахов кэша file_id → file_path.",
	})
)

// pathCache — LRU-кэш file_id → file_path с TTL.
// Bot API гарантирует, что ссылка на скачивание живёт не меньше часа,
// поэтому TTL должен быть меньше часа.
type pathCache struct {
	lru *expirable.LRU[string, string]
}

func newPathCache(size int, ttl time.Duration) *pathCache {
	return &pathCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *pathCache) get(fileID string) (string, bool) {
	path, ok := c.lru.Get(fileID)
	if ok {
		resolveCacheHitsTotal.Inc()
		return path, true
	}
	resolveCacheMissesTotal.Inc()
	return "", false
}

func (c *pathCache) set(fileID, path string) {
	c.lru.Add(fileID, path)
}

// invalidate удаляет путь, который перестал скачиваться.
func (c *pathCache) invalidate(fileID string) {
	c.lru.Remove(fileID)
}
