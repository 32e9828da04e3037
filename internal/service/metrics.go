// Пакет service — бизнес-логика Ingest Module.
// metrics.go — Prometheus-метрики конвейера загрузки.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// uploadsTotal — загрузки по результату: success или вид ошибки.
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "im_uploads_total",
		Help: "Общее количество загрузок карт по результату",
	}, []string{"result"})

	// uploadStageDuration — длительность стадий конвейера.
	uploadStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "im_upload_stage_duration_seconds",
		Help:    "Длительность стадии конвейера загрузки в секундах",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})

	// uploadBytes — размер принятых архивов.
	uploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "im_upload_bytes",
		Help:    "Размер принятого архива в байтах",
		Buckets: prometheus.ExponentialBuckets(64<<10, 2, 12),
	})

	tierCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_tier_cache_hits_total",
		Help: "Общее количество попаданий в кэш тарифов",
	})
	tierCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_tier_cache_misses_total",
		Help: "Общее количество промахов кэша тарифов",
	})
)
