// metrics.go — Prometheus HTTP метрики Ingest Module.
// Бизнес-метрики загрузок регистрируются в пакете service.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_http_requests_total",
			Help: "Общее количество HTTP-запросов к Ingest Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — загрузка карты длится секунды, поэтому
	// корзины шире DefBuckets.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "im_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Ingest Module в секундах",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)
)

// knownPaths — пути, попадающие в метки как есть.
var knownPaths = map[string]bool{
	"/health/live":        true,
	"/health/ready":       true,
	"/metrics":            true,
	"/api/v1/maps/upload": true,
}

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.status)
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath сводит неизвестные пути к одной метке,
// чтобы сканеры не раздували кардинальность.
func normalizePath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "other"
}
