// logging.go — журнал HTTP-запросов через slog. Одна запись на запрос:
// статус, длительность, размер тела загрузки и атрибуты, которые
// добавили внутренние слои (uploader_id, map_id, hash, error_kind).
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// requestAttrs — атрибуты записи о запросе, накопленные обработчиками.
type requestAttrs struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

type requestAttrsKey struct{}

// AddLogAttrs добавляет атрибуты к итоговой записи о запросе.
// Вне RequestLogger ничего не делает.
func AddLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	ra, ok := ctx.Value(requestAttrsKey{}).(*requestAttrs)
	if !ok {
		return
	}
	ra.mu.Lock()
	ra.attrs = append(ra.attrs, attrs...)
	ra.mu.Unlock()
}

// statusRecorder перехватывает статус-код и размер ответа.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.written += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// RequestLogger пишет запись о каждом запросе. 4xx — WARN, 5xx — ERROR.
// Для загрузок это основная запись: отказ конвейера виден по error_kind.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ra := &requestAttrs{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestAttrsKey{}, ra)))

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", rec.written),
				slog.Int64("content_length", r.ContentLength),
				slog.String("remote_addr", r.RemoteAddr),
			}
			ra.mu.Lock()
			attrs = append(attrs, ra.attrs...)
			ra.mu.Unlock()

			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
