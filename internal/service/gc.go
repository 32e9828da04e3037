// gc.go — фоновая очистка файлов-сирот.
//
// GC выполняет три задачи:
//  1. Удаляет временные файлы старше IM_ORPHAN_MIN_AGE из tmp/
//  2. Удаляет артефакты zips/, covers/, previews/ старше IM_ORPHAN_MIN_AGE,
//     на digest которых не ссылается ни одна версия
//  3. Удаляет завершённые записи WAL
//
// Порог возраста защищает файлы загрузок, которые ещё не закоммичены.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/wal"
)

// gcBatchSize — число digest в одном запросе KnownHashes.
const gcBatchSize = 500

// Prometheus метрики GC
var (
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	// gcFilesDeletedTotal — удалённые файлы по подкаталогу.
	gcFilesDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "im_gc_files_deleted_total",
		Help: "Общее количество файлов, удалённых GC",
	}, []string{"area"})

	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "im_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// TempDeleted — удалённые временные файлы
	TempDeleted int
	// OrphansDeleted — удалённые артефакты без версии
	OrphansDeleted int
	// WALCleaned — удалённые завершённые записи WAL
	WALCleaned int
	// Errors — количество ошибок при обработке файлов
	Errors   int
	Duration time.Duration
}

// GCService — сервис фоновой очистки файлов.
type GCService struct {
	store     Store
	files     *filestore.FileStore
	walEngine *wal.WAL
	interval  time.Duration
	minAge    time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGCService создаёт сервис GC.
func NewGCService(
	store Store,
	files *filestore.FileStore,
	walEngine *wal.WAL,
	interval time.Duration,
	minAge time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		store:     store,
		files:     files,
		walEngine: walEngine,
		interval:  interval,
		minAge:    minAge,
		logger:    logger.With(slog.String("component", "gc")),
		now:       time.Now,
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.done = make(chan struct{})

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
		slog.String("min_age", gc.minAge.String()),
	)
}

// Stop останавливает фоновый процесс GC и ждёт завершения текущего цикла.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
		<-gc.done
	}
	gc.logger.Info("GC остановлен")
}

func (gc *GCService) run(ctx context.Context) {
	defer close(gc.done)

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл GC.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (gc *GCService) RunOnce(ctx context.Context) *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}
	cutoff := gc.now().Add(-gc.minAge)

	gc.logger.Debug("GC запуск начат")

	// Фаза 1: временные файлы
	deleted, errs := gc.sweepTemp(cutoff)
	result.TempDeleted = deleted
	result.Errors += errs

	// Фаза 2: артефакты без версии
	for _, area := range []filestore.Area{filestore.AreaZips, filestore.AreaCovers, filestore.AreaPreviews} {
		deleted, errs := gc.sweepOrphans(ctx, area, cutoff)
		result.OrphansDeleted += deleted
		result.Errors += errs
	}

	// Фаза 3: завершённые записи WAL
	cleaned, err := gc.walEngine.CleanCommitted()
	if err != nil {
		gc.logger.Error("GC: ошибка очистки WAL", slog.String("error", err.Error()))
		result.Errors++
	}
	result.WALCleaned = cleaned

	result.Duration = time.Since(start)
	gcRunsTotal.Inc()
	gcDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("GC завершён",
		slog.Int("temp_deleted", result.TempDeleted),
		slog.Int("orphans_deleted", result.OrphansDeleted),
		slog.Int("wal_cleaned", result.WALCleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

func (gc *GCService) sweepTemp(cutoff time.Time) (deleted, errors int) {
	files, err := gc.files.Scan(filestore.AreaTmp)
	if err != nil {
		gc.logger.Error("GC: ошибка сканирования tmp", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, f := range files {
		if !f.ModTime.Before(cutoff) {
			continue
		}
		if err := filestore.Remove(f.Path); err != nil {
			gc.logger.Error("GC: ошибка удаления временного файла",
				slog.String("path", f.Path),
				slog.String("error", err.Error()),
			)
			errors++
			continue
		}
		deleted++
	}
	gcFilesDeletedTotal.WithLabelValues(string(filestore.AreaTmp)).Add(float64(deleted))
	return deleted, errors
}

// sweepOrphans удаляет старые файлы подкаталога, digest которых
// неизвестен БД. При ошибке запроса пакет пропускается.
func (gc *GCService) sweepOrphans(ctx context.Context, area filestore.Area, cutoff time.Time) (deleted, errors int) {
	files, err := gc.files.Scan(area)
	if err != nil {
		gc.logger.Error("GC: ошибка сканирования",
			slog.String("area", string(area)),
			slog.String("error", err.Error()),
		)
		return 0, 1
	}

	var old []filestore.StoredFile
	for _, f := range files {
		if f.ModTime.Before(cutoff) {
			old = append(old, f)
		}
	}

	versions := gc.store.Repos().Versions
	for len(old) > 0 {
		batch := old[:min(gcBatchSize, len(old))]
		old = old[len(batch):]

		keys := make([]string, len(batch))
		for i, f := range batch {
			keys[i] = f.Key
		}
		known, err := versions.KnownHashes(ctx, keys)
		if err != nil {
			gc.logger.Error("GC: ошибка проверки digest",
				slog.String("area", string(area)),
				slog.String("error", err.Error()),
			)
			errors++
			continue
		}

		for _, f := range batch {
			if known[f.Key] {
				continue
			}
			if err := filestore.Remove(f.Path); err != nil {
				gc.logger.Error("GC: ошибка удаления артефакта",
					slog.String("path", f.Path),
					slog.String("error", err.Error()),
				)
				errors++
				continue
			}
			gc.logger.Debug("GC: артефакт без версии удалён", slog.String("path", f.Path))
			deleted++
		}
	}
	gcFilesDeletedTotal.WithLabelValues(string(area)).Add(float64(deleted))
	return deleted, errors
}
