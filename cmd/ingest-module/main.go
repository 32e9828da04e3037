// Точка входа Ingest Module — приём и проверка архивов карт.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// восстанавливает незавершённые загрузки по WAL, запускает GC,
// доставку событий, topologymetrics и HTTP-сервер с JWT middleware.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/database"
	"github.com/bigkaa/goartstore/ingest-module/internal/mapfile"
	"github.com/bigkaa/goartstore/ingest-module/internal/notify"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/server"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/wal"
)

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("Ingest Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_root", cfg.StorageRoot),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ingest Module остановлен с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Ingest Module остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Миграции и пул PostgreSQL
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Проверка PostgreSQL в topologymetrics идёт через тот же пул
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	txRunner := repository.NewTxRunner(pool)

	// 4. Файловое хранилище и WAL
	files, err := filestore.New(cfg.StorageRoot)
	if err != nil {
		return err
	}
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return err
	}

	// 5. Восстановление после аварийной остановки
	recovered, err := service.RecoverUploads(ctx, walEngine, txRunner.Repos().Versions, logger)
	if err != nil {
		return err
	}
	if recovered > 0 {
		logger.Warn("Восстановлены незавершённые загрузки", slog.Int("count", recovered))
	}

	// 6. Доставка событий о новых версиях
	publisher, err := notify.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	emitter := notify.NewEmitter(publisher, cfg.NotifyBuffer, logger)
	emitter.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stopCancel()
		emitter.Stop(stopCtx)
	}()

	// 7. Сервисный слой
	tiers := service.NewTierCache(txRunner.Repos().Tiers, service.DefaultTier(cfg), cfg.TierCacheSize, cfg.TierCacheTTL)
	uploadSvc := service.NewUploadService(
		cfg, txRunner, files, walEngine,
		mapfile.NewInfoDatValidator(), tiers, emitter,
		logger,
	)

	gcSvc := service.NewGCService(txRunner, files, walEngine, cfg.GCInterval, cfg.OrphanMinAge, logger)
	gcSvc.Start(ctx)
	defer gcSvc.Stop()

	// 8. topologymetrics — мониторинг PostgreSQL и JWKS
	if stop := startDephealth(ctx, cfg, pgDB, logger); stop != nil {
		defer stop()
	}

	// 9. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		ClientTimeout:   10 * time.Second,
		RefreshInterval: 15 * time.Minute,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		return err
	}
	logger.Info("JWT middleware инициализирован", slog.String("jwks_url", cfg.JWKSUrl))

	// 10. HTTP-сервер
	srv := server.New(cfg, logger,
		handlers.NewUploadHandler(uploadSvc, logger),
		handlers.NewHealthHandler(database.NewReadinessChecker(pool)),
		jwtAuth,
	)
	return srv.Run(ctx)
}

// startDephealth запускает мониторинг зависимостей. Ошибка не фатальна:
// сервис работает без метрик зависимостей, возвращается nil.
func startDephealth(ctx context.Context, cfg *config.Config, pgDB *sql.DB, logger *slog.Logger) func() {
	serviceID := cfg.ServiceID
	if cfg.DephealthName != "" {
		serviceID = cfg.DephealthName
	}

	dephealthSvc, err := service.NewDephealthService(service.DephealthParams{
		ServiceID:     serviceID,
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWKSUrl,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("topologymetrics запущен",
		slog.String("group", cfg.DephealthGroup),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return dephealthSvc.Stop
}
