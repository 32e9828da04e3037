// Пакет config — загрузка и валидация конфигурации Ingest Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Ingest Module.
type Config struct {
	// Порт HTTP-сервера (диапазон 8030-8039)
	Port int
	// Идентификатор экземпляра (метка в логах и событиях)
	ServiceID string
	// Корневая директория файлов: tmp/, zips/, covers/, previews/
	StorageRoot string
	// Путь к директории WAL
	WALDir string

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// URL JWKS endpoint сервиса аутентификации
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Допуск рассинхронизации часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Путь к TLS сертификату (опционально, без него — HTTP)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Квоты по умолчанию, если для загрузчика нет строки в uploader_tiers
	BasicSizeLimit  int64
	BundleSizeLimit int64
	WIPLimit        int

	// Ограничения распаковки (защита от zip-бомб)
	MaxUncompressed int64
	MaxEntries      int
	MaxEntrySize    int64

	// Кэш тарифов
	TierCacheSize int
	TierCacheTTL  time.Duration

	// Интервал запуска GC
	GCInterval time.Duration
	// Минимальный возраст файла-сироты перед удалением
	OrphanMinAge time.Duration

	// Публикация событий: none, redis, amqp, kafka
	NotifyBackend string
	// Ёмкость очереди событий
	NotifyBuffer int
	RedisAddr    string
	RedisChannel string
	AMQPURL      string
	AMQPExchange string
	KafkaBrokers []string
	KafkaTopic   string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string

	// Таймауты HTTP-сервера. Чтение тела загрузки ограничено размером,
	// поэтому IM_HTTP_READ_TIMEOUT по умолчанию выключен (0).
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// IM_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("IM_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("IM_PORT: %w", err)
	}
	if cfg.Port < 8030 || cfg.Port > 8039 {
		return nil, fmt.Errorf("IM_PORT: значение %d вне допустимого диапазона 8030-8039", cfg.Port)
	}

	// IM_SERVICE_ID — идентификатор экземпляра (по умолчанию "ingest-module")
	cfg.ServiceID = getEnvDefault("IM_SERVICE_ID", "ingest-module")

	// IM_STORAGE_ROOT — обязательный
	cfg.StorageRoot, err = getEnvRequired("IM_STORAGE_ROOT")
	if err != nil {
		return nil, err
	}

	// IM_WAL_DIR — обязательный
	cfg.WALDir, err = getEnvRequired("IM_WAL_DIR")
	if err != nil {
		return nil, err
	}

	// IM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IM_LOG_LEVEL: %w", err)
	}

	// IM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("IM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("IM_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("IM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("IM_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("IM_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("IM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// IM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("IM_DB_SSL_MODE", "disable")
	validSSL := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSL[cfg.DBSSLMode] {
		return nil, fmt.Errorf("IM_DB_SSL_MODE: недопустимое значение %q", cfg.DBSSLMode)
	}

	// --- Аутентификация и TLS ---

	cfg.JWKSUrl, err = getEnvRequired("IM_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWKSCACert = getEnvDefault("IM_JWKS_CA_CERT", "")

	// IM_JWT_LEEWAY — допуск часов (по умолчанию 5s)
	cfg.JWTLeeway, err = getEnvDuration("IM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_JWT_LEEWAY: %w", err)
	}

	// IM_TLS_CERT и IM_TLS_KEY задаются только вместе
	cfg.TLSCert = getEnvDefault("IM_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("IM_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("IM_TLS_CERT/IM_TLS_KEY: должны быть заданы оба или ни одного")
	}

	// --- Квоты ---

	// IM_BASIC_SIZE_LIMIT — базовый лимит архива (по умолчанию 15 MB)
	cfg.BasicSizeLimit, err = getEnvPositiveInt64("IM_BASIC_SIZE_LIMIT", 15<<20)
	if err != nil {
		return nil, err
	}

	// IM_BUNDLE_SIZE_LIMIT — лимит на каждый тип бандла (по умолчанию 50 MB)
	cfg.BundleSizeLimit, err = getEnvPositiveInt64("IM_BUNDLE_SIZE_LIMIT", 50<<20)
	if err != nil {
		return nil, err
	}

	// IM_WIP_LIMIT — неопубликованных версий на загрузчика (по умолчанию 5)
	cfg.WIPLimit, err = getEnvInt("IM_WIP_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("IM_WIP_LIMIT: %w", err)
	}
	if cfg.WIPLimit <= 0 {
		return nil, fmt.Errorf("IM_WIP_LIMIT: значение должно быть положительным, получено %d", cfg.WIPLimit)
	}

	// IM_MAX_UNCOMPRESSED — суммарный распакованный размер (по умолчанию 512 MB)
	cfg.MaxUncompressed, err = getEnvPositiveInt64("IM_MAX_UNCOMPRESSED", 512<<20)
	if err != nil {
		return nil, err
	}

	// IM_MAX_ENTRY_SIZE — распакованный размер одного файла (по умолчанию 256 MB)
	cfg.MaxEntrySize, err = getEnvPositiveInt64("IM_MAX_ENTRY_SIZE", 256<<20)
	if err != nil {
		return nil, err
	}
	if cfg.MaxEntrySize > cfg.MaxUncompressed {
		return nil, fmt.Errorf("IM_MAX_ENTRY_SIZE: значение %d должно быть <= IM_MAX_UNCOMPRESSED (%d)",
			cfg.MaxEntrySize, cfg.MaxUncompressed)
	}

	// IM_MAX_ENTRIES — файлов в архиве (по умолчанию 1000)
	cfg.MaxEntries, err = getEnvInt("IM_MAX_ENTRIES", 1000)
	if err != nil {
		return nil, fmt.Errorf("IM_MAX_ENTRIES: %w", err)
	}
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("IM_MAX_ENTRIES: значение должно быть положительным, получено %d", cfg.MaxEntries)
	}

	// IM_TIER_CACHE_SIZE — записей в кэше тарифов (по умолчанию 1024)
	cfg.TierCacheSize, err = getEnvInt("IM_TIER_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("IM_TIER_CACHE_SIZE: %w", err)
	}
	if cfg.TierCacheSize <= 0 {
		return nil, fmt.Errorf("IM_TIER_CACHE_SIZE: значение должно быть положительным, получено %d", cfg.TierCacheSize)
	}

	// IM_TIER_CACHE_TTL — время жизни тарифа в кэше (по умолчанию 5m)
	cfg.TierCacheTTL, err = getEnvDuration("IM_TIER_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_TIER_CACHE_TTL: %w", err)
	}

	// --- GC ---

	// IM_GC_INTERVAL — интервал GC (по умолчанию 1h)
	cfg.GCInterval, err = getEnvDuration("IM_GC_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IM_GC_INTERVAL: %w", err)
	}
	if cfg.GCInterval <= 0 {
		return nil, fmt.Errorf("IM_GC_INTERVAL: значение должно быть положительным")
	}

	// IM_ORPHAN_MIN_AGE — возраст сироты (по умолчанию 24h)
	cfg.OrphanMinAge, err = getEnvDuration("IM_ORPHAN_MIN_AGE", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IM_ORPHAN_MIN_AGE: %w", err)
	}

	// --- События ---

	cfg.NotifyBackend = getEnvDefault("IM_NOTIFY_BACKEND", "none")
	cfg.NotifyBuffer, err = getEnvInt("IM_NOTIFY_BUFFER", 256)
	if err != nil {
		return nil, fmt.Errorf("IM_NOTIFY_BUFFER: %w", err)
	}
	if cfg.NotifyBuffer <= 0 {
		return nil, fmt.Errorf("IM_NOTIFY_BUFFER: значение должно быть положительным, получено %d", cfg.NotifyBuffer)
	}
	cfg.RedisAddr = getEnvDefault("IM_REDIS_ADDR", "")
	cfg.RedisChannel = getEnvDefault("IM_REDIS_CHANNEL", "maps.updates")
	cfg.AMQPURL = getEnvDefault("IM_AMQP_URL", "")
	cfg.AMQPExchange = getEnvDefault("IM_AMQP_EXCHANGE", "maps")
	cfg.KafkaBrokers = parseCSV(getEnvDefault("IM_KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getEnvDefault("IM_KAFKA_TOPIC", "map-events")

	switch cfg.NotifyBackend {
	case "none":
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("IM_REDIS_ADDR: обязателен при IM_NOTIFY_BACKEND=redis")
		}
	case "amqp":
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("IM_AMQP_URL: обязателен при IM_NOTIFY_BACKEND=amqp")
		}
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("IM_KAFKA_BROKERS: обязателен при IM_NOTIFY_BACKEND=kafka")
		}
	default:
		return nil, fmt.Errorf("IM_NOTIFY_BACKEND: недопустимое значение %q, допустимые: none, redis, amqp, kafka", cfg.NotifyBackend)
	}

	// --- topologymetrics ---

	cfg.DephealthCheckInterval, err = getEnvDuration("IM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("IM_DEPHEALTH_GROUP", "ingest-module")
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	// --- HTTP ---

	cfg.HTTPReadTimeout, err = getEnvDuration("IM_HTTP_READ_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("IM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("IM_HTTP_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("IM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("IM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.HTTPReadTimeout < 0 || cfg.HTTPWriteTimeout < 0 || cfg.HTTPIdleTimeout < 0 {
		return nil, fmt.Errorf("IM_HTTP_*_TIMEOUT: значение не может быть отрицательным")
	}

	// IM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 30s)
	cfg.ShutdownTimeout, err = getEnvDuration("IM_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных
// (метки topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// TLSEnabled сообщает, что сервер слушает HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service_id", cfg.ServiceID)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvPositiveInt64 возвращает положительное int64 значение или значение по умолчанию.
// Ошибка уже содержит имя переменной.
func getEnvPositiveInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное целое число: %q", key, val)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %d", key, n)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
