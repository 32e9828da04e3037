// Пакет dbtest — PostgreSQL в Docker для интеграционных тестов.
// Тесты пропускаются, если TEST_INTEGRATION не установлена.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
)

// Config запускает контейнер PostgreSQL и возвращает конфигурацию для него.
// Контейнер останавливается в t.Cleanup.
func Config(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("maps_test"),
		postgres.WithUsername("ingest"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	dir := t.TempDir()
	t.Setenv("IM_DB_HOST", host)
	t.Setenv("IM_DB_PORT", port.Port())
	t.Setenv("IM_DB_NAME", "maps_test")
	t.Setenv("IM_DB_USER", "ingest")
	t.Setenv("IM_DB_PASSWORD", "test-password")
	t.Setenv("IM_DB_SSL_MODE", "disable")
	t.Setenv("IM_STORAGE_ROOT", dir)
	t.Setenv("IM_WAL_DIR", dir)
	t.Setenv("IM_JWKS_URL", "http://localhost:8000/jwks")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}
