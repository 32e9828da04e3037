package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/ingest-module/internal/database"
	"github.com/bigkaa/goartstore/ingest-module/internal/database/dbtest"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	cfg := dbtest.Config(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}
	pool, err := database.Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func createMap(t *testing.T, repos Repos, uploader string, at time.Time) *model.MapRecord {
	t.Helper()
	m := &model.MapRecord{
		UploaderID: uploader,
		Name:       "Test map",
		Tags:       []string{"dance-style"},
		DeclaredAI: model.AINone,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if err := repos.Maps.Create(context.Background(), m); err != nil {
		t.Fatalf("Create() карты: %v", err)
	}
	return m
}

func createVersion(t *testing.T, repos Repos, mapID int64, hash string, at time.Time) *model.VersionRecord {
	t.Helper()
	v := &model.VersionRecord{
		MapID:      mapID,
		Hash:       hash,
		State:      model.StateUploaded,
		BPM:        120,
		Duration:   90,
		SongName:   "Song",
		ZipSize:    1024,
		UploadedAt: at,
	}
	if err := repos.Versions.Create(context.Background(), v); err != nil {
		t.Fatalf("Create() версии: %v", err)
	}
	return v
}

// TestMapsAndVersions проверяет CRUD карт и версий.
func TestMapsAndVersions(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repos := NewRepos(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	m := createMap(t, repos, "user-1", now.Add(-48*time.Hour))
	if m.ID == 0 {
		t.Fatal("ID карты не заполнен")
	}

	createVersion(t, repos, m.ID, "aaa", now.Add(-30*time.Hour))
	createVersion(t, repos, m.ID, "bbb", now.Add(-2*time.Hour))
	createVersion(t, repos, m.ID, "ccc", now.Add(-20*time.Hour))

	// Повтор хэша
	dup := &model.VersionRecord{MapID: m.ID, Hash: "aaa", State: model.StateUploaded, UploadedAt: now}
	if err := repos.Versions.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получено %v", err)
	}

	exists, err := repos.Versions.ExistsByHash(ctx, "bbb")
	if err != nil || !exists {
		t.Errorf("ExistsByHash(bbb) = %v, %v", exists, err)
	}

	recent, err := repos.Versions.RecentUploads(ctx, m.ID, 2)
	if err != nil {
		t.Fatalf("RecentUploads(): %v", err)
	}
	if len(recent) != 2 || !recent[0].Equal(now.Add(-2*time.Hour)) || !recent[1].Equal(now.Add(-20*time.Hour)) {
		t.Errorf("неожиданный порядок: %v", recent)
	}

	count, err := repos.Versions.CountUnpublished(ctx, "user-1")
	if err != nil || count != 3 {
		t.Errorf("CountUnpublished() = %d, %v; ожидали 3", count, err)
	}
	if _, err := pool.Exec(ctx, `UPDATE versions SET state = 'published' WHERE hash = 'aaa'`); err != nil {
		t.Fatal(err)
	}
	count, _ = repos.Versions.CountUnpublished(ctx, "user-1")
	if count != 2 {
		t.Errorf("после публикации CountUnpublished() = %d, ожидали 2", count)
	}

	known, err := repos.Versions.KnownHashes(ctx, []string{"aaa", "zzz", "ccc"})
	if err != nil {
		t.Fatalf("KnownHashes(): %v", err)
	}
	if !known["aaa"] || !known["ccc"] || known["zzz"] {
		t.Errorf("KnownHashes() = %v", known)
	}

	if err := repos.Maps.Touch(ctx, m.ID, now); err != nil {
		t.Fatalf("Touch(): %v", err)
	}
	if err := repos.Maps.Touch(ctx, 999999, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch() несуществующей карты: %v", err)
	}
}

// TestGetForUpdate проверяет чтение карты в транзакции.
func TestGetForUpdate(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)
	m := createMap(t, runner.Repos(), "owner", time.Now().UTC())

	err := runner.RunSerializable(ctx, func(repos Repos) error {
		got, err := repos.Maps.GetForUpdate(ctx, m.ID)
		if err != nil {
			return err
		}
		if got.UploaderID != "owner" || got.DeclaredAI != model.AINone || len(got.Tags) != 1 {
			t.Errorf("неожиданная карта: %+v", got)
		}
		_, err = repos.Maps.GetForUpdate(ctx, m.ID+100)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunSerializable(): %v", err)
	}
}

// TestRunSerializable_Rollback проверяет откат и возврат исходной ошибки.
func TestRunSerializable_Rollback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)
	sentinel := errors.New("отказ")

	err := runner.RunSerializable(ctx, func(repos Repos) error {
		createMap(t, repos, "rollback", time.Now().UTC())
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("ожидалась исходная ошибка, получено %v", err)
	}

	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM maps WHERE uploader_id = 'rollback'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("транзакция не откатилась: %d карт", n)
	}
}

// TestRunSerializable_Conflict проверяет, что параллельные транзакции,
// читающие и пишущие одни данные, дают ErrSerialization.
func TestRunSerializable_Conflict(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)
	m := createMap(t, runner.Repos(), "racer", time.Now().UTC())

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = runner.RunSerializable(ctx, func(repos Repos) error {
				if _, err := repos.Versions.CountUnpublished(ctx, "racer"); err != nil {
					return err
				}
				<-start
				v := &model.VersionRecord{
					MapID: m.ID, Hash: fmt.Sprintf("race-%d", i),
					State: model.StateUploaded, UploadedAt: time.Now().UTC(),
				}
				return repos.Versions.Create(ctx, v)
			})
		}(i)
	}
	time.Sleep(200 * time.Millisecond)
	close(start)
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, ErrSerialization) {
				t.Errorf("ожидалась ErrSerialization, получено %v", err)
			}
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("ожидалась ровно одна отклонённая транзакция, получено %d", failed)
	}
}

// TestDifficultiesAndTiers проверяет пакетную вставку и тарифы.
func TestDifficultiesAndTiers(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repos := NewRepos(pool)
	now := time.Now().UTC()

	m := createMap(t, repos, "user-2", now)
	v := createVersion(t, repos, m.ID, "ddd", now)

	diffs := []model.DifficultyRecord{
		{Characteristic: "Standard", Difficulty: "Expert", Notes: 500, NPS: 4.2, Chroma: true},
		{Characteristic: "Standard", Difficulty: "Hard", Notes: 300, Bombs: 12},
	}
	if err := repos.Difficulties.CreateBatch(ctx, v.ID, diffs); err != nil {
		t.Fatalf("CreateBatch(): %v", err)
	}
	got, err := repos.Difficulties.ListByVersion(ctx, v.ID)
	if err != nil {
		t.Fatalf("ListByVersion(): %v", err)
	}
	if len(got) != 2 || got[0].Difficulty != "Expert" || !got[0].Chroma || got[1].Bombs != 12 {
		t.Errorf("неожиданные сложности: %+v", got)
	}

	if _, err := repos.Tiers.GetByUploader(ctx, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO uploader_tiers (uploader_id, name, basic_size_limit, bundle_size_limit, wip_limit)
		VALUES ('user-2', 'patron', 30000000, 100000000, 20)`); err != nil {
		t.Fatal(err)
	}
	tier, err := repos.Tiers.GetByUploader(ctx, "user-2")
	if err != nil {
		t.Fatalf("GetByUploader(): %v", err)
	}
	if tier.Name != "patron" || tier.WIPLimit != 20 {
		t.Errorf("неожиданный тариф: %+v", tier)
	}
}
