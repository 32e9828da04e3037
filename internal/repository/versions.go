package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// VersionRepository — доступ к таблице versions.
type VersionRepository interface {
	// ExistsByHash проверяет, загружена ли версия с таким хэшем.
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	// RecentUploads возвращает время загрузки последних limit версий карты,
	// от новых к старым.
	RecentUploads(ctx context.Context, mapID int64, limit int) ([]time.Time, error)
	// CountUnpublished — число неопубликованных версий карт загрузчика.
	CountUnpublished(ctx context.Context, uploaderID string) (int, error)
	// Create вставляет версию. Повтор хэша — ErrConflict.
	Create(ctx context.Context, v *model.VersionRecord) error
	// KnownHashes возвращает подмножество hashes, на которые ссылаются версии.
	KnownHashes(ctx context.Context, hashes []string) (map[string]bool, error)
}

type versionRepo struct {
	db DBTX
}

// NewVersionRepository создаёт репозиторий версий.
func NewVersionRepository(db DBTX) VersionRepository {
	return &versionRepo{db: db}
}

func (r *versionRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM versions WHERE hash = $1)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки хэша: %w", err)
	}
	return exists, nil
}

func (r *versionRepo) RecentUploads(ctx context.Context, mapID int64, limit int) ([]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT uploaded_at
		FROM versions
		WHERE map_id = $1
		ORDER BY uploaded_at DESC
		LIMIT $2`, mapID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения версий карты %d: %w", mapID, err)
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("ошибка чтения версии: %w", err)
		}
		result = append(result, at)
	}
	return result, rows.Err()
}

func (r *versionRepo) CountUnpublished(ctx context.Context, uploaderID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM versions v
		JOIN maps m ON m.id = v.map_id
		WHERE m.uploader_id = $1 AND v.state <> 'published'`, uploaderID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта неопубликованных версий: %w", err)
	}
	return count, nil
}

func (r *versionRepo) Create(ctx context.Context, v *model.VersionRecord) error {
	query := `
		INSERT INTO versions (map_id, hash, state, bpm, duration, song_name, song_sub_name,
			song_author_name, level_author_name, sage_score, zip_size, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		v.MapID, v.Hash, string(v.State), v.BPM, v.Duration, v.SongName, v.SongSubName,
		v.SongAuthorName, v.LevelAuthorName, v.SageScore, v.ZipSize, v.UploadedAt,
	).Scan(&v.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: версия с хэшем %s уже существует", ErrConflict, v.Hash)
		}
		return fmt.Errorf("ошибка создания версии: %w", err)
	}
	return nil
}

func (r *versionRepo) KnownHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	known := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return known, nil
	}

	rows, err := r.db.Query(ctx, `SELECT hash FROM versions WHERE hash = ANY($1)`, hashes)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска хэшей: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("ошибка чтения хэша: %w", err)
		}
		known[h] = true
	}
	return known, rows.Err()
}
