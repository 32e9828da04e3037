package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// DifficultyRepository — доступ к таблице difficulties.
type DifficultyRepository interface {
	// CreateBatch вставляет сложности версии одним пакетом.
	CreateBatch(ctx context.Context, versionID int64, diffs []model.DifficultyRecord) error
	// ListByVersion возвращает сложности версии.
	ListByVersion(ctx context.Context, versionID int64) ([]model.DifficultyRecord, error)
}

type difficultyRepo struct {
	db DBTX
}

// NewDifficultyRepository создаёт репозиторий сложностей.
func NewDifficultyRepository(db DBTX) DifficultyRepository {
	return &difficultyRepo{db: db}
}

func (r *difficultyRepo) CreateBatch(ctx context.Context, versionID int64, diffs []model.DifficultyRecord) error {
	if len(diffs) == 0 {
		return nil
	}

	query := `
		INSERT INTO difficulties (version_id, characteristic, difficulty, notes, bombs,
			obstacles, events, njs, note_offset, nps, length, seconds,
			chroma, noodle_extensions, mapping_extensions, cinema)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	batch := &pgx.Batch{}
	for _, d := range diffs {
		batch.Queue(query,
			versionID, d.Characteristic, d.Difficulty, d.Notes, d.Bombs,
			d.Obstacles, d.Events, d.NJS, d.Offset, d.NPS, d.Length, d.Seconds,
			d.Chroma, d.NoodleExtensions, d.MappingExtensions, d.Cinema,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for _, d := range diffs {
		if _, err := br.Exec(); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: сложность %s/%s", ErrConflict, d.Characteristic, d.Difficulty)
			}
			return fmt.Errorf("ошибка создания сложности %s/%s: %w", d.Characteristic, d.Difficulty, err)
		}
	}
	return br.Close()
}

func (r *difficultyRepo) ListByVersion(ctx context.Context, versionID int64) ([]model.DifficultyRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, version_id, characteristic, difficulty, notes, bombs, obstacles, events,
			njs, note_offset, nps, length, seconds,
			chroma, noodle_extensions, mapping_extensions, cinema
		FROM difficulties
		WHERE version_id = $1
		ORDER BY id`, versionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения сложностей: %w", err)
	}
	defer rows.Close()

	var result []model.DifficultyRecord
	for rows.Next() {
		var d model.DifficultyRecord
		if err := rows.Scan(
			&d.ID, &d.VersionID, &d.Characteristic, &d.Difficulty,
			&d.Notes, &d.Bombs, &d.Obstacles, &d.Events,
			&d.NJS, &d.Offset, &d.NPS, &d.Length, &d.Seconds,
			&d.Chroma, &d.NoodleExtensions, &d.MappingExtensions, &d.Cinema,
		); err != nil {
			return nil, fmt.Errorf("ошибка чтения сложности: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
