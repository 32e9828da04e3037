package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// MapRepository — доступ к таблице maps.
type MapRepository interface {
	// GetForUpdate возвращает карту и блокирует строку до конца транзакции.
	GetForUpdate(ctx context.Context, id int64) (*model.MapRecord, error)
	// Create вставляет карту и заполняет ID.
	Create(ctx context.Context, m *model.MapRecord) error
	// Touch обновляет только updated_at.
	Touch(ctx context.Context, id int64, at time.Time) error
}

type mapRepo struct {
	db DBTX
}

// NewMapRepository создаёт репозиторий карт.
func NewMapRepository(db DBTX) MapRepository {
	return &mapRepo{db: db}
}

func (r *mapRepo) GetForUpdate(ctx context.Context, id int64) (*model.MapRecord, error) {
	query := `
		SELECT id, uploader_id, name, description, tags, declared_ai, created_at, updated_at
		FROM maps
		WHERE id = $1
		FOR UPDATE`

	m := &model.MapRecord{}
	var ai string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.UploaderID, &m.Name, &m.Description, &m.Tags, &ai,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения карты %d: %w", id, err)
	}
	m.DeclaredAI = model.AIDeclaration(ai)
	return m, nil
}

func (r *mapRepo) Create(ctx context.Context, m *model.MapRecord) error {
	query := `
		INSERT INTO maps (uploader_id, name, description, tags, declared_ai, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	err := r.db.QueryRow(ctx, query,
		m.UploaderID, m.Name, m.Description, tags, string(m.DeclaredAI),
		m.CreatedAt, m.UpdatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания карты: %w", err)
	}
	return nil
}

func (r *mapRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE maps SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка обновления карты %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
