package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// TierRepository — чтение тарифов загрузчиков.
type TierRepository interface {
	// GetByUploader возвращает тариф загрузчика или ErrNotFound.
	GetByUploader(ctx context.Context, uploaderID string) (*model.Tier, error)
}

type tierRepo struct {
	db DBTX
}

// NewTierRepository создаёт репозиторий тарифов.
func NewTierRepository(db DBTX) TierRepository {
	return &tierRepo{db: db}
}

func (r *tierRepo) GetByUploader(ctx context.Context, uploaderID string) (*model.Tier, error) {
	t := &model.Tier{}
	err := r.db.QueryRow(ctx, `
		SELECT name, basic_size_limit, bundle_size_limit, wip_limit
		FROM uploader_tiers
		WHERE uploader_id = $1`, uploaderID,
	).Scan(&t.Name, &t.BasicSizeLimit, &t.BundleSizeLimit, &t.WIPLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения тарифа: %w", err)
	}
	return t, nil
}
