// tiers.go — кэш тарифов загрузчиков.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
)

// DefaultTierName — тариф загрузчика без строки в uploader_tiers.
const DefaultTierName = "basic"

// DefaultTier возвращает тариф по умолчанию из конфигурации.
func DefaultTier(cfg *config.Config) model.Tier {
	return model.Tier{
		Name:            DefaultTierName,
		BasicSizeLimit:  cfg.BasicSizeLimit,
		BundleSizeLimit: cfg.BundleSizeLimit,
		WIPLimit:        cfg.WIPLimit,
	}
}

// TierCache — LRU-кэш тарифов с TTL поверх TierRepository.
// Тарифы меняет биллинг, поэтому изменения видны не позже чем через TTL.
type TierCache struct {
	tiers    repository.TierRepository
	defaults model.Tier
	cache    *expirable.LRU[string, model.Tier]
}

// NewTierCache создаёт кэш тарифов.
func NewTierCache(tiers repository.TierRepository, defaults model.Tier, maxSize int, ttl time.Duration) *TierCache {
	return &TierCache{
		tiers:    tiers,
		defaults: defaults,
		cache:    expirable.NewLRU[string, model.Tier](maxSize, nil, ttl),
	}
}

// Get возвращает тариф загрузчика. Отсутствие строки — тариф по умолчанию,
// он тоже кэшируется.
func (c *TierCache) Get(ctx context.Context, uploaderID string) (model.Tier, error) {
	if t, ok := c.cache.Get(uploaderID); ok {
		tierCacheHitsTotal.Inc()
		return t, nil
	}
	tierCacheMissesTotal.Inc()

	t, err := c.tiers.GetByUploader(ctx, uploaderID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.cache.Add(uploaderID, c.defaults)
		return c.defaults, nil
	case err != nil:
		return model.Tier{}, fmt.Errorf("ошибка чтения тарифа %s: %w", uploaderID, err)
	}

	c.cache.Add(uploaderID, *t)
	return *t, nil
}
