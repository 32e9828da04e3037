// quota.go — лимиты размера, незавершённых версий и частоты ревизий.
package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/uploaderr"
	"github.com/bigkaa/goartstore/ingest-module/internal/mapfile"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
)

const (
	// RevisionWindow — скользящее окно ограничения ревизий.
	RevisionWindow = 12 * time.Hour
	// RevisionsPerWindow — максимум версий одной карты в окне.
	RevisionsPerWindow = 2
)

// Governor проверяет квоты загрузчика. Проверки WIP и частоты
// выполняются внутри транзакции SERIALIZABLE вызывающего кода.
type Governor struct {
	window      time.Duration
	perWindow   int
	bundleTypes []string
}

// NewGovernor создаёт Governor со стандартным окном ревизий.
func NewGovernor() *Governor {
	return &Governor{
		window:      RevisionWindow,
		perWindow:   RevisionsPerWindow,
		bundleTypes: mapfile.KnownBundleTypes,
	}
}

// StreamLimit — потолок входящего потока: базовый лимит плюс лимит
// каждого известного типа бандла.
func (g *Governor) StreamLimit(t model.Tier) int64 {
	return t.BasicSizeLimit + t.BundleSizeLimit*int64(len(g.bundleTypes))
}

// CheckSize проверяет каждый бандл по его лимиту, затем остаток
// (total минус бандлы) по базовому лимиту. Архив может уложиться
// в общий потолок и всё равно превысить базовый.
func (g *Governor) CheckSize(t model.Tier, total int64, bundles map[string]int64) error {
	names := make([]string, 0, len(bundles))
	for name := range bundles {
		names = append(names, name)
	}
	sort.Strings(names)

	var bundled int64
	for _, name := range names {
		size := bundles[name]
		if size > t.BundleSizeLimit {
			return uploaderr.SizeExceeded(fmt.Sprintf(
				"Бандл %s больше %s", name, formatSize(t.BundleSizeLimit)))
		}
		bundled += size
	}

	if total-bundled > t.BasicSizeLimit {
		return uploaderr.SizeExceeded(fmt.Sprintf(
			"Архив больше %s (тариф %s)", formatSize(t.BasicSizeLimit), t.Name))
	}
	return nil
}

// CheckWIP отклоняет загрузку, если у загрузчика уже WIPLimit
// неопубликованных версий.
func (g *Governor) CheckWIP(ctx context.Context, versions repository.VersionRepository, uploaderID string, t model.Tier) error {
	count, err := versions.CountUnpublished(ctx, uploaderID)
	if err != nil {
		return err
	}
	if count >= t.WIPLimit {
		return uploaderr.WIPQuotaExceeded(t.Name, t.WIPLimit)
	}
	return nil
}

// CheckCadence не допускает больше RevisionsPerWindow версий карты
// в любом окне RevisionWindow. Оставшееся время округляется вверх
// до часа и отсчитывается от самой свежей версии.
func (g *Governor) CheckCadence(ctx context.Context, versions repository.VersionRepository, mapID int64, now time.Time) error {
	recent, err := versions.RecentUploads(ctx, mapID, g.perWindow)
	if err != nil {
		return err
	}
	if len(recent) < g.perWindow {
		return nil
	}

	oldest := recent[g.perWindow-1]
	if now.Sub(oldest) >= g.window {
		return nil
	}

	left := g.window - now.Sub(recent[0])
	hours := int(math.Ceil(left.Hours()))
	return uploaderr.RevisionTooSoon(max(hours, 1))
}

// formatSize выводит размер в мегабайтах для сообщений клиенту.
func formatSize(n int64) string {
	mb := float64(n) / (1 << 20)
	if mb == math.Trunc(mb) {
		return fmt.Sprintf("%.0f МБ", mb)
	}
	return fmt.Sprintf("%.1f МБ", mb)
}
