// guard.go — область очистки файлов одной попытки загрузки.
//
// Каждая стадия регистрирует создаваемые файлы до их создания: путь
// сначала попадает в WAL, затем в память. При успехе артефакты
// передаются версии (release), при любой ошибке всё зарегистрированное
// удаляется. Временные файлы удаляются всегда.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/wal"
)

// digestKnown сообщает, ссылается ли закоммиченная версия на digest.
type digestKnown func(ctx context.Context, digest string) (bool, error)

type cleanupGuard struct {
	walEngine *wal.WAL
	txID      string
	logger    *slog.Logger

	digest   string
	scratch  []string
	outputs  []owned
	released bool
}

// owned — итоговый файл попытки и временный файл, из которого он размещён.
type owned struct {
	path string
	src  string
}

func newCleanupGuard(walEngine *wal.WAL, uploaderID string, logger *slog.Logger) (*cleanupGuard, error) {
	entry, err := walEngine.StartTransaction(uploaderID)
	if err != nil {
		return nil, err
	}
	return &cleanupGuard{
		walEngine: walEngine,
		txID:      entry.TransactionID,
		logger:    logger.With(slog.String("tx_id", entry.TransactionID)),
	}, nil
}

// addScratch регистрирует временный файл. Вызывается до его создания.
func (g *cleanupGuard) addScratch(path string) error {
	if err := g.walEngine.AddScratch(g.txID, path); err != nil {
		return err
	}
	g.scratch = append(g.scratch, path)
	return nil
}

// intendOutput записывает в WAL итоговый путь до размещения файла.
func (g *cleanupGuard) intendOutput(path string) error {
	return g.walEngine.AddOutputs(g.txID, path)
}

// own отмечает итоговый файл, созданный этой попыткой из src.
// Файл, существовавший раньше, попытке не принадлежит.
func (g *cleanupGuard) own(path, src string) {
	g.outputs = append(g.outputs, owned{path: path, src: src})
}

func (g *cleanupGuard) setDigest(digest string) error {
	if err := g.walEngine.SetDigest(g.txID, digest); err != nil {
		return err
	}
	g.digest = digest
	return nil
}

// release передаёт итоговые файлы закоммиченной версии.
func (g *cleanupGuard) release() {
	g.released = true
}

// close удаляет временные файлы, а без release — и итоговые. Итоговый
// файл остаётся, если тот же digest успела закоммитить параллельная
// загрузка. Ошибки удаления только логируются: сирот подберёт GC.
func (g *cleanupGuard) close(ctx context.Context, known digestKnown) {
	if g.released {
		g.removeScratch()
		if err := g.walEngine.Commit(g.txID); err != nil {
			// Версия уже в БД, коммит WAL — best effort
			g.logger.Error("Ошибка коммита WAL", slog.String("error", err.Error()))
		}
		return
	}

	// Итоговые файлы обрабатываются до временных: временные нужны
	// для восстановления
	if len(g.outputs) > 0 && !g.referenced(ctx, known) {
		g.removeOutputs()
		// Параллельная загрузка могла закоммитить digest между
		// проверкой и удалением и застать файлы на месте
		if g.referenced(ctx, known) {
			g.restoreOutputs()
		}
	}
	g.removeScratch()

	if err := g.walEngine.Rollback(g.txID); err != nil {
		g.logger.Error("Ошибка отката WAL", slog.String("error", err.Error()))
	}
}

func (g *cleanupGuard) removeScratch() {
	for _, p := range g.scratch {
		if err := filestore.Remove(p); err != nil {
			g.logger.Warn("Не удалось удалить временный файл", slog.String("error", err.Error()))
		}
	}
}

func (g *cleanupGuard) removeOutputs() {
	for _, o := range g.outputs {
		if err := filestore.Remove(o.path); err != nil {
			g.logger.Warn("Не удалось удалить артефакт", slog.String("error", err.Error()))
		}
	}
}

// restoreOutputs возвращает удалённые артефакты закоммиченного digest.
func (g *cleanupGuard) restoreOutputs() {
	for _, o := range g.outputs {
		created, err := filestore.Link(o.src, o.path)
		if err != nil {
			g.logger.Error("Не удалось восстановить артефакт закоммиченной версии",
				slog.String("digest", g.digest),
				slog.String("path", o.path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			g.logger.Warn("Артефакт восстановлен: digest закоммичен параллельной загрузкой",
				slog.String("digest", g.digest),
				slog.String("path", o.path),
			)
		}
	}
}

// referenced при ошибке проверки считает файлы используемыми.
func (g *cleanupGuard) referenced(ctx context.Context, known digestKnown) bool {
	if g.digest == "" {
		return false
	}
	ok, err := known(ctx, g.digest)
	if err != nil {
		g.logger.Error("Не удалось проверить digest, артефакты оставлены для GC",
			slog.String("digest", g.digest),
			slog.String("error", err.Error()),
		)
		return true
	}
	return ok
}

// RecoverUploads завершает попытки, прерванные рестартом.
// Временные файлы удаляются всегда, итоговые — если их digest
// не закоммичен. Возвращает число обработанных записей WAL.
func RecoverUploads(ctx context.Context, walEngine *wal.WAL, versions repository.VersionRepository, logger *slog.Logger) (int, error) {
	pending, err := walEngine.RecoverPending()
	if err != nil {
		return 0, err
	}

	logger = logger.With(slog.String("component", "recovery"))
	for _, entry := range pending {
		for _, p := range entry.Scratch {
			if err := filestore.Remove(p); err != nil {
				logger.Warn("Не удалось удалить временный файл", slog.String("error", err.Error()))
			}
		}

		keep := false
		if entry.Digest != "" && len(entry.Outputs) > 0 {
			known, err := versions.KnownHashes(ctx, []string{entry.Digest})
			if err != nil {
				return 0, err
			}
			keep = known[entry.Digest]
		}

		if keep {
			if err := walEngine.Commit(entry.TransactionID); err != nil {
				return 0, err
			}
			continue
		}

		for _, p := range entry.Outputs {
			if err := filestore.Remove(p); err != nil {
				logger.Warn("Не удалось удалить артефакт", slog.String("error", err.Error()))
			}
		}
		if err := walEngine.Rollback(entry.TransactionID); err != nil {
			return 0, err
		}
		logger.Info("Прерванная загрузка отменена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("uploader_id", entry.UploaderID),
		)
	}

	return len(pending), nil
}
