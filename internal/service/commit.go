// commit.go — транзакционная фиксация версии карты.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/uploaderr"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
)

// artifact — файл попытки и его итоговый подкаталог.
type artifact struct {
	area filestore.Area
	src  string
}

func (sess *Session) artifacts() []artifact {
	return []artifact{
		{area: filestore.AreaZips, src: sess.Info.NormalizedPath},
		{area: filestore.AreaCovers, src: sess.Info.ThumbnailPath},
		{area: filestore.AreaPreviews, src: sess.Info.PreviewPath},
	}
}

// commit выполняет проверки и вставки в одной транзакции SERIALIZABLE:
//
//  1. повторная проверка дубликата;
//  2. карта: существующая (владелец, частота ревизий, updated_at)
//     или новая;
//  3. лимит неопубликованных версий;
//  4. размещение файлов по digest;
//  5. версия и её сложности.
//
// Изоляция транзакции — единственная защита от гонки двух загрузок
// одной карты. Отказ сериализации не повторяется.
func (s *UploadService) commit(ctx context.Context, sess *Session) (*UploadResult, error) {
	now := s.now().UTC()
	digest := sess.Info.Digest
	var result *UploadResult

	err := s.store.RunSerializable(ctx, func(repos repository.Repos) error {
		exists, err := repos.Versions.ExistsByHash(ctx, digest)
		if err != nil {
			return err
		}
		if exists {
			return uploaderr.DuplicateContent()
		}

		mapID, newMap, err := s.resolveMap(ctx, repos, sess, now)
		if err != nil {
			return err
		}

		if err := s.governor.CheckWIP(ctx, repos.Versions, sess.UploaderID, sess.Tier); err != nil {
			return err
		}

		if err := s.place(sess); err != nil {
			return err
		}

		v := newVersion(sess, mapID, now)
		if err := repos.Versions.Create(ctx, v); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return uploaderr.DuplicateContent()
			}
			return err
		}
		if err := repos.Difficulties.CreateBatch(ctx, v.ID, sess.validated.Difficulties); err != nil {
			return err
		}

		result = &UploadResult{MapID: mapID, VersionID: v.ID, Hash: digest, NewMap: newMap}
		return nil
	})
	if err != nil {
		return nil, commitError(err)
	}

	s.ensurePlaced(sess)
	return result, nil
}

// resolveMap возвращает карту для новой версии. У существующей карты
// меняется только updated_at: текст карты редактируется отдельно.
func (s *UploadService) resolveMap(ctx context.Context, repos repository.Repos, sess *Session, now time.Time) (int64, bool, error) {
	if target := sess.Meta.TargetMapID; target != nil {
		m, err := repos.Maps.GetForUpdate(ctx, *target)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, false, uploaderr.MapNotFound()
		}
		if err != nil {
			return 0, false, err
		}
		if m.UploaderID != sess.UploaderID {
			return 0, false, uploaderr.OwnershipMismatch()
		}
		if err := s.governor.CheckCadence(ctx, repos.Versions, m.ID, now); err != nil {
			return 0, false, err
		}
		if err := repos.Maps.Touch(ctx, m.ID, now); err != nil {
			return 0, false, err
		}
		return m.ID, false, nil
	}

	title := strings.TrimSpace(sess.Meta.Title)
	if title == "" {
		title = sess.validated.Descriptor.SongName
	}
	m := &model.MapRecord{
		UploaderID:  sess.UploaderID,
		Name:        truncateRunes(title, MaxTitleLength),
		Description: truncateRunes(sess.Meta.Description, MaxDescriptionLength),
		Tags:        FilterTags(sess.Meta.Tags),
		DeclaredAI:  ClassifyAI(sess.Meta.DeclaredAI, sess.Info.SageScore),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repos.Maps.Create(ctx, m); err != nil {
		return 0, false, err
	}
	return m.ID, true, nil
}

// place размещает артефакты по digest. Путь попадает в WAL до
// размещения; своим считается только созданный сейчас файл.
func (s *UploadService) place(sess *Session) error {
	for _, a := range sess.artifacts() {
		dst := s.files.Path(a.area, sess.Info.Digest)
		if err := sess.guard.intendOutput(dst); err != nil {
			return uploaderr.Internal(err)
		}
		_, created, err := s.files.Place(a.area, sess.Info.Digest, a.src)
		if err != nil {
			return uploaderr.Internal(err)
		}
		if created {
			sess.guard.own(dst, a.src)
		}
	}
	return nil
}

// ensurePlaced повторно размещает артефакты после коммита: файл,
// найденный в транзакции готовым, могла удалить неуспешная
// параллельная попытка.
func (s *UploadService) ensurePlaced(sess *Session) {
	for _, a := range sess.artifacts() {
		dst, created, err := s.files.Place(a.area, sess.Info.Digest, a.src)
		if err != nil {
			s.logger.Error("Ошибка проверки артефакта после коммита",
				slog.String("path", dst),
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			s.logger.Warn("Артефакт восстановлен после коммита", slog.String("path", dst))
		}
	}
}

func newVersion(sess *Session, mapID int64, now time.Time) *model.VersionRecord {
	desc := sess.validated.Descriptor
	return &model.VersionRecord{
		MapID:           mapID,
		Hash:            sess.Info.Digest,
		State:           model.StateUploaded,
		BPM:             desc.BeatsPerMinute,
		Duration:        int(math.Round(sess.Info.Duration)),
		SongName:        desc.SongName,
		SongSubName:     desc.SongSubName,
		SongAuthorName:  desc.SongAuthorName,
		LevelAuthorName: desc.LevelAuthorName,
		SageScore:       sess.Info.SageScore,
		ZipSize:         sess.Info.NormalizedSize,
		UploadedAt:      now,
	}
}

// commitError сохраняет ошибки конвейера как есть, остальное — Internal.
func commitError(err error) error {
	if _, ok := uploaderr.As(err); ok {
		return err
	}
	ue := uploaderr.Internal(err)
	if errors.Is(err, repository.ErrSerialization) {
		ue.Message = "Параллельная загрузка этой карты, повторите попытку"
	}
	return ue
}
