// upload.go — конвейер загрузки карты.
//
// Одна загрузка выполняется в одной горутине, стадии строго по порядку:
//
//	приём потока → открытие архива → нормализация → валидация →
//	digest и артефакты → проверка размера → коммит
//
// Любая ошибка стадии — ошибка всей загрузки, частичных результатов нет.
// Файлы, созданные по пути, удаляет cleanupGuard.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/stage"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/uploaderr"
	"github.com/bigkaa/goartstore/ingest-module/internal/mapfile"
	"github.com/bigkaa/goartstore/ingest-module/internal/media"
	"github.com/bigkaa/goartstore/ingest-module/internal/notify"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/archive"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/wal"
)

// Store — хранилище метаданных с транзакциями SERIALIZABLE.
// Реализуется *repository.TxRunner.
type Store interface {
	Repos() repository.Repos
	RunSerializable(ctx context.Context, fn func(repos repository.Repos) error) error
}

// Emitter принимает события о новых версиях.
type Emitter interface {
	Emit(ev notify.Event) bool
}

// UploadRequest — входные данные загрузки.
type UploadRequest struct {
	// UploaderID — sub из JWT
	UploaderID string
	Meta       model.UploadMeta
	// Body — поток архива, читается не дальше лимита тарифа
	Body io.Reader
}

// UploadResult — результат успешной загрузки.
type UploadResult struct {
	MapID     int64
	VersionID int64
	Hash      string
	// NewMap — карта создана этой загрузкой
	NewMap bool
}

// Session — состояние одного вызова конвейера.
// Принадлежит одной горутине, Close удаляет все временные файлы.
type Session struct {
	UploaderID string
	Meta       model.UploadMeta
	Tier       model.Tier
	Info       model.ExtractedInfo

	validated *mapfile.Validated
	archive   *archive.Archive
	tracker   *stage.Tracker
	guard     *cleanupGuard
}

// Close закрывает архив и освобождает файлы попытки.
func (sess *Session) Close(ctx context.Context, known digestKnown) {
	if sess.archive != nil {
		sess.archive.Close()
		sess.archive = nil
	}
	sess.guard.close(ctx, known)
}

// UploadService — сервис загрузки карт.
type UploadService struct {
	cfg       *config.Config
	store     Store
	files     *filestore.FileStore
	walEngine *wal.WAL
	validator mapfile.Validator
	tiers     *TierCache
	governor  *Governor
	events    Emitter
	logger    *slog.Logger

	// Аудио вынесено в поля для подмены в тестах
	probe   func(path string) (float64, error)
	preview func(srcPath string, start float64, dstPath string) error
	now     func() time.Time
}

// NewUploadService создаёт сервис загрузки карт.
func NewUploadService(
	cfg *config.Config,
	store Store,
	files *filestore.FileStore,
	walEngine *wal.WAL,
	validator mapfile.Validator,
	tiers *TierCache,
	events Emitter,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:       cfg,
		store:     store,
		files:     files,
		walEngine: walEngine,
		validator: validator,
		tiers:     tiers,
		governor:  NewGovernor(),
		events:    events,
		logger:    logger.With(slog.String("component", "upload_service")),
		probe:     media.ProbeDuration,
		preview:   media.Preview,
		now:       time.Now,
	}
}

// Upload выполняет конвейер загрузки. Возвращаемая ошибка всегда
// *uploaderr.Error. Отмена ctx клиентом не прерывает конвейер:
// очистка должна дойти до конца.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	ctx = context.WithoutCancel(ctx)
	started := s.now()
	logger := s.logger.With(slog.String("uploader_id", req.UploaderID))

	sess, err := s.openSession(ctx, req)
	if err != nil {
		return nil, s.fail(logger, stage.Received, err)
	}
	defer sess.Close(ctx, s.digestKnown)

	result, err := s.process(ctx, sess, req.Body)
	if err != nil {
		failedAt := sess.tracker.Current()
		sess.tracker.Fail()
		return nil, s.fail(logger.With(slog.String("tx_id", sess.guard.txID)), failedAt, err)
	}
	sess.guard.release()

	uploadsTotal.WithLabelValues("success").Inc()
	s.events.Emit(notify.VersionUploaded(s.cfg.ServiceID, result.MapID, result.Hash, s.now()))

	logger.Info("Версия карты загружена",
		slog.Int64("map_id", result.MapID),
		slog.Int64("version_id", result.VersionID),
		slog.String("hash", result.Hash),
		slog.Bool("new_map", result.NewMap),
		slog.Int64("size", sess.Info.CompressedSize),
		slog.Duration("duration", s.now().Sub(started)),
	)
	return result, nil
}

func (s *UploadService) openSession(ctx context.Context, req UploadRequest) (*Session, error) {
	tier, err := s.tiers.Get(ctx, req.UploaderID)
	if err != nil {
		return nil, uploaderr.Internal(err)
	}
	guard, err := newCleanupGuard(s.walEngine, req.UploaderID, s.logger)
	if err != nil {
		return nil, uploaderr.Internal(err)
	}
	return &Session{
		UploaderID: req.UploaderID,
		Meta:       req.Meta,
		Tier:       tier,
		tracker:    stage.NewTracker(observeStage),
		guard:      guard,
	}, nil
}

func observeStage(from stage.Stage, elapsed time.Duration) {
	uploadStageDuration.WithLabelValues(string(from)).Observe(elapsed.Seconds())
}

// fail приводит ошибку к *uploaderr.Error, пишет метрику и лог.
func (s *UploadService) fail(logger *slog.Logger, at stage.Stage, err error) *uploaderr.Error {
	ue, ok := uploaderr.As(err)
	if !ok {
		ue = uploaderr.Internal(err)
	}
	uploadsTotal.WithLabelValues(ue.Kind.String()).Inc()

	if ue.Kind == uploaderr.KindInternal {
		logger.Error("Ошибка конвейера загрузки",
			slog.String("stage", string(at)),
			slog.String("error", ue.Error()),
		)
		return ue
	}
	logger.Info("Загрузка отклонена",
		slog.String("stage", string(at)),
		slog.String("kind", ue.Kind.String()),
		slog.String("reason", ue.Error()),
	)
	return ue
}

func (s *UploadService) process(ctx context.Context, sess *Session, body io.Reader) (*UploadResult, error) {
	tempPath, err := s.receive(sess, body)
	if err != nil {
		return nil, err
	}
	if err := s.advance(sess, stage.StreamCopied); err != nil {
		return nil, err
	}

	sess.archive, err = archive.Open(tempPath, archive.Limits{
		MaxEntries:      s.cfg.MaxEntries,
		MaxEntrySize:    s.cfg.MaxEntrySize,
		MaxUncompressed: s.cfg.MaxUncompressed,
	})
	if err != nil {
		return nil, archiveError(err)
	}
	if err := s.advance(sess, stage.ArchiveOpened); err != nil {
		return nil, err
	}

	norm, err := mapfile.Normalize(sess.archive)
	if err != nil {
		return nil, normalizeError(err)
	}
	sess.Info.AllowedFiles = norm.AllowedFiles
	if err := s.advance(sess, stage.Normalized); err != nil {
		return nil, err
	}

	audio, err := s.validate(ctx, sess, norm.Descriptor)
	if err != nil {
		return nil, err
	}
	if err := s.advance(sess, stage.Validated); err != nil {
		return nil, err
	}

	if err := s.digest(ctx, sess, audio); err != nil {
		return nil, err
	}
	if err := s.advance(sess, stage.Digested); err != nil {
		return nil, err
	}

	sess.Info.BundleBytes = bundleSizes(sess.archive)
	if err := s.governor.CheckSize(sess.Tier, sess.Info.CompressedSize, sess.Info.BundleBytes); err != nil {
		return nil, err
	}
	if err := s.advance(sess, stage.QuotaChecked); err != nil {
		return nil, err
	}

	result, err := s.commit(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := s.advance(sess, stage.Committed); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *UploadService) advance(sess *Session, to stage.Stage) error {
	if err := sess.tracker.Advance(to); err != nil {
		return uploaderr.Internal(err)
	}
	return nil
}

// receive принимает поток во временный файл с лимитом тарифа.
func (s *UploadService) receive(sess *Session, body io.Reader) (string, error) {
	path := s.files.TempPath(".zip")
	if err := sess.guard.addScratch(path); err != nil {
		return "", uploaderr.Internal(err)
	}

	limit := s.governor.StreamLimit(sess.Tier)
	n, err := s.files.ReceiveTemp(path, body, limit)
	if errors.Is(err, filestore.ErrSizeExceeded) {
		return "", uploaderr.SizeExceeded(fmt.Sprintf("Архив больше %s", formatSize(limit)))
	}
	if err != nil {
		return "", uploaderr.Internal(err)
	}

	uploadBytes.Observe(float64(n))
	sess.Info.CompressedSize = n
	return path, nil
}

// audioFiles — извлечённые из архива аудиофайлы.
type audioFiles struct {
	song    string
	preview string
}

// validate извлекает аудио, измеряет длительность и вызывает валидатор.
func (s *UploadService) validate(ctx context.Context, sess *Session, desc *mapfile.Descriptor) (audioFiles, error) {
	var audio audioFiles
	var err error

	audio.song, err = s.extract(sess, desc.SongFilename)
	if err != nil {
		return audio, err
	}
	if audio.song != "" {
		duration, err := s.probe(audio.song)
		if err != nil {
			// Нулевую длительность отметит валидатор
			s.logger.Debug("Не удалось определить длительность аудио", slog.String("error", err.Error()))
		}
		sess.Info.Duration = duration
	}

	if p := desc.SongPreviewFilename; p != "" && !strings.EqualFold(p, desc.SongFilename) {
		if audio.preview, err = s.extract(sess, p); err != nil {
			return audio, err
		}
	}

	validated, err := s.validator.Validate(ctx, mapfile.ValidationInput{
		Archive:          sess.archive,
		Descriptor:       desc,
		AllowedFiles:     sess.Info.AllowedFiles,
		Info:             &sess.Info,
		AudioPath:        audio.song,
		PreviewAudioPath: audio.preview,
	})
	if err != nil {
		return audio, validationError(err)
	}

	sess.validated = validated
	sess.Info.SageScore = validated.SageScore
	return audio, nil
}

// extract копирует запись архива во временный файл.
// Отсутствующая запись — не ошибка, её отметит валидатор.
func (s *UploadService) extract(sess *Session, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	e, ok := sess.archive.Lookup(name)
	if !ok {
		return "", nil
	}

	path := s.files.TempPath(mapfile.AudioExt)
	if err := sess.guard.addScratch(path); err != nil {
		return "", uploaderr.Internal(err)
	}
	rc, err := sess.archive.Open(e)
	if err != nil {
		return "", archiveError(err)
	}
	defer rc.Close()

	if _, err := s.files.ReceiveTemp(path, rc, e.Size()); err != nil {
		return "", archiveError(err)
	}
	return path, nil
}

// digest пишет нормализованный архив, проверяет дубликат и создаёт
// обложку и превью.
func (s *UploadService) digest(ctx context.Context, sess *Session, audio audioFiles) error {
	desc := sess.validated.Descriptor

	sess.Info.NormalizedPath = s.files.TempPath(".zip")
	if err := sess.guard.addScratch(sess.Info.NormalizedPath); err != nil {
		return uploaderr.Internal(err)
	}
	written, err := mapfile.WriteNormalized(sess.archive, sess.Info.NormalizedPath, desc, desc.DifficultyFiles())
	if err != nil {
		return archiveError(err)
	}
	sess.Info.Digest = written.Digest
	sess.Info.NormalizedSize = written.Size
	if err := sess.guard.setDigest(written.Digest); err != nil {
		return uploaderr.Internal(err)
	}

	// Ранний отказ без генерации артефактов; окончательная проверка — в транзакции
	exists, err := s.store.Repos().Versions.ExistsByHash(ctx, written.Digest)
	if err != nil {
		return uploaderr.Internal(err)
	}
	if exists {
		return uploaderr.DuplicateContent()
	}

	cover, ok := sess.archive.Lookup(desc.CoverImageFilename)
	if !ok {
		return uploaderr.Internal(fmt.Errorf("обложка %s пропала после валидации", desc.CoverImageFilename))
	}
	sess.Info.ThumbnailPath = s.files.TempPath(".jpg")
	if err := sess.guard.addScratch(sess.Info.ThumbnailPath); err != nil {
		return uploaderr.Internal(err)
	}
	if err := writeThumbnail(sess.archive, cover, sess.Info.ThumbnailPath); err != nil {
		return err
	}

	src, start := audio.song, desc.PreviewStartTime
	if audio.preview != "" {
		src, start = audio.preview, 0
	}
	if src == "" {
		return uploaderr.Internal(errors.New("аудио пропало после валидации"))
	}
	sess.Info.PreviewPath = s.files.TempPath(".wav")
	if err := sess.guard.addScratch(sess.Info.PreviewPath); err != nil {
		return uploaderr.Internal(err)
	}
	if err := s.preview(src, start, sess.Info.PreviewPath); err != nil {
		return uploaderr.Internal(err)
	}
	return nil
}

func writeThumbnail(a *archive.Archive, cover *archive.Entry, dst string) error {
	rc, err := a.Open(cover)
	if err != nil {
		return archiveError(err)
	}
	defer rc.Close()

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return uploaderr.Internal(err)
	}
	if err := media.Thumbnail(rc, f); err != nil {
		f.Close()
		return thumbnailError(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return uploaderr.Internal(err)
	}
	if err := f.Close(); err != nil {
		return uploaderr.Internal(err)
	}
	return nil
}

// thumbnailError отделяет неподдерживаемую обложку от сбоев чтения
// записи архива, которые сохраняют свой вид ошибки.
func thumbnailError(err error) error {
	if errors.Is(err, media.ErrUnsupportedFormat) {
		return uploaderr.UnsupportedImage(err)
	}
	return archiveError(err)
}

// bundleSizes — сжатый размер каждого бандла, оставшегося после нормализации.
func bundleSizes(a *archive.Archive) map[string]int64 {
	sizes := make(map[string]int64)
	for _, name := range mapfile.KnownBundleTypes {
		if e, ok := a.Lookup(name); ok {
			sizes[name] = e.CompressedSize()
		}
	}
	return sizes
}

func (s *UploadService) digestKnown(ctx context.Context, digest string) (bool, error) {
	known, err := s.store.Repos().Versions.KnownHashes(ctx, []string{digest})
	if err != nil {
		return false, err
	}
	return known[digest], nil
}

// --- Классификация ошибок стадий ---

func archiveError(err error) error {
	var disguised *archive.DisguisedError
	switch {
	case errors.As(err, &disguised):
		return uploaderr.DisguisedArchive(disguised.Format)
	case errors.Is(err, archive.ErrTooLarge):
		ue := uploaderr.SizeExceeded("Распакованное содержимое архива превышает допустимый размер")
		ue.Err = err
		return ue
	case errors.Is(err, archive.ErrCorrupt),
		errors.Is(err, archive.ErrNotFound),
		errors.Is(err, archive.ErrExists),
		errors.Is(err, zip.ErrChecksum),
		errors.Is(err, zip.ErrFormat),
		errors.Is(err, io.ErrUnexpectedEOF):
		return uploaderr.CorruptArchive(err)
	}
	if _, ok := uploaderr.As(err); ok {
		return err
	}
	return uploaderr.Internal(err)
}

func normalizeError(err error) error {
	switch {
	case errors.Is(err, mapfile.ErrNoDescriptor):
		return uploaderr.DescriptorParse("В архиве нет Info.dat", err)
	case errors.Is(err, mapfile.ErrBadDescriptor):
		return uploaderr.DescriptorParse("Info.dat не является корректным JSON", err)
	}
	return archiveError(err)
}

// validationError передаёт нарушения валидатора без изменений.
func validationError(err error) error {
	var violations mapfile.Violations
	if errors.As(err, &violations) {
		return uploaderr.Validation(violations)
	}
	if _, ok := uploaderr.As(err); ok {
		return err
	}
	return uploaderr.Internal(err)
}
