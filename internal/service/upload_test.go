package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/uploaderr"
	"github.com/bigkaa/goartstore/ingest-module/internal/mapfile"
	"github.com/bigkaa/goartstore/ingest-module/internal/media"
	"github.com/bigkaa/goartstore/ingest-module/internal/notify"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/archive"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/wal"
)

const testInfo = `{
	// комментарий редактора
	"_version": "2.1.0",
	"_songName": "Test Song",
	"_songSubName": "",
	"_songAuthorName": "Author",
	"_levelAuthorName": "Mapper",
	"_beatsPerMinute": 120,
	"_previewStartTime": 12,
	"_previewDuration": 10,
	"_songFilename": "song.ogg",
	"_coverImageFilename": "cover.jpg",
	"_environmentName": "DefaultEnvironment",
	"_difficultyBeatmapSets": [
		{
			"_beatmapCharacteristicName": "Standard",
			"_difficultyBeatmaps": [
				{"_difficulty": "Expert", "_difficultyRank": 7, "_beatmapFilename": "Expert.dat", "_noteJumpMovementSpeed": 16},
			]
		}
	]
}`

const testExpert = `{"_version":"2.2.0","_notes":[{"_time":1,"_type":0},{"_time":2,"_type":1},{"_time":4,"_type":3}],"_obstacles":[{"_time":8,"_duration":2}],"_events":[{"_time":0}]}`

type zipEntry struct {
	name string
	body []byte
}

func buildZip(t *testing.T, entries []zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(e.body); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func coverPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.RGBA{G: uint8(x * 8), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// mapEntries — корректная карта, prefix добавляется к каждому имени.
func mapEntries(t *testing.T, prefix string) []zipEntry {
	return []zipEntry{
		{prefix + "Info.dat", []byte(testInfo)},
		{prefix + "song.ogg", []byte("OggS звук")},
		{prefix + "cover.jpg", coverPNG(t)},
		{prefix + "Expert.dat", []byte(testExpert)},
	}
}

// recordingEmitter запоминает события.
type recordingEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (e *recordingEmitter) Emit(ev notify.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return true
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

type fixture struct {
	svc    *UploadService
	cfg    *config.Config
	store  *memStore
	files  *filestore.FileStore
	wal    *wal.WAL
	events *recordingEmitter
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	files, err := filestore.New(filepath.Join(root, "maps"))
	if err != nil {
		t.Fatal(err)
	}
	w, err := wal.New(filepath.Join(root, "wal"), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		ServiceID:       "ingest-test",
		BasicSizeLimit:  1 << 20,
		BundleSizeLimit: 1 << 20,
		WIPLimit:        5,
		MaxEntries:      100,
		MaxEntrySize:    8 << 20,
		MaxUncompressed: 32 << 20,
	}
	store := newMemStore()
	tiers := NewTierCache(store.Repos().Tiers, DefaultTier(cfg), 16, time.Minute)
	f := &fixture{
		cfg:    cfg,
		store:  store,
		files:  files,
		wal:    w,
		events: &recordingEmitter{},
		now:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewUploadService(cfg, store, files, w, mapfile.NewInfoDatValidator(), tiers, f.events, testLogger())
	f.svc.probe = func(string) (float64, error) { return 60, nil }
	f.svc.preview = func(_ string, _ float64, dst string) error {
		return os.WriteFile(dst, []byte("RIFF превью"), 0o640)
	}
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) upload(uploader string, meta model.UploadMeta, body []byte) (*UploadResult, error) {
	return f.svc.Upload(context.Background(), UploadRequest{
		UploaderID: uploader,
		Meta:       meta,
		Body:       bytes.NewReader(body),
	})
}

// areaFiles возвращает имена файлов подкаталога.
func (f *fixture) areaFiles(t *testing.T, area filestore.Area) []string {
	t.Helper()
	files, err := f.files.Scan(area)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, sf := range files {
		names = append(names, filepath.Base(sf.Path))
	}
	return names
}

// assertClean проверяет, что после неуспешной загрузки не осталось
// ни файлов, ни незавершённых записей WAL.
func (f *fixture) assertClean(t *testing.T) {
	t.Helper()
	for _, area := range filestore.Areas {
		if names := f.areaFiles(t, area); len(names) > 0 {
			t.Errorf("в %s остались файлы: %v", area, names)
		}
	}
	pending, err := f.wal.RecoverPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) > 0 {
		t.Errorf("остались незавершённые записи WAL: %d", len(pending))
	}
}

func wantKind(t *testing.T, err error, kind uploaderr.Kind) *uploaderr.Error {
	t.Helper()
	ue, ok := uploaderr.As(err)
	if !ok {
		t.Fatalf("ожидалась *uploaderr.Error вида %s, получено %v", kind, err)
	}
	if ue.Kind != kind {
		t.Fatalf("ожидался вид %s, получено %s (%v)", kind, ue.Kind, err)
	}
	return ue
}

// TestUpload_NewMap проверяет полный успешный проход конвейера.
func TestUpload_NewMap(t *testing.T) {
	f := newFixture(t)
	meta := model.UploadMeta{
		Title:       "  ",
		Description: strings.Repeat("д", MaxDescriptionLength+5),
		Tags:        []string{"rock", "pop", "metal", "tech", "неизвестный"},
		DeclaredAI:  true,
	}

	res, err := f.upload("user-1", meta, buildZip(t, mapEntries(t, "")))
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if !res.NewMap || res.Hash == "" || res.MapID == 0 {
		t.Fatalf("неожиданный результат: %+v", res)
	}

	m, ok := f.store.getMap(res.MapID)
	if !ok {
		t.Fatal("карта не сохранена")
	}
	if m.UploaderID != "user-1" || m.Name != "Test Song" {
		t.Errorf("карта: владелец %q, название %q", m.UploaderID, m.Name)
	}
	if len([]rune(m.Description)) != MaxDescriptionLength {
		t.Errorf("описание не обрезано: %d символов", len([]rune(m.Description)))
	}
	if strings.Join(m.Tags, ",") != "rock,pop,tech" {
		t.Errorf("теги: %v", m.Tags)
	}
	if m.DeclaredAI != model.AIUploader {
		t.Errorf("DeclaredAI = %s", m.DeclaredAI)
	}

	diffs, _ := f.store.Repos().Difficulties.ListByVersion(context.Background(), res.VersionID)
	if len(diffs) != 1 || diffs[0].Notes != 2 || diffs[0].Bombs != 1 {
		t.Errorf("сложности: %+v", diffs)
	}

	for _, area := range []filestore.Area{filestore.AreaZips, filestore.AreaCovers, filestore.AreaPreviews} {
		if !f.files.Exists(area, res.Hash) {
			t.Errorf("нет артефакта в %s", area)
		}
	}
	if names := f.areaFiles(t, filestore.AreaTmp); len(names) > 0 {
		t.Errorf("временные файлы не удалены: %v", names)
	}
	if f.events.count() != 1 {
		t.Errorf("ожидалось одно событие, получено %d", f.events.count())
	}
	pending, _ := f.wal.RecoverPending()
	if len(pending) != 0 {
		t.Errorf("WAL-запись не закоммичена")
	}
}

// TestUpload_NormalizedArchive проверяет, что в хранилище попадает
// архив без префикса и без посторонних файлов.
func TestUpload_NormalizedArchive(t *testing.T) {
	f := newFixture(t)
	entries := append(mapEntries(t, "MyMap/"),
		zipEntry{"MyMap/autosaves/Expert.dat", []byte("старое")},
		zipEntry{"MyMap/notes.txt", []byte("мусор")},
	)

	res, err := f.upload("user-1", model.UploadMeta{Title: "Карта"}, buildZip(t, entries))
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}

	zr, err := zip.OpenReader(f.files.Path(filestore.AreaZips, res.Hash))
	if err != nil {
		t.Fatalf("итоговый архив не читается: %v", err)
	}
	defer zr.Close()

	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	sort.Strings(names)
	want := []string{"Expert.dat", "Info.dat", "cover.jpg", "song.egg"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("записи архива: %v, ожидалось %v", names, want)
	}

	rc, err := zr.Open("Info.dat")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	info, _ := io.ReadAll(rc)
	if !bytes.Contains(info, []byte(`"_songFilename":"song.egg"`)) {
		t.Errorf("Info.dat не ссылается на song.egg: %s", info)
	}
}

// TestUpload_DuplicateIgnoresArtifacts проверяет, что архивы, отличающиеся
// только мусором, регистром имён и папкой, считаются одинаковыми.
func TestUpload_DuplicateIgnoresArtifacts(t *testing.T) {
	f := newFixture(t)

	first, err := f.upload("user-1", model.UploadMeta{}, buildZip(t, mapEntries(t, "")))
	if err != nil {
		t.Fatalf("первая загрузка: %v", err)
	}

	second := []zipEntry{
		{"Wrapped/autosave.dat", []byte("мусор")},
		{"Wrapped/EXPERT.DAT", []byte(testExpert)},
		{"Wrapped/Cover.JPG", coverPNG(t)},
		{"Wrapped/Song.OGG", []byte("OggS другой звук")},
		{"Wrapped/Info.dat", []byte(testInfo)},
	}
	_, err = f.upload("user-2", model.UploadMeta{}, buildZip(t, second))
	wantKind(t, err, uploaderr.KindDuplicateContent)

	if f.store.versionCount() != 1 {
		t.Errorf("ожидалась одна версия, получено %d", f.store.versionCount())
	}
	// Файлы первой версии не тронуты
	if !f.files.Exists(filestore.AreaZips, first.Hash) {
		t.Error("архив первой версии удалён")
	}
	if names := f.areaFiles(t, filestore.AreaTmp); len(names) > 0 {
		t.Errorf("временные файлы не удалены: %v", names)
	}
}

// TestUpload_RevisionCadence проверяет окно 12 часов на две версии.
func TestUpload_RevisionCadence(t *testing.T) {
	tests := []struct {
		name      string
		ago       []time.Duration
		wantHours int
	}{
		{"две версии за 12 часов", []time.Duration{time.Hour, 4 * time.Hour}, 11},
		{"последняя только что", []time.Duration{10 * time.Minute, 2 * time.Hour}, 12},
		{"старшая вышла из окна", []time.Duration{time.Hour, 13 * time.Hour}, 0},
		{"одна версия", []time.Duration{time.Minute}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			mapID := f.store.addMap(model.MapRecord{UploaderID: "owner", Name: "Старое название", UpdatedAt: f.now.Add(-24 * time.Hour)})
			for i, ago := range tt.ago {
				f.store.addVersion(model.VersionRecord{
					MapID:      mapID,
					Hash:       strings.Repeat(string(rune('a'+i)), 64),
					State:      model.StatePublished,
					UploadedAt: f.now.Add(-ago),
				})
			}

			res, err := f.upload("owner", model.UploadMeta{Title: "Новое", TargetMapID: &mapID}, buildZip(t, mapEntries(t, "")))
			if tt.wantHours > 0 {
				ue := wantKind(t, err, uploaderr.KindRevisionTooSoon)
				if ue.HoursRemaining != tt.wantHours {
					t.Errorf("осталось %d ч., ожидалось %d", ue.HoursRemaining, tt.wantHours)
				}
				f.assertClean(t)
				return
			}

			if err != nil {
				t.Fatalf("ошибка загрузки: %v", err)
			}
			if res.NewMap || res.MapID != mapID {
				t.Errorf("версия должна попасть в карту %d: %+v", mapID, res)
			}
			m, _ := f.store.getMap(mapID)
			if m.Name != "Старое название" {
				t.Errorf("текст карты изменён: %q", m.Name)
			}
			if !m.UpdatedAt.Equal(f.now) {
				t.Errorf("updated_at = %v, ожидалось %v", m.UpdatedAt, f.now)
			}
		})
	}
}

// TestUpload_TargetMapErrors проверяет ошибки целевой карты.
func TestUpload_TargetMapErrors(t *testing.T) {
	f := newFixture(t)
	mapID := f.store.addMap(model.MapRecord{UploaderID: "owner"})
	missing := mapID + 100

	_, err := f.upload("intruder", model.UploadMeta{TargetMapID: &mapID}, buildZip(t, mapEntries(t, "")))
	wantKind(t, err, uploaderr.KindOwnershipMismatch)
	f.assertClean(t)

	_, err = f.upload("owner", model.UploadMeta{TargetMapID: &missing}, buildZip(t, mapEntries(t, "")))
	wantKind(t, err, uploaderr.KindMapNotFound)
	f.assertClean(t)
}

// TestUpload_WIPQuota проверяет лимит неопубликованных версий тарифа.
func TestUpload_WIPQuota(t *testing.T) {
	f := newFixture(t)
	f.store.tiers["user-1"] = model.Tier{Name: "pro", BasicSizeLimit: 1 << 20, BundleSizeLimit: 1 << 20, WIPLimit: 2}
	for i := 0; i < 2; i++ {
		id := f.store.addMap(model.MapRecord{UploaderID: "user-1"})
		f.store.addVersion(model.VersionRecord{MapID: id, Hash: strings.Repeat(string(rune('a'+i)), 64), State: model.StateUploaded})
	}

	_, err := f.upload("user-1", model.UploadMeta{}, buildZip(t, mapEntries(t, "")))
	ue := wantKind(t, err, uploaderr.KindWIPQuotaExceeded)
	if !strings.Contains(ue.Message, "pro") {
		t.Errorf("сообщение должно называть тариф: %s", ue.Message)
	}
	f.assertClean(t)
}

// TestUpload_SizeBoundary проверяет базовый лимит: ровно лимит — успех,
// на байт меньше — отказ.
func TestUpload_SizeBoundary(t *testing.T) {
	body := buildZip(t, mapEntries(t, ""))
	size := int64(len(body))

	tests := []struct {
		name   string
		basic  int64
		bundle int64
		ok     bool
	}{
		{"ровно лимит", size, 0, true},
		{"поток длиннее лимита", size - 1, 0, false},
		{"общий потолок больше, базовый меньше", size - 1, 1 << 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.tiers["user-1"] = model.Tier{Name: "test", BasicSizeLimit: tt.basic, BundleSizeLimit: tt.bundle, WIPLimit: 5}

			_, err := f.upload("user-1", model.UploadMeta{}, body)
			if tt.ok {
				if err != nil {
					t.Fatalf("ошибка загрузки: %v", err)
				}
				return
			}
			wantKind(t, err, uploaderr.KindSizeExceeded)
			f.assertClean(t)
		})
	}
}

// TestUpload_RejectedArchives проверяет ранние отказы по формату и содержимому.
func TestUpload_RejectedArchives(t *testing.T) {
	rar := append([]byte("Rar!\x1a\x07\x01\x00"), bytes.Repeat([]byte{0x42}, 512)...)
	notImage := mapEntries(t, "")
	notImage[2].body = []byte("это не картинка")
	hugeCover := mapEntries(t, "")
	hugeCover[2].body = hugePNG(16000, 16000)

	tests := []struct {
		name string
		body []byte
		want uploaderr.Kind
	}{
		{"RAR под видом zip", rar, uploaderr.KindDisguisedArchive},
		{"пустой файл", nil, uploaderr.KindCorruptArchive},
		{"не архив", []byte("просто текст, а не zip"), uploaderr.KindCorruptArchive},
		{"нет Info.dat", buildZip(t, []zipEntry{{"song.ogg", []byte("x")}}), uploaderr.KindDescriptorParse},
		{"Info.dat не JSON", buildZip(t, []zipEntry{{"Info.dat", []byte("{сломано")}}), uploaderr.KindDescriptorParse},
		{"обложка не картинка", buildZip(t, notImage), uploaderr.KindUnsupportedImage},
		{"огромная обложка", buildZip(t, hugeCover), uploaderr.KindUnsupportedImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.upload("user-1", model.UploadMeta{}, tt.body)
			wantKind(t, err, tt.want)
			f.assertClean(t)
			if f.events.count() != 0 {
				t.Error("событие не должно публиковаться при ошибке")
			}
		})
	}
}

// hugePNG — PNG из одного заголовка IHDR с заданными размерами.
func hugePNG(width, height uint32) []byte {
	var b bytes.Buffer
	b.WriteString("\x89PNG\r\n\x1a\n")
	chunk := []byte("IHDR")
	chunk = binary.BigEndian.AppendUint32(chunk, width)
	chunk = binary.BigEndian.AppendUint32(chunk, height)
	chunk = append(chunk, 8, 0, 0, 0, 0)
	b.Write(binary.BigEndian.AppendUint32(nil, uint32(len(chunk)-4)))
	b.Write(chunk)
	b.Write(binary.BigEndian.AppendUint32(nil, crc32.ChecksumIEEE(chunk)))
	return b.Bytes()
}

// TestThumbnailError проверяет вид ошибки для сбоев обложки.
func TestThumbnailError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want uploaderr.Kind
	}{
		{"формат", fmt.Errorf("%w: png", media.ErrUnsupportedFormat), uploaderr.KindUnsupportedImage},
		{"запись длиннее заявленной", fmt.Errorf("ошибка чтения обложки: %w", archive.ErrTooLarge), uploaderr.KindSizeExceeded},
		{"контрольная сумма", fmt.Errorf("ошибка чтения обложки: %w", zip.ErrChecksum), uploaderr.KindCorruptArchive},
		{"обрыв записи", fmt.Errorf("ошибка чтения обложки: %w", io.ErrUnexpectedEOF), uploaderr.KindCorruptArchive},
		{"диск", errors.New("no space left on device"), uploaderr.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantKind(t, thumbnailError(tt.err), tt.want)
		})
	}
}

// TestUpload_ValidationViolations проверяет передачу всех нарушений валидатора.
func TestUpload_ValidationViolations(t *testing.T) {
	f := newFixture(t)
	info := strings.Replace(testInfo, `"_beatsPerMinute": 120`, `"_beatsPerMinute": 0`, 1)
	info = strings.Replace(info, `"_songName": "Test Song"`, `"_songName": ""`, 1)
	entries := mapEntries(t, "")
	entries[0].body = []byte(info)

	_, err := f.upload("user-1", model.UploadMeta{}, buildZip(t, entries))
	ue := wantKind(t, err, uploaderr.KindDescriptorValidation)
	if len(ue.Entries()) != 2 {
		t.Errorf("ожидалось 2 нарушения, получено %v", ue.Entries())
	}
	f.assertClean(t)
}

// TestUpload_CleanupOnFailure проверяет удаление всех файлов при ошибке
// на каждом шаге после генерации артефактов.
func TestUpload_CleanupOnFailure(t *testing.T) {
	boom := errors.New("сбой базы данных")
	tests := []struct {
		name string
		op   string
		err  error
		want uploaderr.Kind
	}{
		{"проверка дубликата", "versions.exists", boom, uploaderr.KindInternal},
		{"создание карты", "maps.create", boom, uploaderr.KindInternal},
		{"подсчёт WIP", "versions.wip", boom, uploaderr.KindInternal},
		{"вставка версии", "versions.create", boom, uploaderr.KindInternal},
		{"гонка хэша", "versions.create", repository.ErrConflict, uploaderr.KindDuplicateContent},
		{"вставка сложностей", "difficulties.create", boom, uploaderr.KindInternal},
		{"коммит", "commit", boom, uploaderr.KindInternal},
		{"отказ сериализации", "commit", repository.ErrSerialization, uploaderr.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.failOn(tt.op, tt.err)

			_, err := f.upload("user-1", model.UploadMeta{}, buildZip(t, mapEntries(t, "")))
			ue := wantKind(t, err, tt.want)
			if tt.want == uploaderr.KindInternal && !errors.Is(ue, tt.err) {
				t.Errorf("исходная причина потеряна: %v", ue)
			}
			f.assertClean(t)
			if f.store.versionCount() != 0 {
				t.Error("версия не должна сохраниться")
			}
			if f.events.count() != 0 {
				t.Error("событие не должно публиковаться при ошибке")
			}
		})
	}
}

// TestUpload_PreviewFailure проверяет очистку уже созданной обложки.
func TestUpload_PreviewFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.preview = func(_ string, _ float64, dst string) error {
		os.WriteFile(dst, []byte("обрывок"), 0o640)
		return errors.New("ошибка декодирования")
	}

	_, err := f.upload("user-1", model.UploadMeta{}, buildZip(t, mapEntries(t, "")))
	wantKind(t, err, uploaderr.KindInternal)
	f.assertClean(t)
}

// TestUpload_SerializationMessage проверяет подсказку о повторе.
func TestUpload_SerializationMessage(t *testing.T) {
	f := newFixture(t)
	f.store.failOn("commit", repository.ErrSerialization)

	_, err := f.upload("user-1", model.UploadMeta{}, buildZip(t, mapEntries(t, "")))
	ue := wantKind(t, err, uploaderr.KindInternal)
	if !strings.Contains(ue.Message, "повторите") {
		t.Errorf("сообщение без подсказки: %s", ue.Message)
	}
}

// TestUpload_ExistingArtifactKept проверяет, что чужой файл с тем же
// digest не удаляется при ошибке.
func TestUpload_ExistingArtifactKept(t *testing.T) {
	f := newFixture(t)
	first, err := f.upload("user-1", model.UploadMeta{}, buildZip(t, mapEntries(t, "")))
	if err != nil {
		t.Fatal(err)
	}

	// Версия исчезла из БД (например, удалена модерацией), файлы остались
	f.store.mu.Lock()
	f.store.versions = nil
	f.store.mu.Unlock()
	f.store.failOn("difficulties.create", errors.New("сбой"))

	_, err = f.upload("user-2", model.UploadMeta{}, buildZip(t, mapEntries(t, "")))
	wantKind(t, err, uploaderr.KindInternal)

	if !f.files.Exists(filestore.AreaZips, first.Hash) {
		t.Error("существовавший архив удалён неуспешной загрузкой")
	}
}
