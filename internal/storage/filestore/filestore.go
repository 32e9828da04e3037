// Пакет filestore — файлы загрузок на диске.
// Принимает входящий поток во временный файл с ограничением размера
// и размещает итоговые артефакты по контентному адресу (hex digest).
//
// Раскладка под корнем хранилища:
//
//	tmp/       — временные файлы текущих загрузок
//	zips/      — {digest}.zip
//	covers/    — {digest}.jpg
//	previews/  — {digest}.wav
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrSizeExceeded — поток длиннее допустимого лимита.
var ErrSizeExceeded = errors.New("превышен лимит размера")

// Area — подкаталог хранилища.
type Area string

const (
	AreaTmp      Area = "tmp"
	AreaZips     Area = "zips"
	AreaCovers   Area = "covers"
	AreaPreviews Area = "previews"
)

// Areas — все подкаталоги, создаются при инициализации.
var Areas = []Area{AreaTmp, AreaZips, AreaCovers, AreaPreviews}

// Ext возвращает расширение файлов подкаталога.
func (a Area) Ext() string {
	switch a {
	case AreaZips:
		return ".zip"
	case AreaCovers:
		return ".jpg"
	case AreaPreviews:
		return ".wav"
	}
	return ""
}

// FileStore — управление файлами загрузок.
type FileStore struct {
	// root — корень хранилища (IM_STORAGE_ROOT)
	root string
}

// StoredFile — файл подкаталога, найденный при сканировании.
type StoredFile struct {
	// Key — имя файла без расширения (digest для итоговых файлов)
	Key     string
	Path    string
	Size    int64
	ModTime time.Time
}

// New создаёт FileStore и все подкаталоги.
func New(root string) (*FileStore, error) {
	for _, a := range Areas {
		dir := filepath.Join(root, string(a))
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

// Root возвращает корень хранилища.
func (fs *FileStore) Root() string {
	return fs.root
}

// TempPath возвращает новый уникальный путь в tmp/.
// Файл не создаётся: вызывающий код сначала регистрирует путь
// для очистки, затем пишет.
func (fs *FileStore) TempPath(suffix string) string {
	return filepath.Join(fs.root, string(AreaTmp), uuid.New().String()+suffix)
}

// Path возвращает итоговый путь артефакта по digest.
func (fs *FileStore) Path(a Area, digest string) string {
	return filepath.Join(fs.root, string(a), digest+a.Ext())
}

// CopyLimited копирует src в dst, пока не прочитано больше limit байт.
// Ровно limit байт — успех, limit+1 — ErrSizeExceeded. Читает не больше
// limit+1 байт и ничего не удаляет: частичный вывод убирает вызывающий код.
func CopyLimited(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, ErrSizeExceeded
	}
	return n, nil
}

// ReceiveTemp записывает поток в path с ограничением limit и fsync.
// При ошибке файл остаётся на диске.
func (fs *FileStore) ReceiveTemp(path string, src io.Reader, limit int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	n, err := CopyLimited(f, src, limit)
	if err != nil {
		f.Close()
		if errors.Is(err, ErrSizeExceeded) {
			return n, err
		}
		return n, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return n, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	return n, nil
}

// Place размещает src по итоговому пути артефакта, если его там ещё нет.
// created=false означает, что файл с этим digest уже существовал
// и вызывающему коду не принадлежит. src не удаляется.
func (fs *FileStore) Place(a Area, digest, src string) (dst string, created bool, err error) {
	dst = fs.Path(a, digest)
	created, err = Link(src, dst)
	if err != nil {
		return "", false, err
	}
	return dst, created, nil
}

// Link создаёт dst жёсткой ссылкой на src, если dst ещё нет.
// created = false, если dst уже существовал.
func Link(src, dst string) (created bool, err error) {
	err = os.Link(src, dst)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}

	// Файловая система без жёстких ссылок: копия с O_EXCL
	created, err = copyExclusive(src, dst)
	if err != nil {
		return false, fmt.Errorf("ошибка размещения %s: %w", dst, err)
	}
	return created, nil
}

func copyExclusive(src, dst string) (bool, error) {
	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return false, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return false, err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return false, err
	}
	return true, nil
}

// Remove удаляет файл. Отсутствующий файл — не ошибка.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", path, err)
	}
	return nil
}

// Exists проверяет наличие артефакта.
func (fs *FileStore) Exists(a Area, digest string) bool {
	_, err := os.Stat(fs.Path(a, digest))
	return err == nil
}

// Scan перечисляет обычные файлы подкаталога.
func (fs *FileStore) Scan(a Area) ([]StoredFile, error) {
	dir := filepath.Join(fs.root, string(a))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", dir, err)
	}

	files := make([]StoredFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}
		name := e.Name()
		files = append(files, StoredFile{
			Key:     strings.TrimSuffix(name, filepath.Ext(name)),
			Path:    filepath.Join(dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}
