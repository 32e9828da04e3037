// Пакет archive — безопасная работа с недоверенным zip-архивом.
//
// Open определяет реальный формат по сигнатуре, проверяет метаданные
// записей (количество, размеры, имена) до распаковки и строит индекс
// путей без учёта регистра. Переименования и удаления выполняются над
// индексом, на диск изменения попадают через CopyTo без перепаковки.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
)

var (
	// ErrCorrupt — файл не является корректным zip или содержит небезопасные пути.
	ErrCorrupt = errors.New("некорректный zip-архив")
	// ErrTooLarge — метаданные записей превышают лимиты распаковки.
	ErrTooLarge = errors.New("архив превышает лимиты распаковки")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrExists — запись с таким именем уже есть.
	ErrExists = errors.New("запись уже существует")
)

// DisguisedError — архив другого формата под видом zip.
type DisguisedError struct {
	// Format — обнаруженный формат (rar, 7z, gzip, …)
	Format string
}

func (e *DisguisedError) Error() string {
	return fmt.Sprintf("файл является архивом %s, а не zip", e.Format)
}

// disguised — форматы архивов, которые выдают себя за zip.
var disguised = map[string]string{
	"application/x-rar-compressed": "rar",
	"application/x-7z-compressed":  "7z",
	"application/gzip":             "gzip",
	"application/x-tar":            "tar",
	"application/x-bzip2":          "bzip2",
	"application/x-xz":             "xz",
	"application/zstd":             "zstd",
}

// Limits — ограничения на содержимое архива (защита от zip-бомб).
type Limits struct {
	MaxEntries      int
	MaxEntrySize    int64
	MaxUncompressed int64
}

// Entry — запись архива.
type Entry struct {
	// Name — текущее имя (после переименований)
	Name string
	file *zip.File
}

// IsDir сообщает, является ли запись директорией.
func (e *Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// Size — заявленный размер после распаковки.
func (e *Entry) Size() int64 {
	return int64(e.file.UncompressedSize64)
}

// CompressedSize — размер сжатых данных.
func (e *Entry) CompressedSize() int64 {
	return int64(e.file.CompressedSize64)
}

// Archive — открытый архив с редактируемым индексом.
type Archive struct {
	f    *os.File
	size int64
	// entries — записи в порядке центрального каталога, удалённые — nil
	entries []*Entry
	// index — lower-case имя → запись
	index map[string]*Entry
}

// Open открывает файл как zip-архив.
func Open(filePath string, limits Limits) (*Archive, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия архива: %w", err)
	}

	a, err := open(f, limits)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func open(f *os.File, limits Limits) (*Archive, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("ошибка stat архива: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: пустой файл", ErrCorrupt)
	}

	if err := sniff(f); err != nil {
		return nil, err
	}

	r, err := zip.NewReader(f, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if limits.MaxEntries > 0 && len(r.File) > limits.MaxEntries {
		return nil, fmt.Errorf("%w: записей %d, допустимо %d", ErrTooLarge, len(r.File), limits.MaxEntries)
	}

	a := &Archive{
		f:       f,
		size:    size,
		entries: make([]*Entry, 0, len(r.File)),
		index:   make(map[string]*Entry, len(r.File)),
	}

	var total uint64
	for _, zf := range r.File {
		if !safeName(zf.Name) {
			return nil, fmt.Errorf("%w: небезопасный путь %q", ErrCorrupt, zf.Name)
		}
		if limits.MaxEntrySize > 0 && zf.UncompressedSize64 > uint64(limits.MaxEntrySize) {
			return nil, fmt.Errorf("%w: запись %q размером %d байт", ErrTooLarge, zf.Name, zf.UncompressedSize64)
		}
		total += zf.UncompressedSize64
		if limits.MaxUncompressed > 0 && total > uint64(limits.MaxUncompressed) {
			return nil, fmt.Errorf("%w: суммарный размер больше %d байт", ErrTooLarge, limits.MaxUncompressed)
		}

		key := strings.ToLower(zf.Name)
		if _, dup := a.index[key]; dup {
			return nil, fmt.Errorf("%w: повторяющееся имя %q", ErrCorrupt, zf.Name)
		}
		e := &Entry{Name: zf.Name, file: zf}
		a.entries = append(a.entries, e)
		a.index[key] = e
	}

	return a, nil
}

// sniff определяет формат по заголовку файла.
func sniff(f *os.File) error {
	header := make([]byte, 3072)
	n, err := f.ReadAt(header, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("ошибка чтения заголовка архива: %w", err)
	}

	mt := mimetype.Detect(header[:n])
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return nil
		}
	}
	for mime, format := range disguised {
		if mt.Is(mime) {
			return &DisguisedError{Format: format}
		}
	}
	return fmt.Errorf("%w: формат %s", ErrCorrupt, mt.String())
}

// safeName отбрасывает абсолютные пути и выход за корень.
func safeName(name string) bool {
	if name == "" || strings.ContainsRune(name, '\\') || strings.HasPrefix(name, "/") {
		return false
	}
	if len(name) >= 2 && name[1] == ':' {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// Close закрывает файл архива.
func (a *Archive) Close() error {
	return a.f.Close()
}

// FileSize — размер файла архива на диске.
func (a *Archive) FileSize() int64 {
	return a.size
}

// Lookup ищет запись без учёта регистра.
func (a *Archive) Lookup(name string) (*Entry, bool) {
	e, ok := a.index[strings.ToLower(name)]
	return e, ok
}

// Entries возвращает живые записи в порядке центрального каталога.
func (a *Archive) Entries() []*Entry {
	out := make([]*Entry, 0, len(a.index))
	for _, e := range a.entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// TopLevelDirs возвращает отсортированные имена директорий верхнего уровня
// (с завершающим "/"), включая неявные.
func (a *Archive) TopLevelDirs() []string {
	seen := make(map[string]bool)
	for _, e := range a.entries {
		if e == nil {
			continue
		}
		if i := strings.IndexByte(e.Name, '/'); i >= 0 {
			seen[e.Name[:i+1]] = true
		}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// HasRootFiles сообщает, есть ли файлы в корне архива.
func (a *Archive) HasRootFiles() bool {
	for _, e := range a.entries {
		if e != nil && !strings.Contains(e.Name, "/") {
			return true
		}
	}
	return false
}

// Rename переименовывает запись. Данные не перепаковываются.
func (a *Archive) Rename(oldName, newName string) error {
	e, ok := a.Lookup(oldName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if !safeName(newName) {
		return fmt.Errorf("%w: небезопасный путь %q", ErrCorrupt, newName)
	}
	newKey := strings.ToLower(newName)
	oldKey := strings.ToLower(e.Name)
	if other, exists := a.index[newKey]; exists && other != e {
		return fmt.Errorf("%w: %s", ErrExists, newName)
	}
	delete(a.index, oldKey)
	e.Name = newName
	a.index[newKey] = e
	return nil
}

// Delete удаляет запись из индекса.
func (a *Archive) Delete(name string) error {
	e, ok := a.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(a.index, strings.ToLower(e.Name))
	for i, cur := range a.entries {
		if cur == e {
			a.entries[i] = nil
			break
		}
	}
	return nil
}

// RemoveEmptyDirs удаляет записи-директории, под которыми ничего не осталось.
// Обход от самых глубоких к верхним, чтобы родители успели опустеть.
func (a *Archive) RemoveEmptyDirs() []string {
	var dirs []*Entry
	for _, e := range a.entries {
		if e != nil && e.IsDir() {
			dirs = append(dirs, e)
		}
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.Count(dirs[i].Name, "/") > strings.Count(dirs[j].Name, "/")
	})

	var removed []string
	for _, d := range dirs {
		if a.hasChildren(d) {
			continue
		}
		name := d.Name
		_ = a.Delete(name)
		removed = append(removed, name)
	}
	return removed
}

func (a *Archive) hasChildren(dir *Entry) bool {
	prefix := strings.ToLower(dir.Name)
	for key, e := range a.index {
		if e != dir && strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Open открывает запись на чтение. Читатель вернёт ошибку, если данных
// больше, чем заявлено в заголовке.
func (a *Archive) Open(e *Entry) (io.ReadCloser, error) {
	rc, err := e.file.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, e.Name, err)
	}
	return &boundedReader{rc: rc, left: e.Size(), name: e.Name}, nil
}

// ReadFile читает запись целиком (для дескрипторов и небольших файлов).
func (a *Archive) ReadFile(name string) ([]byte, error) {
	e, ok := a.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	rc, err := a.Open(e)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// CopyTo переносит живые записи в w без перепаковки, кроме перечисленных
// в skip (без учёта регистра).
func (a *Archive) CopyTo(w *zip.Writer, skip ...string) error {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[strings.ToLower(s)] = true
	}

	for _, e := range a.entries {
		if e == nil || skipped[strings.ToLower(e.Name)] {
			continue
		}
		if e.Name == e.file.Name {
			if err := w.Copy(e.file); err != nil {
				return fmt.Errorf("ошибка копирования %s: %w", e.Name, err)
			}
			continue
		}

		fh := e.file.FileHeader
		fh.Name = e.Name
		dst, err := w.CreateRaw(&fh)
		if err != nil {
			return fmt.Errorf("ошибка записи заголовка %s: %w", e.Name, err)
		}
		src, err := e.file.OpenRaw()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, e.Name, err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("ошибка копирования %s: %w", e.Name, err)
		}
	}
	return nil
}

// boundedReader не даёт прочитать больше заявленного размера.
type boundedReader struct {
	rc   io.ReadCloser
	left int64
	name string
}

func (r *boundedReader) Read(p []byte) (int, error) {
	if r.left <= 0 {
		// Проверяем, что данные действительно закончились
		var one [1]byte
		n, err := r.rc.Read(one[:])
		if n > 0 {
			return 0, fmt.Errorf("%w: %s длиннее заявленного размера", ErrTooLarge, r.name)
		}
		return 0, err
	}
	if int64(len(p)) > r.left {
		p = p[:r.left]
	}
	n, err := r.rc.Read(p)
	r.left -= int64(n)
	return n, err
}

func (r *boundedReader) Close() error {
	return r.rc.Close()
}
