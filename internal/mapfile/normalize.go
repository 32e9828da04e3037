package mapfile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/ingest-module/internal/storage/archive"
)

// ErrNoDescriptor — в архиве нет Info.dat ни в корне, ни в единственной папке.
var ErrNoDescriptor = errors.New("в архиве отсутствует Info.dat")

// macOSMetaDir — служебная папка архиватора macOS, не считается содержимым.
const macOSMetaDir = "__macosx/"

// Normalized — результат нормализации архива.
type Normalized struct {
	Descriptor *Descriptor
	// Prefix — срезанная общая папка ("" если её не было)
	Prefix string
	// AllowedFiles — lower-case относительные пути, разрешённые в архиве
	AllowedFiles map[string]bool
	// Removed — удалённые записи (для логов)
	Removed []string
}

// Normalize приводит архив к каноническому виду:
//
//  1. определяет общий префикс (одна папка верхнего уровня с Info.dat);
//  2. переименовывает .ogg, на которые ссылается дескриптор, в .egg;
//  3. строит allow-list: дескриптор, cinema-video.json и всё, на что
//     ссылается дескриптор;
//  4. удаляет записи вне allow-list;
//  5. переносит оставшееся в корень и удаляет опустевшие папки.
//
// Любая ошибка прерывает нормализацию, частичный результат не используется.
func Normalize(a *archive.Archive) (*Normalized, error) {
	prefix, err := detectPrefix(a)
	if err != nil {
		return nil, err
	}

	raw, err := a.ReadFile(prefix + InfoFile)
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", InfoFile, err)
	}
	desc, err := ParseDescriptor(raw)
	if err != nil {
		return nil, err
	}

	if err := renameAudio(a, prefix, desc); err != nil {
		return nil, err
	}

	allowed := allowList(desc)

	n := &Normalized{Descriptor: desc, Prefix: prefix, AllowedFiles: allowed}
	infoKey := strings.ToLower(prefix + InfoFile)

	for _, e := range a.Entries() {
		if e.IsDir() {
			continue
		}
		key := strings.ToLower(e.Name)
		if key == infoKey {
			continue
		}
		rel, inPrefix := strings.CutPrefix(key, strings.ToLower(prefix))
		if inPrefix && allowed[rel] {
			continue
		}
		if err := a.Delete(e.Name); err != nil {
			return nil, fmt.Errorf("удаление %s: %w", e.Name, err)
		}
		n.Removed = append(n.Removed, e.Name)
	}

	if prefix != "" {
		for _, e := range a.Entries() {
			if e.IsDir() {
				continue
			}
			if err := a.Rename(e.Name, e.Name[len(prefix):]); err != nil {
				return nil, fmt.Errorf("перенос %s в корень: %w", e.Name, err)
			}
		}
	}
	n.Removed = append(n.Removed, a.RemoveEmptyDirs()...)

	return n, nil
}

// detectPrefix возвращает общую папку с дескриптором или "".
func detectPrefix(a *archive.Archive) (string, error) {
	if _, ok := a.Lookup(InfoFile); ok {
		return "", nil
	}

	var dirs []string
	for _, d := range a.TopLevelDirs() {
		if strings.ToLower(d) != macOSMetaDir {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) != 1 {
		return "", ErrNoDescriptor
	}
	e, ok := a.Lookup(dirs[0] + InfoFile)
	if !ok {
		return "", ErrNoDescriptor
	}
	// Регистр префикса берём из фактического имени записи
	return e.Name[:len(dirs[0])], nil
}

// renameAudio меняет .ogg на .egg у песни и превью и обновляет ссылки
// в дескрипторе. Отсутствующий файл не ошибка: его отметит валидатор.
func renameAudio(a *archive.Archive, prefix string, desc *Descriptor) error {
	refs := []*string{&desc.SongFilename, &desc.SongPreviewFilename}
	done := make(map[string]string)
	for _, ref := range refs {
		name := *ref
		if !strings.EqualFold(extOf(name), InputAudioExt) {
			continue
		}
		// Песня и превью могут ссылаться на один файл
		if renamed, ok := done[strings.ToLower(name)]; ok {
			*ref = renamed
			continue
		}
		e, ok := a.Lookup(prefix + name)
		if !ok {
			continue
		}
		renamed := name[:len(name)-len(InputAudioExt)] + AudioExt
		if err := a.Rename(e.Name, prefix+renamed); err != nil {
			return fmt.Errorf("переименование %s: %w", name, err)
		}
		done[strings.ToLower(name)] = renamed
		*ref = renamed
	}
	return nil
}

func allowList(desc *Descriptor) map[string]bool {
	allowed := map[string]bool{
		strings.ToLower(InfoFile):   true,
		strings.ToLower(CinemaFile): true,
	}
	for _, f := range desc.ReferencedFiles() {
		allowed[strings.ToLower(f)] = true
	}
	return allowed
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
