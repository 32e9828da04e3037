package mapfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"

	"github.com/bigkaa/goartstore/ingest-module/internal/storage/archive"
)

// Written — результат записи нормализованного архива.
type Written struct {
	// Digest — hex SHA-256: канонический Info.dat, затем файлы сложностей
	// в порядке дескриптора
	Digest string
	Size   int64
}

// WriteNormalized пишет итоговый архив в dst и одновременно считает digest.
//
// Канонические байты дескриптора идут в запись Info.dat и в хэш через один
// io.MultiWriter; остальные записи переносятся без перепаковки; затем в хэш
// добавляется содержимое hashedFiles. Порядок записей в центральном
// каталоге исходного архива на digest не влияет.
func WriteNormalized(a *archive.Archive, dst string, desc *Descriptor, hashedFiles []string) (*Written, error) {
	canonical, err := desc.Canonical()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания архива: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	zw := zip.NewWriter(f)

	info, err := zw.CreateHeader(&zip.FileHeader{Name: InfoFile, Method: zip.Deflate})
	if err != nil {
		return nil, fmt.Errorf("ошибка записи %s: %w", InfoFile, err)
	}
	if _, err := io.MultiWriter(info, hasher).Write(canonical); err != nil {
		return nil, fmt.Errorf("ошибка записи %s: %w", InfoFile, err)
	}

	if err := a.CopyTo(zw, InfoFile); err != nil {
		return nil, err
	}

	for _, name := range hashedFiles {
		if err := hashEntry(a, name, hasher); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("ошибка завершения архива: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("ошибка stat архива: %w", err)
	}

	return &Written{Digest: hex.EncodeToString(hasher.Sum(nil)), Size: st.Size()}, nil
}

func hashEntry(a *archive.Archive, name string, w io.Writer) error {
	e, ok := a.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", archive.ErrNotFound, name)
	}
	rc, err := a.Open(e)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("ошибка хэширования %s: %w", name, err)
	}
	return nil
}
