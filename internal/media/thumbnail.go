// Пакет media — производные артефакты загрузки: обложка и аудио-превью.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	// Форматы обложек
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// ThumbnailSize — сторона квадратной обложки в пикселях.
	ThumbnailSize = 256
	// ThumbnailQuality — качество JPEG.
	ThumbnailQuality = 90
	// MaxCoverPixels — предел площади исходной обложки.
	MaxCoverPixels = 4096 * 4096
)

// ErrUnsupportedFormat — обложка не декодируется ни одним известным форматом
// или слишком велика.
var ErrUnsupportedFormat = errors.New("неподдерживаемый формат изображения")

// Thumbnail декодирует изображение, приводит его к 256×256 RGBA
// и пишет JPEG в dst. Размеры проверяются по заголовку до декодирования.
// Ошибки чтения src возвращаются как есть, не как ErrUnsupportedFormat.
func Thumbnail(src io.Reader, dst io.Writer) error {
	tr := &readTracker{r: src}

	// Байты, прочитанные DecodeConfig, повторно отдаются в Decode
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(tr, &head))
	if err != nil {
		return decodeError(tr, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxCoverPixels {
		return fmt.Errorf("%w: размер %dx%d", ErrUnsupportedFormat, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(io.MultiReader(&head, tr))
	if err != nil {
		return decodeError(tr, err)
	}

	out := image.NewRGBA(image.Rect(0, 0, ThumbnailSize, ThumbnailSize))
	draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)

	if err := jpeg.Encode(dst, out, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		return fmt.Errorf("ошибка кодирования обложки (%s): %w", format, err)
	}
	return nil
}

func decodeError(tr *readTracker, err error) error {
	if tr.err != nil {
		return fmt.Errorf("ошибка чтения обложки: %w", tr.err)
	}
	return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
}

// readTracker запоминает первую ошибку чтения, кроме io.EOF.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
