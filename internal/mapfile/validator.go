package mapfile

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/uploaderr"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/archive"
)

// Validator проверяет дескриптор относительно нормализованного архива.
// Нарушения возвращаются как Violations и передаются клиенту без изменений.
type Validator interface {
	Validate(ctx context.Context, in ValidationInput) (*Validated, error)
}

// ValidationInput — всё, что известно о загрузке к моменту проверки.
type ValidationInput struct {
	Archive      *archive.Archive
	Descriptor   *Descriptor
	AllowedFiles map[string]bool
	// Info — Duration уже заполнен по аудиофайлу
	Info *model.ExtractedInfo
	// AudioPath — извлечённый аудиофайл песни
	AudioPath string
	// PreviewAudioPath — отдельный аудиофайл превью ("" если его нет)
	PreviewAudioPath string
}

// Validated — проверенный дескриптор и производные метрики.
type Validated struct {
	Descriptor   *Descriptor
	Difficulties []model.DifficultyRecord
	SageScore    int
}

// Violations — структурированный список нарушений, реализует error.
type Violations []uploaderr.Violation

func (v Violations) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, strings.Join(e.PropertyPath, ".")+": "+e.Message)
	}
	return fmt.Sprintf("нарушений: %d (%s)", len(v), strings.Join(parts, "; "))
}

// add добавляет нарушение с путём из сегментов.
func (v *Violations) add(message string, path ...any) {
	segs := make([]string, 0, len(path))
	for _, p := range path {
		segs = append(segs, fmt.Sprint(p))
	}
	*v = append(*v, uploaderr.Violation{PropertyPath: segs, Message: message})
}
