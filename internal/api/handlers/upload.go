// upload.go — обработчик POST /api/v1/maps/upload.
//
// Тело читается потоком через MultipartReader: поля формы (title,
// description, tags, ai, mapId) должны идти до части file. Часть file
// передаётся конвейеру без буферизации в памяти; поля после неё
// не читаются.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/uploaderr"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
)

// maxFieldSize — предел одного текстового поля формы.
const maxFieldSize = 64 << 10

// Uploader — конвейер загрузки карты.
type Uploader interface {
	Upload(ctx context.Context, req service.UploadRequest) (*service.UploadResult, error)
}

// UploadHandler — обработчик загрузки карт.
type UploadHandler struct {
	uploader Uploader
	logger   *slog.Logger
}

// NewUploadHandler создаёт обработчик загрузки.
func NewUploadHandler(uploader Uploader, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		uploader: uploader,
		logger:   logger.With(slog.String("component", "upload_handler")),
	}
}

// uploadResponse — тело ответа 201.
type uploadResponse struct {
	MapID int64  `json:"map_id"`
	Hash  string `json:"hash"`
}

// errBadForm — ошибка разбора формы, сообщение отдаётся клиенту.
type errBadForm struct{ msg string }

func (e *errBadForm) Error() string { return e.msg }

func badForm(format string, args ...any) error {
	return &errBadForm{msg: fmt.Sprintf(format, args...)}
}

// UploadMap обрабатывает POST /api/v1/maps/upload.
func (h *UploadHandler) UploadMap(w http.ResponseWriter, r *http.Request) {
	uploaderID := middleware.SubjectFromContext(r.Context())
	if uploaderID == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.UnsupportedMediaType(w, "Ожидается multipart/form-data")
		return
	}

	meta, file, err := readForm(mr)
	if err != nil {
		var bf *errBadForm
		if errors.As(err, &bf) {
			apierrors.ValidationError(w, bf.msg)
			return
		}
		h.logger.Warn("Ошибка чтения формы загрузки", slog.String("error", err.Error()))
		apierrors.ValidationError(w, "Некорректное тело multipart")
		return
	}
	defer file.Close()

	result, err := h.uploader.Upload(r.Context(), service.UploadRequest{
		UploaderID: uploaderID,
		Meta:       meta,
		Body:       file,
	})
	if err != nil {
		ue, ok := uploaderr.As(err)
		if !ok {
			ue = uploaderr.Internal(err)
		}
		middleware.AddLogAttrs(r.Context(), slog.String("error_kind", ue.Kind.String()))
		apierrors.WriteUploadError(w, ue)
		return
	}
	middleware.AddLogAttrs(r.Context(),
		slog.Int64("map_id", result.MapID),
		slog.String("hash", result.Hash),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(uploadResponse{MapID: result.MapID, Hash: result.Hash})
}

// readForm читает поля до части file и возвращает её непрочитанной.
func readForm(mr *multipart.Reader) (model.UploadMeta, *multipart.Part, error) {
	var meta model.UploadMeta
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return meta, nil, badForm("Отсутствует файл карты (поле file)")
		}
		if err != nil {
			return meta, nil, err
		}

		name := part.FormName()
		if name == "file" {
			return meta, part, nil
		}

		value, err := readField(part)
		part.Close()
		if err != nil {
			return meta, nil, err
		}

		switch name {
		case "title":
			meta.Title = value
		case "description":
			meta.Description = value
		case "tags":
			meta.Tags = service.ParseTags(value)
		case "ai":
			meta.DeclaredAI = parseCheckbox(value)
		case "mapId":
			if value == "" {
				continue
			}
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil || id <= 0 {
				return meta, nil, badForm("mapId должен быть положительным целым числом, получено %q", value)
			}
			meta.TargetMapID = &id
		}
	}
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldSize {
		return "", badForm("Поле %s длиннее %d байт", part.FormName(), maxFieldSize)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseCheckbox — значение HTML-флажка формы.
func parseCheckbox(v string) bool {
	switch strings.ToLower(v) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}
