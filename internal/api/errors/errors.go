// Пакет errors — ответы об ошибках в формате Artstore.
// Единый формат: {"error": {"code": "...", "message": "...", "violations": [...]}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или WriteUploadError.
package errors //nolint:revive // конфликт имени со stdlib, пакет импортируется как apierrors

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/uploaderr"
)

// Коды ошибок.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeDisguisedArchive  = "DISGUISED_ARCHIVE"
	CodeCorruptArchive    = "CORRUPT_ARCHIVE"
	CodeUnsupportedImage  = "UNSUPPORTED_IMAGE"
	CodeDescriptorParse   = "DESCRIPTOR_PARSE_ERROR"
	CodeDescriptorInvalid = "DESCRIPTOR_INVALID"
	CodeDuplicateContent  = "DUPLICATE_CONTENT"
	CodeOwnershipMismatch = "OWNERSHIP_MISMATCH"
	CodeWIPQuotaExceeded  = "WIP_QUOTA_EXCEEDED"
	CodeRevisionTooSoon   = "REVISION_TOO_SOON"
	CodeMapNotFound       = "MAP_NOT_FOUND"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeUnsupportedMedia  = "UNSUPPORTED_MEDIA_TYPE"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки. Violations заполняется только для
// ошибок загрузки карты.
type errorDetail struct {
	Code       string                `json:"code"`
	Message    string                `json:"message"`
	Violations []uploaderr.Violation `json:"violations,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате Artstore.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteUploadError записывает ошибку конвейера загрузки со списком записей.
// Для RevisionTooSoon добавляется заголовок Retry-After.
func WriteUploadError(w http.ResponseWriter, ue *uploaderr.Error) {
	status, code := UploadStatus(ue.Kind)
	if ue.Kind == uploaderr.KindRevisionTooSoon && ue.HoursRemaining > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ue.HoursRemaining*3600))
	}
	writeBody(w, status, errorBody{
		Error: errorDetail{
			Code:       code,
			Message:    ue.Message,
			Violations: ue.Entries(),
		},
	})
}

// UploadStatus сопоставляет вид ошибки конвейера HTTP-статусу и коду.
// Каждый Kind обязан иметь ветку; неизвестное значение — 500.
func UploadStatus(k uploaderr.Kind) (int, string) {
	switch k {
	case uploaderr.KindSizeExceeded:
		return http.StatusRequestEntityTooLarge, CodeFileTooLarge
	case uploaderr.KindDisguisedArchive:
		return http.StatusUnsupportedMediaType, CodeDisguisedArchive
	case uploaderr.KindCorruptArchive:
		return http.StatusBadRequest, CodeCorruptArchive
	case uploaderr.KindUnsupportedImage:
		return http.StatusUnsupportedMediaType, CodeUnsupportedImage
	case uploaderr.KindDescriptorParse:
		return http.StatusBadRequest, CodeDescriptorParse
	case uploaderr.KindDescriptorValidation:
		return http.StatusBadRequest, CodeDescriptorInvalid
	case uploaderr.KindDuplicateContent:
		return http.StatusConflict, CodeDuplicateContent
	case uploaderr.KindOwnershipMismatch:
		return http.StatusForbidden, CodeOwnershipMismatch
	case uploaderr.KindWIPQuotaExceeded:
		return http.StatusForbidden, CodeWIPQuotaExceeded
	case uploaderr.KindRevisionTooSoon:
		return http.StatusTooManyRequests, CodeRevisionTooSoon
	case uploaderr.KindMapNotFound:
		return http.StatusNotFound, CodeMapNotFound
	case uploaderr.KindInternal:
		return http.StatusInternalServerError, CodeInternalError
	}
	return http.StatusInternalServerError, CodeInternalError
}

func writeBody(w http.ResponseWriter, statusCode int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// UnsupportedMediaType — 415 запрос не multipart/form-data.
func UnsupportedMediaType(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnsupportedMediaType, CodeUnsupportedMedia, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
