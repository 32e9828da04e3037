// Пакет uploaderr — закрытое множество ошибок конвейера загрузки карт.
// Каждая ошибка конвейера — *Error с одним из значений Kind.
// Вызывающий код обязан обработать каждый Kind (см. api/errors.UploadStatus).
package uploaderr

import (
	"errors"
	"fmt"
)

// Kind — вид ошибки конвейера загрузки.
type Kind int

const (
	// KindSizeExceeded — архив превышает лимит размера.
	KindSizeExceeded Kind = iota + 1
	// KindDisguisedArchive — архив другого формата (RAR, 7z, …) с расширением .zip.
	KindDisguisedArchive
	// KindCorruptArchive — zip не читается или содержит небезопасные пути.
	KindCorruptArchive
	// KindUnsupportedImage — обложка в неподдерживаемом формате.
	KindUnsupportedImage
	// KindDescriptorParse — Info.dat отсутствует или не разбирается.
	KindDescriptorParse
	// KindDescriptorValidation — Info.dat не прошёл валидацию (может содержать несколько записей).
	KindDescriptorValidation
	// KindDuplicateContent — версия с таким хэшем уже загружена.
	KindDuplicateContent
	// KindOwnershipMismatch — карта принадлежит другому пользователю.
	KindOwnershipMismatch
	// KindWIPQuotaExceeded — превышен лимит неопубликованных версий.
	KindWIPQuotaExceeded
	// KindRevisionTooSoon — слишком частые версии одной карты.
	KindRevisionTooSoon
	// KindMapNotFound — целевая карта не найдена.
	KindMapNotFound
	// KindInternal — непредвиденная ошибка конвейера.
	KindInternal
)

// Kinds — все значения Kind, используется в тестах на полноту обработки.
var Kinds = []Kind{
	KindSizeExceeded,
	KindDisguisedArchive,
	KindCorruptArchive,
	KindUnsupportedImage,
	KindDescriptorParse,
	KindDescriptorValidation,
	KindDuplicateContent,
	KindOwnershipMismatch,
	KindWIPQuotaExceeded,
	KindRevisionTooSoon,
	KindMapNotFound,
	KindInternal,
}

func (k Kind) String() string {
	switch k {
	case KindSizeExceeded:
		return "size_exceeded"
	case KindDisguisedArchive:
		return "disguised_archive"
	case KindCorruptArchive:
		return "corrupt_archive"
	case KindUnsupportedImage:
		return "unsupported_image"
	case KindDescriptorParse:
		return "descriptor_parse"
	case KindDescriptorValidation:
		return "descriptor_validation"
	case KindDuplicateContent:
		return "duplicate_content"
	case KindOwnershipMismatch:
		return "ownership_mismatch"
	case KindWIPQuotaExceeded:
		return "wip_quota_exceeded"
	case KindRevisionTooSoon:
		return "revision_too_soon"
	case KindMapNotFound:
		return "map_not_found"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Violation — одна запись структурированного ответа об ошибке.
// PropertyPath пустой для ошибок уровня конвейера.
type Violation struct {
	PropertyPath []string `json:"propertyPath"`
	Message      string   `json:"message"`
}

// Error — ошибка конвейера загрузки.
type Error struct {
	Kind    Kind
	Message string
	// Violations — только для KindDescriptorValidation.
	Violations []Violation
	// HoursRemaining — только для KindRevisionTooSoon.
	HoursRemaining int
	// Err — исходная причина (для логов, клиенту не отдаётся).
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Entries возвращает записи для ответа клиенту.
// Для всех видов, кроме KindDescriptorValidation, — ровно одна запись.
func (e *Error) Entries() []Violation {
	if e.Kind == KindDescriptorValidation && len(e.Violations) > 0 {
		out := make([]Violation, len(e.Violations))
		copy(out, e.Violations)
		return out
	}
	return []Violation{{PropertyPath: []string{}, Message: e.Message}}
}

// As извлекает *Error из цепочки ошибок.
func As(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsKind проверяет вид ошибки.
func IsKind(err error, k Kind) bool {
	ue, ok := As(err)
	return ok && ue.Kind == k
}

// --- Конструкторы ---

func SizeExceeded(message string) *Error {
	return &Error{Kind: KindSizeExceeded, Message: message}
}

func DisguisedArchive(format string) *Error {
	return &Error{
		Kind:    KindDisguisedArchive,
		Message: fmt.Sprintf("Файл является архивом %s, а не zip", format),
	}
}

func CorruptArchive(cause error) *Error {
	return &Error{Kind: KindCorruptArchive, Message: "Некорректный zip-архив", Err: cause}
}

func UnsupportedImage(cause error) *Error {
	return &Error{Kind: KindUnsupportedImage, Message: "Неподдерживаемый формат обложки", Err: cause}
}

func DescriptorParse(message string, cause error) *Error {
	return &Error{Kind: KindDescriptorParse, Message: message, Err: cause}
}

// Validation оборачивает список нарушений без изменений.
func Validation(violations []Violation) *Error {
	return &Error{
		Kind:       KindDescriptorValidation,
		Message:    "Info.dat не прошёл проверку",
		Violations: violations,
	}
}

func DuplicateContent() *Error {
	return &Error{Kind: KindDuplicateContent, Message: "Эта карта уже загружена"}
}

func OwnershipMismatch() *Error {
	return &Error{Kind: KindOwnershipMismatch, Message: "Карта принадлежит другому пользователю"}
}

func WIPQuotaExceeded(tier string, limit int) *Error {
	return &Error{
		Kind:    KindWIPQuotaExceeded,
		Message: fmt.Sprintf("Для тарифа %s допускается не более %d неопубликованных версий", tier, limit),
	}
}

func RevisionTooSoon(hours int) *Error {
	return &Error{
		Kind:           KindRevisionTooSoon,
		Message:        fmt.Sprintf("Подождите ещё %d ч. перед загрузкой новой версии", hours),
		HoursRemaining: hours,
	}
}

func MapNotFound() *Error {
	return &Error{Kind: KindMapNotFound, Message: "Карта не найдена"}
}

// Internal — непредвиденная ошибка; клиент получает только общее сообщение.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "Внутренняя ошибка при обработке карты", Err: cause}
}
