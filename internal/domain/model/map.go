// Пакет model — доменные модели Ingest Module.
// Карта, версии, сложности, тариф загрузчика и метаданные загрузки.
package model

import "time"

// VersionState — состояние жизненного цикла версии.
// Ingest Module записывает только StateUploaded, остальные переходы
// выполняет отдельный процесс публикации.
type VersionState string

const (
	StateUploaded  VersionState = "uploaded"
	StateTestplay  VersionState = "testplay"
	StateScheduled VersionState = "scheduled"
	StatePublished VersionState = "published"
)

// AIDeclaration — классификация карты по признаку автогенерации.
type AIDeclaration string

const (
	// AINone — карта не помечена как сгенерированная.
	AINone AIDeclaration = "none"
	// AIUploader — загрузчик сам указал, что карта сгенерирована.
	AIUploader AIDeclaration = "uploader"
	// AISage — эвристика SAGE распознала автогенерацию.
	AISage AIDeclaration = "sage"
)

// MapRecord — логическая карта. Создаётся с первой версией,
// при следующих версиях обновляется только UpdatedAt.
type MapRecord struct {
	ID int64
	// UploaderID — sub пользователя, загрузившего карту (не пустой)
	UploaderID  string
	Name        string
	Description string
	Tags        []string
	DeclaredAI  AIDeclaration
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// VersionRecord — неизменяемая версия карты. Hash уникален глобально.
type VersionRecord struct {
	ID              int64
	MapID           int64
	Hash            string
	State           VersionState
	BPM             float64
	Duration        int
	SongName        string
	SongSubName     string
	SongAuthorName  string
	LevelAuthorName string
	SageScore       int
	ZipSize         int64
	UploadedAt      time.Time
}

// DifficultyRecord — одна сложность версии (characteristic + difficulty).
type DifficultyRecord struct {
	ID             int64
	VersionID      int64
	Characteristic string
	Difficulty     string
	Notes          int
	Bombs          int
	Obstacles      int
	Events         int
	NJS            float64
	Offset         float64
	NPS            float64
	// Length — длина в битах
	Length float64
	// Seconds — длина в секундах
	Seconds           float64
	Chroma            bool
	NoodleExtensions  bool
	MappingExtensions bool
	Cinema            bool
}

// Tier — квоты загрузчика. Только чтение, источник — биллинг.
type Tier struct {
	Name string
	// BasicSizeLimit — базовый лимит размера архива в байтах
	BasicSizeLimit int64
	// BundleSizeLimit — дополнительный лимит на каждый тип бандла в байтах
	BundleSizeLimit int64
	// WIPLimit — максимум неопубликованных версий
	WIPLimit int
}

// UploadMeta — поля формы загрузки.
type UploadMeta struct {
	Title       string
	Description string
	// Tags — slug'и тегов как пришли из формы (через запятую)
	Tags       []string
	DeclaredAI bool
	// TargetMapID — nil для новой карты
	TargetMapID *int64
}
