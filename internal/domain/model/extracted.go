package model

// ExtractedInfo — результат нормализации и валидации архива.
// Принадлежит одному вызову конвейера и не разделяется между запросами.
type ExtractedInfo struct {
	// Digest — hex SHA-256 нормализованного содержимого
	Digest string
	// AllowedFiles — относительные пути (lower-case), оставленные в архиве
	AllowedFiles map[string]bool
	// Duration — длительность трека в секундах
	Duration float64
	// SageScore — эвристическая оценка автогенерации (<0 — подозрительно)
	SageScore int
	// CompressedSize — размер исходного архива в байтах
	CompressedSize int64
	// BundleBytes — размер бандлов по типам (сжатый)
	BundleBytes map[string]int64
	// ThumbnailPath — путь к сгенерированной обложке
	ThumbnailPath string
	// PreviewPath — путь к сгенерированному превью
	PreviewPath string
	// NormalizedPath — путь к переписанному архиву
	NormalizedPath string
	// NormalizedSize — размер переписанного архива в байтах
	NormalizedSize int64
}
