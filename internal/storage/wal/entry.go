// Пакет wal — файловый Write-Ahead Log попыток загрузки.
// Каждая попытка — отдельный файл {tx_id}.wal.json в IM_WAL_DIR.
// Запись перечисляет временные файлы и созданные попыткой артефакты,
// чтобы после аварийного рестарта их можно было удалить.
package wal

import (
	"time"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — попытка загрузки в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — версия записана в БД
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — попытка отменена, файлы удалены
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// UploaderID — владелец попытки
	UploaderID string `json:"uploader_id"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// Digest — хэш содержимого, известен после нормализации
	Digest string `json:"digest,omitempty"`

	// Scratch — временные файлы, удаляются всегда
	Scratch []string `json:"scratch,omitempty"`

	// Outputs — итоговые файлы, созданные этой попыткой.
	// Удаляются, если версия с Digest не закоммичена.
	Outputs []string `json:"outputs,omitempty"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + ".wal.json"
}
