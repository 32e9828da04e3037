// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrSerialization — транзакция SERIALIZABLE отклонена PostgreSQL (40001).
	// Повтор не выполняется, решение принимает вызывающий код.
	ErrSerialization = errors.New("конфликт сериализации транзакции")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repos — набор репозиториев поверх одного DBTX.
type Repos struct {
	Maps         MapRepository
	Versions     VersionRepository
	Difficulties DifficultyRepository
	Tiers        TierRepository
}

// NewRepos создаёт репозитории поверх пула или транзакции.
func NewRepos(db DBTX) Repos {
	return Repos{
		Maps:         NewMapRepository(db),
		Versions:     NewVersionRepository(db),
		Difficulties: NewDifficultyRepository(db),
		Tiers:        NewTierRepository(db),
	}
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// Repos возвращает репозитории вне транзакции.
func (r *TxRunner) Repos() Repos {
	return NewRepos(r.pool)
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.run(ctx, pgx.TxOptions{}, fn)
}

// RunSerializable выполняет fn в транзакции SERIALIZABLE.
// Ошибка fn возвращается без изменений. Отказ сериализации
// (в запросе или при коммите) превращается в ErrSerialization.
func (r *TxRunner) RunSerializable(ctx context.Context, fn func(repos Repos) error) error {
	err := r.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(NewRepos(tx))
	})
	if isSerializationFailure(err) && !errors.Is(err, ErrSerialization) {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return err
}

func (r *TxRunner) run(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isSerializationFailure — 40001 serialization_failure.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}
