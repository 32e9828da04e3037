// Пакет notify — публикация событий о новых версиях карт.
//
// Emitter принимает события без блокировки загрузки: очередь ограничена,
// при переполнении событие отбрасывается. Доставка — best effort,
// одна фоновая горутина передаёт события в Publisher.
package notify

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventVersionUploaded — тип события о загруженной версии.
const EventVersionUploaded = "map.version.uploaded"

// publishTimeout — таймаут публикации одного события.
const publishTimeout = 5 * time.Second

// notificationsTotal — исход публикации: published, failed, dropped.
var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "im_notifications_total",
	Help: "Общее количество событий по бэкенду и результату",
}, []string{"backend", "result"})

// Event — событие для внешних подписчиков (поиск, кэши).
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	MapID      int64     `json:"map_id"`
	Hash       string    `json:"hash"`
	OccurredAt time.Time `json:"occurred_at"`
}

// VersionUploaded создаёт событие о новой версии карты.
func VersionUploaded(source string, mapID int64, hash string, at time.Time) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       EventVersionUploaded,
		Source:     source,
		MapID:      mapID,
		Hash:       hash,
		OccurredAt: at.UTC(),
	}
}

// Key — ключ партиционирования: события одной карты идут по порядку.
func (e Event) Key() string {
	return strconv.FormatInt(e.MapID, 10)
}

// Marshal сериализует событие в JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher доставляет событие во внешнюю систему.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	// Name — имя бэкенда для метрик и логов
	Name() string
	Close() error
}

// Emitter — асинхронная очередь событий поверх Publisher.
type Emitter struct {
	pub    Publisher
	queue  chan Event
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewEmitter создаёт Emitter с очередью ёмкостью buffer.
func NewEmitter(pub Publisher, buffer int, logger *slog.Logger) *Emitter {
	return &Emitter{
		pub:    pub,
		queue:  make(chan Event, buffer),
		logger: logger.With(slog.String("component", "notify"), slog.String("backend", pub.Name())),
		done:   make(chan struct{}),
	}
}

// Start запускает фоновую горутину публикации.
func (e *Emitter) Start() {
	go e.run()
	e.logger.Info("Публикация событий запущена", slog.Int("buffer", cap(e.queue)))
}

// Emit ставит событие в очередь. Не блокируется: при полной очереди
// или после Stop событие отбрасывается и возвращается false.
func (e *Emitter) Emit(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		notificationsTotal.WithLabelValues(e.pub.Name(), "dropped").Inc()
		return false
	}
	select {
	case e.queue <- ev:
		return true
	default:
		notificationsTotal.WithLabelValues(e.pub.Name(), "dropped").Inc()
		e.logger.Warn("Очередь событий переполнена, событие отброшено",
			slog.Int64("map_id", ev.MapID),
			slog.String("hash", ev.Hash),
		)
		return false
	}
}

// Stop закрывает очередь, дожидается отправки оставшихся событий
// (не дольше ctx) и закрывает Publisher.
func (e *Emitter) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		e.logger.Warn("Не все события отправлены до остановки", slog.Int("pending", len(e.queue)))
	}

	if err := e.pub.Close(); err != nil {
		e.logger.Error("Ошибка закрытия публикатора", slog.String("error", err.Error()))
	}
	e.logger.Info("Публикация событий остановлена")
}

func (e *Emitter) run() {
	defer close(e.done)

	for ev := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := e.pub.Publish(ctx, ev)
		cancel()

		if err != nil {
			notificationsTotal.WithLabelValues(e.pub.Name(), "failed").Inc()
			e.logger.Error("Ошибка публикации события",
				slog.String("event_id", ev.ID),
				slog.Int64("map_id", ev.MapID),
				slog.String("error", err.Error()),
			)
			continue
		}
		notificationsTotal.WithLabelValues(e.pub.Name(), "published").Inc()
		e.logger.Debug("Событие опубликовано",
			slog.String("event_id", ev.ID),
			slog.Int64("map_id", ev.MapID),
		)
	}
}
