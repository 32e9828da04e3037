package notify

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
)

// New создаёт Publisher по IM_NOTIFY_BACKEND.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Publisher, error) {
	switch cfg.NotifyBackend {
	case "redis":
		return NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisChannel)
	case "amqp":
		return NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "none", "":
		return NewLogPublisher(logger), nil
	}
	return nil, fmt.Errorf("неизвестный бэкенд событий %q", cfg.NotifyBackend)
}

// --- Redis pub/sub ---

// RedisPublisher публикует события в канал Redis.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher подключается к Redis и проверяет соединение.
func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis %s: %w", addr, err)
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// --- RabbitMQ ---

// AMQPPublisher публикует события в topic exchange с ключом маршрутизации
// равным типу события.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher подключается к брокеру и объявляет exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка открытия канала RabbitMQ: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка объявления exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish вызывается только из горутины Emitter: amqp.Channel
// не рассчитан на параллельную публикацию.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		AppId:        ev.Source,
		Body:         payload,
	})
}

func (p *AMQPPublisher) Name() string { return "amqp" }

func (p *AMQPPublisher) Close() error {
	p.ch.Close()
	return p.conn.Close()
}

// --- Kafka ---

// KafkaPublisher пишет события в топик, ключ сообщения — id карты.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher создаёт writer. Соединение устанавливается при первой записи.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Key()),
		Value: payload,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// --- Только лог ---

// LogPublisher пишет события в лог (IM_NOTIFY_BACKEND=none).
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With(slog.String("component", "events"))}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info("Событие",
		slog.String("type", ev.Type),
		slog.String("event_id", ev.ID),
		slog.Int64("map_id", ev.MapID),
		slog.String("hash", ev.Hash),
	)
	return nil
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Close() error { return nil }
