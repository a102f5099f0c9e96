package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
)

// RabbitUpdateQueue реализует входящий пуш-канал обновлений через RabbitMQ.
type RabbitUpdateQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

var _ domain.UpdateQueue = (*RabbitUpdateQueue)(nil)

// NewRabbitUpdateQueue подключается к RabbitMQ и объявляет durable-очередь.
func NewRabbitUpdateQueue(url, queue string) (*RabbitUpdateQueue, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url пуст")
	}
	if queue == "" {
		return nil, fmt.Errorf("имя очереди пусто")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("подключение к rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("объявление очереди: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("настройка qos: %w", err)
	}
	return &RabbitUpdateQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Publish публикует обновление в очередь.
func (q *RabbitUpdateQueue) Publish(ctx context.Context, upd domain.ChannelUpdate) error {
	payload, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

// Receive блокирующе читает обновление. Подтверждение — через AckFunc:
// успех снимает сообщение, неуспех возвращает его в очередь.
func (q *RabbitUpdateQueue) Receive(ctx context.Context) (domain.ChannelUpdate, domain.AckFunc, error) {
	if q.deliveries == nil {
		deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.ChannelUpdate{}, nil, fmt.Errorf("consume: %w", err)
		}
		q.deliveries = deliveries
	}

	select {
	case <-ctx.Done():
		return domain.ChannelUpdate{}, nil, ctx.Err()
	case delivery, ok := <-q.deliveries:
		if !ok {
			return domain.ChannelUpdate{}, nil, fmt.Errorf("канал доставки закрыт")
		}
		var upd domain.ChannelUpdate
		if err := json.Unmarshal(delivery.Body, &upd); err != nil {
			_ = delivery.Nack(false, false)
			return domain.ChannelUpdate{}, nil, fmt.Errorf("decode update: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return delivery.Ack(false)
			}
			return delivery.Nack(false, true)
		}
		return upd, ack, nil
	}
}

// Close закрывает канал и соединение.
func (q *RabbitUpdateQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
