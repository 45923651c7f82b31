package repository

import (
	"context"
	"encoding/json"
	"time"

	"trackus_chat/internal/chat/domain"
	"trackus_chat/pkg/database"

	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
)

// PushDispatcher hands a prepared payload to the push-notification collaborator
type PushDispatcher interface {
	Dispatch(ctx context.Context, req domain.PushRequest) error
}

// NoopDispatcher push disabled
type NoopDispatcher struct{}

// Dispatch drop the request
func (NoopDispatcher) Dispatch(context.Context, domain.PushRequest) error { return nil }

// RabbitDispatcher publish push requests to a durable queue
type RabbitDispatcher struct {
	repo  database.RabbitRepo
	queue string
}

// NewRabbitDispatcher declare queue and create RabbitDispatcher
func NewRabbitDispatcher(repo database.RabbitRepo, queue string) (*RabbitDispatcher, error) {
	if err := repo.DeclareQueue(queue); err != nil {
		return nil, err
	}
	return &RabbitDispatcher{repo: repo, queue: queue}, nil
}

// Dispatch publish request as persistent json message
func (d *RabbitDispatcher) Dispatch(_ context.Context, req domain.PushRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return d.repo.Publish("", d.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// KafkaMessageWriter the subset of *kafka.Writer used
type KafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaDispatcher write push requests to a topic, keyed by room so a room stays ordered
type KafkaDispatcher struct {
	writer KafkaMessageWriter
}

// NewKafkaDispatcher create KafkaDispatcher
func NewKafkaDispatcher(writer KafkaMessageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{writer: writer}
}

// Dispatch write request
func (d *KafkaDispatcher) Dispatch(ctx context.Context, req domain.PushRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.RoomID),
		Value: body,
	})
}
