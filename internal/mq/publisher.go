package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeProcessPending MessageType = "process.pending"
	MessageTypeProcessWake    MessageType = "process.wake"
	MessageTypeProcessStatus  MessageType = "process.status"
)

// WakeReason — причина пробуждения процесса.
type WakeReason string

// Причины пробуждения.
const (
	WakeResume   WakeReason = "resume"
	WakeCallback WakeReason = "callback"
	WakeRetry    WakeReason = "retry"
	WakeUnpause  WakeReason = "unpause"
	WakeLease    WakeReason = "lease_expired"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// ProcessPendingPayload — payload для сообщения о новом процессе.
type ProcessPendingPayload struct {
	ProcessID uuid.UUID `json:"process_id"`
}

// ProcessWakePayload — payload для пробуждения процесса.
type ProcessWakePayload struct {
	ProcessID uuid.UUID  `json:"process_id"`
	Reason    WakeReason `json:"reason"`
}

// ProcessStatusPayload — payload уведомления о смене статуса процесса.
type ProcessStatusPayload struct {
	ProcessID uuid.UUID  `json:"process_id"`
	Workflow  string     `json:"workflow"`
	SubjectID *uuid.UUID `json:"subject_id,omitempty"`
	Status    string     `json:"status"`
	StepIndex int        `json:"step_index"`
	Error     string     `json:"error,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishProcessPending публикует событие о новом процессе,
// ожидающем выполнения. Потребитель: Engine.
func (p *Publisher) PublishProcessPending(ctx context.Context, processID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeProcessPending,
		Payload:   ProcessPendingPayload{ProcessID: processID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeProcesses, RoutingKeyPending, msg)
}

// PublishProcessWake публикует пробуждение приостановленного процесса.
// Потребитель: Engine.
func (p *Publisher) PublishProcessWake(ctx context.Context, processID uuid.UUID, reason WakeReason) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeProcessWake,
		Payload:   ProcessWakePayload{ProcessID: processID, Reason: reason},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeProcesses, RoutingKeyWake, msg)
}

// PublishProcessStatus публикует уведомление о смене статуса процесса
// в topic exchange для внешних подписчиков.
//
// Fire-and-forget: ошибка публикации логируется, но не влияет на
// выполнение процесса.
func (p *Publisher) PublishProcessStatus(ctx context.Context, payload ProcessStatusPayload) {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeProcessStatus,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	key := RoutingKey("process.status." + payload.Status)
	if err := p.Publish(ctx, ExchangeEvents, key, msg); err != nil {
		p.logger.Warn("failed to publish status event",
			"process_id", payload.ProcessID,
			"status", payload.Status,
			"error", err,
		)
	}
}
