// Package events publishes transfer notifications to RabbitMQ. Publishing
// happens after commit and is best-effort: the transaction log, not the
// broker, is the source of truth.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/skillsbank/transaction-service/internal/domain"
)

// RabbitMQPublisher implements domain.EventPublisher on a topic exchange.
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewRabbitMQPublisher connects to RabbitMQ and declares the exchange.
func NewRabbitMQPublisher(url, exchange, routingKey string) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &RabbitMQPublisher{
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

type transferCompletedEvent struct {
	EventType     string `json:"eventType"`
	TransactionID string `json:"transactionId"`
	FromAccountID string `json:"fromAccountId"`
	ToAccountID   string `json:"toAccountId"`
	Amount        string `json:"amount"`
	OccurredAt    string `json:"occurredAt"`
}

// PublishTransferCompleted emits one transfer.completed event for a committed
// transaction record.
func (p *RabbitMQPublisher) PublishTransferCompleted(ctx context.Context, record *domain.TransactionRecord) error {
	event := transferCompletedEvent{
		EventType:     "transfer.completed",
		TransactionID: record.ID.String(),
		FromAccountID: record.FromAccountID.String(),
		ToAccountID:   record.ToAccountID.String(),
		Amount:        record.Amount.StringFixed(2),
		OccurredAt:    record.CreatedAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close releases the channel and connection.
func (p *RabbitMQPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	return p.conn.Close()
}

var _ domain.EventPublisher = (*RabbitMQPublisher)(nil)
