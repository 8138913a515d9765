package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const ExchangeType = "topic"

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes notifications and alerts to a topic exchange.
// Routing keys: transfer.<status> and alert.transfer_failed.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       Channel
	exchange string
}

func NewAMQPPublisher(ch Channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange}
}

func (p *AMQPPublisher) SendTransferStatus(ctx context.Context, n Notification) error {
	return p.publish(ctx, "transfer."+strings.ToLower(string(n.Status)), n.TransferID, n)
}

func (p *AMQPPublisher) TransferFailed(ctx context.Context, a Alert) error {
	return p.publish(ctx, "alert.transfer_failed", a.TransferID, a)
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not marshal %s: %w", routingKey, err)
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Dial connects to the broker, retrying while it starts up, and declares
// the exchange.
func Dial(url, exchange string, logger *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("amqp dial failed", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, ExchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}
	return conn, ch, nil
}
