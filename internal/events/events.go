// Package events publishes chat lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"streamchat/internal/config"
	"streamchat/internal/models"
)

const (
	RoutingMessageCreated = "chat.message.created"
	RoutingChatDeleted    = "chat.deleted"

	defaultExchange = "streamchat.events"
	publishTimeout  = 5 * time.Second
)

// Publisher receives lifecycle notifications. Delivery is best effort.
type Publisher interface {
	MessageCreated(ctx context.Context, msg *models.Message)
	ChatDeleted(ctx context.Context, chat *models.Chat)
	Close() error
}

type MessageCreatedEvent struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatDeletedEvent struct {
	ChatID string `json:"chat_id"`
	UserID int64  `json:"user_id"`
}

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) MessageCreated(context.Context, *models.Message) {}
func (Nop) ChatDeleted(context.Context, *models.Chat)       {}
func (Nop) Close() error                                    { return nil }

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	log      *zap.Logger
}

// New connects to the broker in cfg, or returns Nop when none is configured.
func New(cfg config.AMQPConfig, log *zap.Logger) (Publisher, error) {
	if cfg.URL == "" {
		return Nop{}, nil
	}
	p, err := Dial(cfg.URL, cfg.Exchange, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func Dial(url, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = defaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := newPublisher(ch, exchange, log)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, log *zap.Logger) *AMQPPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, log: log.Named("events")}
}

func (p *AMQPPublisher) MessageCreated(ctx context.Context, msg *models.Message) {
	if msg == nil {
		return
	}
	p.publish(ctx, RoutingMessageCreated, MessageCreatedEvent{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		Role:      string(msg.Role),
		CreatedAt: msg.CreatedAt,
	})
}

func (p *AMQPPublisher) ChatDeleted(ctx context.Context, chat *models.Chat) {
	if chat == nil {
		return
	}
	p.publish(ctx, RoutingChatDeleted, ChatDeletedEvent{ChatID: chat.ID, UserID: chat.UserID})
}

func (p *AMQPPublisher) publish(ctx context.Context, key string, event any) {
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Error("encode event", zap.String("routing_key", key), zap.Error(err))
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(cctx,
		p.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.log.Warn("publish event", zap.String("routing_key", key), zap.Error(err))
	}
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
