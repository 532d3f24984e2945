// Package broker publishes booking events to a RabbitMQ exchange.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// channel is the part of *amqp.Channel the broker uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type dialFunc func(url string) (*amqp.Connection, channel, error)

type Broker struct {
	mu           sync.Mutex
	conn         *amqp.Connection
	channel      channel
	exchange     string
	exchangeType string
	url          string
	timeout      time.Duration
	dial         dialFunc
	logger       *zap.Logger
}

func dialAMQP(url string) (*amqp.Connection, channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to RabbitMQ")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "open channel")
	}
	return conn, ch, nil
}

// NewBroker connects and declares a durable exchange of exchangeType.
func NewBroker(rabbitMQURL, exchange, exchangeType string, logger *zap.Logger) (*Broker, error) {
	return newBroker(rabbitMQURL, exchange, exchangeType, logger, dialAMQP)
}

func newBroker(url, exchange, exchangeType string, logger *zap.Logger, dial dialFunc) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{
		exchange:     exchange,
		exchangeType: exchangeType,
		url:          url,
		timeout:      5 * time.Second,
		dial:         dial,
		logger:       logger.Named("broker"),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureConnection(); err != nil {
		return nil, err
	}
	return b, nil
}

// ensureConnection reconnects and redeclares the exchange when the channel
// is gone. Callers hold b.mu.
func (b *Broker) ensureConnection() error {
	if b.channel != nil && !b.channel.IsClosed() && (b.conn == nil || !b.conn.IsClosed()) {
		return nil
	}
	b.closeLocked()

	conn, ch, err := b.dial(b.url)
	if err != nil {
		b.logger.Warn("failed to connect to RabbitMQ", zap.Error(err))
		return err
	}

	if b.exchange != "" {
		err = ch.ExchangeDeclare(
			b.exchange,
			b.exchangeType,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			ch.Close()
			if conn != nil {
				conn.Close()
			}
			return errors.Wrapf(err, "declare exchange %s", b.exchange)
		}
	}

	b.conn = conn
	b.channel = ch
	b.logger.Info("connected to RabbitMQ", zap.String("exchange", b.exchange))
	return nil
}

// Publish sends message as JSON with routing key key.
func (b *Broker) Publish(message interface{}, key string) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureConnection(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	err = b.channel.PublishWithContext(ctx,
		b.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "publish %s", key)
	}

	b.logger.Debug("published message", zap.String("routing_key", key), zap.ByteString("body", body))
	return nil
}

func (b *Broker) closeLocked() error {
	var firstErr error
	if b.channel != nil {
		if err := b.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			firstErr = err
		}
		b.channel = nil
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) && firstErr == nil {
			firstErr = err
		}
		b.conn = nil
	}
	return firstErr
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.closeLocked(); err != nil {
		b.logger.Warn("failed to close RabbitMQ connection", zap.Error(err))
		return err
	}
	return nil
}
