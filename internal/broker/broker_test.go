package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comsy.local/booking-service/internal/brokermsg"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

// fakeChannel records publishes in place of an AMQP channel.
type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []published
	closed     bool
	publishErr error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestBroker(t *testing.T) (*Broker, *[]*fakeChannel) {
	t.Helper()
	var channels []*fakeChannel
	b, err := newBroker("amqp://test", "comsy", "topic", nil, func(string) (*amqp.Connection, channel, error) {
		ch := &fakeChannel{}
		channels = append(channels, ch)
		return nil, ch, nil
	})
	require.NoError(t, err)
	return b, &channels
}

func TestNewBrokerDeclaresExchange(t *testing.T) {
	_, channels := newTestBroker(t)
	require.Len(t, *channels, 1)
	assert.Equal(t, []string{"comsy:topic"}, (*channels)[0].declared)
}

func TestPublish(t *testing.T) {
	b, channels := newTestBroker(t)

	msg := brokermsg.BookingMessage{BookingID: "b-1", ComputerID: "pc-1", Status: "upcoming"}
	require.NoError(t, b.Publish(msg, brokermsg.TopicBookingCreated))

	ch := (*channels)[0]
	require.Len(t, ch.published, 1)
	p := ch.published[0]
	assert.Equal(t, "comsy", p.exchange)
	assert.Equal(t, brokermsg.TopicBookingCreated, p.key)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.NotEmpty(t, p.msg.MessageId)

	var got brokermsg.BookingMessage
	require.NoError(t, json.Unmarshal(p.msg.Body, &got))
	assert.Equal(t, msg, got)
}

func TestPublishReconnectsAfterChannelClosed(t *testing.T) {
	b, channels := newTestBroker(t)
	require.NoError(t, (*channels)[0].Close())

	require.NoError(t, b.Publish(brokermsg.ComputerStatusChangedMessage{ComputerID: "pc-1"}, brokermsg.TopicComputerStatusChanged))

	require.Len(t, *channels, 2)
	assert.Len(t, (*channels)[1].published, 1)
}

func TestPublishSurfacesErrors(t *testing.T) {
	b, channels := newTestBroker(t)
	(*channels)[0].publishErr = errors.New("channel flow paused")

	err := b.Publish(brokermsg.BookingMessage{}, brokermsg.TopicBookingCancelled)
	assert.Error(t, err)

	err = b.Publish(make(chan int), brokermsg.TopicBookingCancelled)
	assert.Error(t, err, "unmarshalable message")
}

func TestConnectFailure(t *testing.T) {
	_, err := newBroker("amqp://test", "comsy", "topic", nil, func(string) (*amqp.Connection, channel, error) {
		return nil, nil, errors.New("connection refused")
	})
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	b, channels := newTestBroker(t)

	assert.NoError(t, b.Close())
	assert.True(t, (*channels)[0].closed)
	// Closing twice is harmless.
	assert.NoError(t, b.Close())
}
