package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	kinds      []string
	durable    bool
	declareErr error
	publishErr error
	published  []published
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.declared = append(f.declared, name)
	f.kinds = append(f.kinds, kind)
	f.durable = durable
	return f.declareErr
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

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestNewAMQPPublisherDeclaresTopicExchange(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"docsign.events"}, ch.declared)
	assert.Equal(t, []string{amqp.ExchangeTopic}, ch.kinds)
	assert.True(t, ch.durable)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestNewAMQPPublisherDeclareError(t *testing.T) {
	_, err := newAMQPPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "docs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declare exchange docs")
}

func TestAMQPPublisherPublish(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "docs")
	require.NoError(t, err)

	page := 2
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err = p.Publish(context.Background(), Event{
		ID:         "evt-1",
		Type:       TypeDocumentSigned,
		DocumentID: "doc-1",
		OwnerID:    "user-1",
		Status:     "SIGNED",
		Page:       &page,
		At:         at,
	})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	assert.Equal(t, "docs", got.exchange)
	assert.Equal(t, TypeDocumentSigned, got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "evt-1", got.msg.MessageId)
	assert.Equal(t, at, got.msg.Timestamp)

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "doc-1", body["documentId"])
	assert.Equal(t, "user-1", body["userId"])
	assert.Equal(t, float64(2), body["page"])
}

func TestEmitFillsDefaultsAndSwallowsErrors(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "docs")
	require.NoError(t, err)

	Emit(context.Background(), p, Event{Type: TypeDocumentUploaded, DocumentID: "doc-9"})
	require.Len(t, ch.published, 1)
	assert.NotEmpty(t, ch.published[0].msg.MessageId)
	assert.False(t, ch.published[0].msg.Timestamp.IsZero())

	ch.publishErr = errors.New("channel closed")
	assert.NotPanics(t, func() {
		Emit(context.Background(), p, Event{Type: TypeDocumentDeleted, DocumentID: "doc-9"})
	})
	Emit(context.Background(), nil, Event{Type: TypeDocumentDeleted})
}

func TestLogPublisher(t *testing.T) {
	var p Publisher = LogPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: TypeDocumentDeleted}))
	assert.NoError(t, p.Close())
}

func TestDialAMQPRequiresURL(t *testing.T) {
	_, err := DialAMQP(" ", "docs")
	assert.Error(t, err)
}
