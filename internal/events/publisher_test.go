package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprouter/internal/events"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewKafkaPublisherWithWriter(w, otelzap.New(zap.NewNop()))

	err := p.Publish(context.Background(), events.TopicRoutingDecisions, "ORD-1", map[string]any{"carrier": "discount"})

	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, events.TopicRoutingDecisions, msg.Topic)
	assert.Equal(t, "ORD-1", string(msg.Key))
	assert.JSONEq(t, `{"carrier":"discount"}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "application/json", string(msg.Headers[0].Value))
	assert.False(t, msg.Time.IsZero())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_Errors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := events.NewKafkaPublisherWithWriter(w, otelzap.New(zap.NewNop()))

	err := p.Publish(context.Background(), events.TopicTrackingEvents, "1Z", map[string]string{})
	assert.ErrorContains(t, err, "broker down")

	err = p.Publish(context.Background(), events.TopicTrackingEvents, "1Z", json.RawMessage(`{bad`))
	assert.ErrorContains(t, err, "encoding")
}

func TestNopPublisher(t *testing.T) {
	var p events.Publisher = events.NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), "t", "k", nil))
	assert.NoError(t, p.Close())
}
