package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tinyhome/api/funnel"
)

func TestNewMessage(t *testing.T) {
	ts := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	event := funnel.Event{
		EventID:   "evt-1",
		UserID:    "visitor-42",
		SessionID: "sess-1",
		Step:      "quote_requested",
		StepOrder: 8,
		Category:  funnel.CategoryIntent,
		Timestamp: ts,
		Metadata:  funnel.Metadata{"source": "google"},
	}

	msg, err := newMessage(event)
	require.NoError(t, err)

	assert.Equal(t, []byte("visitor-42"), msg.Key)
	assert.Equal(t, ts, msg.Time)
	assert.Equal(t, []kafka.Header{
		{Key: "step", Value: []byte("quote_requested")},
		{Key: "category", Value: []byte("intent")},
	}, msg.Headers)

	var decoded funnel.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "evt-1", decoded.EventID)
	assert.Equal(t, "google", decoded.Metadata["source"])
}

func TestNewMessage_BadMetadata(t *testing.T) {
	_, err := newMessage(funnel.Event{Metadata: funnel.Metadata{"bad": make(chan int)}})
	assert.Error(t, err)
}

func TestNew_WithoutBrokersIsNoop(t *testing.T) {
	p := New(nil, "funnel.events", zap.NewNop())

	assert.IsType(t, NoopPublisher{}, p)
	assert.NoError(t, p.PublishEvent(context.Background(), funnel.Event{}))
	assert.NoError(t, p.Close())
}

func TestNew_WithBrokers(t *testing.T) {
	p := New([]string{"localhost:9092"}, "funnel.events", zap.NewNop())

	kp, ok := p.(*KafkaPublisher)
	require.True(t, ok)
	assert.Equal(t, "funnel.events", kp.writer.Topic)
	assert.IsType(t, &kafka.Hash{}, kp.writer.Balancer)
	assert.NoError(t, kp.Close())
}
