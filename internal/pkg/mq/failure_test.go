package mq

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/pkg/logger"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func TestFailureHandlerPublishesDeadLetter(t *testing.T) {
	w := &recordingWriter{}
	h := NewFailureHandler(w)

	msg := kafka.Message{
		Topic:     "payment.succeeded",
		Partition: 2,
		Offset:    41,
		Key:       []byte("order-1"),
		Value:     []byte(`{"orderId":"order-1"}`),
		Headers:   []kafka.Header{{Key: "traceparent", Value: []byte("x")}},
	}
	h.Handle(context.Background(), msg, errors.New("order not found"))

	require.Len(t, w.msgs, 1)
	dl := w.msgs[0]
	assert.Equal(t, "payment.succeeded.dlt", dl.Topic)
	assert.Equal(t, msg.Value, dl.Value)

	carrier := KafkaHeaderCarrier(dl.Headers)
	assert.Equal(t, "payment.succeeded", carrier.Get(HeaderOriginalTopic))
	assert.Equal(t, "2", carrier.Get(HeaderOriginalPartition))
	assert.Equal(t, "41", carrier.Get(HeaderOriginalOffset))
	assert.Equal(t, "order not found", carrier.Get(HeaderExceptionMessage))
	assert.Equal(t, "x", carrier.Get("traceparent"))
}

func TestFailureHandlerLogsWriteError(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "order-service", "info")
	t.Cleanup(func() { logger.Init("order-service", "info") })

	w := &recordingWriter{err: errors.New("broker down")}
	h := NewFailureHandler(w)

	assert.NotPanics(t, func() {
		h.Handle(context.Background(), kafka.Message{Topic: "payment.succeeded"}, errors.New("boom"))
	})
	out := buf.String()
	assert.Contains(t, out, "failed to publish dead letter")
	assert.Contains(t, out, "broker down")
	assert.Contains(t, out, "payment.succeeded.dlt")
}

func TestHeaderCarrierSetOverwrites(t *testing.T) {
	c := KafkaHeaderCarrier{}
	c.Set("a", "1")
	c.Set("a", "2")
	assert.Len(t, c, 1)
	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, []string{"a"}, c.Keys())
}
