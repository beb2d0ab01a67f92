// Package tests holds a broker-agnostic conformance suite for messaging
// adapters. Only the in-memory adapter's tests run it; the RabbitMQ and
// Kafka adapters are not exercised by it.
package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegeech-me/statustracker/pkg/messaging"
)

// RunBrokerTests exercises publish/consume round-tripping and health checks
// against any messaging.Broker implementation.
func RunBrokerTests(t *testing.T, broker messaging.Broker) {
	t.Helper()

	t.Run("PublishAndConsume", func(t *testing.T) {
		testPublishAndConsume(t, broker)
	})

	t.Run("PublishBatch", func(t *testing.T) {
		testPublishBatch(t, broker)
	})

	t.Run("Healthy", func(t *testing.T) {
		assert.True(t, broker.Healthy(context.Background()))
	})
}

func testPublishAndConsume(t *testing.T, broker messaging.Broker) {
	t.Helper()
	topicName := "conformance.publish-consume"

	consumer, err := broker.Consumer(topicName, "conformance-group")
	require.NoError(t, err)
	defer consumer.Close()

	producer, err := broker.Producer(topicName)
	require.NoError(t, err)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *messaging.Message, 1)
	go func() {
		_ = consumer.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
			received <- msg
			cancel()
			return nil
		})
	}()

	require.NoError(t, producer.Publish(context.Background(), &messaging.Message{
		Topic:   topicName,
		Payload: []byte("hello"),
		Headers: map[string]string{"x-test": "1"},
	}))

	select {
	case msg := <-received:
		assert.Equal(t, []byte("hello"), msg.Payload)
		assert.Equal(t, "1", msg.Headers["x-test"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func testPublishBatch(t *testing.T, broker messaging.Broker) {
	t.Helper()
	topicName := "conformance.publish-batch"

	consumer, err := broker.Consumer(topicName, "conformance-group")
	require.NoError(t, err)
	defer consumer.Close()

	producer, err := broker.Producer(topicName)
	require.NoError(t, err)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const want = 3
	var mu sync.Mutex
	got := 0
	done := make(chan struct{})

	go func() {
		_ = consumer.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
			mu.Lock()
			got++
			reached := got == want
			mu.Unlock()
			if reached {
				close(done)
			}
			return nil
		})
	}()

	msgs := make([]*messaging.Message, want)
	for i := range msgs {
		msgs[i] = &messaging.Message{Topic: topicName, Payload: []byte("batch")}
	}
	require.NoError(t, producer.PublishBatch(context.Background(), msgs))

	select {
	case <-done:
		mu.Lock()
		assert.Equal(t, want, got)
		mu.Unlock()
	case <-ctx.Done():
		t.Fatal("timed out waiting for batch")
	}
}
