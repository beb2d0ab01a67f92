package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/olegeech-me/statustracker/pkg/messaging"
)

type consumer struct {
	channel *amqp.Channel
	topic   string
}

// Consume registers a consumer on the queue and dispatches each delivery to
// handler. A nil return acks; an error nacks without requeue, since
// bounded retry on this system is modeled explicitly via the
// x-retry-count header and a republish, not via broker-level requeue.
func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.topic, "", false, false, false, false, nil)
	if err != nil {
		return messaging.ErrConsumeFailed(err)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}

			msg := toMessage(c.topic, delivery)
			if err := handler(ctx, msg); err != nil {
				_ = delivery.Nack(false, false)
				continue
			}
			_ = delivery.Ack(false)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *consumer) Close() error {
	if err := c.channel.Close(); err != nil {
		return messaging.ErrClosed(err)
	}
	return nil
}

func toMessage(topic string, d amqp.Delivery) *messaging.Message {
	msg := &messaging.Message{
		ID:        d.MessageId,
		Topic:     topic,
		Payload:   d.Body,
		Timestamp: d.Timestamp,
		Metadata: messaging.MessageMetadata{
			DeliveryCount: int(d.DeliveryTag),
			Raw:           d,
		},
	}

	if len(d.Headers) > 0 {
		msg.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			if s, ok := v.(string); ok {
				msg.Headers[k] = s
			}
		}
	}

	return msg
}
