package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/google/uuid"

	"github.com/olegeech-me/statustracker/pkg/messaging"
)

type producer struct {
	channel *amqp.Channel
	topic   string
}

func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	routingKey := msg.Topic
	if routingKey == "" {
		routingKey = p.topic
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         msg.Payload,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		DeliveryMode: amqp.Persistent,
	}

	if len(msg.Headers) > 0 {
		publishing.Headers = make(amqp.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			publishing.Headers[k] = v
		}
	}

	err := p.channel.PublishWithContext(ctx, "", routingKey, false, false, publishing)
	if err != nil {
		return messaging.ErrPublishFailed(err)
	}
	return nil
}

func (p *producer) PublishBatch(ctx context.Context, msgs []*messaging.Message) error {
	for _, msg := range msgs {
		if err := p.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *producer) Close() error {
	if err := p.channel.Close(); err != nil {
		return messaging.ErrClosed(err)
	}
	return nil
}
