package kafka

import (
	"context"

	"github.com/IBM/sarama"

	"github.com/olegeech-me/statustracker/pkg/messaging"
)

// consumer implements messaging.Consumer as a sarama consumer group member.
type consumer struct {
	topic string
	group sarama.ConsumerGroup
}

// Consume blocks, rejoining the consumer group's rebalance loop until ctx is
// canceled. Sarama redelivers a message whenever ConsumeClaim returns
// without marking it, so a handler error simply skips marking the offset.
func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	h := &groupHandler{topic: c.topic, handler: handler}

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return messaging.ErrConsumeFailed(err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close leaves the consumer group.
func (c *consumer) Close() error {
	if err := c.group.Close(); err != nil {
		return messaging.ErrClosed(err)
	}
	return nil
}

// groupHandler adapts messaging.MessageHandler to sarama's
// ConsumerGroupHandler interface.
type groupHandler struct {
	topic   string
	handler messaging.MessageHandler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case saramaMsg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			msg := toMessage(saramaMsg)
			if err := h.handler(session.Context(), msg); err != nil {
				continue
			}

			session.MarkMessage(saramaMsg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func toMessage(saramaMsg *sarama.ConsumerMessage) *messaging.Message {
	msg := &messaging.Message{
		Topic:     saramaMsg.Topic,
		Key:       saramaMsg.Key,
		Payload:   saramaMsg.Value,
		Timestamp: saramaMsg.Timestamp,
		Metadata: messaging.MessageMetadata{
			Partition: saramaMsg.Partition,
			Offset:    saramaMsg.Offset,
			Raw:       saramaMsg,
		},
	}

	if len(saramaMsg.Headers) > 0 {
		msg.Headers = make(map[string]string, len(saramaMsg.Headers))
		for _, h := range saramaMsg.Headers {
			key := string(h.Key)
			msg.Headers[key] = string(h.Value)
			if key == "message-id" {
				msg.ID = string(h.Value)
			}
		}
	}

	return msg
}
