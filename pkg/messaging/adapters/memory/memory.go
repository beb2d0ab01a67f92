// Package memory is an in-process Broker used by unit tests and by local
// development runs that don't want to stand up RabbitMQ.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olegeech-me/statustracker/pkg/messaging"
)

// Config configures the in-memory broker.
type Config struct {
	// BufferSize bounds the channel backing each topic. A full buffer makes
	// Publish block, mirroring backpressure a real broker would apply.
	BufferSize int
}

// Broker is a process-local messaging.Broker backed by Go channels. Topics
// are created lazily on first use and shared by every producer/consumer
// that names them.
type Broker struct {
	cfg Config

	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

type topic struct {
	mu   sync.Mutex
	subs []chan *messaging.Message
}

// New creates an empty in-memory broker.
func New(cfg Config) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return &Broker{cfg: cfg, topics: make(map[string]*topic)}
}

func (b *Broker) topicFor(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		t = &topic{}
		b.topics[name] = t
	}
	return t
}

// Producer returns a producer bound to topicName.
func (b *Broker) Producer(topicName string) (messaging.Producer, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, messaging.ErrClosed(nil)
	}

	return &producer{broker: b, topic: topicName}, nil
}

// Consumer returns a consumer bound to topicName. group is accepted for
// interface compatibility but ignored: every Consumer registered on a topic
// receives every message, matching fanout semantics used by the in-memory
// adapter's tests.
func (b *Broker) Consumer(topicName string, group string) (messaging.Consumer, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, messaging.ErrClosed(nil)
	}

	t := b.topicFor(topicName)
	ch := make(chan *messaging.Message, b.cfg.BufferSize)

	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()

	return &consumer{topic: t, ch: ch}, nil
}

// Close marks the broker closed. Existing producers/consumers keep working
// against already-created channels; new ones are rejected.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Healthy always returns true: there's no network to partition from.
func (b *Broker) Healthy(ctx context.Context) bool {
	return true
}

type producer struct {
	broker *Broker
	topic  string
}

func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Topic == "" {
		msg.Topic = p.topic
	}

	t := p.broker.topicFor(p.topic)

	t.mu.Lock()
	subs := make([]chan *messaging.Message, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
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
	return nil
}

type consumer struct {
	topic *topic
	ch    chan *messaging.Message
}

func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	for {
		select {
		case msg, ok := <-c.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *consumer) Close() error {
	c.topic.mu.Lock()
	defer c.topic.mu.Unlock()

	for i, sub := range c.topic.subs {
		if sub == c.ch {
			c.topic.subs = append(c.topic.subs[:i], c.topic.subs[i+1:]...)
			break
		}
	}
	close(c.ch)
	return nil
}
