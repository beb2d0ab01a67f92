// Package rabbitmq is the primary Broker backend for pkg/messaging, built on
// amqp091-go. It speaks to the default exchange with routing key == queue
// name, matching a plain work-queue topology: no fanout exchanges, no
// bindings beyond the implicit default-exchange-to-queue route.
package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/olegeech-me/statustracker/pkg/messaging"
)

// Config configures the RabbitMQ broker connection.
type Config struct {
	Host     string `env:"RABBIT_HOST" env-default:"localhost"`
	Port     string `env:"RABBIT_PORT" env-default:"5672"`
	User     string `env:"RABBIT_USER" env-default:"guest"`
	Password string `env:"RABBIT_PASSWORD" env-default:"guest"`
	VHost    string `env:"RABBIT_VHOST" env-default:"/"`

	// ConnectRetries bounds how many times Connect dials before giving up.
	ConnectRetries int `env:"RABBIT_CONNECT_RETRIES" env-default:"5"`

	// ConnectRetryDelay is the fixed delay between connection attempts.
	ConnectRetryDelay time.Duration `env:"RABBIT_CONNECT_RETRY_DELAY" env-default:"5s"`

	// PrefetchCount bounds how many unacked messages a consumer channel
	// holds at once.
	PrefetchCount int `env:"RABBIT_PREFETCH_COUNT" env-default:"10"`
}

// Broker implements messaging.Broker over a single AMQP connection. It
// opens one channel per Producer/Consumer, following the library's
// recommendation against sharing channels across goroutines.
type Broker struct {
	cfg  Config
	conn *amqp.Connection
}

// New dials RabbitMQ, retrying up to cfg.ConnectRetries times with a fixed
// delay before giving up — the same reconnect-loop shape the original
// Python bot used around its pika/aio-pika connection.
func New(cfg Config) (*Broker, error) {
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 1
	}
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = 5 * time.Second
	}

	url := "amqp://" + cfg.User + ":" + cfg.Password + "@" + cfg.Host + ":" + cfg.Port + cfg.VHost

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= cfg.ConnectRetries; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		if attempt == cfg.ConnectRetries {
			return nil, messaging.ErrConnectionFailed(err)
		}
		time.Sleep(cfg.ConnectRetryDelay)
	}

	return &Broker{cfg: cfg, conn: conn}, nil
}

// Producer opens a channel, declares topic as a durable queue and returns a
// producer that publishes to the default exchange with routing key topic.
func (b *Broker) Producer(topic string) (messaging.Producer, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}

	if err := declareQueue(ch, topic); err != nil {
		ch.Close()
		return nil, err
	}

	return &producer{channel: ch, topic: topic}, nil
}

// Consumer opens a channel, declares topic, applies prefetch and returns a
// consumer. group is accepted for interface symmetry with other adapters;
// RabbitMQ's queue itself is the unit of competing-consumer fanout, so the
// value is unused.
func (b *Broker) Consumer(topic string, group string) (messaging.Consumer, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}

	if err := declareQueue(ch, topic); err != nil {
		ch.Close()
		return nil, err
	}

	if b.cfg.PrefetchCount > 0 {
		if err := ch.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
			ch.Close()
			return nil, messaging.ErrInvalidConfig("failed to set QoS", err)
		}
	}

	return &consumer{channel: ch, topic: topic}, nil
}

// Close shuts down the underlying AMQP connection.
func (b *Broker) Close() error {
	if err := b.conn.Close(); err != nil {
		return messaging.ErrClosed(err)
	}
	return nil
}

// Healthy reports whether the connection is still open.
func (b *Broker) Healthy(ctx context.Context) bool {
	return !b.conn.IsClosed()
}

// declareQueue declares a durable queue, except for FetcherMetricsQueue,
// which carries a short per-message TTL and is explicitly non-durable
// (spec: best-effort metrics snapshots, not a delivery guarantee worth
// surviving a broker restart for).
func declareQueue(ch *amqp.Channel, name string) error {
	durable := name != "FetcherMetricsQueue"

	var args amqp.Table
	if name == "FetcherMetricsQueue" {
		args = amqp.Table{"x-message-ttl": int32(30 * 1000)}
	}

	_, err := ch.QueueDeclare(name, durable, !durable, false, false, args)
	if err != nil {
		return messaging.ErrTopicNotFound(name, err)
	}
	return nil
}
