// Package kafka is an alternate Broker backend for pkg/messaging, built on
// IBM/sarama. The Fabric defaults to RabbitMQ; Kafka is wired for
// deployments that already run a Kafka cluster and want to reuse it instead
// of standing up RabbitMQ.
package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"

	"github.com/olegeech-me/statustracker/pkg/messaging"
)

// Config configures the Kafka broker.
type Config struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`

	// ClientID identifies this process to the Kafka cluster in logs and
	// quotas.
	ClientID string `env:"KAFKA_CLIENT_ID" env-default:"statustracker"`

	// RequiredAcks controls how many replicas must ack a produce before it
	// is considered successful. Default waits for all in-sync replicas.
	RequiredAcks sarama.RequiredAcks

	// Version pins the Kafka protocol version negotiated with the cluster.
	Version string `env:"KAFKA_VERSION" env-default:"3.6.0"`
}

// Broker implements messaging.Broker on top of a sarama client.
type Broker struct {
	client sarama.Client
	config Config
}

// New dials the Kafka cluster and returns a ready Broker.
func New(cfg Config) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, messaging.ErrInvalidConfig("at least one Kafka broker address is required", nil)
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = cfg.RequiredAcks
	if saramaCfg.Producer.RequiredAcks == 0 {
		saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	}
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, messaging.ErrInvalidConfig("invalid kafka version: "+cfg.Version, err)
		}
		saramaCfg.Version = v
	}

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}

	return &Broker{client: client, config: cfg}, nil
}

// Producer returns a synchronous producer bound to topic.
func (b *Broker) Producer(topic string) (messaging.Producer, error) {
	syncProducer, err := sarama.NewSyncProducerFromClient(b.client)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}

	return &producer{broker: b, topic: topic, producer: syncProducer}, nil
}

// Consumer returns a consumer-group-backed consumer for topic. group is
// required: unlike RabbitMQ queues, a bare Kafka topic has no notion of a
// single logical consumer, so broadcast consumption is not supported here.
func (b *Broker) Consumer(topic string, group string) (messaging.Consumer, error) {
	if group == "" {
		return nil, messaging.ErrInvalidConfig("kafka consumer requires a non-empty consumer group", nil)
	}

	cg, err := sarama.NewConsumerGroupFromClient(group, b.client)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}

	return &consumer{topic: topic, group: cg}, nil
}

// Close shuts down the underlying Kafka client.
func (b *Broker) Close() error {
	if err := b.client.Close(); err != nil {
		return messaging.ErrClosed(err)
	}
	return nil
}

// Healthy reports whether the client can still reach a broker.
func (b *Broker) Healthy(ctx context.Context) bool {
	deadline, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		brokers := b.client.Brokers()
		for _, broker := range brokers {
			if ok, _ := broker.Connected(); ok {
				done <- true
				return
			}
		}
		done <- false
	}()

	select {
	case healthy := <-done:
		return healthy
	case <-deadline.Done():
		return false
	}
}
