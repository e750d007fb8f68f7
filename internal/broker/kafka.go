package broker

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"omnic/internal/extract"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes results to a Kafka topic keyed by player name
type KafkaPublisher struct {
	writer messageWriter
	Topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{writer: writer, Topic: topic}
}

func (p *KafkaPublisher) Name() string {
	return "kafka"
}

func (p *KafkaPublisher) Write(ctx context.Context, result extract.Result) error {
	value, err := encode(result)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(result.Subject),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerMatchID, Value: []byte(result.MatchID)},
			{Key: headerShard, Value: []byte(result.Shard)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
