package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"livechat-server/internal/domain"
)

const (
	TopicChatEvents     = "chat-events"
	TopicPresenceStatus = "presence-status"
)

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(broker string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(broker),
		Balancer: &kafka.LeastBytes{},
		// Low latency over throughput: chat events go out one at a time.
		BatchSize:    1,
		BatchTimeout: 0 * time.Millisecond,
		RequiredAcks: 1,
		Async:        false,
	}
	return &Producer{Writer: writer}
}

func (p *Producer) SendMessage(ctx context.Context, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	topic := topicForMessage(message)

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: data,
	})
	if err != nil {
		log.Printf("Failed to send message to Kafka topic %s: %v", topic, err)
		return err
	}
	return nil
}

func topicForMessage(message interface{}) string {
	switch message.(type) {
	case domain.RelayEvent:
		return TopicChatEvents
	case domain.PresenceStatusMessage:
		return TopicPresenceStatus
	default:
		return TopicChatEvents
	}
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
