package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"livechat-server/internal/domain"
)

// MessageHandler receives events relayed from other server nodes.
type MessageHandler interface {
	HandleRelayEvent(ev domain.RelayEvent)
	HandlePresenceStatus(msg domain.PresenceStatusMessage)
}

type Consumer struct {
	readers []*kafka.Reader
	handler MessageHandler
}

func NewConsumer(brokers []string, groupID string, handler MessageHandler) *Consumer {
	var readers []*kafka.Reader

	for _, topic := range []string{TopicChatEvents, TopicPresenceStatus} {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 100 * time.Millisecond,
			StartOffset:    kafka.LastOffset,
			MaxWait:        100 * time.Millisecond,
		})
		readers = append(readers, reader)
	}

	return &Consumer{readers: readers, handler: handler}
}

func (c *Consumer) Start(ctx context.Context) error {
	for i := range c.readers {
		go func(readerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Recovered from panic in Kafka consumer goroutine %d: %v", readerIndex, r)
				}
			}()

			reader := c.readers[readerIndex]
			defer reader.Close()

			for {
				select {
				case <-ctx.Done():
					return
				default:
					m, err := reader.ReadMessage(ctx)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Error reading Kafka message: %v", err)
						continue
					}

					if c.handler != nil {
						c.handleMessage(m.Topic, m.Value)
					}
				}
			}
		}(i)
	}

	return nil
}

func (c *Consumer) handleMessage(topic string, value []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic handling Kafka message from %s: %v", topic, r)
		}
	}()

	switch topic {
	case TopicChatEvents:
		var ev domain.RelayEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			log.Printf("Error unmarshaling relay event: %v", err)
			return
		}
		c.handler.HandleRelayEvent(ev)

	case TopicPresenceStatus:
		var msg domain.PresenceStatusMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			log.Printf("Error unmarshaling presence status: %v", err)
			return
		}
		c.handler.HandlePresenceStatus(msg)

	default:
		log.Printf("Unknown topic: %s", topic)
	}
}

func (c *Consumer) Close() error {
	for i := range c.readers {
		if err := c.readers[i].Close(); err != nil {
			log.Printf("Error closing Kafka reader: %v", err)
		}
	}
	return nil
}
