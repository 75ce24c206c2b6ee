package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter builds the writer the outbox relay publishes through. Messages
// are keyed by order token, so the Hash balancer keeps every event for one
// token on one partition and in order. An outbox row only flips to sent
// after all replicas ack.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}
