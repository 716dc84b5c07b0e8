// Package ingest holds the message-plumbing edges: the Kafka producer for
// match lifecycle events and the inbound-message dedupe store.
package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/chat2carpool/internal/models"
)

// MatchEvent is the envelope published to the match-events topic.
type MatchEvent struct {
	Event     string        `json:"event"`
	Match     *models.Match `json:"match"`
	EmittedAt time.Time     `json:"emitted_at"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishMatch emits one lifecycle event, keyed by match ID so all events
// for a match land on the same partition.
func (k *KafkaProducer) PublishMatch(ctx context.Context, event string, m *models.Match) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(MatchEvent{Event: event, Match: m, EmittedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	key := []byte(strconv.FormatInt(m.ID, 10))
	return k.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
