// Package kafka publishes ledger notifications to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes one JSON message per notification. The consumer side
// (email, push) lives outside this system.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

type message struct {
	Targets []string          `json:"targets"`
	Kind    string            `json:"kind"`
	Meta    map[string]string `json:"meta,omitempty"`
	At      time.Time         `json:"at"`
}

func (p *Publisher) Notify(ctx context.Context, targets []string, kind string, meta map[string]string) error {
	data, err := json.Marshal(message{Targets: targets, Kind: kind, Meta: meta, At: time.Now()})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(kind),
		Value: data,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
