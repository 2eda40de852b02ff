package invalidation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/geoforge/chunkplane/internal/model"
)

// Publisher emits geodata-change events. Messages are keyed by region so
// repeated events for the same area land on one partition in order.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	source   string
	now      func() time.Time
}

func NewPublisher(brokers []string, topic, source string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return &Publisher{producer: producer, topic: topic, source: source, now: time.Now}, nil
}

// Publish validates and sends one event for region.
func (p *Publisher) Publish(op string, region model.BBox) error {
	ev := Event{
		Version: 1,
		Op:      op,
		TS:      p.now().UTC(),
		Region:  region,
		Source:  p.source,
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(region.String()),
		Value: sarama.ByteEncoder(raw),
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
