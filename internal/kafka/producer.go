package kafka

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/matchpoint-server/internal/config"
	"github.com/matchpoint-server/internal/domain"
)

// Publisher writes committed match events to the analytics stream. The
// stream is strictly advisory: publish failures are logged, never returned
// to the operation that produced the event.
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewPublisher creates a Kafka publisher for match events
func NewPublisher(cfg *config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
	}

	// Drain producer errors
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Error("failed to publish match event", "error", err)
		}
	}()

	return p, nil
}

// Publish queues a match event. Events are keyed by room code so one room's
// events stay ordered within a partition.
func (p *Publisher) Publish(event domain.MatchEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal match event", "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.RoomCode),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case p.producer.Input() <- msg:
	default:
		p.logger.Warn("event stream backed up, dropping event",
			"type", event.Type,
			"room_code", event.RoomCode,
		)
	}
}

// Close flushes pending events and stops the producer
func (p *Publisher) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
