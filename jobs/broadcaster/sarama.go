package broadcaster

import (
	"context"

	"github.com/IBM/sarama"
)

// SaramaSink publishes through a synchronous sarama producer.
type SaramaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaSink(brokers []string, topic string) (*SaramaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newSaramaSink(producer, topic), nil
}

func newSaramaSink(p sarama.SyncProducer, topic string) *SaramaSink {
	return &SaramaSink{producer: p, topic: topic}
}

// Send ignores ctx: a sarama SyncProducer bounds the call with its own
// retry and timeout settings.
func (s *SaramaSink) Send(_ context.Context, key, value []byte) error {
	_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (s *SaramaSink) Close() error {
	return s.producer.Close()
}
