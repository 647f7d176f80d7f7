package kafka

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"merger/infra/logging"
)

// Producer writes merged summaries to one topic with kafka-go.
// Messages are keyed by book sequence; the hash balancer keeps a key on
// one partition.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	log := logging.Component("broadcaster").With().Str("driver", "kafka-go").Logger()
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
			ErrorLogger:  errorLogger(log),
		},
	}
}

func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func errorLogger(log zerolog.Logger) kafka.LoggerFunc {
	return func(msg string, args ...interface{}) {
		log.Error().Msgf(msg, args...)
	}
}
