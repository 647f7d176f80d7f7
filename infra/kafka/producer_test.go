package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestNewProducerWriterSettings(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "merged-book")
	defer p.Close()

	assert.Equal(t, "merged-book", p.writer.Topic)
	assert.Equal(t, kafka.RequireAll, p.writer.RequiredAcks)
	assert.False(t, p.writer.Async)
	assert.Equal(t, "localhost:9092", p.writer.Addr.String())
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
}
