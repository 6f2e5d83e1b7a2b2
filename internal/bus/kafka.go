package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"
)

// KafkaBus publishes events to a Kafka topic for deployments where the
// supervisor runs out-of-process from the agent runtime. Configured
// via kafka_brokers/kafka_topic; cmd/ctxcore-agent selects it when the
// bus backend is "kafka" and uses ChannelBus for any other backend.
type KafkaBus struct {
	writer *kafka.Writer
}

// NewKafkaBus builds a KafkaBus writing to brokers/topic.
func NewKafkaBus(brokers, topic string) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (b *KafkaBus) Publish(ctx context.Context, ev Event) {
	if b == nil || b.writer == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("kind", ev.Kind).Msg("bus_kafka_marshal_failed")
		return
	}
	msg := kafka.Message{Key: []byte(ev.SessionID), Value: payload, Time: time.Now()}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		log.Warn().Err(err).Str("kind", ev.Kind).Msg("bus_kafka_write_failed")
	}
}

func (b *KafkaBus) Close() {
	if b == nil || b.writer == nil {
		return
	}
	if err := b.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("bus_kafka_close_failed")
	}
}

var _ Bus = (*KafkaBus)(nil)
