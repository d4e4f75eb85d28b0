package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/darkden-lab/beacon/internal/config"
	"github.com/darkden-lab/beacon/internal/logging"
)

// Open creates the Queue selected by cfg.Queue.Driver.
func Open(ctx context.Context, cfg *config.Config) (Queue, error) {
	qc := cfg.Queue
	switch strings.ToLower(qc.Driver) {
	case "kafka":
		brokers := cfg.KafkaBrokerList()
		logging.Info().Strs("brokers", brokers).Str("topic", qc.KafkaTopic).Msg("queue: using kafka")
		return NewKafkaQueue(KafkaConfig{
			Brokers:       brokers,
			Topic:         qc.KafkaTopic,
			ConsumerGroup: qc.KafkaConsumerGroup,
			WaitTime:      qc.WaitTime,
		})
	case "nats":
		logging.Info().Str("url", qc.NATSURL).Str("stream", qc.NATSStream).Msg("queue: using nats jetstream")
		return NewJetStreamQueue(ctx, JetStreamConfig{
			URL:               qc.NATSURL,
			Stream:            qc.NATSStream,
			Subject:           qc.NATSSubject,
			Durable:           qc.NATSDurable,
			WaitTime:          qc.WaitTime,
			VisibilityTimeout: qc.VisibilityTimeout,
		})
	case "memory":
		logging.Warn().Msg("queue: using in-memory queue, messages are lost on restart")
		return NewMemoryQueue(qc.VisibilityTimeout, qc.WaitTime), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", qc.Driver)
	}
}
