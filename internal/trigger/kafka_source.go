package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSource consumes JSON events (see DecodeEvent) from a topic as part of
// a consumer group. Offsets are committed only after delivery returns.
type KafkaSource struct {
	reader messageReader
	log    *zap.Logger
}

// messageReader is the part of *kafka.Reader the source uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaSource returns a source reading topic with the given group id.
func NewKafkaSource(brokers []string, topic, groupID string, log *zap.Logger) *KafkaSource {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaSource{reader: r, log: log.With(zap.String("source", "kafka"), zap.String("topic", topic))}
}

func (s *KafkaSource) Name() string { return "kafka" }

func (s *KafkaSource) Run(ctx context.Context, deliver func(context.Context, Event) error) error {
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("kafka fetch error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := DecodeEvent(m.Value)
		if err != nil {
			s.log.Error("malformed event skipped", zap.Int64("offset", m.Offset), zap.Error(err))
		} else {
			if ev.ID == "" {
				ev.ID = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
			}
			if err := deliver(ctx, ev); err != nil {
				if ctx.Err() != nil {
					// uncommitted, so the group hands it out again
					s.log.Info("stopped before event was handled", zap.String("event_id", ev.ID))
					return nil
				}
				s.log.Error("event dropped after retries", zap.String("event_id", ev.ID), zap.Error(err))
			}
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("kafka commit error", zap.Error(err))
		}
	}
}

// Close releases the reader and leaves the consumer group.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
