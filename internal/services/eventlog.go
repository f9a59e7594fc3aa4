package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// EventLog keeps an append-only record of ride events for downstream
// consumers (analytics, auditing). It is never read back by this service.
type EventLog interface {
	Append(ctx context.Context, ev models.RideEvent) error
	Close() error
}

// KafkaEventLog writes ride events to a Kafka topic keyed by ride id so
// each ride's events stay ordered within a partition.
type KafkaEventLog struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaEventLog(brokers []string, topic string) *KafkaEventLog {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaEventLog{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaEventLog) Append(ctx context.Context, ev models.RideEvent) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(ev.RideID), 10)),
		Value: b,
		Time:  ev.UpdatedAt,
	})
}

func (k *KafkaEventLog) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

type nopEventLog struct{}

func (nopEventLog) Append(context.Context, models.RideEvent) error { return nil }
func (nopEventLog) Close() error                                   { return nil }

// NopEventLog discards events; used when no brokers are configured.
func NopEventLog() EventLog { return nopEventLog{} }
