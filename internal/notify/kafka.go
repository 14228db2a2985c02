package notify

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSink struct {
	writer MessageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		topic = EventDepositCompleted
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}, nil
}

func NewKafkaSinkWithWriter(w MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

func (k *KafkaSink) Name() string { return "kafka" }

// Send keys by deposit id so every event of one deposit lands on one partition.
func (k *KafkaSink) Send(ctx context.Context, deliveryID string, depositID int64, body []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(strconv.FormatInt(depositID, 10)),
		Value: body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: DeliveryHeader, Value: []byte(deliveryID)},
		},
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
