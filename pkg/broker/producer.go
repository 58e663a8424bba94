package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftmarket/pkg/app/marketplace"
)

// MessageWriter is the part of *kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer streams committed marketplace events to a Kafka topic. Messages
// are keyed by item so one item's events stay ordered within a partition.
type Producer struct {
	writer MessageWriter
	queue  chan marketplace.Event
	log    *zap.SugaredLogger
}

func NewProducer(brokers []string, topic string, log *zap.SugaredLogger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, log)
}

func NewProducerWithWriter(w MessageWriter, log *zap.SugaredLogger) *Producer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Producer{writer: w, queue: make(chan marketplace.Event, 1024), log: log}
}

// Publish queues ev for delivery. It never blocks the committing call; when
// the queue is full the event is dropped and logged.
func (p *Producer) Publish(ev marketplace.Event) {
	select {
	case p.queue <- ev:
	default:
		p.log.Warnw("kafka_queue_full", "type", ev.Type)
	}
}

// Run delivers queued events until ctx is done, then closes the writer
func (p *Producer) Run(ctx context.Context) error {
	defer p.writer.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.queue:
			msg, err := Message(ev)
			if err != nil {
				p.log.Warnw("kafka_encode_failed", "type", ev.Type, "err", err)
				continue
			}
			if err := p.writer.WriteMessages(ctx, msg); err != nil {
				p.log.Warnw("kafka_write_failed", "type", ev.Type, "err", err)
			}
		}
	}
}

// Message converts an event to its Kafka form
func Message(ev marketplace.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     key(ev),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	}, nil
}

func key(ev marketplace.Event) []byte {
	switch d := ev.Data.(type) {
	case *marketplace.OrderCreated:
		return itemKey(d.Collection, d.Item)
	case *marketplace.OrderExecuted:
		return itemKey(d.Collection, d.Item)
	case *marketplace.OrderCanceled:
		return itemKey(d.Collection, d.Item)
	case *marketplace.EscrowReleased:
		return []byte(fmt.Sprintf("escrow:%d", d.ID))
	default:
		return []byte("roles")
	}
}

func itemKey(collection, item uint32) []byte {
	return []byte(fmt.Sprintf("item:%d:%d", collection, item))
}
