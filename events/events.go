// Package events publishes completed broadcasts for downstream executors.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/moneyscripter/copytrade/models"
)

// Broadcast is the message value written once per completed fan-out.
type Broadcast struct {
	SignalID   string        `json:"signalId"`
	Ref        string        `json:"ref,omitempty"`
	Scope      string        `json:"scope"`
	Signal     models.Signal `json:"signal"`
	Targeted   int           `json:"targeted"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	At         time.Time     `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Broadcast) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys messages by signal id so redeliveries of the same
// signal land on one partition.
type KafkaPublisher struct {
	writer messageWriter
	Topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, Topic: topic}
}

func Encode(ev Broadcast) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal broadcast event")
	}
	return kafka.Message{
		Key:   []byte(ev.SignalID),
		Value: value,
		Time:  ev.At,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Broadcast) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(models.ErrTransport, "kafka write %s: %v", p.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Broadcast) error { return nil }
func (Nop) Close() error                             { return nil }
