package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

var ErrDisabled = errors.New("kafka: disabled")

type Client struct {
	Brokers []string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return c != nil && len(c.Brokers) > 0
}

func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the wire format of every relayed event.
type Envelope struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id,omitempty"`
	OrderRef   string    `json:"order_ref,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher writes domain events to one topic, keyed by the event's aggregate
// key so a given order's events stay in partition order.
type Publisher struct {
	writer MessageWriter
	now    func() time.Time
	newID  func() string
}

func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w, now: time.Now, newID: uuid.NewString}
}

func (p *Publisher) Publish(ctx context.Context, e domoutbox.Event) error {
	if p == nil || p.writer == nil {
		return ErrDisabled
	}
	if e == nil {
		return nil
	}

	key := ""
	if k, ok := e.(domoutbox.Keyed); ok {
		key = k.EventKey()
	}
	env := Envelope{
		EventID:    p.newID(),
		Type:       e.EventName(),
		OrderRef:   key,
		OccurredAt: p.now().UTC(),
		Payload:    e,
	}
	if s, ok := e.(domoutbox.OrderScoped); ok {
		env.OrderID = s.EventOrderID()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", env.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", env.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
