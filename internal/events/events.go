// Package events publishes price observations to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flight-price-alerts/internal/offers"
)

// Event kinds.
const (
	KindAlert   = "alert"
	KindDayBest = "day_best"
)

// Event is the JSON payload of a published price observation.
type Event struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	CycleID           string    `json:"cycle_id,omitempty"`
	ObservedAt        time.Time `json:"observed_at"`
	Origin            string    `json:"origin"`
	Destination       string    `json:"destination"`
	OutboundDeparture time.Time `json:"outbound_departure"`
	InboundDeparture  time.Time `json:"inbound_departure,omitempty"`
	PricePerPerson    string    `json:"price_per_person"`
	TotalPrice        string    `json:"total_price"`
	Currency          string    `json:"currency"`
	Adults            int       `json:"adults"`
	GoogleFlightsURL  string    `json:"google_flights_url,omitempty"`
	SkyscannerURL     string    `json:"skyscanner_url,omitempty"`
}

// FromCandidate builds an event of kind for c.
func FromCandidate(kind, cycleID string, observedAt time.Time, c offers.Candidate) Event {
	return Event{
		ID:                uuid.NewString(),
		Kind:              kind,
		CycleID:           cycleID,
		ObservedAt:        observedAt.UTC(),
		Origin:            c.Origin,
		Destination:       c.Destination,
		OutboundDeparture: c.OutboundDeparture,
		InboundDeparture:  c.InboundDeparture,
		PricePerPerson:    c.PricePerPerson.StringFixed(2),
		TotalPrice:        c.TotalPrice.StringFixed(2),
		Currency:          c.Currency,
		Adults:            c.Adults,
		GoogleFlightsURL:  c.GoogleFlightsURL,
		SkyscannerURL:     c.SkyscannerURL,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// KafkaPublisher writes events to a topic keyed by route.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewKafkaPublisher connects a synchronous producer to brokers.
func NewKafkaPublisher(brokers []string, topic, clientID string, logger zerolog.Logger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Publish sends ev and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Origin + "-" + ev.Destination),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	p.logger.Debug().Str("kind", ev.Kind).Int32("partition", partition).Int64("offset", offset).Msg("event published")
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*KafkaPublisher)(nil)
)
