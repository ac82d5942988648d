package messaging

import (
	"context"
	"time"

	"github.com/bardlex/powminer/internal/telemetry"
	"github.com/bardlex/powminer/pkg/errors"
)

// jsonPublisher is what Publisher needs from KafkaClient.
type jsonPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, data []byte) error
}

// Publisher is a telemetry sink writing events to Kafka topics. Messages are
// keyed by ticker so one market's events stay ordered within a partition.
type Publisher struct {
	client jsonPublisher
	miner  string
	host   string
}

// NewPublisher creates a publisher tagging events with the payout address.
func NewPublisher(client *KafkaClient, miner, host string) *Publisher {
	return &Publisher{client: client, miner: miner, host: host}
}

// Name implements telemetry.NamedSink.
func (p *Publisher) Name() string { return "kafka" }

func (p *Publisher) publish(ctx context.Context, topic, eventType, key string, at time.Time, data any) error {
	env := &Envelope{
		Type:      eventType,
		Miner:     p.miner,
		Host:      p.host,
		Timestamp: at,
		Data:      data,
	}
	payload, err := env.Encode()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode_event", "failed to encode event").
			WithContext("type", eventType)
	}
	return p.client.PublishJSON(ctx, topic, key, payload)
}

// JobChanged implements telemetry.Sink.
func (p *Publisher) JobChanged(ctx context.Context, ev telemetry.JobEvent) error {
	return p.publish(ctx, TopicJobs, EventJob, ev.Ticker, ev.Timestamp, ev)
}

// RoundCompleted implements telemetry.Sink.
func (p *Publisher) RoundCompleted(ctx context.Context, ev telemetry.RoundEvent) error {
	return p.publish(ctx, TopicStats, EventRound, ev.Ticker, ev.Timestamp, ev)
}

// ShareSubmitted implements telemetry.Sink.
func (p *Publisher) ShareSubmitted(ctx context.Context, ev telemetry.ShareEvent) error {
	return p.publish(ctx, TopicShares, EventShare, ev.Ticker, ev.SubmittedAt, ev)
}

// StatusUpdated implements telemetry.Sink.
func (p *Publisher) StatusUpdated(ctx context.Context, ev telemetry.StatusEvent) error {
	return p.publish(ctx, TopicStats, EventStatus, ev.Ticker, ev.Timestamp, ev)
}
