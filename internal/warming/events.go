// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package warming

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coachware/warmup/internal/logging"
	"github.com/coachware/warmup/internal/metrics"
)

// Topics published by the warming engine.
const (
	TopicWarmingEvents = "warming.events"
	TopicAlerts        = "warming.alerts"
)

// Alert is a high-severity operational notification, published when
// maintenance exhausts its retries or an aspect reaches critical level.
type Alert struct {
	Source    string `json:"source"`
	Message   string `json:"message"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// EventBus distributes warming events to in-process observers. Delivery is
// at-most-once per subscriber with no ordering guarantee across subjects:
// observers that subscribe late miss earlier events, and nothing is
// redelivered. Each subscriber gets a 64-message buffer; once it fills,
// publishes block until the subscriber drains, so observers must keep
// reading for the lifetime of their subscription.
type EventBus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
}

// NewEventBus creates the bus.
func NewEventBus(logger zerolog.Logger) *EventBus {
	return &EventBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logging.NewWatermillLogger(logger)),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}
}

// PublishEvent emits a warming event. Publish failures are logged, never
// propagated; observability must not fail the operation it observes.
func (b *EventBus) PublishEvent(evt WarmingEvent) {
	b.publish(TopicWarmingEvents, string(evt.Type), evt)
}

// PublishAlert emits a high-severity alert.
func (b *EventBus) PublishAlert(alert Alert) {
	b.publish(TopicAlerts, "alert", alert)
}

func (b *EventBus) publish(topic, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("Failed to encode event")
		return
	}

	msg := message.NewMessage(uuid.New().String(), data)
	msg.Metadata.Set("kind", kind)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish event")
		return
	}
	metrics.EventsPublished.WithLabelValues(kind).Inc()
}

// Subscribe returns a channel of raw messages for a topic. The subscription
// ends when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return ch, nil
}

// SubscribeEvents returns decoded warming events. Messages that fail to
// decode are acked and dropped.
func (b *EventBus) SubscribeEvents(ctx context.Context) (<-chan WarmingEvent, error) {
	msgs, err := b.Subscribe(ctx, TopicWarmingEvents)
	if err != nil {
		return nil, err
	}

	out := make(chan WarmingEvent)
	go func() {
		defer close(out)
		for msg := range msgs {
			var evt WarmingEvent
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.logger.Error().Err(err).Str("uuid", msg.UUID).Msg("Failed to decode event")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *EventBus) Close() error {
	return b.pubsub.Close()
}
