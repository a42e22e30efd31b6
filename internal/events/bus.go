// Package events publishes execution lifecycle events on a watermill bus.
// The engine emits every state change here so observers (CLI status
// streaming, external consumers) can subscribe without touching the store.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/skein-dev/skein/pkg/schema"
)

// LifecycleEvent is the payload published for every lifecycle transition.
type LifecycleEvent struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	StepID      string         `json:"step_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Handler processes one lifecycle event.
type Handler func(ctx context.Context, event *LifecycleEvent) error

// Bus publishes and subscribes to lifecycle events.
type Bus interface {
	Publish(ctx context.Context, event *LifecycleEvent) error
	Handle(eventType string, handler Handler)
	Subscribe(ctx context.Context) error
	Close() error
}

// WatermillBus is the Bus implementation backed by watermill pub/sub.
type WatermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	mu       sync.RWMutex
	handlers map[string][]Handler
}

var _ Bus = (*WatermillBus)(nil)

// NewWatermillBus wraps an existing watermill publisher/subscriber pair.
func NewWatermillBus(pub message.Publisher, sub message.Subscriber) *WatermillBus {
	return &WatermillBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make(map[string][]Handler),
	}
}

// NewInProcessBus creates a bus on an in-process gochannel transport.
func NewInProcessBus(logger watermill.LoggerAdapter) *WatermillBus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	return NewWatermillBus(pubSub, pubSub)
}

func (b *WatermillBus) Publish(_ context.Context, event *LifecycleEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal lifecycle event").WithCause(err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(schema.EventTypeMetadataKey, event.Type)
	msg.Metadata.Set(schema.ExecutionIDMetadataKey, event.ExecutionID)

	return b.publisher.Publish(schema.ExecutionEventsTopic, msg)
}

// Handle registers a handler for an event type. The empty string subscribes
// to all event types. Must be called before Subscribe.
func (b *WatermillBus) Handle(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Subscribe starts consuming the topic and dispatching to handlers. A
// handler error nacks the message.
func (b *WatermillBus) Subscribe(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, schema.ExecutionEventsTopic)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "subscribe to lifecycle events").WithCause(err)
	}

	go func() {
		for msg := range messages {
			var event LifecycleEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				msg.Nack()
				continue
			}

			b.mu.RLock()
			handlers := append([]Handler(nil), b.handlers[event.Type]...)
			handlers = append(handlers, b.handlers[""]...)
			b.mu.RUnlock()

			failed := false
			for _, h := range handlers {
				if err := h(ctx, &event); err != nil {
					failed = true
					break
				}
			}
			if failed {
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}()
	return nil
}

func (b *WatermillBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.subscriber.Close()
}

// NopBus discards all events. Used when no observer is configured.
type NopBus struct{}

var _ Bus = NopBus{}

func (NopBus) Publish(context.Context, *LifecycleEvent) error { return nil }
func (NopBus) Handle(string, Handler)                         {}
func (NopBus) Subscribe(context.Context) error                { return nil }
func (NopBus) Close() error                                   { return nil }
