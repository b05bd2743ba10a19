package events

import (
	"context"
	"sync"
)

// EventPublisher is the interface for publishing registry change events.
type EventPublisher interface {
	PublishChanged(ctx context.Context, event *RegistryChangedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (registry without a COMMS connection).
type NoOpPublisher struct{}

// PublishChanged is a no-op.
func (p *NoOpPublisher) PublishChanged(_ context.Context, _ *RegistryChangedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function.
type CallbackPublisher struct {
	callback func(ctx context.Context, event *RegistryChangedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *RegistryChangedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishChanged calls the callback.
func (p *CallbackPublisher) PublishChanged(ctx context.Context, event *RegistryChangedEvent) error {
	return p.callback(ctx, event)
}

// RecordingPublisher keeps every published event in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []RegistryChangedEvent
}

// PublishChanged records a copy of event.
func (p *RecordingPublisher) PublishChanged(_ context.Context, event *RegistryChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

// Events returns the recorded events in publish order.
func (p *RecordingPublisher) Events() []RegistryChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RegistryChangedEvent(nil), p.events...)
}
