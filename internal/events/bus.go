/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventNowPlaying       EventType = "now_playing"
	EventNowPlayingClear  EventType = "now_playing.cleared"
	EventAlert            EventType = "alert"
	EventBlackoutStart    EventType = "blackout.start"
	EventBlackoutEnd      EventType = "blackout.end"
	EventLiveReleased     EventType = "live.released"
	EventQueueAdvanced    EventType = "queue.advanced"
	EventQueueReplenished EventType = "queue.replenished"
)

// Payload generic event payload.
type Payload map[string]any

// Publisher is the outbound notification interface. Publish must not block
// on delivery; failures are the implementation's to log.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers, dropping it for any subscriber
// whose buffer is full.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(EventType, Payload) {}
