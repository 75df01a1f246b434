/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus publishes engine events to downstream consumers over
// Redis pub/sub and NATS.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_playout/internal/events"
)

// envelope is the wire format shared by every backend.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalEnvelope(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return &msg, nil
}

// NodeID returns hostname plus a short random suffix.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "playout"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Fanout publishes to every wrapped publisher.
type Fanout []events.Publisher

// Publish forwards the event to each publisher in order.
func (f Fanout) Publish(eventType events.EventType, payload events.Payload) {
	for _, p := range f {
		if p != nil {
			p.Publish(eventType, payload)
		}
	}
}
