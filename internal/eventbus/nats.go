/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// SubjectPrefix namespaces NATS subjects.
const SubjectPrefix = "grimnir.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "grimnir-playout",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus publishes events to grimnir.events.<type> subjects. The client
// buffers writes, so Publish does not wait on the network.
type NATSBus struct {
	conn   *nats.Conn
	logger zerolog.Logger
	nodeID string
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	logger = logger.With().Str("component", "eventbus.nats").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats event bus: %w", err)
	}

	logger.Info().Str("url", cfg.URL).Msg("NATS event bus initialized")
	return &NATSBus{conn: conn, logger: logger, nodeID: nodeID}, nil
}

// Subject returns the NATS subject for an event type.
func Subject(eventType events.EventType) string {
	return SubjectPrefix + string(eventType)
}

// Publish sends the event; errors are logged and counted.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	data, err := marshalEnvelope(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}
	if err := nb.conn.Publish(Subject(eventType), data); err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues("nats", "error").Inc()
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
		return
	}
	telemetry.EventsPublishedTotal.WithLabelValues("nats", "ok").Inc()
}

// Close drains pending messages and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil || nb.conn.IsClosed() {
		return nil
	}
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
