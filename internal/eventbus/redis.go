/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// ChannelPrefix namespaces Redis pub/sub channels.
const ChannelPrefix = "grimnir.events."

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Outbox bounds the number of queued, unsent events.
	Outbox int

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		Outbox:        256,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

type outboxItem struct {
	eventType events.EventType
	payload   events.Payload
}

// RedisBus publishes events on Redis pub/sub channels. Publish enqueues and
// returns immediately; a single sender goroutine drains the outbox.
type RedisBus struct {
	client *redis.Client
	logger zerolog.Logger
	nodeID string
	cfg    RedisConfig

	outbox chan outboxItem
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	// Circuit breaker state
	mu        sync.Mutex
	open      bool
	failCount int
	lastCheck time.Time
}

// NewRedisBus connects to Redis and starts the sender. An unreachable Redis
// is an error here so the caller can decide to run without it.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	def := DefaultRedisConfig()
	if cfg.Outbox <= 0 {
		cfg.Outbox = def.Outbox
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis event bus: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		client: client,
		logger: logger.With().Str("component", "eventbus.redis").Logger(),
		nodeID: nodeID,
		cfg:    cfg,
		outbox: make(chan outboxItem, cfg.Outbox),
		cancel: cancel,
	}
	rb.wg.Add(1)
	go rb.run(ctx)

	rb.logger.Info().Str("addr", cfg.Addr).Msg("Redis event bus initialized")
	return rb, nil
}

// Publish enqueues the event, dropping it when the outbox is full.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	select {
	case rb.outbox <- outboxItem{eventType: eventType, payload: payload}:
	default:
		telemetry.EventsPublishedTotal.WithLabelValues("redis", "dropped").Inc()
		rb.logger.Warn().Str("event_type", string(eventType)).Msg("redis outbox full, dropping event")
	}
}

func (rb *RedisBus) run(ctx context.Context) {
	defer rb.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-rb.outbox:
			rb.send(ctx, item)
		}
	}
}

func (rb *RedisBus) send(ctx context.Context, item outboxItem) {
	if !rb.allow(ctx) {
		telemetry.EventsPublishedTotal.WithLabelValues("redis", "skipped").Inc()
		return
	}

	data, err := marshalEnvelope(item.eventType, item.payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(pubCtx, ChannelPrefix+string(item.eventType), data).Err(); err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues("redis", "error").Inc()
		rb.logger.Error().Err(err).Str("event_type", string(item.eventType)).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
	telemetry.EventsPublishedTotal.WithLabelValues("redis", "ok").Inc()
}

// allow reports whether Redis should be tried. An open breaker is probed
// with a ping once per check interval.
func (rb *RedisBus) allow(ctx context.Context) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.open {
		return true
	}
	if time.Since(rb.lastCheck) < rb.cfg.CheckInterval {
		return false
	}
	rb.lastCheck = time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Debug().Err(err).Msg("Redis still unavailable")
		return false
	}
	rb.open = false
	rb.failCount = 0
	rb.logger.Info().Msg("reconnected to Redis, resuming publication")
	return true
}

func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.cfg.MaxFailures && !rb.open {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, pausing publication")
		rb.open = true
		rb.lastCheck = time.Now()
	}
}

// Close stops the sender and closes the Redis client. Queued events that
// were not yet sent are discarded.
func (rb *RedisBus) Close() error {
	var err error
	rb.once.Do(func() {
		rb.cancel()
		rb.wg.Wait()
		err = rb.client.Close()
		rb.logger.Info().Msg("Redis event bus closed")
	})
	return err
}
