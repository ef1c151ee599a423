// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errQueueFull = errors.New("write event queue full")

// WriteHandler processes one write event. Returning an error signals the
// dispatcher to redeliver the event; handlers must therefore be idempotent.
type WriteHandler func(ctx context.Context, ev WriteEvent) error

// DispatcherConfig bounds delivery behavior per collection.
type DispatcherConfig struct {
	// WorkersPerCollection caps concurrent handler invocations for one
	// collection. Matches the original deployment's per-function instance
	// cap of 2.
	WorkersPerCollection int

	// MaxAttempts is the total delivery attempts per event before it is
	// dead-lettered to the sync event log.
	MaxAttempts int

	QueueDepth  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.WorkersPerCollection <= 0 {
		c.WorkersPerCollection = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	return c
}

// Dispatcher is the write-trigger event source: it receives {before, after}
// snapshots from the record store and delivers them to per-collection
// handlers with at-least-once semantics, bounded concurrency, and bounded
// retry. Events that exhaust their attempts or overflow a queue are
// dead-lettered to the sync event log and dropped.
type Dispatcher struct {
	config   DispatcherConfig
	handlers map[string]WriteHandler
	queues   map[string]chan WriteEvent
	events   EventLog
	logger   *slog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewDispatcher(config DispatcherConfig, events EventLog, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		config:   config.withDefaults(),
		handlers: make(map[string]WriteHandler),
		queues:   make(map[string]chan WriteEvent),
		events:   events,
		logger:   logger,
	}
}

// Register binds a handler to a collection. Must be called before Start.
func (d *Dispatcher) Register(collection string, handler WriteHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[collection] = handler
	d.queues[collection] = make(chan WriteEvent, d.config.QueueDepth)
}

// Start launches the worker pools. Workers run until ctx is canceled or
// Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.ctx, d.cancel = context.WithCancel(ctx)

	for collection, queue := range d.queues {
		handler := d.handlers[collection]
		for i := 0; i < d.config.WorkersPerCollection; i++ {
			d.wg.Add(1)
			go d.worker(collection, queue, handler)
		}
	}
}

// Close stops delivery and waits for in-flight handlers to return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

// NotifyWrite implements WriteNotifier. Builds a write event and enqueues it
// for delivery. A full queue drops the event with an error log and a
// dead-letter entry rather than blocking the store write path.
func (d *Dispatcher) NotifyWrite(collection string, before, after *Record) {
	d.mu.Lock()
	queue, ok := d.queues[collection]
	d.mu.Unlock()
	if !ok {
		return
	}

	ev := WriteEvent{
		EventID:    uuid.New(),
		Collection: collection,
		Before:     before,
		After:      after,
		Attempt:    1,
	}
	switch {
	case after != nil:
		ev.RecordID = after.ID
	case before != nil:
		ev.RecordID = before.ID
	}

	select {
	case queue <- ev:
	default:
		d.logger.Error("Write event queue full, dropping event",
			"collection", collection, "record_id", ev.RecordID, "event_id", ev.EventID)
		d.deadLetter(collection, ev, errQueueFull)
	}
}

func (d *Dispatcher) worker(collection string, queue chan WriteEvent, handler WriteHandler) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-queue:
			d.deliver(collection, ev, handler)
		}
	}
}

// deliver runs one event to completion: handler errors trigger in-worker
// redelivery with exponential backoff until MaxAttempts, then dead-letter.
func (d *Dispatcher) deliver(collection string, ev WriteEvent, handler WriteHandler) {
	for {
		err := handler(d.ctx, ev)
		if err == nil {
			return
		}
		if d.ctx.Err() != nil {
			return
		}

		d.logger.Warn("Write event delivery failed",
			"collection", collection, "record_id", ev.RecordID,
			"event_id", ev.EventID, "attempt", ev.Attempt, "error", err)

		if ev.Attempt >= d.config.MaxAttempts {
			d.deadLetter(collection, ev, err)
			return
		}
		if sleepWithContext(d.ctx, d.backoff(ev.Attempt)) != nil {
			return
		}
		ev.Attempt++
	}
}

func (d *Dispatcher) deadLetter(collection string, ev WriteEvent, cause error) {
	recordID := ev.RecordID
	logEv := SyncEvent{
		Collection: collection,
		RecordID:   &recordID,
		Direction:  DirectionAppToNotion,
		Kind:       EventKindDeadLetter,
		Detail: map[string]any{
			"event_id": ev.EventID.String(),
			"attempts": ev.Attempt,
			"error":    cause.Error(),
		},
	}
	if err := d.events.AppendEvent(context.Background(), logEv); err != nil {
		d.logger.Error("Failed to dead-letter write event",
			"collection", collection, "record_id", ev.RecordID, "error", err)
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.config.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.config.BackoffMax {
			return d.config.BackoffMax
		}
	}
	return delay
}
