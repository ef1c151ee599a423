// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CollectionConfig binds one collection to its mirrored Notion database.
type CollectionConfig struct {
	Schema       *CollectionSchema
	DatabaseID   string
	PollInterval time.Duration
}

// EngineConfig configures the sync engine.
type EngineConfig struct {
	Collections []CollectionConfig
	Dispatcher  DispatcherConfig
	Metrics     StageMetricsRecorder
}

// Engine wires the record store, write-trigger dispatcher, outbound syncers,
// and inbound pollers for all configured collections. The workspace client
// is constructed once by the caller and injected; handlers never build their
// own.
type Engine struct {
	store   *PGStore
	client  WorkspaceClient
	config  EngineConfig
	logger  *slog.Logger
	metrics StageMetricsRecorder

	dispatcher *Dispatcher
	pollers    map[string]*Poller

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine validates every collection's schema table, initializes the
// store, and assembles the per-collection sync machinery.
func NewEngine(ctx context.Context, pool *pgxpool.Pool, client WorkspaceClient, config EngineConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(config.Collections) == 0 {
		return nil, errors.New("at least one collection must be configured")
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	seen := map[string]bool{}
	for _, cc := range config.Collections {
		if cc.Schema == nil {
			return nil, errors.New("collection config without schema")
		}
		if err := cc.Schema.Validate(); err != nil {
			return nil, err
		}
		if cc.DatabaseID == "" {
			return nil, fmt.Errorf("collection %s: notion database id is required", cc.Schema.Collection)
		}
		if seen[cc.Schema.Collection] {
			return nil, fmt.Errorf("collection %s configured twice", cc.Schema.Collection)
		}
		seen[cc.Schema.Collection] = true
	}

	store, err := NewPGStore(ctx, pool, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:   store,
		client:  client,
		config:  config,
		logger:  logger,
		metrics: metrics,
		pollers: make(map[string]*Poller),
	}

	e.dispatcher = NewDispatcher(config.Dispatcher, store, logger)
	for _, cc := range config.Collections {
		syncer := NewOutboundSyncer(cc.Schema, cc.DatabaseID, store, store, client, logger, metrics)
		e.dispatcher.Register(cc.Schema.Collection, syncer.HandleWrite)
		e.pollers[cc.Schema.Collection] = NewPoller(cc.Schema, cc.DatabaseID, store, store, store, client,
			cc.PollInterval, logger, metrics)
	}
	store.SetNotifier(e.dispatcher)

	return e, nil
}

// Store exposes the record store to the HTTP layer.
func (e *Engine) Store() *PGStore {
	return e.store
}

// Start launches the dispatcher workers and the per-collection poll loops.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.dispatcher.Start(runCtx)
	for _, poller := range e.pollers {
		p := poller
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			p.Run(runCtx)
		}()
	}
	e.logger.Info("Sync engine started", "collections", len(e.pollers))
}

// Close stops pollers and dispatcher workers and waits for them to drain.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.dispatcher.Close()
	e.logger.Info("Sync engine stopped")
}

// PollAll runs one poll for every collection immediately (the manual sync
// operation). Collections whose scheduled run is active are reported with
// ErrPollInProgress in the error map.
func (e *Engine) PollAll(ctx context.Context) (map[string]int, map[string]error) {
	counts := make(map[string]int, len(e.pollers))
	errs := make(map[string]error)
	for collection, poller := range e.pollers {
		count, err := poller.RunOnce(ctx)
		counts[collection] = count
		if err != nil {
			errs[collection] = err
		}
	}
	return counts, errs
}

// Status reports pending/conflict counts and poll watermarks per collection.
func (e *Engine) Status(ctx context.Context) ([]CollectionStatus, error) {
	statuses := make([]CollectionStatus, 0, len(e.config.Collections))
	for _, cc := range e.config.Collections {
		collection := cc.Schema.Collection
		pending, conflict, err := e.store.Counts(ctx, collection)
		if err != nil {
			return nil, err
		}
		st := CollectionStatus{
			Collection:    collection,
			PendingCount:  pending,
			ConflictCount: conflict,
		}
		if state, err := e.store.GetPollState(ctx, collection); err == nil && state != nil {
			t := state.LastPolledAt
			st.LastPolledAt = &t
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Collections returns the configured collection names.
func (e *Engine) Collections() []string {
	names := make([]string, 0, len(e.config.Collections))
	for _, cc := range e.config.Collections {
		names = append(names, cc.Schema.Collection)
	}
	return names
}

// HasCollection reports whether a collection is configured for sync.
func (e *Engine) HasCollection(name string) bool {
	_, ok := e.pollers[name]
	return ok
}
