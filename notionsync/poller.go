// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// firstRunLookback bounds the initial poll window when no watermark exists.
const firstRunLookback = 24 * time.Hour

// Poller pulls Notion-side edits into the record store on a fixed interval.
// One instance per collection; runs never overlap (guarded by a
// skip-if-running check). The watermark is only advanced after a fully
// completed run, and always to the run's start time, so edits made during a
// long poll are re-read on the next run. Reprocessing is harmless: unchanged
// pages are skipped by the last-edited comparison and upserts are
// last-writer-wins.
type Poller struct {
	collection string
	databaseID string
	mapper     *Mapper
	store      RecordStore
	cursors    PollStateStore
	events     EventLog
	client     WorkspaceClient
	interval   time.Duration
	logger     *slog.Logger
	metrics    StageMetricsRecorder
	now        func() time.Time

	running atomic.Bool
}

func NewPoller(schema *CollectionSchema, databaseID string, store RecordStore, cursors PollStateStore,
	events EventLog, client WorkspaceClient, interval time.Duration, logger *slog.Logger, metrics StageMetricsRecorder) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Poller{
		collection: schema.Collection,
		databaseID: databaseID,
		mapper:     NewMapper(schema),
		store:      store,
		cursors:    cursors,
		events:     events,
		client:     client,
		interval:   interval,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run polls on the configured interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Inbound poller started",
		"collection", p.collection, "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Inbound poller stopped", "collection", p.collection)
			return
		case <-ticker.C:
			count, err := p.RunOnce(ctx)
			switch {
			case errors.Is(err, ErrPollInProgress):
				p.logger.Warn("Skipping poll tick, previous run still active", "collection", p.collection)
			case err != nil:
				p.logger.Error("Poll run failed", "collection", p.collection, "error", err)
			default:
				p.logger.Info("Poll run complete", "collection", p.collection, "pages_processed", count)
			}
		}
	}
}

// RunOnce executes a single poll run and returns the number of pages
// processed. Returns ErrPollInProgress when a run is already active.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	if !p.running.CompareAndSwap(false, true) {
		return 0, ErrPollInProgress
	}
	defer p.running.Store(false)

	start := time.Now()
	count, err := p.poll(ctx)
	observe(ctx, p.metrics, MetricsOpPoll, MetricsStageTotal, p.collection, start, count, err != nil)
	return count, err
}

func (p *Poller) poll(ctx context.Context) (int, error) {
	state, err := p.cursors.GetPollState(ctx, p.collection)
	if err != nil {
		return 0, err
	}
	since := p.now().Add(-firstRunLookback)
	if state != nil {
		since = state.LastPolledAt
	}

	// The watermark candidate is captured before querying so edits landing
	// mid-poll fall inside the next run's window.
	pollStart := p.now()

	processed := 0
	cursor := ""
	for {
		queryStart := time.Now()
		result, err := p.client.QueryChangedPages(ctx, p.databaseID, since, cursor)
		observe(ctx, p.metrics, MetricsOpPoll, MetricsStagePollQuery, p.collection, queryStart, 0, err != nil)
		if err != nil {
			return processed, fmt.Errorf("failed to query changed pages for %s: %w", p.collection, err)
		}

		for i := range result.Pages {
			page := &result.Pages[i]
			if err := ctx.Err(); err != nil {
				// Canceled mid-run: the watermark stays put so the next run
				// safely reprocesses from the prior one.
				return processed, err
			}
			upsertStart := time.Now()
			err := p.upsertPage(ctx, page)
			observe(ctx, p.metrics, MetricsOpPoll, MetricsStagePollUpsert, p.collection, upsertStart, 1, err != nil)
			if err != nil {
				// One bad page must not abort the whole poll.
				p.logger.Error("Failed to apply Notion page",
					"collection", p.collection, "page_id", page.ID, "error", err)
				p.appendPageError(ctx, page, err)
				continue
			}
			processed++
		}

		if !result.HasMore || result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	if err := p.cursors.AdvancePollState(ctx, p.collection, pollStart); err != nil {
		return processed, fmt.Errorf("failed to advance poll watermark for %s: %w", p.collection, err)
	}
	return processed, nil
}

// upsertPage applies one changed Notion page to the record store.
func (p *Poller) upsertPage(ctx context.Context, page *Page) error {
	rec, err := p.store.GetByExternalID(ctx, p.collection, page.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if rec != nil && rec.ExternalLastEdited != nil && rec.ExternalLastEdited.Equal(page.LastEditedTime) {
		// Pagination-overlap reprocessing guard: page unchanged since our
		// last sync.
		p.logger.Debug("No change on Notion page, skipping",
			"collection", p.collection, "page_id", page.ID)
		return nil
	}

	fields, err := p.mapper.FieldsFromPage(page)
	if err != nil {
		return err
	}

	lastEdited := page.LastEditedTime
	now := p.now()

	if rec == nil {
		rec = &Record{
			ID:         uuid.New(),
			Collection: p.collection,
			CreatedAt:  now,
		}
		p.logger.Info("Creating record from Notion page",
			"collection", p.collection, "page_id", page.ID, "record_id", rec.ID)
	} else {
		p.logger.Info("Updating record from Notion page",
			"collection", p.collection, "page_id", page.ID, "record_id", rec.ID)
	}

	rec.Fields = fields
	rec.Source = SourceExternal
	rec.SyncStatus = StatusSynced
	rec.ExternalID = page.ID
	rec.ExternalLastEdited = &lastEdited
	rec.UpdatedAt = now

	return p.store.Save(ctx, rec)
}

func (p *Poller) appendPageError(ctx context.Context, page *Page, cause error) {
	ev := SyncEvent{
		Collection: p.collection,
		ExternalID: page.ID,
		Direction:  DirectionNotionToApp,
		Kind:       EventKindError,
		Detail:     map[string]any{"error": cause.Error()},
	}
	if err := p.events.AppendEvent(ctx, ev); err != nil {
		p.logger.Error("Failed to append poll error event",
			"collection", p.collection, "page_id", page.ID, "error", err)
	}
}
