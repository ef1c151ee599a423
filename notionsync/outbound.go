// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// OutboundSyncer pushes app-originated record changes to the mirrored Notion
// database. One instance per collection; HandleWrite is invoked by the
// dispatcher once per write event with at-least-once delivery, so every side
// effect here is idempotent: retried events find the already-created page
// through the record-id lookup instead of creating a duplicate.
type OutboundSyncer struct {
	collection string
	databaseID string
	mapper     *Mapper
	schema     *CollectionSchema
	store      RecordStore
	events     EventLog
	client     WorkspaceClient
	logger     *slog.Logger
	metrics    StageMetricsRecorder
}

func NewOutboundSyncer(schema *CollectionSchema, databaseID string, store RecordStore,
	events EventLog, client WorkspaceClient, logger *slog.Logger, metrics StageMetricsRecorder) *OutboundSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &OutboundSyncer{
		collection: schema.Collection,
		databaseID: databaseID,
		mapper:     NewMapper(schema),
		schema:     schema,
		store:      store,
		events:     events,
		client:     client,
		logger:     logger,
		metrics:    metrics,
	}
}

// HandleWrite runs the outbound state machine for one write event.
//
// A returned error means "transient, redeliver"; every permanent outcome
// (skip, success, conflict, permanent failure) returns nil after recording
// its state. Errors never escape uncategorized: the retry classifier decides
// between the two paths.
func (o *OutboundSyncer) HandleWrite(ctx context.Context, ev WriteEvent) error {
	start := time.Now()
	err := o.handle(ctx, ev)
	observe(ctx, o.metrics, MetricsOpPush, MetricsStageTotal, o.collection, start, 1, err != nil)
	return err
}

func (o *OutboundSyncer) handle(ctx context.Context, ev WriteEvent) error {
	decision := Classify(ev.Before, ev.After)

	switch decision.Action {
	case ActionSkip:
		o.logger.Debug("Skipping write event",
			"collection", o.collection, "record_id", ev.RecordID, "reason", decision.Reason)
		return nil

	case ActionArchiveExternal:
		return o.archive(ctx, ev)

	case ActionPropagate:
		return o.propagate(ctx, ev)

	default:
		return fmt.Errorf("unknown classifier action %q", decision.Action)
	}
}

func (o *OutboundSyncer) archive(ctx context.Context, ev WriteEvent) error {
	pageID := ev.Before.ExternalID
	start := time.Now()
	err := o.client.ArchivePage(ctx, pageID)
	observe(ctx, o.metrics, MetricsOpPush, MetricsStagePushArchive, o.collection, start, 1, err != nil)
	if err != nil {
		if IsRetryable(err) {
			return fmt.Errorf("failed to archive page %s: %w", pageID, err)
		}
		// The record is gone; nothing to mark. Log and stop.
		o.appendErrorEvent(ctx, ev, pageID, err)
		o.logger.Error("Permanent failure archiving page for deleted record",
			"collection", o.collection, "record_id", ev.RecordID, "page_id", pageID, "error", err)
		return nil
	}
	o.logger.Info("Archived Notion page for deleted record",
		"collection", o.collection, "record_id", ev.RecordID, "page_id", pageID)
	return nil
}

func (o *OutboundSyncer) propagate(ctx context.Context, ev WriteEvent) error {
	rec := ev.After

	// Last-writer-wins over wall clocks: when Notion was edited after the
	// app's change, Notion keeps the content and the record is parked in
	// conflict until cleared.
	if Resolve(rec.ExternalLastEdited, rec.UpdatedAt) == ExternalWins {
		return o.recordConflict(ctx, ev, rec)
	}

	props, err := o.mapper.ToProperties(rec)
	if err != nil {
		// Schema errors are always permanent.
		return o.permanentFailure(ctx, ev, rec.ExternalID, err)
	}

	page, err := o.push(ctx, rec, props)
	if err != nil {
		if IsRetryable(err) {
			// No state mutation: the redelivered event re-runs the whole
			// machine and the idempotency lookup absorbs any partial work.
			return fmt.Errorf("failed to push record %s/%s: %w", o.collection, rec.ID, err)
		}
		return o.permanentFailure(ctx, ev, rec.ExternalID, err)
	}

	start := time.Now()
	err = o.store.ApplySyncResult(ctx, o.collection, rec.ID, page.ID, page.LastEditedTime)
	observe(ctx, o.metrics, MetricsOpPush, MetricsStagePushWriteback, o.collection, start, 1, err != nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Record deleted mid-flight; the delete event will archive the page.
			return nil
		}
		return fmt.Errorf("failed to write back sync result for %s/%s: %w", o.collection, rec.ID, err)
	}

	o.logger.Info("Pushed record to Notion",
		"collection", o.collection, "record_id", rec.ID, "page_id", page.ID)
	return nil
}

// push updates the existing page, or creates one after the idempotency
// lookup by internal record id.
func (o *OutboundSyncer) push(ctx context.Context, rec *Record, props map[string]PropertyValue) (*Page, error) {
	if rec.ExternalID != "" {
		start := time.Now()
		page, err := o.client.UpdatePage(ctx, rec.ExternalID, props)
		observe(ctx, o.metrics, MetricsOpPush, MetricsStagePushUpdate, o.collection, start, 1, err != nil)
		return page, err
	}

	// A retried event may have created the page before the write-back
	// landed. Reuse it instead of creating a duplicate.
	existing, err := o.client.FindPageByRecordID(ctx, o.databaseID, o.schema.RecordIDProperty, rec.ID.String())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		o.logger.Debug("Idempotency lookup found existing page",
			"collection", o.collection, "record_id", rec.ID, "page_id", existing.ID)
		start := time.Now()
		page, err := o.client.UpdatePage(ctx, existing.ID, props)
		observe(ctx, o.metrics, MetricsOpPush, MetricsStagePushUpdate, o.collection, start, 1, err != nil)
		return page, err
	}

	start := time.Now()
	page, err := o.client.CreatePage(ctx, o.databaseID, props)
	observe(ctx, o.metrics, MetricsOpPush, MetricsStagePushCreate, o.collection, start, 1, err != nil)
	return page, err
}

// recordConflict marks the record and appends a conflict event. Re-running
// the same event after redelivery classifies as skip (status is already
// conflict), so the resolution is applied at most once.
func (o *OutboundSyncer) recordConflict(ctx context.Context, ev WriteEvent, rec *Record) error {
	o.logger.Warn("Concurrent edit conflict, Notion wins",
		"collection", o.collection, "record_id", rec.ID,
		"notion_time", rec.ExternalLastEdited, "app_time", rec.UpdatedAt)

	if err := o.store.MarkConflict(ctx, o.collection, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to mark conflict for %s/%s: %w", o.collection, rec.ID, err)
	}

	recordID := rec.ID
	logErr := o.events.AppendEvent(ctx, SyncEvent{
		Collection: o.collection,
		RecordID:   &recordID,
		ExternalID: rec.ExternalID,
		Direction:  DirectionAppToNotion,
		Kind:       EventKindConflict,
		Detail: map[string]any{
			"winner":      "notion",
			"notion_time": rec.ExternalLastEdited.UTC().Format(time.RFC3339Nano),
			"app_time":    rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if logErr != nil {
		o.logger.Error("Failed to append conflict event",
			"collection", o.collection, "record_id", rec.ID, "error", logErr)
	}
	return nil
}

// permanentFailure parks the record in conflict and logs the cause. Not
// retried.
func (o *OutboundSyncer) permanentFailure(ctx context.Context, ev WriteEvent, externalID string, cause error) error {
	o.logger.Error("Permanent sync failure",
		"collection", o.collection, "record_id", ev.RecordID, "error", cause)

	if err := o.store.MarkConflict(ctx, o.collection, ev.RecordID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to mark conflict for %s/%s: %w", o.collection, ev.RecordID, err)
	}
	o.appendErrorEvent(ctx, ev, externalID, cause)
	return nil
}

func (o *OutboundSyncer) appendErrorEvent(ctx context.Context, ev WriteEvent, externalID string, cause error) {
	recordID := ev.RecordID
	detail := map[string]any{"error": cause.Error()}
	var apiErr *APIError
	if errors.As(cause, &apiErr) {
		detail["status"] = apiErr.StatusCode
		if apiErr.Code != "" {
			detail["code"] = apiErr.Code
		}
	}
	logEv := SyncEvent{
		Collection: o.collection,
		RecordID:   &recordID,
		ExternalID: externalID,
		Direction:  DirectionAppToNotion,
		Kind:       EventKindError,
		Detail:     detail,
	}
	if err := o.events.AppendEvent(ctx, logEv); err != nil {
		o.logger.Error("Failed to append sync error event",
			"collection", o.collection, "record_id", ev.RecordID, "error", err)
	}
}
