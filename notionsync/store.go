// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordStore is the document-store surface the sync engine consumes.
// Implementations must notify the registered WriteNotifier on every record
// write, including sync-metadata write-backs: the write-trigger stream is
// how the outbound handler observes changes, and the classifier depends on
// seeing its own echoes.
type RecordStore interface {
	// Get returns the record by id. ErrNotFound when absent.
	Get(ctx context.Context, collection string, id uuid.UUID) (*Record, error)

	// GetByExternalID finds the record mirroring a Notion page.
	// ErrNotFound when no record references the page.
	GetByExternalID(ctx context.Context, collection, externalID string) (*Record, error)

	// Save inserts or fully replaces a record. Last writer wins at the
	// storage layer; the caller is responsible for setting the sync
	// metadata appropriately.
	Save(ctx context.Context, rec *Record) error

	// Delete removes the record. Deleting triggers archival (not deletion)
	// of the external counterpart downstream.
	Delete(ctx context.Context, collection string, id uuid.UUID) error

	// ApplySyncResult writes back the outcome of a successful push:
	// sync_status=synced, the page id, and the page's last-edited time.
	// Domain fields and updated_at are left untouched.
	ApplySyncResult(ctx context.Context, collection string, id uuid.UUID, externalID string, lastEdited time.Time) error

	// MarkConflict sets sync_status=conflict. The record is not re-pushed
	// until the conflict is cleared.
	MarkConflict(ctx context.Context, collection string, id uuid.UUID) error

	// Counts returns the aggregate pending and conflict counts.
	Counts(ctx context.Context, collection string) (pending, conflict int, err error)
}

// PollStateStore persists the inbound poll watermark per collection.
type PollStateStore interface {
	// GetPollState returns the stored watermark, or nil on first run.
	GetPollState(ctx context.Context, collection string) (*PollState, error)

	// AdvancePollState persists the watermark. Implementations must keep it
	// monotonically non-decreasing.
	AdvancePollState(ctx context.Context, collection string, lastPolledAt time.Time) error
}

// EventLog is the append-only sync diagnostics log.
type EventLog interface {
	AppendEvent(ctx context.Context, ev SyncEvent) error
}

// WriteNotifier receives a {before, after} snapshot pair for every record
// write. Before is nil on create, after is nil on delete.
type WriteNotifier interface {
	NotifyWrite(collection string, before, after *Record)
}

// WriteNotifierFunc adapts a function to the WriteNotifier interface.
type WriteNotifierFunc func(collection string, before, after *Record)

func (f WriteNotifierFunc) NotifyWrite(collection string, before, after *Record) {
	f(collection, before, after)
}
