// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies which side last wrote the authoritative content of a record.
type Source string

const (
	SourceApp      Source = "app"
	SourceExternal Source = "notion"
)

// SyncStatus tracks the outbound sync state of a record.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSynced   SyncStatus = "synced"
	StatusConflict SyncStatus = "conflict"
)

// Direction of a sync operation, recorded on sync events.
type Direction string

const (
	DirectionAppToNotion Direction = "app_to_notion"
	DirectionNotionToApp Direction = "notion_to_app"
)

// Record is a tracked document (a workout or a transaction): domain fields
// plus synchronization metadata.
//
// Invariants:
//   - ExternalID non-empty implies the record has been pushed outward at
//     least once.
//   - A record with StatusConflict is never re-pushed until the conflict is
//     cleared explicitly.
type Record struct {
	ID         uuid.UUID      `json:"id"`
	Collection string         `json:"collection"`
	Fields     map[string]any `json:"fields"`

	Source     Source     `json:"source"`
	SyncStatus SyncStatus `json:"sync_status"`

	// ExternalID is a weak reference to the Notion page mirroring this
	// record. Used for lookup only, not ownership.
	ExternalID string `json:"external_id,omitempty"`

	// ExternalLastEdited is the last known modification time on the Notion
	// side, captured on every successful push and poll.
	ExternalLastEdited *time.Time `json:"external_last_edited,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy. Write events carry snapshots, not live records.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Fields != nil {
		cp.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			cp.Fields[k] = v
		}
	}
	if r.ExternalLastEdited != nil {
		t := *r.ExternalLastEdited
		cp.ExternalLastEdited = &t
	}
	return &cp
}

// WriteEvent is a write-trigger snapshot pair delivered to the outbound
// handler. Before is nil on create, After is nil on delete.
type WriteEvent struct {
	EventID    uuid.UUID
	Collection string
	RecordID   uuid.UUID
	Before     *Record
	After      *Record
	Attempt    int
}

// PollState is the per-collection inbound watermark. LastPolledAt is
// monotonically non-decreasing and always set to poll-start time.
type PollState struct {
	Collection   string    `json:"collection"`
	LastPolledAt time.Time `json:"last_polled_at"`
}

// Sync event kinds.
const (
	EventKindError      = "error"
	EventKindConflict   = "conflict"
	EventKindDeadLetter = "dead_letter"
)

// SyncEvent is an append-only diagnostic entry describing an error or a
// resolved conflict encountered during sync. Never mutated after creation and
// never consulted for control flow.
type SyncEvent struct {
	ID         int64          `json:"id"`
	Collection string         `json:"collection"`
	RecordID   *uuid.UUID     `json:"record_id,omitempty"`
	ExternalID string         `json:"external_id,omitempty"`
	Direction  Direction      `json:"direction"`
	Kind       string         `json:"kind"`
	Detail     map[string]any `json:"detail"`
	CreatedAt  time.Time      `json:"created_at"`
}

// CollectionStatus is the aggregate view surfaced to the UI layer.
type CollectionStatus struct {
	Collection    string     `json:"collection"`
	PendingCount  int        `json:"pending_count"`
	ConflictCount int        `json:"conflict_count"`
	LastPolledAt  *time.Time `json:"last_polled_at,omitempty"`
}
