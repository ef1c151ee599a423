// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements RecordStore, PollStateStore, and EventLog on PostgreSQL.
// Record writes read the before-image inside the same transaction and emit a
// {before, after} snapshot pair to the registered notifier after commit.
type PGStore struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	notifier WriteNotifier
}

func NewPGStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PGStore{pool: pool, logger: logger}
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize tracker schema: %w", err)
	}
	return s, nil
}

// SetNotifier registers the write-trigger sink. Must be called before any
// writes are issued; not safe to swap concurrently with writes.
func (s *PGStore) SetNotifier(n WriteNotifier) {
	s.notifier = n
}

// Pool returns the underlying connection pool for advanced queries.
func (s *PGStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PGStore) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS tracker`,

		// 1) Tracked records: domain fields as JSON plus sync metadata
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS tracker.records (
			collection           TEXT        NOT NULL,
			id                   UUID        NOT NULL,
			fields               JSON        NOT NULL,
			source               TEXT        NOT NULL CHECK (source IN ('app','notion')),
			sync_status          TEXT        NOT NULL CHECK (sync_status IN ('pending','synced','conflict')),
			external_id          TEXT,
			external_last_edited TIMESTAMPTZ,
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)`,
		// Equality lookups by mirrored page id
		`CREATE UNIQUE INDEX IF NOT EXISTS records_external_id_idx
			ON tracker.records(collection, external_id) WHERE external_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS records_status_idx ON tracker.records(collection, sync_status)`,

		// 2) Per-collection inbound poll watermark
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS tracker.poll_state (
			collection     TEXT        PRIMARY KEY,
			last_polled_at TIMESTAMPTZ NOT NULL
		)`,

		// 3) Append-only sync diagnostics log
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS tracker.sync_events (
			id          BIGSERIAL   PRIMARY KEY,
			collection  TEXT        NOT NULL,
			record_id   UUID,
			external_id TEXT,
			direction   TEXT        NOT NULL CHECK (direction IN ('app_to_notion','notion_to_app')),
			kind        TEXT        NOT NULL CHECK (kind IN ('error','conflict','dead_letter')),
			detail      JSON        NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS sync_events_collection_idx ON tracker.sync_events(collection, created_at)`,
	}

	for i, migration := range migrations {
		s.logger.Debug("Running tracker migration", "step", i+1, "total", len(migrations))
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("tracker migration %d failed: %w", i+1, err)
		}
	}
	s.logger.Info("Tracker schema initialized", "migrations", len(migrations))
	return nil
}

const recordColumns = `collection, id, fields, source, sync_status, external_id, external_last_edited, updated_at, created_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec        Record
		fieldsJSON []byte
		externalID *string
	)
	err := row.Scan(&rec.Collection, &rec.ID, &fieldsJSON, &rec.Source, &rec.SyncStatus,
		&externalID, &rec.ExternalLastEdited, &rec.UpdatedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if externalID != nil {
		rec.ExternalID = *externalID
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode record fields: %w", err)
	}
	return &rec, nil
}

func (s *PGStore) Get(ctx context.Context, collection string, id uuid.UUID) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM tracker.records WHERE collection = $1 AND id = $2`,
		collection, id)
	return scanRecord(row)
}

func (s *PGStore) GetByExternalID(ctx context.Context, collection, externalID string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM tracker.records WHERE collection = $1 AND external_id = $2`,
		collection, externalID)
	return scanRecord(row)
}

func (s *PGStore) Save(ctx context.Context, rec *Record) error {
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode record fields: %w", err)
	}
	var externalID *string
	if rec.ExternalID != "" {
		externalID = &rec.ExternalID
	}

	var before *Record
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		before, err = s.lockRecord(ctx, tx, rec.Collection, rec.ID)
		if err != nil {
			return err
		}
		if before == nil {
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = rec.UpdatedAt
			}
		} else {
			rec.CreatedAt = before.CreatedAt
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO tracker.records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (collection, id) DO UPDATE SET
				fields = EXCLUDED.fields,
				source = EXCLUDED.source,
				sync_status = EXCLUDED.sync_status,
				external_id = EXCLUDED.external_id,
				external_last_edited = EXCLUDED.external_last_edited,
				updated_at = EXCLUDED.updated_at`,
			rec.Collection, rec.ID, fieldsJSON, rec.Source, rec.SyncStatus,
			externalID, rec.ExternalLastEdited, rec.UpdatedAt, rec.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save record %s/%s: %w", rec.Collection, rec.ID, err)
	}

	s.notify(rec.Collection, before, rec.Clone())
	return nil
}

func (s *PGStore) Delete(ctx context.Context, collection string, id uuid.UUID) error {
	var before *Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		before, err = s.lockRecord(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if before == nil {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `DELETE FROM tracker.records WHERE collection = $1 AND id = $2`, collection, id)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete record %s/%s: %w", collection, id, err)
	}

	s.notify(collection, before, nil)
	return nil
}

func (s *PGStore) ApplySyncResult(ctx context.Context, collection string, id uuid.UUID, externalID string, lastEdited time.Time) error {
	var before, after *Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		before, err = s.lockRecord(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if before == nil {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `
			UPDATE tracker.records
			SET sync_status = $3, external_id = $4, external_last_edited = $5
			WHERE collection = $1 AND id = $2`,
			collection, id, StatusSynced, externalID, lastEdited)
		if err != nil {
			return err
		}
		after = before.Clone()
		after.SyncStatus = StatusSynced
		after.ExternalID = externalID
		le := lastEdited
		after.ExternalLastEdited = &le
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to apply sync result for %s/%s: %w", collection, id, err)
	}

	s.notify(collection, before, after)
	return nil
}

func (s *PGStore) MarkConflict(ctx context.Context, collection string, id uuid.UUID) error {
	var before, after *Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		before, err = s.lockRecord(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if before == nil {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `
			UPDATE tracker.records SET sync_status = $3
			WHERE collection = $1 AND id = $2`,
			collection, id, StatusConflict)
		if err != nil {
			return err
		}
		after = before.Clone()
		after.SyncStatus = StatusConflict
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark conflict for %s/%s: %w", collection, id, err)
	}

	s.notify(collection, before, after)
	return nil
}

func (s *PGStore) Counts(ctx context.Context, collection string) (pending, conflict int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE sync_status = 'pending'),
			COUNT(*) FILTER (WHERE sync_status = 'conflict')
		FROM tracker.records WHERE collection = $1`, collection).Scan(&pending, &conflict)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count sync statuses for %s: %w", collection, err)
	}
	return pending, conflict, nil
}

func (s *PGStore) lockRecord(ctx context.Context, tx pgx.Tx, collection string, id uuid.UUID) (*Record, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM tracker.records WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id)
	rec, err := scanRecord(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (s *PGStore) notify(collection string, before, after *Record) {
	if s.notifier != nil {
		s.notifier.NotifyWrite(collection, before, after)
	}
}

// GetPollState implements PollStateStore.
func (s *PGStore) GetPollState(ctx context.Context, collection string) (*PollState, error) {
	var st PollState
	st.Collection = collection
	err := s.pool.QueryRow(ctx,
		`SELECT last_polled_at FROM tracker.poll_state WHERE collection = $1`,
		collection).Scan(&st.LastPolledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read poll state for %s: %w", collection, err)
	}
	return &st, nil
}

// AdvancePollState implements PollStateStore. GREATEST keeps the watermark
// monotonically non-decreasing even if a stale run finishes late.
func (s *PGStore) AdvancePollState(ctx context.Context, collection string, lastPolledAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracker.poll_state (collection, last_polled_at)
		VALUES ($1, $2)
		ON CONFLICT (collection) DO UPDATE
			SET last_polled_at = GREATEST(tracker.poll_state.last_polled_at, EXCLUDED.last_polled_at)`,
		collection, lastPolledAt)
	if err != nil {
		return fmt.Errorf("failed to advance poll state for %s: %w", collection, err)
	}
	return nil
}

// AppendEvent implements EventLog.
func (s *PGStore) AppendEvent(ctx context.Context, ev SyncEvent) error {
	detail := ev.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to encode sync event detail: %w", err)
	}
	var externalID *string
	if ev.ExternalID != "" {
		externalID = &ev.ExternalID
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tracker.sync_events (collection, record_id, external_id, direction, kind, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.Collection, ev.RecordID, externalID, ev.Direction, ev.Kind, detailJSON)
	if err != nil {
		return fmt.Errorf("failed to append sync event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest sync events for diagnostics.
func (s *PGStore) RecentEvents(ctx context.Context, collection string, limit int) ([]SyncEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, collection, record_id, external_id, direction, kind, detail, created_at
		FROM tracker.sync_events
		WHERE collection = $1
		ORDER BY id DESC
		LIMIT $2`, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync events for %s: %w", collection, err)
	}
	defer rows.Close()

	var events []SyncEvent
	for rows.Next() {
		var (
			ev         SyncEvent
			externalID *string
			detailJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Collection, &ev.RecordID, &externalID,
			&ev.Direction, &ev.Kind, &detailJSON, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if externalID != nil {
			ev.ExternalID = *externalID
		}
		if err := json.Unmarshal(detailJSON, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode sync event detail: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
