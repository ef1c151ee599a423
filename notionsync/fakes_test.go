// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory RecordStore + PollStateStore + EventLog used by
// the unit tests. Mirrors the notifier contract of PGStore: every write
// emits a {before, after} snapshot pair.
type memStore struct {
	mu       sync.Mutex
	records  map[string]map[uuid.UUID]*Record
	cursors  map[string]time.Time
	events   []SyncEvent
	notifier WriteNotifier

	saveErr         error
	markConflictErr error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]map[uuid.UUID]*Record),
		cursors: make(map[string]time.Time),
	}
}

func (m *memStore) SetNotifier(n WriteNotifier) { m.notifier = n }

func (m *memStore) Get(_ context.Context, collection string, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[collection][id]; ok {
		return rec.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *memStore) GetByExternalID(_ context.Context, collection, externalID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records[collection] {
		if rec.ExternalID == externalID {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) Save(_ context.Context, rec *Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	if m.records[rec.Collection] == nil {
		m.records[rec.Collection] = make(map[uuid.UUID]*Record)
	}
	before := m.records[rec.Collection][rec.ID]
	stored := rec.Clone()
	m.records[rec.Collection][rec.ID] = stored
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		notifier.NotifyWrite(rec.Collection, before.Clone(), stored.Clone())
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, collection string, id uuid.UUID) error {
	m.mu.Lock()
	before, ok := m.records[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.records[collection], id)
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		notifier.NotifyWrite(collection, before.Clone(), nil)
	}
	return nil
}

func (m *memStore) ApplySyncResult(_ context.Context, collection string, id uuid.UUID, externalID string, lastEdited time.Time) error {
	m.mu.Lock()
	rec, ok := m.records[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	before := rec.Clone()
	rec.SyncStatus = StatusSynced
	rec.ExternalID = externalID
	le := lastEdited
	rec.ExternalLastEdited = &le
	after := rec.Clone()
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		notifier.NotifyWrite(collection, before, after)
	}
	return nil
}

func (m *memStore) MarkConflict(_ context.Context, collection string, id uuid.UUID) error {
	if m.markConflictErr != nil {
		return m.markConflictErr
	}
	m.mu.Lock()
	rec, ok := m.records[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	before := rec.Clone()
	rec.SyncStatus = StatusConflict
	after := rec.Clone()
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		notifier.NotifyWrite(collection, before, after)
	}
	return nil
}

func (m *memStore) Counts(_ context.Context, collection string) (pending, conflict int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records[collection] {
		switch rec.SyncStatus {
		case StatusPending:
			pending++
		case StatusConflict:
			conflict++
		}
	}
	return pending, conflict, nil
}

func (m *memStore) GetPollState(_ context.Context, collection string) (*PollState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.cursors[collection]
	if !ok {
		return nil, nil
	}
	return &PollState{Collection: collection, LastPolledAt: t}, nil
}

func (m *memStore) AdvancePollState(_ context.Context, collection string, lastPolledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.cursors[collection]; !ok || lastPolledAt.After(cur) {
		m.cursors[collection] = lastPolledAt
	}
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, ev SyncEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	ev.CreatedAt = time.Now()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) allRecords(collection string) []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, 0, len(m.records[collection]))
	for _, rec := range m.records[collection] {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (m *memStore) eventsOfKind(kind string) []SyncEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SyncEvent
	for _, ev := range m.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// fakeClient is a scripted WorkspaceClient.
type fakeClient struct {
	mu sync.Mutex

	// Query script: all changed pages in ascending last-edited order;
	// QueryChangedPages serves them pageSize at a time.
	changedPages []Page
	pageSize     int
	queryCalls   int
	queryAfter   []time.Time
	queryErr     error

	pages      map[string]*Page // by page id
	createErr  error
	updateErr  error
	archiveErr error
	findErr    error

	created  int
	updated  int
	archived []string

	lastEditedOnWrite time.Time
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pageSize:          100,
		pages:             make(map[string]*Page),
		lastEditedOnWrite: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeClient) QueryChangedPages(_ context.Context, _ string, after time.Time, cursor string) (*QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.queryCalls++
	f.queryAfter = append(f.queryAfter, after)

	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "cursor-%d", &start)
	}
	end := start + f.pageSize
	if end > len(f.changedPages) {
		end = len(f.changedPages)
	}
	result := &QueryResult{Pages: append([]Page(nil), f.changedPages[start:end]...)}
	if end < len(f.changedPages) {
		result.HasMore = true
		result.NextCursor = fmt.Sprintf("cursor-%d", end)
	}
	return result, nil
}

func (f *fakeClient) FindPageByRecordID(_ context.Context, _, property, recordID string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, page := range f.pages {
		if page.Archived {
			continue
		}
		if prop, ok := page.Properties[property]; ok && prop.PlainText() == recordID {
			cp := *page
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeClient) CreatePage(_ context.Context, _ string, properties map[string]PropertyValue) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	page := &Page{
		ID:             fmt.Sprintf("page-%d", len(f.pages)+1),
		LastEditedTime: f.lastEditedOnWrite,
		Properties:     properties,
	}
	f.pages[page.ID] = page
	cp := *page
	return &cp, nil
}

func (f *fakeClient) UpdatePage(_ context.Context, pageID string, properties map[string]PropertyValue) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated++
	page, ok := f.pages[pageID]
	if !ok {
		page = &Page{ID: pageID}
		f.pages[pageID] = page
	}
	page.Properties = properties
	page.LastEditedTime = f.lastEditedOnWrite
	cp := *page
	return &cp, nil
}

func (f *fakeClient) ArchivePage(_ context.Context, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archiveErr != nil {
		return f.archiveErr
	}
	f.archived = append(f.archived, pageID)
	if page, ok := f.pages[pageID]; ok {
		page.Archived = true
	}
	return nil
}

// Counter accessors for tests that race against dispatcher workers.

func (f *fakeClient) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeClient) updatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updated
}

func (f *fakeClient) archivedPages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.archived...)
}

// workoutRecord builds a pending app-side workout for tests.
func workoutRecord(updatedAt time.Time) *Record {
	return &Record{
		ID:         uuid.New(),
		Collection: "workouts",
		Fields: map[string]any{
			"exercise":  "Deadlift",
			"date":      "2026-08-01",
			"sets":      float64(3),
			"reps":      float64(5),
			"weight_kg": float64(120),
		},
		Source:     SourceApp,
		SyncStatus: StatusPending,
		UpdatedAt:  updatedAt,
		CreatedAt:  updatedAt,
	}
}
