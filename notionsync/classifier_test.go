// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestClassify_DeletionWithExternalPage(t *testing.T) {
	before := workoutRecord(time.Now())
	before.ExternalID = "page-1"

	d := Classify(before, nil)
	require.Equal(t, ActionArchiveExternal, d.Action)
	require.Equal(t, ReasonDeletedWithPage, d.Reason)
}

func TestClassify_DeletionWithoutExternalPage(t *testing.T) {
	before := workoutRecord(time.Now())

	d := Classify(before, nil)
	require.Equal(t, ActionSkip, d.Action)
	require.Equal(t, ReasonDeletedNoPage, d.Reason)
}

func TestClassify_WritebackEchoIsSkipped(t *testing.T) {
	after := workoutRecord(time.Now())
	after.ExternalID = "page-1"
	after.SyncStatus = StatusSynced

	d := Classify(nil, after)
	require.Equal(t, ActionSkip, d.Action)
	require.Equal(t, ReasonEchoOrResolved, d.Reason)
}

func TestClassify_ResolvedConflictIsSkipped(t *testing.T) {
	after := workoutRecord(time.Now())
	after.ExternalID = "page-1"
	after.SyncStatus = StatusConflict

	d := Classify(nil, after)
	require.Equal(t, ActionSkip, d.Action)
	require.Equal(t, ReasonEchoOrResolved, d.Reason)
}

func TestClassify_ConflictWithoutExternalPageIsSkipped(t *testing.T) {
	// A record parked by a permanent mapping failure never reached Notion,
	// so it has no external id. It must still stay parked: propagating it
	// would re-fail, re-park, and loop on the conflict write-back.
	after := workoutRecord(time.Now())
	after.SyncStatus = StatusConflict

	d := Classify(nil, after)
	require.Equal(t, ActionSkip, d.Action)
	require.Equal(t, ReasonEchoOrResolved, d.Reason)
}

func TestClassify_PollerWriteIsSkipped(t *testing.T) {
	after := workoutRecord(time.Now())
	after.Source = SourceExternal
	after.SyncStatus = StatusPending

	d := Classify(nil, after)
	require.Equal(t, ActionSkip, d.Action)
	require.Equal(t, ReasonNonAppSource, d.Reason)
}

func TestClassify_AppChangePropagates(t *testing.T) {
	after := workoutRecord(time.Now())

	d := Classify(nil, after)
	require.Equal(t, ActionPropagate, d.Action)
	require.Equal(t, ReasonAppChange, d.Reason)

	// Re-push of an already-synced record (user edit marks it pending again).
	after.ExternalID = "page-1"
	after.SyncStatus = StatusPending
	d = Classify(nil, after)
	require.Equal(t, ActionPropagate, d.Action)
}

// Echo-loop prevention: for any synced record with an external id, the
// identical after-state must classify as skip no matter how often the
// trigger refires.
func TestClassify_SyncedAfterStateAlwaysSkips(t *testing.T) {
	after := &Record{
		ID:         uuid.New(),
		Collection: "transactions",
		Source:     SourceApp,
		SyncStatus: StatusSynced,
		ExternalID: "page-9",
		UpdatedAt:  time.Now(),
	}
	for i := 0; i < 3; i++ {
		d := Classify(after.Clone(), after.Clone())
		require.Equal(t, ActionSkip, d.Action)
	}
}
