// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import "time"

// Resolution is the outcome of comparing both sides' last-modified times.
type Resolution string

const (
	NoConflict   Resolution = "no_conflict"
	ExternalWins Resolution = "external_wins"
)

// Resolve applies the last-writer-wins rule over wall-clock timestamps from
// the two systems: the external side wins only when its last-edited time is
// strictly after the app's. Absent timestamps on either side mean no
// conflict. Equal timestamps resolve to no conflict (app wins) by virtue of
// the strict comparison; see DESIGN.md for the tie-break decision.
func Resolve(externalLastEdited *time.Time, appUpdatedAt time.Time) Resolution {
	if externalLastEdited == nil || appUpdatedAt.IsZero() {
		return NoConflict
	}
	if externalLastEdited.After(appUpdatedAt) {
		return ExternalWins
	}
	return NoConflict
}
