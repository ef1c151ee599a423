// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

// Decision actions for a classified write event.
const (
	ActionPropagate       = "propagate"
	ActionSkip            = "skip"
	ActionArchiveExternal = "archive_external"
)

// Decision reasons (diagnostic only, never branched on downstream).
const (
	ReasonDeletedWithPage = "deleted_with_external_page"
	ReasonDeletedNoPage   = "deleted_without_external_page"
	ReasonEchoOrResolved  = "echo_or_resolved_conflict"
	ReasonNonAppSource    = "non_app_source"
	ReasonAppChange       = "app_change"
)

// Decision is the outcome of classifying one write event.
type Decision struct {
	Action string
	Reason string
}

// Classify decides what the outbound handler should do with a write event.
// Pure; the ordered first-match rules are the sole guard against infinite
// write-back loops (app write -> push -> sync-metadata write-back ->
// re-trigger -> must classify as skip).
func Classify(before, after *Record) Decision {
	// Deletion: archive the mirrored page if one exists.
	if after == nil {
		if before != nil && before.ExternalID != "" {
			return Decision{Action: ActionArchiveExternal, Reason: ReasonDeletedWithPage}
		}
		return Decision{Action: ActionSkip, Reason: ReasonDeletedNoPage}
	}

	// A conflicted record stays parked until an explicit edit resets it to
	// pending, whether or not it ever reached Notion: re-pushing a record
	// that conflicts (or permanently fails mapping) would loop on its own
	// conflict write-back. Synced echoes carry the page id from the
	// write-back. Both must come before the source check: write-backs keep
	// source=app.
	if after.SyncStatus == StatusConflict {
		return Decision{Action: ActionSkip, Reason: ReasonEchoOrResolved}
	}
	if after.ExternalID != "" && after.SyncStatus == StatusSynced {
		return Decision{Action: ActionSkip, Reason: ReasonEchoOrResolved}
	}

	// Writes applied by the inbound poller (or any other sync artifact).
	if after.Source != SourceApp {
		return Decision{Action: ActionSkip, Reason: ReasonNonAppSource}
	}

	return Decision{Action: ActionPropagate, Reason: ReasonAppChange}
}
