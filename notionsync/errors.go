// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by store lookups when no record matches.
	ErrNotFound = errors.New("record not found")

	// ErrPollInProgress is returned when a poll run is requested while a
	// previous run for the same collection has not finished.
	ErrPollInProgress = errors.New("poll already in progress")
)

// SchemaError reports a required field missing during mapping. Always
// permanent: the record is marked conflict and the error is logged, never
// retried.
type SchemaError struct {
	Collection string
	Field      string
	Reason     string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in %s: field %q %s", e.Collection, e.Field, e.Reason)
}

// APIError is a non-2xx response from the Notion API. StatusCode drives the
// retry classification; Code and Message are Notion's own error body fields.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion api error: status=%d message=%s", e.StatusCode, e.Message)
}
