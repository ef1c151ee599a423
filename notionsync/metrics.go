// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"context"
	"time"
)

const (
	MetricsOpPush = "push"
	MetricsOpPoll = "poll"

	MetricsStageTotal = "total"

	// Push stages.
	MetricsStagePushCreate    = "create"
	MetricsStagePushUpdate    = "update"
	MetricsStagePushArchive   = "archive"
	MetricsStagePushWriteback = "writeback"

	// Poll stages.
	MetricsStagePollQuery  = "query"
	MetricsStagePollUpsert = "upsert"
)

// StageTiming is one observed stage duration.
type StageTiming struct {
	Operation  string
	Stage      string
	Collection string
	Duration   time.Duration
	Count      int
	Error      bool
}

// StageMetricsRecorder receives stage timings from the sync engine. The
// default is a no-op; callers wire their own sink.
type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

// StageMetricsRecorderFunc adapts a function to StageMetricsRecorder.
type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

type noopMetrics struct{}

func (noopMetrics) ObserveStage(context.Context, StageTiming) {}

func observe(ctx context.Context, rec StageMetricsRecorder, op, stage, collection string, start time.Time, count int, errored bool) {
	if rec == nil {
		return
	}
	rec.ObserveStage(ctx, StageTiming{
		Operation:  op,
		Stage:      stage,
		Collection: collection,
		Duration:   time.Since(start),
		Count:      count,
		Error:      errored,
	})
}
