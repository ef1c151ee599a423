// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	later := base.Add(time.Minute)

	tests := []struct {
		name     string
		external *time.Time
		app      time.Time
		want     Resolution
	}{
		{"external newer wins", &later, base, ExternalWins},
		{"app newer, no conflict", &base, later, NoConflict},
		{"equal timestamps, app wins", &base, base, NoConflict},
		{"no external timestamp", nil, base, NoConflict},
		{"no app timestamp", &later, time.Time{}, NoConflict},
		{"neither timestamp", nil, time.Time{}, NoConflict},
		{"external newer by a nanosecond", timePtr(base.Add(time.Nanosecond)), base, ExternalWins},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Resolve(tt.external, tt.app))
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }
