package view

import (
	"testing"

	"github.com/multi-agent/runview/internal/protocol"
)

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "00:00"},
		{61, "01:01"},
		{3669, "61:09"},
		{-5, "00:00"},
		{599, "09:59"},
	}
	for _, tc := range cases {
		if got := FormatElapsed(tc.seconds); got != tc.want {
			t.Fatalf("FormatElapsed(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestClassifyActivity(t *testing.T) {
	cases := []struct {
		name         string
		status       protocol.RunStatus
		sendInFlight bool
		streaming    bool
		hasRows      bool
		want         Activity
	}{
		{"empty workspace", protocol.StatusIdle, false, false, false, ActivityIdle},
		{"send in flight", protocol.StatusIdle, true, false, false, ActivityThinking},
		{"running without stream", protocol.StatusRunning, false, false, true, ActivityThinking},
		{"streaming text", protocol.StatusRunning, false, true, true, ActivityResponding},
		{"canceled with content", protocol.StatusCanceled, false, false, true, ActivityStopped},
		{"canceled empty run", protocol.StatusCanceled, false, false, false, ActivityIdle},
		{"errored run", protocol.StatusError, false, false, true, ActivityStopped},
		{"completed run", protocol.StatusCompleted, false, false, true, ActivityIdle},
	}
	for _, tc := range cases {
		got := ClassifyActivity(tc.status, tc.sendInFlight, tc.streaming, tc.hasRows)
		if got != tc.want {
			t.Fatalf("%s: ClassifyActivity = %s, want %s", tc.name, got, tc.want)
		}
	}
}
