package project

import (
	"testing"

	"github.com/contentdesk/worksync/internal/event"
)

// TestHasDrift_UntrackedInProgressRun 未跟踪的进行中运行 → 漂移。
func TestHasDrift_UntrackedInProgressRun(t *testing.T) {
	merged := []event.CanonicalEvent{
		logEvent("e1", 1, "r1", event.KindToolOutput, event.PhaseTools),
	}
	if !HasDrift(merged, map[string]struct{}{}) {
		t.Error("HasDrift = false, want true for untracked in-progress run")
	}
}

func TestHasDrift_TrackedRunNoDrift(t *testing.T) {
	merged := []event.CanonicalEvent{
		logEvent("e1", 1, "r1", event.KindToolOutput, event.PhaseTools),
	}
	tracked := map[string]struct{}{"r1": {}}
	if HasDrift(merged, tracked) {
		t.Error("HasDrift = true for already-tracked run")
	}
}

// TestHasDrift_TerminalPhasesIgnored 终态/排队事件不构成漂移。
func TestHasDrift_TerminalPhasesIgnored(t *testing.T) {
	cases := []struct {
		name  string
		kind  event.Kind
		phase event.Phase
	}{
		{"completed", event.KindRunCompleted, event.PhaseCompleted},
		{"failed", event.KindRunFailed, event.PhaseFailed},
		{"cancelled", event.KindRunCancelled, event.PhaseCancelled},
		{"queued", event.KindRunQueued, event.PhaseQueued},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			merged := []event.CanonicalEvent{logEvent("e1", 1, "rX", tc.kind, tc.phase)}
			if HasDrift(merged, map[string]struct{}{}) {
				t.Errorf("phase %s should not signal drift", tc.phase)
			}
		})
	}
}

// TestHasDrift_BranchLevelEventsIgnored 无 runId 的分支级事件不构成漂移。
func TestHasDrift_BranchLevelEventsIgnored(t *testing.T) {
	merged := []event.CanonicalEvent{
		logEvent("e1", 1, "", event.KindRunLog, event.PhaseTools),
	}
	if HasDrift(merged, map[string]struct{}{}) {
		t.Error("branch-level event should not signal drift")
	}
}

func TestTrackedSet(t *testing.T) {
	runs := []Run{{ID: "r1"}, {ID: "r2"}}
	set := TrackedSet(runs)
	if len(set) != 2 {
		t.Fatalf("len = %d, want 2", len(set))
	}
	if _, ok := set["r1"]; !ok {
		t.Error("r1 missing from tracked set")
	}
}
