package project

import (
	"testing"

	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/studio"
)

func decisionEvent(id string, seq int64, runID string, decisions []any) event.CanonicalEvent {
	ev := logEvent(id, seq, runID, event.KindDecisionRequired, event.PhaseWaitingInput)
	ev.Payload = map[string]any{"decisions": decisions}
	return ev
}

func waitingRun(id string) studio.ActiveRun {
	return studio.ActiveRun{ID: id, Status: "waiting_for_user", UpdatedAt: testNow}
}

func TestDecisions_Basic(t *testing.T) {
	log := mergeAll(decisionEvent("e1", 1, "r1", []any{
		map[string]any{
			"id":      "d1",
			"prompt":  "Publish the draft?",
			"options": []any{"Publish", "Hold"},
			"default": "Hold",
		},
	}))

	got := Decisions(log, []studio.ActiveRun{waitingRun("r1")})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	d := got[0]
	if d.ID != "d1" || d.RunID != "r1" || d.Prompt != "Publish the draft?" {
		t.Errorf("decision = %+v", d)
	}
	if len(d.Options) != 2 || d.Default != "Hold" {
		t.Errorf("options = %v default = %q", d.Options, d.Default)
	}
}

// TestDecisions_ScopedToWaitingRuns 非等待用户的运行, 其 decision 绝不出现。
func TestDecisions_ScopedToWaitingRuns(t *testing.T) {
	log := mergeAll(decisionEvent("e1", 1, "r1", []any{
		map[string]any{"id": "d1", "prompt": "Continue?", "options": []any{"Yes"}},
	}))

	// r1 的权威状态是 tools, 不合格
	got := Decisions(log, []studio.ActiveRun{{ID: "r1", Status: "tools", UpdatedAt: testNow}})
	if len(got) != 0 {
		t.Errorf("decisions leaked for non-waiting run: %+v", got)
	}

	// 快照为空 → 无合格运行 → 无 decision
	if got := Decisions(log, nil); len(got) != 0 {
		t.Errorf("decisions projected without authoritative snapshot: %+v", got)
	}
}

// TestDecisions_ObjectOptionShape 选项接受 {value,label} 形态。
func TestDecisions_ObjectOptionShape(t *testing.T) {
	log := mergeAll(decisionEvent("e1", 1, "r1", []any{
		map[string]any{
			"id":     "d1",
			"label":  "Pick a tone",
			"options": []any{
				map[string]any{"value": "formal", "label": "Formal"},
				map[string]any{"value": "casual"},
			},
		},
	}))

	got := Decisions(log, []studio.ActiveRun{waitingRun("r1")})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Options[0] != "Formal" || got[0].Options[1] != "casual" {
		t.Errorf("Options = %v", got[0].Options)
	}
}

// TestDecisions_InvalidBlocksSilentlyDropped 校验失败的块静默剔除, 不报错。
func TestDecisions_InvalidBlocksSilentlyDropped(t *testing.T) {
	log := mergeAll(decisionEvent("e1", 1, "r1", []any{
		map[string]any{"id": "", "prompt": "no id", "options": []any{"a"}},
		map[string]any{"id": "d2", "prompt": "", "options": []any{"a"}},
		map[string]any{"id": "d3", "prompt": "no options", "options": []any{}},
		"not even a map",
		map[string]any{"id": "d5", "prompt": "valid", "options": []any{"ok"}},
	}))

	got := Decisions(log, []studio.ActiveRun{waitingRun("r1")})
	if len(got) != 1 || got[0].ID != "d5" {
		t.Errorf("got %+v, want only d5", got)
	}
}

// TestDecisions_DedupeByRunAndID 同一 (runId, decisionId) 只出现一次。
func TestDecisions_DedupeByRunAndID(t *testing.T) {
	block := map[string]any{"id": "d1", "prompt": "Again?", "options": []any{"Yes"}}
	log := mergeAll(
		decisionEvent("e1", 1, "r1", []any{block}),
		decisionEvent("e2", 2, "r1", []any{block}),
	)

	got := Decisions(log, []studio.ActiveRun{waitingRun("r1")})
	if len(got) != 1 {
		t.Errorf("len = %d, want 1 after dedupe", len(got))
	}
}

func TestAttachApprovals(t *testing.T) {
	runs := []Run{
		{ID: "r1", Phase: event.PhaseWaitingInput},
		{ID: "r2", Phase: event.PhaseTools},
	}
	decisions := []Decision{
		{ID: "d1", RunID: "r1", Prompt: "p", Options: []string{"a"}},
		{ID: "d2", RunID: "r2", Prompt: "p", Options: []string{"a"}},
	}

	runs = AttachApprovals(runs, decisions)
	if len(runs[0].Approvals) != 1 {
		t.Errorf("r1 approvals = %+v, want 1", runs[0].Approvals)
	}
	// 非 waiting_input 的运行不挂载
	if runs[1].Approvals != nil {
		t.Errorf("r2 approvals = %+v, want nil", runs[1].Approvals)
	}
}
