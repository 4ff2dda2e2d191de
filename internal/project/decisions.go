// decisions.go — 待审批投影: 仅限权威状态为等待用户的运行。
package project

import (
	"strings"

	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/eventlog"
	"github.com/contentdesk/worksync/internal/studio"
	"github.com/contentdesk/worksync/pkg/util"
)

// decisionScanWindow 只扫描日志最近这么多条事件中的 decisions 负载。
const decisionScanWindow = 160

// Decisions 投影待审批列表。
//
// 规则: 运行的权威状态必须是等待用户; 负载里的 decisions 数组逐条校验
// (label 与选项列表非空), 不合格的静默剔除 — 运行中途的半成品数据是常态,
// 不算错误。按 (runId, decisionId) 去重。
func Decisions(log eventlog.Log, snapshot []studio.ActiveRun) []Decision {
	eligible := map[string]struct{}{}
	for _, ar := range snapshot {
		if phase, _ := phaseFromStatus(ar.Status); phase == event.PhaseWaitingInput {
			eligible[ar.ID] = struct{}{}
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	window := log
	if len(window) > decisionScanWindow {
		window = window[len(window)-decisionScanWindow:]
	}

	var out []Decision
	seen := map[string]struct{}{}
	for _, ev := range window {
		if ev.RunID == "" {
			continue
		}
		if _, ok := eligible[ev.RunID]; !ok {
			continue
		}
		raw, ok := ev.Payload["decisions"].([]any)
		if !ok {
			continue
		}
		for _, item := range raw {
			d, ok := parseDecision(ev.RunID, item)
			if !ok {
				continue
			}
			key := d.RunID + "\x00" + d.ID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

// parseDecision 校验并解析单条 decision 块。不合格 → (zero, false)。
func parseDecision(runID string, item any) (Decision, bool) {
	block := util.ToMapAny(item)
	if len(block) == 0 {
		return Decision{}, false
	}

	id, _ := block["id"].(string)
	prompt := util.FirstNonEmpty(asString(block["prompt"]), asString(block["label"]))
	if strings.TrimSpace(id) == "" || prompt == "" {
		return Decision{}, false
	}

	options := parseOptions(block["options"])
	if len(options) == 0 {
		return Decision{}, false
	}

	d := Decision{
		ID:      strings.TrimSpace(id),
		RunID:   runID,
		Prompt:  prompt,
		Options: options,
	}
	if def := asString(block["default"]); def != "" {
		d.Default = def
	}
	if blocking, ok := block["blocking"].(bool); ok {
		d.Blocking = blocking
	}
	return d, true
}

// parseOptions 选项接受两种形态: 字符串或 {value,label}。
func parseOptions(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		switch v := item.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			label := util.FirstNonEmpty(asString(v["label"]), asString(v["value"]))
			if label != "" {
				out = append(out, label)
			}
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// AttachApprovals 将审批挂载到各自处于 waiting_input 的运行上。
func AttachApprovals(runs []Run, decisions []Decision) []Run {
	if len(decisions) == 0 {
		return runs
	}
	byRun := map[string][]Decision{}
	for _, d := range decisions {
		byRun[d.RunID] = append(byRun[d.RunID], d)
	}
	for i := range runs {
		if runs[i].Phase != event.PhaseWaitingInput {
			continue
		}
		runs[i].Approvals = byRun[runs[i].ID]
	}
	return runs
}
