// runs.go — 运行投影: 权威快照模式 + 日志回退模式。
package project

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/eventlog"
	"github.com/contentdesk/worksync/internal/studio"
	"github.com/contentdesk/worksync/pkg/util"
)

const (
	// fallbackRecencyWindow 回退模式忽略更旧的事件。
	fallbackRecencyWindow = 45 * time.Minute
	// fallbackMaxRuns 回退模式合成运行的上限。
	fallbackMaxRuns = 8
)

// 进度固定单调映射: queued=8, planning=20, tools=32..88 (按工具完成比缩放),
// writing=92, waiting_input=96, 终态=100。
const (
	progressQueued    = 8
	progressPlanning  = 20
	progressToolsLow  = 32
	progressToolsHigh = 88
	progressWriting   = 92
	progressWaiting   = 96
	progressTerminal  = 100
)

// Runs 投影运行列表。
//
// 快照非空 → 权威模式: 快照为准, 阶段/最新消息由日志补充。
// 快照为空 → 回退模式: 纯日志聚合 (有近期窗口与数量上限)。
func Runs(snapshot []studio.ActiveRun, log eventlog.Log, now time.Time) []Run {
	if len(snapshot) > 0 {
		return authoritativeRuns(snapshot, log)
	}
	return fallbackRuns(log, now)
}

// ========================================
// 权威模式
// ========================================

func authoritativeRuns(snapshot []studio.ActiveRun, log eventlog.Log) []Run {
	runs := make([]Run, 0, len(snapshot))
	for _, ar := range snapshot {
		runs = append(runs, projectActiveRun(ar, log))
	}
	return runs
}

func projectActiveRun(ar studio.ActiveRun, log eventlog.Log) Run {
	latest, hasLatest := log.Latest(func(e event.CanonicalEvent) bool { return e.RunID == ar.ID })

	phase, ambiguous := phaseFromStatus(ar.Status)
	if ambiguous && hasLatest && latest.Phase.Valid() {
		phase = latest.Phase
	}

	toolViews, done, total, running := summarizeToolRuns(ar.ToolRuns)

	run := Run{
		ID:        ar.ID,
		Phase:     phase,
		Status:    statusFor(phase),
		Progress:  progressFor(phase, done, total),
		Stage:     stageFor(phase, running, ar.StageHint),
		ToolRuns:  toolViews,
		UpdatedAt: ar.UpdatedAt,
		Details: Details{
			ToolsDone:    done,
			ToolsTotal:   total,
			RunningTools: running,
		},
	}
	if hasLatest {
		if run.UpdatedAt.Before(latest.CreatedAt) {
			run.UpdatedAt = latest.CreatedAt
		}
		run.Details.LastOutput = latestToolOutput(log, ar.ID)
		run.Metrics, run.Highlights = extractMetrics(log.ForRun(ar.ID))
	}
	return run
}

// phaseFromStatus 快照状态 → 阶段。第二返回值表示状态语义含混
// (running 的子状态), 需要用日志最近事件细化。
func phaseFromStatus(status string) (event.Phase, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "pending":
		return event.PhaseQueued, false
	case "planning":
		return event.PhasePlanning, false
	case "tools", "executing":
		return event.PhaseTools, false
	case "writing":
		return event.PhaseWriting, false
	case "waiting_input", "waiting_for_user", "waiting":
		return event.PhaseWaitingInput, false
	case "done", "completed", "succeeded":
		return event.PhaseCompleted, false
	case "failed":
		return event.PhaseFailed, false
	case "cancelled", "canceled":
		return event.PhaseCancelled, false
	case "running", "active", "in_progress":
		return event.PhasePlanning, true
	default:
		// 未知状态按 "运行中/规划" 处理, 交由日志细化
		return event.PhasePlanning, true
	}
}

func summarizeToolRuns(toolRuns []studio.ToolRun) (views []ToolRunView, done, total int, running []string) {
	for _, tr := range toolRuns {
		status := strings.ToLower(strings.TrimSpace(tr.Status))
		switch status {
		case "done":
			done++
		case "running":
			running = append(running, tr.ToolName)
		}
		views = append(views, ToolRunView{ToolName: tr.ToolName, Status: status})
	}
	total = len(toolRuns)
	return views, done, total, running
}

// progressFor 固定单调进度映射。零工具运行按 1 计, 避免除零。
func progressFor(phase event.Phase, toolsDone, toolsTotal int) int {
	switch phase {
	case event.PhaseQueued:
		return progressQueued
	case event.PhasePlanning:
		return progressPlanning
	case event.PhaseTools:
		if toolsTotal < 1 {
			toolsTotal = 1
		}
		toolsDone = util.ClampInt(toolsDone, 0, toolsTotal)
		span := progressToolsHigh - progressToolsLow
		return progressToolsLow + span*toolsDone/toolsTotal
	case event.PhaseWriting:
		return progressWriting
	case event.PhaseWaitingInput:
		return progressWaiting
	default:
		return progressTerminal
	}
}

// stageLabels 阶段 → 人类可读标签。
var stageLabels = map[event.Phase]string{
	event.PhaseQueued:       "Queued",
	event.PhasePlanning:     "Planning the work",
	event.PhaseTools:        "Running tools",
	event.PhaseWriting:      "Writing the draft",
	event.PhaseWaitingInput: "Waiting for your decision",
	event.PhaseCompleted:    "Completed",
	event.PhaseFailed:       "Failed",
	event.PhaseCancelled:    "Cancelled",
}

// stageFor 阶段标签, 工具在途时覆盖为 "Running {toolNames}"。
func stageFor(phase event.Phase, runningTools []string, hint string) string {
	if phase == event.PhaseTools && len(runningTools) > 0 {
		return "Running " + strings.Join(runningTools, ", ")
	}
	if label, ok := stageLabels[phase]; ok {
		return label
	}
	return util.FirstNonEmpty(hint, "Working")
}

// latestToolOutput 该 run 最近一条工具输出摘要。
func latestToolOutput(log eventlog.Log, runID string) string {
	ev, ok := log.Latest(func(e event.CanonicalEvent) bool {
		return e.RunID == runID && e.Kind == event.KindToolOutput
	})
	if !ok {
		return ""
	}
	return util.Truncate(strings.TrimSpace(ev.Message), 140)
}

// ========================================
// 指标/亮点提炼
// ========================================

// extractMetrics 从工具输出 payload 提炼结构化指标与命名实体亮点。
func extractMetrics(events []event.CanonicalEvent) ([]Metric, []string) {
	var metrics []Metric
	var highlights []string
	seen := map[string]struct{}{}

	for _, ev := range events {
		if ev.Kind != event.KindToolOutput || len(ev.Payload) == 0 {
			continue
		}
		for _, key := range []string{"records", "results", "pages", "items"} {
			if n, ok := payloadInt(ev.Payload, key); ok && n > 0 {
				metrics = append(metrics, Metric{Label: metricLabel(ev.ToolName, key), Value: n})
			}
		}
		for _, key := range []string{"entities", "topics"} {
			for _, name := range payloadStrings(ev.Payload, key) {
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				highlights = append(highlights, name)
			}
		}
	}
	return metrics, highlights
}

func metricLabel(toolName, key string) string {
	if toolName == "" {
		return key
	}
	return fmt.Sprintf("%s %s", toolName, key)
}

func payloadInt(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func payloadStrings(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// ========================================
// 回退模式 (快照为空, 纯日志聚合)
// ========================================

func fallbackRuns(log eventlog.Log, now time.Time) []Run {
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-fallbackRecencyWindow)

	type group struct {
		events []event.CanonicalEvent
		latest event.CanonicalEvent
	}
	groups := map[string]*group{}
	for _, ev := range log {
		if ev.RunID == "" || ev.CreatedAt.Before(cutoff) {
			continue
		}
		g := groups[ev.RunID]
		if g == nil {
			g = &group{}
			groups[ev.RunID] = g
		}
		g.events = append(g.events, ev)
		g.latest = ev // 日志本身有序, 最后一条即最新
	}

	runs := make([]Run, 0, len(groups))
	for runID, g := range groups {
		phase := g.latest.Phase
		if !phase.Valid() {
			phase = event.PhaseTools
		}
		toolViews, done, total, running := synthesizeToolRuns(g.events)
		runs = append(runs, Run{
			ID:        runID,
			Phase:     phase,
			Status:    statusFor(phase),
			Progress:  progressFor(phase, done, total),
			Stage:     stageFor(phase, running, ""),
			ToolRuns:  toolViews,
			UpdatedAt: g.latest.CreatedAt,
			Details: Details{
				ToolsDone:    done,
				ToolsTotal:   total,
				RunningTools: running,
				LastOutput:   lastOutputOf(g.events),
			},
		})
	}

	// 最近更新优先, 超过上限截断
	sort.Slice(runs, func(i, j int) bool { return runs[i].UpdatedAt.After(runs[j].UpdatedAt) })
	if len(runs) > fallbackMaxRuns {
		runs = runs[:fallbackMaxRuns]
	}
	return runs
}

// synthesizeToolRuns 从工具事件合成工具运行列表 (按 toolRunId 去重, 取末次状态)。
func synthesizeToolRuns(events []event.CanonicalEvent) (views []ToolRunView, done, total int, running []string) {
	type toolState struct {
		name   string
		status string
	}
	order := []string{}
	states := map[string]*toolState{}

	for _, ev := range events {
		if ev.ToolRunID == "" {
			continue
		}
		st := states[ev.ToolRunID]
		if st == nil {
			st = &toolState{name: ev.ToolName}
			states[ev.ToolRunID] = st
			order = append(order, ev.ToolRunID)
		}
		if st.name == "" {
			st.name = ev.ToolName
		}
		switch ev.Kind {
		case event.KindToolStarted:
			st.status = "running"
		case event.KindToolOutput, event.KindToolFailed:
			st.status = "done"
		}
	}

	for _, id := range order {
		st := states[id]
		if st.status == "" {
			st.status = "queued"
		}
		views = append(views, ToolRunView{ToolName: st.name, Status: st.status})
		switch st.status {
		case "done":
			done++
		case "running":
			running = append(running, st.name)
		}
	}
	return views, done, len(order), running
}

func lastOutputOf(events []event.CanonicalEvent) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == event.KindToolOutput {
			return util.Truncate(strings.TrimSpace(events[i].Message), 140)
		}
	}
	return ""
}
