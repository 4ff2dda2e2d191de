// Package project 将事件日志 (+ 权威运行快照) 折叠为视图模型。
//
// 所有投影均为纯函数: 不持有状态, 每次按需全量重算 (日志有界, 代价可控)。
package project

import (
	"time"

	"github.com/contentdesk/worksync/internal/event"
)

// Status 运行的派生状态。
type Status string

const (
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// statusFor 阶段 → 派生状态的固定映射。
func statusFor(phase event.Phase) Status {
	switch phase {
	case event.PhaseWaitingInput:
		return StatusWaitingInput
	case event.PhaseCompleted:
		return StatusDone
	case event.PhaseFailed:
		return StatusFailed
	case event.PhaseCancelled:
		return StatusCancelled
	default:
		return StatusRunning
	}
}

// ToolRunView 运行内工具执行的展示条目。
type ToolRunView struct {
	ToolName string `json:"toolName"`
	Status   string `json:"status"` // "queued" | "running" | "done"
}

// Details 运行的展示聚合。
type Details struct {
	ToolsDone    int      `json:"toolsDone"`
	ToolsTotal   int      `json:"toolsTotal"`
	RunningTools []string `json:"runningTools,omitempty"`
	LastOutput   string   `json:"lastOutput,omitempty"`
}

// Metric 工具输出提炼出的结构化指标。
type Metric struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// Decision 待处理审批 (作用域: 所属 run)。
type Decision struct {
	ID       string   `json:"id"`
	RunID    string   `json:"runId"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Default  string   `json:"default,omitempty"`
	Blocking bool     `json:"blocking,omitempty"`
}

// Run 后台运行的视图模型。
type Run struct {
	ID         string        `json:"id"`
	Phase      event.Phase   `json:"phase"`
	Status     Status        `json:"status"`
	Progress   int           `json:"progress"` // 0–100
	Stage      string        `json:"stage"`
	ToolRuns   []ToolRunView `json:"toolRuns,omitempty"`
	Details    Details       `json:"details"`
	Metrics    []Metric      `json:"metrics,omitempty"`
	Highlights []string      `json:"highlights,omitempty"`
	Approvals  []Decision    `json:"approvals,omitempty"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// FeedItem 活动流条目: 规范事件的单向只读投影, 从不被修改或合并。
type FeedItem struct {
	ID          string      `json:"id"`
	At          time.Time   `json:"at"`
	Kind        event.Kind  `json:"kind"`
	Level       event.Level `json:"level"`
	RunID       string      `json:"runId,omitempty"`
	Text        string      `json:"text"`
	ActionLabel string      `json:"actionLabel,omitempty"`
}
