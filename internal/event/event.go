// Package event 定义画布运行时事件的规范形态与归一化。
//
// 服务端事件经两条冗余通道到达 (推送通道 + 轮询通道), 新旧两套 schema 并存:
//   - legacy: 顶层 type/message/agentRunId/payloadJson
//   - v2: eventV2 信封 (顶层或嵌在 payloadJson 内), 字段权威
//
// 本包将两者归一为 CanonicalEvent; 归一化是纯函数且幂等。
package event

import (
	"encoding/json"
	"time"
)

// ========================================
// 枚举常量
// ========================================

// Phase 运行阶段 (固定生命周期枚举)。
type Phase string

const (
	PhaseQueued       Phase = "queued"
	PhasePlanning     Phase = "planning"
	PhaseTools        Phase = "tools"
	PhaseWriting      Phase = "writing"
	PhaseWaitingInput Phase = "waiting_input"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhaseCancelled    Phase = "cancelled"
)

// Terminal 阶段是否终态 (completed/failed/cancelled)。
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// InProgress 阶段是否代表运行中 (漂移检测关注的阶段集合)。
func (p Phase) InProgress() bool {
	switch p {
	case PhasePlanning, PhaseTools, PhaseWriting, PhaseWaitingInput:
		return true
	}
	return false
}

// Valid 是否为已知阶段。
func (p Phase) Valid() bool {
	switch p {
	case PhaseQueued, PhasePlanning, PhaseTools, PhaseWriting,
		PhaseWaitingInput, PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Level 事件级别。
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Kind 规范事件名 (点分格式)。
type Kind string

const (
	KindRunStarted       Kind = "run.started"
	KindRunPlanning      Kind = "run.planning"
	KindRunWriting       Kind = "run.writing"
	KindRunQueued        Kind = "run.queued"
	KindRunWaiting       Kind = "run.waiting"
	KindRunCompleted     Kind = "run.completed"
	KindRunFailed        Kind = "run.failed"
	KindRunCancelled     Kind = "run.cancelled"
	KindRunLog           Kind = "run.log"
	KindToolStarted      Kind = "tool.started"
	KindToolOutput       Kind = "tool.output"
	KindToolFailed       Kind = "tool.failed"
	KindDecisionRequired Kind = "decision.required"
)

// ========================================
// 规范事件
// ========================================

// CanonicalEvent 事件日志的原子单元。
//
// Seq 为 0 表示服务端未分配序列号, 排序回退到 CreatedAt。
type CanonicalEvent struct {
	ID          string         `json:"id"`
	Seq         int64          `json:"seq,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	Level       Level          `json:"level"`
	Phase       Phase          `json:"phase"`
	Kind        Kind           `json:"kind"`
	RunID       string         `json:"runId,omitempty"`
	ToolRunID   string         `json:"toolRunId,omitempty"`
	ToolName    string         `json:"toolName,omitempty"`
	TriggerType string         `json:"triggerType,omitempty"`
	Message     string         `json:"message,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// ========================================
// 原始事件 (两套 schema 的联合)
// ========================================

// EnvelopeV2 新版事件信封。出现时对
// runId/toolRunId/toolName/phase/kind/level/createdAt 权威。
type EnvelopeV2 struct {
	RunID     string `json:"runId"`
	ToolRunID string `json:"toolRunId,omitempty"`
	ToolName  string `json:"toolName,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Event     string `json:"event,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Raw 服务端原始事件记录 (legacy 与 v2 字段共存一个结构, 靠判别函数区分)。
type Raw struct {
	ID          string          `json:"id,omitempty"`
	Seq         int64           `json:"seq,omitempty"`
	Type        string          `json:"type,omitempty"`
	Message     string          `json:"message,omitempty"`
	Level       string          `json:"level,omitempty"`
	AgentRunID  string          `json:"agentRunId,omitempty"`
	ToolRunID   string          `json:"toolRunId,omitempty"`
	ToolName    string          `json:"toolName,omitempty"`
	TriggerType string          `json:"triggerType,omitempty"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	PayloadJSON json.RawMessage `json:"payloadJson,omitempty"`
	EventV2     *EnvelopeV2     `json:"eventV2,omitempty"`
}
