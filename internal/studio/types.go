// Package studio 封装 studio 运行时服务的外部接口:
// HTTP 拉取/命令调用 (轮询通道) 与 WebSocket 事件通道 (推送通道)。
//
// 本包只做 I/O 与编解码, 不含任何对账逻辑。
package studio

import (
	"time"

	"github.com/contentdesk/worksync/internal/event"
)

// ========================================
// 服务端资源形态 (外部契约)
// ========================================

// Thread 会话线程。
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Branches  []Branch  `json:"branches"`
}

// Branch 线程内的独立执行分叉, 事件/运行/队列的作用域单元。
type Branch struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Name      string    `json:"name"`
	Pinned    bool      `json:"pinned,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message 已落盘的会话消息。
type Message struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branchId"`
	Role      string    `json:"role"` // "user" | "assistant" | "system"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueueItem 待发送的排队消息。
type QueueItem struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branchId"`
	Content   string    `json:"content"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToolRun 运行内的单次工具执行。
type ToolRun struct {
	ID       string `json:"id"`
	ToolName string `json:"toolName"`
	Status   string `json:"status"` // "queued" | "running" | "done"
}

// ActiveRun 服务端权威 "活跃运行" 快照条目。
type ActiveRun struct {
	ID          string    `json:"id"`
	BranchID    string    `json:"branchId"`
	Status      string    `json:"status"`
	StageHint   string    `json:"stageHint,omitempty"`
	TriggerType string    `json:"triggerType,omitempty"`
	ToolRuns    []ToolRun `json:"toolRuns,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BranchState 分支状态响应: 权威运行快照 + 流式标记。
type BranchState struct {
	Runs        []ActiveRun `json:"runs"`
	IsStreaming bool        `json:"isStreaming"`
}

// ReferenceItem 工作区素材库条目 (只读透传)。
type ReferenceItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
	URL   string `json:"url,omitempty"`
}

// ========================================
// 出站命令负载
// ========================================

// Policy 随消息/引导调用下发的运行策略 (由用户偏好构造)。
type Policy struct {
	ToolConcurrency int  `json:"toolConcurrency"`
	MaxToolRuns     int  `json:"maxToolRuns"`
	AutoContinue    bool `json:"autoContinue"`
	Transparency    bool `json:"transparency"`
}

// SendMode 消息发送模式。
type SendMode string

const (
	SendModeSend  SendMode = "send"
	SendModeQueue SendMode = "queue"
)

// SendRequest 消息发送负载。
type SendRequest struct {
	Content string   `json:"content"`
	UserID  string   `json:"userId"`
	Mode    SendMode `json:"mode"`
	Policy  Policy   `json:"policy"`
}

// BootstrapRequest 分支引导负载。
type BootstrapRequest struct {
	Initiator string `json:"initiator"`
	Policy    Policy `json:"policy"`
}

// ChannelToken 短时效通道令牌 (workspace+branch 范围)。
type ChannelToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ========================================
// 推送通道帧
// ========================================

// 入站帧类型。
const (
	FrameEvent      = "EVENT"
	FrameEventBatch = "EVENT_BATCH"
	FrameError      = "ERROR"
)

// Frame 推送通道入站帧。
type Frame struct {
	Type   string      `json:"type"`
	Event  *event.Raw  `json:"event,omitempty"`
	Events []event.Raw `json:"events,omitempty"`
	Error  string      `json:"error,omitempty"`
}
