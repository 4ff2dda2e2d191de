// infer.go — legacy 事件推断表: (type, message, hasToolContext) → (kind, phase)。
//
// 兼容 v2 信封之前的事件生产者。固定映射, 独立可测, 勿随意增删。
package event

import (
	"regexp"
	"strings"
)

// legacyTypeTable 旧 schema type → (kind, phase) 精确映射。
var legacyTypeTable = map[string]struct {
	kind  Kind
	phase Phase
}{
	"PROCESS_QUEUED":     {KindRunQueued, PhaseQueued},
	"PROCESS_STARTED":    {KindRunStarted, PhasePlanning},
	"PROCESS_PLANNING":   {KindRunPlanning, PhasePlanning},
	"PROCESS_WRITING":    {KindRunWriting, PhaseWriting},
	"PROCESS_COMPLETED":  {KindRunCompleted, PhaseCompleted},
	"PROCESS_FAILED":     {KindRunFailed, PhaseFailed},
	"PROCESS_CANCELLED":  {KindRunCancelled, PhaseCancelled},
	"PROCESS_LOG":        {KindRunLog, PhaseTools},
	"TOOL_STARTED":       {KindToolStarted, PhaseTools},
	"TOOL_OUTPUT":        {KindToolOutput, PhaseTools},
	"TOOL_COMPLETED":     {KindToolOutput, PhaseTools},
	"TOOL_FAILED":        {KindToolFailed, PhaseTools},
	"DECISION_REQUIRED":  {KindDecisionRequired, PhaseWaitingInput},
	"APPROVAL_REQUESTED": {KindDecisionRequired, PhaseWaitingInput},
	"WAITING_INPUT":      {KindRunWaiting, PhaseWaitingInput},
}

// 自由文本启发式 (仅在 type 未命中表时使用)。
var (
	writingRe  = regexp.MustCompile(`(?i)\b(writing|drafting|composing)\b`)
	planningRe = regexp.MustCompile(`(?i)\b(planning|analyzing|outlining|thinking)\b`)
	queuedRe   = regexp.MustCompile(`(?i)\bqueued?\b`)
)

// inferLegacy 按固定顺序推断: 点分规范名直通 → type 表 → 工具上下文 → message 启发式 → 默认。
func inferLegacy(typ, message string, hasToolContext bool) (Kind, Phase) {
	typ = strings.TrimSpace(typ)

	// 已是点分规范名 (幂等路径): kind 直通, phase 由 kind 决定
	if strings.Contains(typ, ".") {
		kind := Kind(typ)
		return kind, kindDefaultPhase(kind)
	}

	if hit, ok := legacyTypeTable[strings.ToUpper(typ)]; ok {
		return hit.kind, hit.phase
	}

	if hasToolContext {
		return KindToolOutput, PhaseTools
	}

	switch {
	case writingRe.MatchString(message):
		return KindRunWriting, PhaseWriting
	case planningRe.MatchString(message):
		return KindRunPlanning, PhasePlanning
	case queuedRe.MatchString(message):
		return KindRunQueued, PhaseQueued
	}

	return KindRunLog, PhaseTools
}

// kindDefaultPhase 规范事件名 → 默认阶段 (每个 kind 唯一确定一个阶段)。
func kindDefaultPhase(kind Kind) Phase {
	switch kind {
	case KindRunQueued:
		return PhaseQueued
	case KindRunStarted, KindRunPlanning:
		return PhasePlanning
	case KindRunWriting:
		return PhaseWriting
	case KindRunWaiting, KindDecisionRequired:
		return PhaseWaitingInput
	case KindRunCompleted:
		return PhaseCompleted
	case KindRunFailed:
		return PhaseFailed
	case KindRunCancelled:
		return PhaseCancelled
	case KindToolStarted, KindToolOutput, KindToolFailed, KindRunLog:
		return PhaseTools
	}
	return PhaseTools
}

// phaseDefaultKind 阶段 → 默认事件名 (信封只带 phase 不带 event 时使用)。
func phaseDefaultKind(phase Phase) Kind {
	switch phase {
	case PhaseQueued:
		return KindRunQueued
	case PhasePlanning:
		return KindRunPlanning
	case PhaseWriting:
		return KindRunWriting
	case PhaseWaitingInput:
		return KindRunWaiting
	case PhaseCompleted:
		return KindRunCompleted
	case PhaseFailed:
		return KindRunFailed
	case PhaseCancelled:
		return KindRunCancelled
	}
	return KindRunLog
}

// failureKind 失败类事件 (legacy 路径上未显式给 level 时提升为 error)。
func failureKind(kind Kind) bool {
	return kind == KindRunFailed || kind == KindToolFailed
}
