// normalizer.go — 原始事件 → CanonicalEvent 归一化 (全函数, 永不失败)。
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Normalize 将原始事件归一化为规范事件。
//
// 纯函数, 无状态, 热路径安全。未识别的字段降级为安全默认值
// (phase=tools, kind=run.log, level=info), 时间缺失或无法解析时取当前时间。
// 幂等: 对已归一化事件的等价原始形态再次归一化, 产出同一规范事件 (id 稳定)。
func Normalize(raw Raw) CanonicalEvent {
	payload := parsePayload(raw.PayloadJSON)
	env, hasEnv := detectEnvelope(raw, payload)

	ev := CanonicalEvent{
		ID:          strings.TrimSpace(raw.ID),
		Seq:         raw.Seq,
		RunID:       strings.TrimSpace(raw.AgentRunID),
		ToolRunID:   strings.TrimSpace(raw.ToolRunID),
		ToolName:    strings.TrimSpace(raw.ToolName),
		TriggerType: strings.TrimSpace(raw.TriggerType),
		Message:     raw.Message,
		Payload:     payload,
		Level:       normalizeLevel(raw.Level),
		CreatedAt:   parseTimestamp(raw.CreatedAt),
	}

	if hasEnv {
		applyEnvelope(&ev, env)
	} else {
		hasToolContext := ev.ToolRunID != "" || ev.ToolName != ""
		ev.Kind, ev.Phase = inferLegacy(raw.Type, raw.Message, hasToolContext)
		if ev.Level == LevelInfo && failureKind(ev.Kind) {
			ev.Level = LevelError
		}
	}

	if ev.ID == "" {
		ev.ID = deriveID(raw.Type, raw.CreatedAt, raw.Message)
	}
	return ev
}

// detectEnvelope 判别 v2 信封: 顶层 eventV2 优先, 其次嵌在 payload 内。
func detectEnvelope(raw Raw, payload map[string]any) (EnvelopeV2, bool) {
	if raw.EventV2 != nil {
		return *raw.EventV2, true
	}
	nested, ok := payload["eventV2"]
	if !ok {
		return EnvelopeV2{}, false
	}
	data, err := json.Marshal(nested)
	if err != nil {
		return EnvelopeV2{}, false
	}
	var env EnvelopeV2
	if err := json.Unmarshal(data, &env); err != nil {
		return EnvelopeV2{}, false
	}
	if strings.TrimSpace(env.RunID) == "" && strings.TrimSpace(env.Event) == "" {
		// 空信封视为不存在, 走 legacy 推断
		return EnvelopeV2{}, false
	}
	return env, true
}

// applyEnvelope 信封字段对 runId/toolRunId/toolName/phase/kind/level/createdAt 权威。
func applyEnvelope(ev *CanonicalEvent, env EnvelopeV2) {
	if v := strings.TrimSpace(env.RunID); v != "" {
		ev.RunID = v
	}
	if v := strings.TrimSpace(env.ToolRunID); v != "" {
		ev.ToolRunID = v
	}
	if v := strings.TrimSpace(env.ToolName); v != "" {
		ev.ToolName = v
	}

	kind := Kind(strings.TrimSpace(env.Event))
	phase := Phase(strings.TrimSpace(env.Phase))

	switch {
	case kind != "" && phase.Valid():
		ev.Kind, ev.Phase = kind, phase
	case kind != "":
		ev.Kind, ev.Phase = kind, kindDefaultPhase(kind)
	case phase.Valid():
		ev.Kind, ev.Phase = phaseDefaultKind(phase), phase
	default:
		ev.Kind, ev.Phase = KindRunLog, PhaseTools
	}

	switch strings.ToLower(strings.TrimSpace(env.Status)) {
	case "error", "failed":
		ev.Level = LevelError
	case "warn", "warning":
		ev.Level = LevelWarn
	}

	if ts := strings.TrimSpace(env.CreatedAt); ts != "" {
		ev.CreatedAt = parseTimestamp(ts)
	}
}

// parsePayload 解析 payloadJson, 失败时返回空 map (永不报错)。
func parsePayload(raw json.RawMessage) map[string]any {
	m := map[string]any{}
	if len(raw) == 0 {
		return m
	}
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	// 兼容双重编码: payloadJson 本身是 JSON 字符串
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m
}

func normalizeLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "warn", "warning":
		return LevelWarn
	case "error", "fatal":
		return LevelError
	default:
		return LevelInfo
	}
}

// parseTimestamp 宽容解析时间戳, 失败时回退当前时间。
func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// deriveID 为缺失 id 的事件派生确定性 id (同一原始记录重复归一化得到同一 id)。
func deriveID(typ, createdAt, message string) string {
	sum := sha256.Sum256([]byte(typ + "|" + createdAt + "|" + message))
	return "ev-" + hex.EncodeToString(sum[:])[:12]
}

// RawFromCanonical 将规范事件还原为等价原始形态 (用于幂等性校验与本地缓存回放)。
func RawFromCanonical(ev CanonicalEvent) Raw {
	payload, _ := json.Marshal(ev.Payload)
	if len(ev.Payload) == 0 {
		payload = nil
	}
	var status string
	switch ev.Level {
	case LevelWarn:
		status = "warn"
	case LevelError:
		status = "error"
	}
	return Raw{
		ID:          ev.ID,
		Seq:         ev.Seq,
		Type:        string(ev.Kind),
		Message:     ev.Message,
		Level:       string(ev.Level),
		AgentRunID:  ev.RunID,
		ToolRunID:   ev.ToolRunID,
		ToolName:    ev.ToolName,
		TriggerType: ev.TriggerType,
		CreatedAt:   ev.CreatedAt.Format(time.RFC3339Nano),
		PayloadJSON: payload,
		EventV2: &EnvelopeV2{
			RunID:     ev.RunID,
			ToolRunID: ev.ToolRunID,
			ToolName:  ev.ToolName,
			Phase:     string(ev.Phase),
			Event:     string(ev.Kind),
			Status:    status,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

// String 便于日志输出。
func (e CanonicalEvent) String() string {
	return fmt.Sprintf("%s %s phase=%s run=%s", e.ID, e.Kind, e.Phase, e.RunID)
}
