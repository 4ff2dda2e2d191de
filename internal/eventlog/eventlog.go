// Package eventlog 维护按分支有界、有序、去重的规范事件日志。
//
// 合并语义 (两通道冗余投递下的 "effectively once"):
//   - 按 id 去重 (最后提供的副本保留)
//   - 排序键: 双方都有 seq 用 seq, 否则退回 createdAt
//   - 超出上限从最旧端淘汰
//
// Merge 满足幂等与 (截断前) 集合交换律, 到达顺序与通道来源不影响最终日志。
package eventlog

import (
	"sort"

	"github.com/contentdesk/worksync/internal/event"
)

// MaxEntries 单分支日志上限 (最旧先淘汰)。
const MaxEntries = 320

// Log 有序去重的规范事件序列。值语义, 调用方持有的切片不被原地修改。
type Log []event.CanonicalEvent

// Cursor 分支游标: 最近合并事件的 seq (优先) 或 id (回退)。
type Cursor struct {
	Seq int64  `json:"seq,omitempty"`
	ID  string `json:"id,omitempty"`
}

// IsZero 游标是否为空 (尚无已见事件)。
func (c Cursor) IsZero() bool { return c.Seq == 0 && c.ID == "" }

// Merge 将 incoming 并入 existing, 返回新日志与最新游标。
//
// 幂等: 同一批次重复合并结果不变。交换: A 后 B 与 B 后 A
// (截断前) 得到相同集合与顺序。
func Merge(existing Log, incoming []event.CanonicalEvent) (Log, Cursor) {
	if len(incoming) == 0 && len(existing) <= MaxEntries {
		return existing, existing.Cursor()
	}

	merged := make(Log, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	for _, ev := range existing {
		index[ev.ID] = len(merged)
		merged = append(merged, ev)
	}
	for _, ev := range incoming {
		if ev.ID == "" {
			continue
		}
		if at, ok := index[ev.ID]; ok {
			// id 冲突: 保留最近提供的副本
			merged[at] = ev
			continue
		}
		index[ev.ID] = len(merged)
		merged = append(merged, ev)
	}

	sort.SliceStable(merged, func(i, j int) bool { return less(merged[i], merged[j]) })

	if len(merged) > MaxEntries {
		merged = merged[len(merged)-MaxEntries:]
		// 切片共享底层数组, 拷贝一份避免旧日志被后续合并改写
		merged = append(Log(nil), merged...)
	}

	return merged, merged.Cursor()
}

// less 排序键: 双方都有 seq 时 seq 权威, 否则 createdAt, 最后以 id 保证确定性。
func less(a, b event.CanonicalEvent) bool {
	if a.Seq > 0 && b.Seq > 0 {
		return a.Seq < b.Seq
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Cursor 从日志末元素计算最新游标。
func (l Log) Cursor() Cursor {
	if len(l) == 0 {
		return Cursor{}
	}
	last := l[len(l)-1]
	if last.Seq > 0 {
		return Cursor{Seq: last.Seq}
	}
	return Cursor{ID: last.ID}
}

// Latest 返回谓词命中的最近一条事件 (从新到旧扫描)。
func (l Log) Latest(match func(event.CanonicalEvent) bool) (event.CanonicalEvent, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if match(l[i]) {
			return l[i], true
		}
	}
	return event.CanonicalEvent{}, false
}

// ForRun 返回属于指定 run 的全部事件 (保持日志顺序)。
func (l Log) ForRun(runID string) []event.CanonicalEvent {
	if runID == "" {
		return nil
	}
	var out []event.CanonicalEvent
	for _, ev := range l {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}

// MergeRaw 便捷入口: 先归一化再合并, 返回 (新日志, 游标, 本次真正归一化出的事件)。
func MergeRaw(existing Log, raws []event.Raw) (Log, Cursor, []event.CanonicalEvent) {
	if len(raws) == 0 {
		return existing, existing.Cursor(), nil
	}
	incoming := make([]event.CanonicalEvent, 0, len(raws))
	for _, raw := range raws {
		incoming = append(incoming, event.Normalize(raw))
	}
	merged, cursor := Merge(existing, incoming)
	return merged, cursor, incoming
}
