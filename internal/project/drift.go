// drift.go — 通道漂移检测。
//
// 漂移: 推送通道暗示存在一个进行中的运行, 而上次权威快照并不认识它 —
// 本地投影已过期, 必须强制一次全量拉取纠正。
package project

import (
	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/studio"
)

// HasDrift 判定新合并的事件是否暴露了未被跟踪的进行中运行。
//
// 规则: 任一事件带非空 runId, 其阶段属于 {planning, tools, writing,
// waiting_input}, 且该 runId 不在当前跟踪集合中 → 漂移。
func HasDrift(merged []event.CanonicalEvent, tracked map[string]struct{}) bool {
	for _, ev := range merged {
		if ev.RunID == "" {
			continue
		}
		if !ev.Phase.InProgress() {
			continue
		}
		if _, ok := tracked[ev.RunID]; !ok {
			return true
		}
	}
	return false
}

// TrackedSet 从投影出的运行列表构建跟踪集合。
func TrackedSet(runs []Run) map[string]struct{} {
	set := make(map[string]struct{}, len(runs))
	for _, r := range runs {
		set[r.ID] = struct{}{}
	}
	return set
}

// TrackedSetFromSnapshot 从权威快照构建跟踪集合。漂移以快照为基准:
// 由事件日志回退合成的运行不算被跟踪, 否则漂移永远检不出来。
func TrackedSetFromSnapshot(runs []studio.ActiveRun) map[string]struct{} {
	set := make(map[string]struct{}, len(runs))
	for _, r := range runs {
		set[r.ID] = struct{}{}
	}
	return set
}
