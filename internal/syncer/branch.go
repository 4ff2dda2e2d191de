// branch.go — 单分支同步状态与事件合并/投影。
package syncer

import (
	"time"

	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/eventlog"
	"github.com/contentdesk/worksync/internal/project"
	"github.com/contentdesk/worksync/internal/studio"
	"github.com/contentdesk/worksync/pkg/logger"
)

// branchSync 单分支的全部同步状态。字段只在 Syncer.mu 下读写
// (gen 使跨越解锁窗口的异步回调可判别新旧)。
type branchSync struct {
	id string

	log      eventlog.Log
	cursor   eventlog.Cursor
	snapshot []studio.ActiveRun // 最近一次权威运行状态
	view     View

	connState ConnState
	channel   Channel
	gen       int64 // 连接代数: 每次激活/拆除递增, 旧回调据此自弃

	resyncTimer  *time.Timer // 去抖全量重同步 (单柄, 新触发覆盖旧触发)
	pullInFlight bool        // 在途全量拉取抑制新拉取

	syncErr error // 粘滞错误: 首个失败保留, 成功同步时清除
}

func newBranchSync(id string) *branchSync {
	return &branchSync{
		id:        id,
		connState: ConnDisconnected,
		view:      View{BranchID: id, ConnState: ConnDisconnected},
	}
}

// hot 分支热判定: 有进行中运行或非空队列时用短轮询间隔。
func (b *branchSync) hot() bool {
	if len(b.view.Queue) > 0 {
		return true
	}
	for _, r := range b.view.Runs {
		if r.Phase.InProgress() {
			return true
		}
	}
	return false
}

// ========================================
// 合并与投影 (锁内调用)
// ========================================

// applyEventsLocked 把一批原始事件合并进日志并重投影。
// 返回合并后的规范事件 (漂移检测用)。
func (s *Syncer) applyEventsLocked(b *branchSync, raws []event.Raw) []event.CanonicalEvent {
	if len(raws) == 0 {
		return nil
	}
	log, cursor, incoming := eventlog.MergeRaw(b.log, raws)
	b.log = log
	if !cursor.IsZero() {
		b.cursor = cursor
		if s.cursors != nil {
			s.cursors.SaveCursor(b.id, cursor.Seq, cursor.ID)
		}
	}
	s.reprojectLocked(b)
	return incoming
}

// reprojectLocked 从日志 + 权威快照重算全部派生视图并通知监听者。
func (s *Syncer) reprojectLocked(b *branchSync) {
	now := time.Now().UTC()
	runs := project.Runs(b.snapshot, b.log, now)
	decisions := project.Decisions(b.log, b.snapshot)
	runs = project.AttachApprovals(runs, decisions)

	b.view.Runs = runs
	b.view.Feed = project.Feed(b.log)
	b.view.Decisions = decisions
	b.view.ConnState = b.connState
	if b.syncErr != nil {
		b.view.LastError = b.syncErr.Error()
	} else {
		b.view.LastError = ""
	}
	s.publishLocked(b)
}

func (s *Syncer) publishLocked(b *branchSync) {
	if s.listener == nil {
		return
	}
	s.listener.OnViewChanged(b.view)
}

// recordErrorLocked 粘滞错误: 只记首个, 成功前不覆盖。
func (s *Syncer) recordErrorLocked(b *branchSync, err error) {
	if err == nil || b.syncErr != nil {
		return
	}
	b.syncErr = err
	b.view.LastError = err.Error()
	s.publishLocked(b)
}

// ========================================
// 去抖重同步调度 (锁内调用)
// ========================================

// scheduleResyncLocked 调度一次去抖全量拉取。同分支只保留一个挂起定时器,
// 新触发重置旧触发 (漂移 delay=0 时近乎立即)。
func (s *Syncer) scheduleResyncLocked(b *branchSync, delay time.Duration) {
	branchID := b.id
	if b.resyncTimer != nil {
		b.resyncTimer.Stop()
	}
	b.resyncTimer = time.AfterFunc(delay, func() {
		s.goFullPull(branchID)
	})
}

// handleMergedLocked 检查合并事件的纠偏触发并调度重同步。
// 漂移 (未跟踪的进行中运行) 立即拉; 结构性事件稍作去抖。
func (s *Syncer) handleMergedLocked(b *branchSync, merged []event.CanonicalEvent) {
	if len(merged) == 0 {
		return
	}
	if project.HasDrift(merged, project.TrackedSetFromSnapshot(b.snapshot)) {
		logger.Warn("syncer: drift detected, forcing resync", logger.FieldBranchID, b.id)
		s.scheduleResyncLocked(b, s.opts.DriftResyncDelay)
		return
	}
	for _, ev := range merged {
		if structuralKinds[ev.Kind] {
			s.scheduleResyncLocked(b, s.opts.StructuralResyncDelay)
			return
		}
	}
}

// structuralKinds 预示服务端结构变化的事件类别: 运行终态、等待输入、
// 审批请求 — 这些之后队列/消息/运行状态大概率已变, 值得整体对账。
var structuralKinds = map[event.Kind]bool{
	event.KindRunCompleted:     true,
	event.KindRunFailed:        true,
	event.KindRunCancelled:     true,
	event.KindRunWaiting:       true,
	event.KindDecisionRequired: true,
}
