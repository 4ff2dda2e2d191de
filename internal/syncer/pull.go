// pull.go — 轮询通道: 全量拉取与兜底轮询循环。
package syncer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/studio"
	"github.com/contentdesk/worksync/pkg/logger"
	"github.com/contentdesk/worksync/pkg/util"
)

const fullPullTimeout = 20 * time.Second

// goFullPull 异步发起一次全量拉取。在途拉取抑制新拉取
// (去抖定时器和兜底轮询会补上后续的对账)。
func (s *Syncer) goFullPull(branchID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	b, ok := s.branches[branchID]
	if !ok || b.pullInFlight {
		s.mu.Unlock()
		return
	}
	b.pullInFlight = true
	gen := b.gen
	s.mu.Unlock()

	util.SafeGo(func() {
		defer func() {
			s.mu.Lock()
			if b2, ok := s.branches[branchID]; ok {
				b2.pullInFlight = false
			}
			s.mu.Unlock()
		}()
		s.fullPull(branchID, gen)
	})
}

// pullData 一次全量拉取的聚合结果。
type pullData struct {
	threads    []studio.Thread
	messages   []studio.Message
	raws       []event.Raw
	queue      []studio.QueueItem
	state      studio.BranchState
	references []studio.ReferenceItem
}

// fullPull 并行抓取全部权威状态并原子应用。事件始终从零游标抓取:
// 合并幂等, 全量窗口能纠正推送通道漏掉的任何东西。
func (s *Syncer) fullPull(branchID string, gen int64) {
	ctx, cancel := context.WithTimeout(s.ctx, fullPullTimeout)
	defer cancel()

	var data pullData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data.threads, err = s.transport.Threads(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		data.messages, err = s.transport.Messages(gctx, branchID)
		return err
	})
	g.Go(func() error {
		var err error
		data.raws, err = s.transport.Events(gctx, branchID, 0, "")
		return err
	})
	g.Go(func() error {
		var err error
		data.queue, err = s.transport.Queue(gctx, branchID)
		return err
	})
	g.Go(func() error {
		var err error
		data.state, err = s.transport.State(gctx, branchID)
		return err
	})
	g.Go(func() error {
		var err error
		data.references, err = s.transport.References(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Warn("syncer: full pull failed",
			logger.FieldBranchID, branchID, logger.FieldError, err)
		s.mu.Lock()
		if b, ok := s.branches[branchID]; ok && b.gen == gen {
			s.recordErrorLocked(b, err)
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[branchID]
	if !ok || b.gen != gen {
		return // 分支已拆除/重新激活, 结果作废
	}
	b.snapshot = data.state.Runs
	b.view.Threads = data.threads
	b.view.Messages = data.messages
	b.view.Queue = data.queue
	b.view.References = data.references
	b.view.IsStreaming = data.state.IsStreaming
	b.view.SyncedAt = time.Now().UTC()
	b.syncErr = nil // 成功同步清除粘滞错误

	if len(data.raws) > 0 {
		s.applyEventsLocked(b, data.raws) // 自带 reproject + publish
	} else {
		s.reprojectLocked(b)
	}
}

// goPollLoop 兜底轮询: 只在推送通道未连接时发起拉取。
// 间隔按分支冷热自适应 (热 4s / 冷 20s)。
func (s *Syncer) goPollLoop(branchID string, gen int64) {
	util.SafeGo(func() {
		for {
			s.mu.Lock()
			b, ok := s.branches[branchID]
			if !ok || b.gen != gen || s.closed {
				s.mu.Unlock()
				return
			}
			interval := s.opts.PollIdle
			if b.hot() {
				interval = s.opts.PollHot
			}
			s.mu.Unlock()

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(interval):
			}

			s.mu.Lock()
			b, ok = s.branches[branchID]
			fire := ok && b.gen == gen && b.connState != ConnConnected
			s.mu.Unlock()
			if !ok {
				return
			}
			if fire {
				s.goFullPull(branchID)
			}
		}
	})
}
