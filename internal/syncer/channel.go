// channel.go — 推送通道: 连接、帧处理与指数退避重连。
package syncer

import (
	"context"
	"time"

	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/studio"
	apperrors "github.com/contentdesk/worksync/pkg/errors"
	"github.com/contentdesk/worksync/pkg/logger"
	"github.com/contentdesk/worksync/pkg/util"
)

const dialTimeout = 10 * time.Second

// goConnect 异步建立推送通道。attempt 从 1 开始计数, 连接成功后重置。
func (s *Syncer) goConnect(branchID string, gen int64, attempt int) {
	util.SafeGo(func() {
		s.connect(branchID, gen, attempt)
	})
}

func (s *Syncer) connect(branchID string, gen int64, attempt int) {
	s.mu.Lock()
	b, ok := s.branches[branchID]
	if !ok || b.gen != gen || s.closed || b.connState != ConnDisconnected {
		s.mu.Unlock()
		return
	}
	b.connState = ConnConnecting
	afterSeq, afterID := b.cursor.Seq, b.cursor.ID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
	defer cancel()

	// 令牌签发失败不致命: 无令牌拨号, 服务端可能仍接受
	var token string
	if tok, err := s.transport.IssueChannelToken(ctx, branchID); err != nil {
		logger.Warn("syncer: channel token issue failed, dialing without token",
			logger.FieldBranchID, branchID, logger.FieldError, err)
	} else {
		token = tok.Token
	}

	cb := studio.ChannelCallbacks{
		OnOpen:  func() { s.onChannelOpen(branchID, gen) },
		OnFrame: func(f studio.Frame) { s.onChannelFrame(branchID, gen, f) },
		OnClose: func(err error) { s.onChannelClose(branchID, gen, err) },
	}
	ch, err := s.dialer.DialChannel(ctx, branchID, afterSeq, afterID, token, cb)
	if err != nil {
		logger.Warn("syncer: channel dial failed",
			logger.FieldBranchID, branchID,
			logger.FieldAttempt, attempt,
			logger.FieldError, err)
		s.mu.Lock()
		if b, ok := s.branches[branchID]; ok && b.gen == gen {
			b.connState = ConnDisconnected
			b.view.ConnState = ConnDisconnected
			s.publishLocked(b)
		}
		s.mu.Unlock()
		s.goReconnect(branchID, gen, attempt+1)
		return
	}

	s.mu.Lock()
	b, ok = s.branches[branchID]
	if !ok || b.gen != gen {
		s.mu.Unlock()
		go ch.Close() // 拨号窗口内分支已拆除
		return
	}
	b.channel = ch
	s.mu.Unlock()
}

// goReconnect 指数退避后重连: base*2^(attempt-1), 封顶 ReconnectMax。
func (s *Syncer) goReconnect(branchID string, gen int64, attempt int) {
	delay := s.opts.ReconnectBase
	for i := 1; i < attempt && delay < s.opts.ReconnectMax; i++ {
		delay *= 2
	}
	if delay > s.opts.ReconnectMax {
		delay = s.opts.ReconnectMax
	}
	logger.Debug("syncer: channel reconnect scheduled",
		logger.FieldBranchID, branchID,
		logger.FieldAttempt, attempt,
		logger.FieldDelayMS, delay.Milliseconds())
	util.SafeGo(func() {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
		s.connect(branchID, gen, attempt)
	})
}

// ========================================
// 通道回调 (读协程调用, 入锁串行化)
// ========================================

// onChannelOpen 通道建立: 进入 connected 并调度一次补偿拉取,
// 覆盖断联窗口内错过的任何变化。
func (s *Syncer) onChannelOpen(branchID string, gen int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[branchID]
	if !ok || b.gen != gen {
		return
	}
	logger.Info("syncer: channel open", logger.FieldBranchID, branchID)
	b.connState = ConnConnected
	b.view.ConnState = ConnConnected
	s.scheduleResyncLocked(b, s.opts.OpenResyncDelay)
	s.publishLocked(b)
}

// onChannelFrame 帧分派。EVENT 合并单事件并做纠偏检查;
// EVENT_BATCH 合并整批且无条件调度一次全量拉取 (批帧意味着
// 服务端刚重放过积压, 周边状态很可能也变了); ERROR 记粘滞错误。
func (s *Syncer) onChannelFrame(branchID string, gen int64, f studio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[branchID]
	if !ok || b.gen != gen {
		return
	}
	switch f.Type {
	case studio.FrameEvent:
		if f.Event == nil {
			return
		}
		merged := s.applyEventsLocked(b, []event.Raw{*f.Event})
		s.handleMergedLocked(b, merged)
	case studio.FrameEventBatch:
		s.applyEventsLocked(b, f.Events)
		s.scheduleResyncLocked(b, s.opts.StructuralResyncDelay)
	case studio.FrameError:
		s.recordErrorLocked(b, apperrors.New("Channel.Frame", f.Error))
	default:
		logger.Debug("syncer: unknown frame type ignored",
			logger.FieldBranchID, branchID, "frame_type", f.Type)
	}
}

// onChannelClose 通道断开: 回到 disconnected (兜底轮询自动接管),
// 并发起重连。曾成功建立过的连接断开后退避计数重置; 主动拆除
// (gen 不匹配) 不重连。
func (s *Syncer) onChannelClose(branchID string, gen int64, err error) {
	s.mu.Lock()
	b, ok := s.branches[branchID]
	if !ok || b.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	b.channel = nil
	b.connState = ConnDisconnected
	b.view.ConnState = ConnDisconnected
	s.publishLocked(b)
	s.mu.Unlock()

	if err != nil {
		logger.Warn("syncer: channel closed",
			logger.FieldBranchID, branchID, logger.FieldError, err)
	}
	s.goReconnect(branchID, gen, 1)
}
