// sse.go — 快照推送: SSE 总线与 handler。
package stateapi

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contentdesk/worksync/internal/session"
	"github.com/contentdesk/worksync/pkg/logger"
)

const keepaliveInterval = 30 * time.Second

// SnapshotFrame SSE 推送的一帧: 单调帧号 + 全量会话快照。
// 帧自含全量状态, 客户端错过任意帧后收到下一帧即完全恢复,
// 帧号只用于客户端丢弃乱序/重复帧。
type SnapshotFrame struct {
	Seq       int64            `json:"seq"`
	EmittedAt time.Time        `json:"emittedAt"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

// EventBus 快照总线: 会话每次视图变化广播一帧给所有 SSE 客户端。
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]chan SnapshotFrame
	seq  atomic.Int64
}

// NewEventBus 创建快照总线。
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]chan SnapshotFrame)}
}

// PublishSnapshot 广播快照帧。慢消费者丢帧: 帧是全量的, 丢中间帧无损。
func (b *EventBus) PublishSnapshot(snap session.Snapshot) {
	frame := SnapshotFrame{
		Seq:       b.seq.Add(1),
		EmittedAt: time.Now().UTC(),
		Snapshot:  snap,
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// frameFor 按当前帧号包一帧 (新 SSE 客户端的起始帧, 不广播)。
func (b *EventBus) frameFor(snap session.Snapshot) SnapshotFrame {
	return SnapshotFrame{
		Seq:       b.seq.Load(),
		EmittedAt: time.Now().UTC(),
		Snapshot:  snap,
	}
}

// Subscribe 订阅快照帧。
func (b *EventBus) Subscribe(id string) chan SnapshotFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan SnapshotFrame, 32)
	b.subs[id] = ch
	return ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch — sseHandler 通过 ctx.Done() 退出, GC 回收未引用的 channel。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// sseHandler Gin SSE handler。
func (s *Server) sseHandler(c *gin.Context) {
	clientID := fmt.Sprintf("sse-%d", time.Now().UnixNano())
	ch := s.bus.Subscribe(clientID)
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("stateapi: SSE client disconnected", "client_id", clientID)
	}()

	logger.Info("stateapi: SSE client connected", "client_id", clientID)

	// 新订阅者先收一帧当前快照, 不必等下一次变更
	c.SSEvent("snapshot", s.bus.frameFor(s.conv.Snapshot(c.Request.Context())))
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		// 复用 timer 避免每次循环创建新定时器 (GC 压力)
		keepalive := time.NewTimer(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case frame, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent("snapshot", frame)
				if !keepalive.Stop() {
					select {
					case <-keepalive.C:
					default:
					}
				}
				keepalive.Reset(keepaliveInterval)
				return true
			case <-keepalive.C:
				c.SSEvent("ping", "keepalive")
				keepalive.Reset(keepaliveInterval)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		}
	})
}
