// Package syncer 实现双通道同步控制器。
//
// 每个分支同时挂两条冗余通道:
//   - 推送通道: WebSocket 事件流 (低延迟, 可能断联/丢失)
//   - 轮询通道: 周期性全量拉取 (高延迟, 权威兜底)
//
// 控制器负责通道编排、重连退避、游标跟踪、漂移纠偏与去抖全量重同步,
// 保证最终一致: 用户永远不会停留在永久过期或自相矛盾的状态上。
//
// 并发模型: 所有状态变更 (合并/投影/连接状态) 都在 s.mu 下原子应用,
// 轮询定时器、通道回调与命令调用三路异步源串行化到同一把锁上。
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/eventlog"
	"github.com/contentdesk/worksync/internal/project"
	"github.com/contentdesk/worksync/internal/studio"
	"github.com/contentdesk/worksync/pkg/logger"
)

// ========================================
// 依赖接口 (消费方定义, studio 实现)
// ========================================

// Transport 轮询通道 + 令牌签发。由 *studio.Client 实现。
type Transport interface {
	Threads(ctx context.Context) ([]studio.Thread, error)
	Messages(ctx context.Context, branchID string) ([]studio.Message, error)
	Events(ctx context.Context, branchID string, afterSeq int64, afterID string) ([]event.Raw, error)
	Queue(ctx context.Context, branchID string) ([]studio.QueueItem, error)
	State(ctx context.Context, branchID string) (studio.BranchState, error)
	References(ctx context.Context) ([]studio.ReferenceItem, error)
	IssueChannelToken(ctx context.Context, branchID string) (studio.ChannelToken, error)
}

// Channel 单条推送通道连接 (可关闭)。
type Channel interface {
	Close()
}

// Dialer 推送通道拨号。由 studio.Client 经 NewStudioDialer 适配。
type Dialer interface {
	DialChannel(ctx context.Context, branchID string, afterSeq int64, afterID, token string, cb studio.ChannelCallbacks) (Channel, error)
}

// NewStudioDialer 把 *studio.Client 适配为 Dialer (具体通道类型装箱成接口)。
func NewStudioDialer(c *studio.Client) Dialer { return studioDialer{c} }

type studioDialer struct{ c *studio.Client }

func (d studioDialer) DialChannel(ctx context.Context, branchID string, afterSeq int64, afterID, token string, cb studio.ChannelCallbacks) (Channel, error) {
	ch, err := d.c.DialChannel(ctx, branchID, afterSeq, afterID, token, cb)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// CursorStore 可选的游标持久化 (进程重启后从上次位置续传)。
type CursorStore interface {
	SaveCursor(branchID string, seq int64, id string)
	LoadCursor(branchID string) (seq int64, id string, ok bool)
}

// Listener 视图变更通知 (由会话控制器实现)。
type Listener interface {
	OnViewChanged(view View)
}

// ConnState 推送通道连接状态。
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
)

// View 单分支的完整投影视图 (发给会话控制器/展示层)。
type View struct {
	BranchID    string                 `json:"branchId"`
	Threads     []studio.Thread        `json:"threads"`
	Messages    []studio.Message       `json:"messages"`
	Queue       []studio.QueueItem     `json:"queue"`
	References  []studio.ReferenceItem `json:"references"`
	Runs        []project.Run          `json:"runs"`
	Feed        []project.FeedItem     `json:"feed"`
	Decisions   []project.Decision     `json:"decisions"`
	IsStreaming bool                   `json:"isStreaming"`
	ConnState   ConnState              `json:"connState"`
	SyncedAt    time.Time              `json:"syncedAt"`
	LastError   string                 `json:"lastError,omitempty"`
}

// ========================================
// 可调参数
// ========================================

// Options 同步调参。去抖延迟只影响延迟/流量权衡, 不影响正确性 —
// 幂等全量拉取最终总是安全的。
type Options struct {
	PollHot               time.Duration // 分支 "热" (有活跃运行或队列) 时的兜底轮询间隔
	PollIdle              time.Duration // 空闲兜底轮询间隔
	OpenResyncDelay       time.Duration // 通道建立后补偿拉取的去抖
	DriftResyncDelay      time.Duration // 漂移触发的重同步去抖 (默认立即)
	StructuralResyncDelay time.Duration // 结构性事件触发的重同步去抖
	ReconnectBase         time.Duration // 重连退避起点
	ReconnectMax          time.Duration // 重连退避上限
}

// DefaultOptions 生产默认值。
func DefaultOptions() Options {
	return Options{
		PollHot:               4 * time.Second,
		PollIdle:              20 * time.Second,
		OpenResyncDelay:       80 * time.Millisecond,
		DriftResyncDelay:      0,
		StructuralResyncDelay: 160 * time.Millisecond,
		ReconnectBase:         500 * time.Millisecond,
		ReconnectMax:          15 * time.Second,
	}
}

func (o *Options) fillDefaults() {
	def := DefaultOptions()
	if o.PollHot <= 0 {
		o.PollHot = def.PollHot
	}
	if o.PollIdle <= 0 {
		o.PollIdle = def.PollIdle
	}
	if o.OpenResyncDelay <= 0 {
		o.OpenResyncDelay = def.OpenResyncDelay
	}
	if o.StructuralResyncDelay <= 0 {
		o.StructuralResyncDelay = def.StructuralResyncDelay
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = def.ReconnectBase
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = def.ReconnectMax
	}
}

// ========================================
// Syncer
// ========================================

// Syncer 双通道同步控制器。独占持有每分支的事件日志、游标与连接状态。
type Syncer struct {
	transport Transport
	dialer    Dialer
	listener  Listener
	cursors   CursorStore // 可为 nil
	opts      Options

	mu       sync.Mutex
	branches map[string]*branchSync // 分支状态: 激活时创建, 切换后保留
	active   string                 // 当前激活分支
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建同步控制器。cursors 可为 nil (不持久化游标)。
func New(transport Transport, dialer Dialer, listener Listener, cursors CursorStore, opts Options) *Syncer {
	opts.fillDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		transport: transport,
		dialer:    dialer,
		listener:  listener,
		cursors:   cursors,
		opts:      opts,
		branches:  map[string]*branchSync{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ActivateBranch 激活分支: 拆除旧分支的通道/定时器 (保留其日志),
// 建立基线全量拉取, 并启动推送通道与兜底轮询。
func (s *Syncer) ActivateBranch(branchID string) {
	s.mu.Lock()
	if s.closed || branchID == "" || s.active == branchID {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.branches[s.active]; ok {
		s.teardownLocked(prev)
	}
	s.active = branchID
	b := s.ensureBranchLocked(branchID)
	b.gen++
	gen := b.gen
	s.mu.Unlock()

	logger.Info("syncer: branch activated", logger.FieldBranchID, branchID)

	// 基线拉取 → 通道连接 → 轮询兜底, 全部异步
	s.goFullPull(branchID)
	s.goConnect(branchID, gen, 1)
	s.goPollLoop(branchID, gen)
}

// ActiveBranch 返回当前激活分支。
func (s *Syncer) ActiveBranch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ForceResync 立即触发一次全量拉取 (命令调用成功后由会话控制器调用)。
func (s *Syncer) ForceResync(branchID string) {
	s.goFullPull(branchID)
}

// BranchView 返回分支当前视图快照。
func (s *Syncer) BranchView(branchID string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[branchID]
	if !ok {
		return View{}, false
	}
	return b.view, true
}

// Close 停机: 拆除所有分支并取消后台协程。
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, b := range s.branches {
		s.teardownLocked(b)
	}
	s.mu.Unlock()
	s.cancel()
}

// ensureBranchLocked 取或建分支状态, 游标从持久层回填。
func (s *Syncer) ensureBranchLocked(branchID string) *branchSync {
	if b, ok := s.branches[branchID]; ok {
		return b
	}
	b := newBranchSync(branchID)
	if s.cursors != nil {
		if seq, id, ok := s.cursors.LoadCursor(branchID); ok {
			b.cursor = eventlog.Cursor{Seq: seq, ID: id}
		}
	}
	s.branches[branchID] = b
	return b
}

// teardownLocked 拆除分支的通道与定时器。日志/游标保留, 重新激活代价低。
func (s *Syncer) teardownLocked(b *branchSync) {
	if b == nil {
		return
	}
	b.gen++ // 使在途回调全部失效
	if b.channel != nil {
		ch := b.channel
		b.channel = nil
		go ch.Close() // 不在锁内等待网络关闭
	}
	if b.resyncTimer != nil {
		b.resyncTimer.Stop()
		b.resyncTimer = nil
	}
	b.connState = ConnDisconnected
	b.view.ConnState = ConnDisconnected
}
