// Package session 实现工作区会话控制器。
//
// 控制器是同步引擎与展示层之间的门面: 持有当前激活分支的视图、
// 用户偏好与运行策略, 负责结构保障 (至少一个线程/分支、空分支
// 自动引导) 与所有出站命令 (发送/引导/中断/队列/审批)。
// 每个命令成功后立即强制一次重同步, 让本地视图尽快追上服务端。
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/contentdesk/worksync/internal/studio"
	"github.com/contentdesk/worksync/internal/syncer"
	"github.com/contentdesk/worksync/pkg/logger"
	"github.com/contentdesk/worksync/pkg/util"
)

// Commander 出站命令面。由 *studio.Client 实现。
type Commander interface {
	Threads(ctx context.Context) ([]studio.Thread, error)
	SendMessage(ctx context.Context, branchID string, req studio.SendRequest) error
	Steer(ctx context.Context, branchID, note string) error
	Interrupt(ctx context.Context, branchID, reason string) error
	ReorderQueue(ctx context.Context, branchID string, orderedIDs []string) error
	CancelQueued(ctx context.Context, branchID, itemID string) error
	ResolveDecision(ctx context.Context, branchID, decisionID, option string) error
	CreateThread(ctx context.Context, title string) (studio.Thread, error)
	CreateBranch(ctx context.Context, threadID, name string) (studio.Branch, error)
	PinBranch(ctx context.Context, branchID string) error
	Bootstrap(ctx context.Context, branchID string, req studio.BootstrapRequest) error
}

// Synchronizer 同步引擎侧接口。由 *syncer.Syncer 实现。
type Synchronizer interface {
	ActivateBranch(branchID string)
	ForceResync(branchID string)
	BranchView(branchID string) (syncer.View, bool)
	ActiveBranch() string
}

// Preferences 偏好读写接口。由 *store.PreferenceManager 实现。
type Preferences interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) error
	GetAll(ctx context.Context) (map[string]any, error)
	GetInt(ctx context.Context, key string, def int) int
	GetBool(ctx context.Context, key string, def bool) bool
	GetString(ctx context.Context, key string, def string) string
}

// Snapshot 会话整体快照 (状态 API 的响应单元)。
type Snapshot struct {
	WorkspaceID  string         `json:"workspaceId"`
	ActiveBranch string         `json:"activeBranch"`
	View         syncer.View    `json:"view"`
	Preferences  map[string]any `json:"preferences"`
}

// Controller 工作区会话控制器。
type Controller struct {
	workspaceID string
	clientID    string // 本会话出站命令的用户标识
	cmd         Commander
	sync        Synchronizer
	prefs       Preferences

	mu           sync.Mutex
	views        map[string]syncer.View
	bootstrapped map[string]bool // 每分支最多自动引导一次
	subscribers  []func(Snapshot)
}

// New 创建会话控制器。
func New(workspaceID string, cmd Commander, sync Synchronizer, prefs Preferences) *Controller {
	return &Controller{
		workspaceID:  workspaceID,
		clientID:     uuid.NewString(),
		cmd:          cmd,
		sync:         sync,
		prefs:        prefs,
		views:        map[string]syncer.View{},
		bootstrapped: map[string]bool{},
	}
}

// Start 启动会话: 保障工作区结构后激活初始分支。
// 初始分支取上次记住的偏好, 偏好失效则回落到首线程首分支。
func (c *Controller) Start(ctx context.Context) error {
	branchID, err := c.resolveInitialBranch(ctx)
	if err != nil {
		return err
	}
	logger.Info("session: starting",
		logger.FieldWorkspaceID, c.workspaceID,
		logger.FieldBranchID, branchID)
	c.sync.ActivateBranch(branchID)
	return nil
}

// resolveInitialBranch 结构保障: 没有任何线程时建一个 (服务端
// 自动附带默认分支), 然后挑出落点分支。
func (c *Controller) resolveInitialBranch(ctx context.Context) (string, error) {
	threads, err := c.cmd.Threads(ctx)
	if err != nil {
		return "", err
	}
	if len(threads) == 0 {
		thread, err := c.cmd.CreateThread(ctx, "New thread")
		if err != nil {
			return "", err
		}
		threads = []studio.Thread{thread}
	}

	remembered := c.prefs.GetString(ctx, prefActiveBranch, "")
	if remembered != "" {
		for _, t := range threads {
			for _, b := range t.Branches {
				if b.ID == remembered {
					return remembered, nil
				}
			}
		}
	}
	for _, t := range threads {
		if len(t.Branches) > 0 {
			return t.Branches[0].ID, nil
		}
	}
	// 线程存在但无分支: 补建
	branch, err := c.cmd.CreateBranch(ctx, threads[0].ID, "main")
	if err != nil {
		return "", err
	}
	return branch.ID, nil
}

// prefActiveBranch 与 store.PrefActiveBranch 保持一致 (接口解耦, 常量就地)。
const prefActiveBranch = "activeBranch"

// ========================================
// 视图接收 (syncer.Listener)
// ========================================

// OnViewChanged 接收同步引擎推来的分支视图。
// 注意: 回调在引擎锁内触发, 任何反向调用 (引导/重同步) 必须异步。
func (c *Controller) OnViewChanged(view syncer.View) {
	c.mu.Lock()
	c.views[view.BranchID] = view
	needBootstrap := c.shouldBootstrapLocked(view)
	if needBootstrap {
		c.bootstrapped[view.BranchID] = true
	}
	subs := make([]func(Snapshot), len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	if needBootstrap {
		branchID := view.BranchID
		util.SafeGo(func() { c.autoBootstrap(branchID) })
	}

	if len(subs) > 0 {
		// snapshotFor 反查引擎 (ActiveBranch), 同步调用会在引擎锁上自锁,
		// 快照构造必须和推送一起移到协程里
		util.SafeGo(func() {
			snap := c.snapshotFor(view)
			for _, fn := range subs {
				fn(snap)
			}
		})
	}
}

// shouldBootstrapLocked 空分支判定: 完成过至少一次同步, 且消息/运行/
// 队列/事件全空, 且未引导过。
func (c *Controller) shouldBootstrapLocked(view syncer.View) bool {
	if c.bootstrapped[view.BranchID] || view.SyncedAt.IsZero() {
		return false
	}
	return len(view.Messages) == 0 && len(view.Runs) == 0 &&
		len(view.Queue) == 0 && len(view.Feed) == 0
}

func (c *Controller) autoBootstrap(branchID string) {
	ctx := context.Background()
	req := studio.BootstrapRequest{
		Initiator: c.clientID,
		Policy:    c.policy(ctx),
	}
	if err := c.cmd.Bootstrap(ctx, branchID, req); err != nil {
		logger.Warn("session: auto bootstrap failed",
			logger.FieldBranchID, branchID, logger.FieldError, err)
		// 失败允许下次视图再试
		c.mu.Lock()
		c.bootstrapped[branchID] = false
		c.mu.Unlock()
		return
	}
	logger.Info("session: branch bootstrapped", logger.FieldBranchID, branchID)
	c.sync.ForceResync(branchID)
}

// ========================================
// 快照与订阅
// ========================================

// Snapshot 返回当前激活分支的会话快照。
func (c *Controller) Snapshot(ctx context.Context) Snapshot {
	active := c.sync.ActiveBranch()
	view, ok := c.sync.BranchView(active)
	if !ok {
		c.mu.Lock()
		view = c.views[active]
		c.mu.Unlock()
	}
	snap := c.snapshotFor(view)
	if prefs, err := c.prefs.GetAll(ctx); err == nil {
		snap.Preferences = prefs
	}
	return snap
}

func (c *Controller) snapshotFor(view syncer.View) Snapshot {
	return Snapshot{
		WorkspaceID:  c.workspaceID,
		ActiveBranch: c.sync.ActiveBranch(),
		View:         view,
	}
}

// Subscribe 注册快照推送回调 (SSE 订阅方用)。
func (c *Controller) Subscribe(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// policy 从偏好构造随命令下发的运行策略。
func (c *Controller) policy(ctx context.Context) studio.Policy {
	return studio.Policy{
		ToolConcurrency: c.prefs.GetInt(ctx, "toolConcurrency", 2),
		MaxToolRuns:     c.prefs.GetInt(ctx, "maxToolRuns", 12),
		AutoContinue:    c.prefs.GetBool(ctx, "autoContinue", true),
		Transparency:    c.prefs.GetBool(ctx, "transparency", true),
	}
}
