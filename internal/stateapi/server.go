// Package stateapi 暴露本地状态 HTTP 服务: 展示层 (面板/编辑器插件)
// 从这里读取会话快照、投影视图, 并提交全部交互命令。
// 快照变更经 SSE 推送, 轮询只是兜底。
package stateapi

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/contentdesk/worksync/internal/session"
	"github.com/contentdesk/worksync/internal/studio"
)

// Conversation 会话控制器接口 (由 *session.Controller 实现)。
type Conversation interface {
	Snapshot(ctx context.Context) session.Snapshot
	Subscribe(fn func(session.Snapshot))
	Send(ctx context.Context, content string, mode studio.SendMode) error
	Steer(ctx context.Context, note string) error
	Interrupt(ctx context.Context, reason string) error
	ReorderQueue(ctx context.Context, orderedIDs []string) error
	CancelQueued(ctx context.Context, itemID string) error
	ResolveDecision(ctx context.Context, decisionID, option string) error
	CreateThread(ctx context.Context, title string) (studio.Thread, error)
	CreateBranch(ctx context.Context, threadID, name string) (studio.Branch, error)
	PinBranch(ctx context.Context, branchID string) error
	SwitchBranch(ctx context.Context, branchID string)
	SetPreference(ctx context.Context, key string, value any) error
}

// Server 状态 API HTTP 服务。
type Server struct {
	router *gin.Engine
	conv   Conversation
	bus    *EventBus
}

// NewServer 创建服务并挂好快照推送。
func NewServer(conv Conversation) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s := &Server{router: r, conv: conv, bus: NewEventBus()}
	s.registerRoutes()
	conv.Subscribe(func(snap session.Snapshot) {
		s.bus.PublishSnapshot(snap)
	})
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// Run 阻塞监听。
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
