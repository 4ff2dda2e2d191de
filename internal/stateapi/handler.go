// handler.go — 状态 API 路由与 handlers。
package stateapi

import (
	"github.com/gin-gonic/gin"

	"github.com/contentdesk/worksync/internal/studio"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/state", s.getState)
	api.GET("/runs", s.getRuns)
	api.GET("/feed", s.getFeed)
	api.GET("/decisions", s.getDecisions)
	api.GET("/references", s.getReferences)
	api.GET("/queue", s.getQueue)

	api.POST("/messages", s.postMessage)
	api.POST("/steer", s.postSteer)
	api.POST("/interrupt", s.postInterrupt)
	api.POST("/queue/reorder", s.postReorderQueue)
	api.POST("/queue/:id/cancel", s.postCancelQueued)
	api.POST("/decisions/:id/resolve", s.postResolveDecision)

	api.POST("/threads", s.postThread)
	api.POST("/threads/:id/branches", s.postBranch)
	api.POST("/branches/:id/pin", s.postPinBranch)
	api.POST("/branches/:id/activate", s.postActivateBranch)

	api.GET("/preferences", s.getPreferences)
	api.PUT("/preferences/:key", s.putPreference)

	api.GET("/events", s.sseHandler)
}

// ========================================
// 读取
// ========================================

func (s *Server) getState(c *gin.Context) {
	success(c, s.conv.Snapshot(c.Request.Context()))
}

func (s *Server) getRuns(c *gin.Context) {
	snap := s.conv.Snapshot(c.Request.Context())
	success(c, snap.View.Runs)
}

func (s *Server) getFeed(c *gin.Context) {
	snap := s.conv.Snapshot(c.Request.Context())
	success(c, snap.View.Feed)
}

func (s *Server) getDecisions(c *gin.Context) {
	snap := s.conv.Snapshot(c.Request.Context())
	success(c, snap.View.Decisions)
}

func (s *Server) getReferences(c *gin.Context) {
	snap := s.conv.Snapshot(c.Request.Context())
	success(c, snap.View.References)
}

func (s *Server) getQueue(c *gin.Context) {
	snap := s.conv.Snapshot(c.Request.Context())
	success(c, snap.View.Queue)
}

func (s *Server) getPreferences(c *gin.Context) {
	snap := s.conv.Snapshot(c.Request.Context())
	success(c, snap.Preferences)
}

// ========================================
// 命令
// ========================================

func (s *Server) postMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
		Mode    string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if err := s.conv.Send(c.Request.Context(), req.Content, studio.SendMode(req.Mode)); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"sent": true})
}

func (s *Server) postSteer(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if err := s.conv.Steer(c.Request.Context(), req.Note); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"steered": true})
}

func (s *Server) postInterrupt(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req) // reason 可省略
	if err := s.conv.Interrupt(c.Request.Context(), req.Reason); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"interrupted": true})
}

func (s *Server) postReorderQueue(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		badRequest(c, "invalid_body", "ids 不能为空")
		return
	}
	if err := s.conv.ReorderQueue(c.Request.Context(), req.IDs); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"reordered": true})
}

func (s *Server) postCancelQueued(c *gin.Context) {
	if err := s.conv.CancelQueued(c.Request.Context(), c.Param("id")); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"cancelled": true})
}

func (s *Server) postResolveDecision(c *gin.Context) {
	var req struct {
		Option string `json:"option"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if req.Option == "" {
		badRequest(c, "invalid_body", "option 不能为空")
		return
	}
	if err := s.conv.ResolveDecision(c.Request.Context(), c.Param("id"), req.Option); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"resolved": true})
}

func (s *Server) postThread(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	thread, err := s.conv.CreateThread(c.Request.Context(), req.Title)
	if err != nil {
		serverError(c, err)
		return
	}
	created(c, thread)
}

func (s *Server) postBranch(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	branch, err := s.conv.CreateBranch(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		serverError(c, err)
		return
	}
	created(c, branch)
}

func (s *Server) postPinBranch(c *gin.Context) {
	if err := s.conv.PinBranch(c.Request.Context(), c.Param("id")); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"pinned": true})
}

func (s *Server) postActivateBranch(c *gin.Context) {
	branchID := c.Param("id")
	if branchID == "" {
		badRequest(c, "invalid_body", "缺少分支 ID")
		return
	}
	s.conv.SwitchBranch(c.Request.Context(), branchID)
	success(c, gin.H{"active": branchID})
}

func (s *Server) putPreference(c *gin.Context) {
	var req struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if err := s.conv.SetPreference(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"updated": true})
}
