// commands.go — 出站命令: 每个命令成功后立即强制重同步。
package session

import (
	"context"
	"strings"

	"github.com/contentdesk/worksync/internal/studio"
	apperrors "github.com/contentdesk/worksync/pkg/errors"
	"github.com/contentdesk/worksync/pkg/logger"
)

// activeBranchOrErr 命令的作用域分支。
func (c *Controller) activeBranchOrErr() (string, error) {
	branchID := c.sync.ActiveBranch()
	if branchID == "" {
		return "", apperrors.New("Session.Command", "没有激活分支")
	}
	return branchID, nil
}

// resyncAfter 命令成功后的对账。
func (c *Controller) resyncAfter(branchID string, err error) error {
	if err != nil {
		return err
	}
	c.sync.ForceResync(branchID)
	return nil
}

// Send 发送消息。mode 为 queue 时进入发送队列而非立即执行。
func (c *Controller) Send(ctx context.Context, content string, mode studio.SendMode) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Session.Send", "消息内容为空")
	}
	if mode != studio.SendModeQueue {
		mode = studio.SendModeSend
	}
	branchID, err := c.activeBranchOrErr()
	if err != nil {
		return err
	}
	req := studio.SendRequest{
		Content: content,
		UserID:  c.clientID,
		Mode:    mode,
		Policy:  c.policy(ctx),
	}
	return c.resyncAfter(branchID, c.cmd.SendMessage(ctx, branchID, req))
}

// Steer 向进行中的运行注入引导备注。
func (c *Controller) Steer(ctx context.Context, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Session.Steer", "备注为空")
	}
	branchID, err := c.activeBranchOrErr()
	if err != nil {
		return err
	}
	return c.resyncAfter(branchID, c.cmd.Steer(ctx, branchID, note))
}

// Interrupt 中断当前运行。
func (c *Controller) Interrupt(ctx context.Context, reason string) error {
	branchID, err := c.activeBranchOrErr()
	if err != nil {
		return err
	}
	return c.resyncAfter(branchID, c.cmd.Interrupt(ctx, branchID, reason))
}

// ReorderQueue 重排发送队列。
func (c *Controller) ReorderQueue(ctx context.Context, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Session.ReorderQueue", "排序列表为空")
	}
	branchID, err := c.activeBranchOrErr()
	if err != nil {
		return err
	}
	return c.resyncAfter(branchID, c.cmd.ReorderQueue(ctx, branchID, orderedIDs))
}

// CancelQueued 取消一条排队消息。
func (c *Controller) CancelQueued(ctx context.Context, itemID string) error {
	if itemID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Session.CancelQueued", "缺少条目 ID")
	}
	branchID, err := c.activeBranchOrErr()
	if err != nil {
		return err
	}
	return c.resyncAfter(branchID, c.cmd.CancelQueued(ctx, branchID, itemID))
}

// ResolveDecision 提交审批选择。
func (c *Controller) ResolveDecision(ctx context.Context, decisionID, option string) error {
	if decisionID == "" || option == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Session.ResolveDecision", "缺少审批 ID 或选项")
	}
	branchID, err := c.activeBranchOrErr()
	if err != nil {
		return err
	}
	logger.Info("session: resolving decision",
		logger.FieldBranchID, branchID,
		logger.FieldDecision, decisionID)
	return c.resyncAfter(branchID, c.cmd.ResolveDecision(ctx, branchID, decisionID, option))
}

// CreateThread 创建新线程并激活其默认分支。
func (c *Controller) CreateThread(ctx context.Context, title string) (studio.Thread, error) {
	thread, err := c.cmd.CreateThread(ctx, title)
	if err != nil {
		return studio.Thread{}, err
	}
	if len(thread.Branches) > 0 {
		c.SwitchBranch(ctx, thread.Branches[0].ID)
	}
	return thread, nil
}

// CreateBranch 在线程下创建分支并切换过去。
func (c *Controller) CreateBranch(ctx context.Context, threadID, name string) (studio.Branch, error) {
	if threadID == "" {
		return studio.Branch{}, apperrors.Wrap(apperrors.ErrInvalidInput, "Session.CreateBranch", "缺少线程 ID")
	}
	branch, err := c.cmd.CreateBranch(ctx, threadID, name)
	if err != nil {
		return studio.Branch{}, err
	}
	c.SwitchBranch(ctx, branch.ID)
	return branch, nil
}

// PinBranch 置顶分支。
func (c *Controller) PinBranch(ctx context.Context, branchID string) error {
	if branchID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Session.PinBranch", "缺少分支 ID")
	}
	return c.resyncAfter(branchID, c.cmd.PinBranch(ctx, branchID))
}

// SwitchBranch 切换激活分支并记住选择。
func (c *Controller) SwitchBranch(ctx context.Context, branchID string) {
	if branchID == "" {
		return
	}
	if err := c.prefs.Set(ctx, prefActiveBranch, branchID); err != nil {
		logger.Warn("session: remember active branch failed",
			logger.FieldBranchID, branchID, logger.FieldError, err)
	}
	c.sync.ActivateBranch(branchID)
}

// SetPreference 更新偏好 (策略在下一条命令时生效)。
func (c *Controller) SetPreference(ctx context.Context, key string, value any) error {
	if key == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Session.SetPreference", "缺少偏好键")
	}
	return c.prefs.Set(ctx, key, value)
}
