// client.go — studio 服务 HTTP 客户端 (轮询通道 + 命令调用 + 通道令牌)。
package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/contentdesk/worksync/internal/event"
	apperrors "github.com/contentdesk/worksync/pkg/errors"
)

// Client studio 服务 HTTP 客户端。
type Client struct {
	BaseURL     string
	WorkspaceID string

	httpClient *http.Client
}

// NewClient 创建客户端。timeout 为单请求超时。
func NewClient(baseURL, workspaceID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:     baseURL,
		WorkspaceID: workspaceID,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// ========================================
// 轮询通道 (GET)
// ========================================

// Threads 拉取线程/分支列表。
func (c *Client) Threads(ctx context.Context) ([]Thread, error) {
	var out []Thread
	err := c.getJSON(ctx, c.wsPath("threads"), nil, &out)
	return out, err
}

// Messages 拉取分支消息列表。
func (c *Client) Messages(ctx context.Context, branchID string) ([]Message, error) {
	var out []Message
	err := c.getJSON(ctx, c.branchPath(branchID, "messages"), nil, &out)
	return out, err
}

// Events 拉取分支事件。游标非零时只取新事件 (afterSeq 优先, afterId 回退)。
func (c *Client) Events(ctx context.Context, branchID string, afterSeq int64, afterID string) ([]event.Raw, error) {
	query := url.Values{}
	if afterSeq > 0 {
		query.Set("afterSeq", strconv.FormatInt(afterSeq, 10))
	} else if afterID != "" {
		query.Set("afterId", afterID)
	}
	var out []event.Raw
	err := c.getJSON(ctx, c.branchPath(branchID, "events"), query, &out)
	return out, err
}

// Queue 拉取分支发送队列。
func (c *Client) Queue(ctx context.Context, branchID string) ([]QueueItem, error) {
	var out []QueueItem
	err := c.getJSON(ctx, c.branchPath(branchID, "queue"), nil, &out)
	return out, err
}

// State 拉取分支权威运行快照。
func (c *Client) State(ctx context.Context, branchID string) (BranchState, error) {
	var out BranchState
	err := c.getJSON(ctx, c.branchPath(branchID, "state"), nil, &out)
	return out, err
}

// References 拉取工作区素材库条目。
func (c *Client) References(ctx context.Context) ([]ReferenceItem, error) {
	var out []ReferenceItem
	err := c.getJSON(ctx, c.wsPath("references"), nil, &out)
	return out, err
}

// ========================================
// 命令调用 (POST)
// ========================================

// SendMessage 发送或排队一条消息。
func (c *Client) SendMessage(ctx context.Context, branchID string, req SendRequest) error {
	return c.postJSON(ctx, c.branchPath(branchID, "messages"), req, nil)
}

// Steer 注入引导备注到进行中的运行。
func (c *Client) Steer(ctx context.Context, branchID, note string) error {
	return c.postJSON(ctx, c.branchPath(branchID, "steer"), map[string]string{"note": note}, nil)
}

// Interrupt 中断当前运行。
func (c *Client) Interrupt(ctx context.Context, branchID, reason string) error {
	return c.postJSON(ctx, c.branchPath(branchID, "interrupt"), map[string]string{"reason": reason}, nil)
}

// ReorderQueue 重排发送队列。
func (c *Client) ReorderQueue(ctx context.Context, branchID string, orderedIDs []string) error {
	return c.postJSON(ctx, c.branchPath(branchID, "queue/reorder"), map[string]any{"ids": orderedIDs}, nil)
}

// CancelQueued 取消一条排队消息。
func (c *Client) CancelQueued(ctx context.Context, branchID, itemID string) error {
	return c.postJSON(ctx, c.branchPath(branchID, "queue/"+url.PathEscape(itemID)+"/cancel"), nil, nil)
}

// ResolveDecision 提交审批选择。
func (c *Client) ResolveDecision(ctx context.Context, branchID, decisionID, option string) error {
	return c.postJSON(ctx, c.branchPath(branchID, "decisions/"+url.PathEscape(decisionID)+"/resolve"),
		map[string]string{"option": option}, nil)
}

// CreateThread 创建新线程 (服务端自动附带默认分支)。
func (c *Client) CreateThread(ctx context.Context, title string) (Thread, error) {
	var out Thread
	err := c.postJSON(ctx, c.wsPath("threads"), map[string]string{"title": title}, &out)
	return out, err
}

// CreateBranch 在线程下创建分支。
func (c *Client) CreateBranch(ctx context.Context, threadID, name string) (Branch, error) {
	var out Branch
	err := c.postJSON(ctx, c.wsPath("threads/"+url.PathEscape(threadID)+"/branches"),
		map[string]string{"name": name}, &out)
	return out, err
}

// PinBranch 置顶分支。
func (c *Client) PinBranch(ctx context.Context, branchID string) error {
	return c.postJSON(ctx, c.branchPath(branchID, "pin"), nil, nil)
}

// Bootstrap 引导空分支 (服务端生成首个自动运行)。
func (c *Client) Bootstrap(ctx context.Context, branchID string, req BootstrapRequest) error {
	return c.postJSON(ctx, c.branchPath(branchID, "bootstrap"), req, nil)
}

// IssueChannelToken 签发短时效通道令牌。失败非致命, 调用方可无令牌连接。
func (c *Client) IssueChannelToken(ctx context.Context, branchID string) (ChannelToken, error) {
	var out ChannelToken
	err := c.postJSON(ctx, c.branchPath(branchID, "channel-token"), nil, &out)
	return out, err
}

// ========================================
// HTTP 底座
// ========================================

func (c *Client) wsPath(suffix string) string {
	return fmt.Sprintf("%s/api/workspaces/%s/%s", c.BaseURL, url.PathEscape(c.WorkspaceID), suffix)
}

func (c *Client) branchPath(branchID, suffix string) string {
	return fmt.Sprintf("%s/api/workspaces/%s/branches/%s/%s",
		c.BaseURL, url.PathEscape(c.WorkspaceID), url.PathEscape(branchID), suffix)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return apperrors.Wrap(err, "Studio.Get", "build request")
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, "Studio.Post", "encode body")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, reader)
	if err != nil {
		return apperrors.Wrap(err, "Studio.Post", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, "Studio.Do", "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.Newf("Studio.Do", "%s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strconvQuote(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrapf(err, "Studio.Do", "decode %s response", req.URL.Path)
	}
	return nil
}

func strconvQuote(b []byte) string {
	return strconv.Quote(string(b))
}
