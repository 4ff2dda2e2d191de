// channel.go — WebSocket 事件通道 (推送通道)。
//
// 连接生命周期: Dial → readLoop/pingLoop → OnClose。重连策略由上层
// 同步控制器负责, 本层只保证单条连接的读写与保活。
package studio

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/contentdesk/worksync/pkg/errors"
	"github.com/contentdesk/worksync/pkg/logger"
	"github.com/contentdesk/worksync/pkg/util"
)

const (
	channelHandshakeTimeout = 5 * time.Second
	channelReadIdleTimeout  = 75 * time.Second
	channelPingInterval     = 25 * time.Second
	channelWriteTimeout     = 10 * time.Second
)

// ChannelCallbacks 通道事件回调。所有回调在通道自己的协程上触发。
type ChannelCallbacks struct {
	OnOpen  func()
	OnFrame func(Frame)
	OnClose func(err error)
}

// Channel 单条推送通道连接。
type Channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // 序列化出站写 (gorilla 要求单写者)
	closed  atomic.Bool
	done    chan struct{} // finish 时关闭, 叫醒 pingLoop
	cb      ChannelCallbacks
}

// DialChannel 打开推送通道。游标 (afterSeq 优先, afterId 回退) 请求只投递新事件;
// token 可为空 (令牌签发失败时的降级路径)。
func (c *Client) DialChannel(ctx context.Context, branchID string, afterSeq int64, afterID, token string, cb ChannelCallbacks) (*Channel, error) {
	wsURL, err := c.channelURL(branchID, afterSeq, afterID, token)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: channelHandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: channelHandshakeTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "Channel.Dial", "ws connect")
	}

	_ = conn.SetReadDeadline(time.Now().Add(channelReadIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(channelReadIdleTimeout))
		return nil
	})

	ch := &Channel{conn: conn, cb: cb, done: make(chan struct{})}
	util.SafeGo(func() { ch.readLoop() })
	util.SafeGo(func() { ch.pingLoop() })

	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	logger.Info("studio: channel connected",
		logger.FieldBranchID, branchID, logger.FieldSeq, afterSeq)
	return ch, nil
}

// channelURL 由 HTTP base 推导 ws URL 并附加游标/令牌查询参数。
func (c *Client) channelURL(branchID string, afterSeq int64, afterID, token string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", apperrors.Wrap(err, "Channel.Dial", "parse base url")
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") +
		"/api/workspaces/" + url.PathEscape(c.WorkspaceID) +
		"/branches/" + url.PathEscape(branchID) + "/channel"

	q := u.Query()
	if afterSeq > 0 {
		q.Set("afterSeq", strconv.FormatInt(afterSeq, 10))
	} else if afterID != "" {
		q.Set("afterId", afterID)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop 读帧直到连接断开; 退出时触发 OnClose (恰好一次)。
func (ch *Channel) readLoop() {
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			ch.finish(err)
			return
		}
		_ = ch.conn.SetReadDeadline(time.Now().Add(channelReadIdleTimeout))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("studio: drop malformed frame", logger.FieldError, err)
			continue
		}
		if ch.cb.OnFrame != nil {
			ch.cb.OnFrame(frame)
		}
	}
}

// pingLoop 固定间隔发送 keepalive ping, 连接关闭时立即退出。
// pong 缺失由读超时经 readLoop 的 close/error 回调处理, 本层不另作判定。
func (ch *Channel) pingLoop() {
	ticker := time.NewTicker(channelPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			if err := ch.Ping(); err != nil {
				return
			}
		}
	}
}

// Ping 发送一帧 keepalive。
func (ch *Channel) Ping() error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_ = ch.conn.SetWriteDeadline(time.Now().Add(channelWriteTimeout))
	if err := ch.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PING"}`)); err != nil {
		return apperrors.Wrap(err, "Channel.Ping", "write keepalive")
	}
	return nil
}

// Close 主动关闭连接 (分支切换/停机)。OnClose 不会带错误触发。
func (ch *Channel) Close() {
	ch.finish(nil)
}

// finish 恰好一次地关闭连接并通知上层。
func (ch *Channel) finish(err error) {
	if !ch.closed.CompareAndSwap(false, true) {
		return
	}
	close(ch.done)
	_ = ch.conn.Close()
	if ch.cb.OnClose != nil {
		ch.cb.OnClose(err)
	}
}
