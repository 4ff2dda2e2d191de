// Package config 同步守护进程配置: JSON 配置文件 + 环境变量覆盖。
//
// 优先级: 环境变量 > 配置文件 > 默认值。
package config

import (
	"encoding/json"
	"os"
	"time"

	apperrors "github.com/contentdesk/worksync/pkg/errors"
	"github.com/contentdesk/worksync/pkg/util"
)

// Config 守护进程全局配置。
type Config struct {
	// studio 服务
	StudioBaseURL string `json:"studioBaseUrl"`
	WorkspaceID   string `json:"workspaceId"`
	HTTPTimeout   int    `json:"httpTimeoutSec"` // 单请求超时 (秒)

	// 本地状态 API
	ListenAddr string `json:"listenAddr"`

	// 本地持久化 (空则纯内存运行)
	DBPath string `json:"dbPath"`

	// 同步调参 (毫秒; 0 取引擎默认)
	PollHotMS        int `json:"pollHotMs"`
	PollIdleMS       int `json:"pollIdleMs"`
	ResyncDebounceMS int `json:"resyncDebounceMs"`

	// 日志
	LogLevel string `json:"logLevel"`
	LogDir   string `json:"logDir"`
}

func defaults() Config {
	return Config{
		StudioBaseURL: "http://localhost:8788",
		ListenAddr:    ":8970",
		HTTPTimeout:   15,
		DBPath:        "worksync.db",
		LogLevel:      "INFO",
	}
}

// Load 加载配置。path 为空时跳过配置文件, 只取环境变量与默认值。
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrap(err, "Config.Load", "读取配置文件失败")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, apperrors.Wrap(err, "Config.Load", "配置文件解析失败")
		}
	}

	// 环境变量覆盖
	cfg.StudioBaseURL = util.EnvStr("WORKSYNC_STUDIO_URL", cfg.StudioBaseURL)
	cfg.WorkspaceID = util.EnvStr("WORKSYNC_WORKSPACE_ID", cfg.WorkspaceID)
	cfg.ListenAddr = util.EnvStr("WORKSYNC_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DBPath = util.EnvStr("WORKSYNC_DB_PATH", cfg.DBPath)
	cfg.HTTPTimeout = util.EnvInt("WORKSYNC_HTTP_TIMEOUT_SEC", cfg.HTTPTimeout, 1)
	cfg.PollHotMS = util.EnvInt("WORKSYNC_POLL_HOT_MS", cfg.PollHotMS, 0)
	cfg.PollIdleMS = util.EnvInt("WORKSYNC_POLL_IDLE_MS", cfg.PollIdleMS, 0)
	cfg.ResyncDebounceMS = util.EnvInt("WORKSYNC_RESYNC_DEBOUNCE_MS", cfg.ResyncDebounceMS, 0)
	cfg.LogLevel = util.EnvStr("WORKSYNC_LOG_LEVEL", cfg.LogLevel)
	cfg.LogDir = util.EnvStr("WORKSYNC_LOG_DIR", cfg.LogDir)

	if cfg.WorkspaceID == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Config.Load", "缺少 workspaceId")
	}
	return &cfg, nil
}

// HTTPTimeoutDuration HTTP 超时时长。
func (c *Config) HTTPTimeoutDuration() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}
