// preferences.go — 偏好管理器: 持久层之上的读写门面。
package store

import (
	"context"
	"sync"
)

// 预定义偏好键。
const (
	PrefToolConcurrency = "toolConcurrency"
	PrefMaxToolRuns     = "maxToolRuns"
	PrefAutoContinue    = "autoContinue"
	PrefTransparency    = "transparency"
	PrefSendMode        = "sendMode"
	PrefActiveBranch    = "activeBranch"
)

// 偏好默认值 (未显式设置时的运行策略基线)。
const (
	DefaultToolConcurrency = 2
	DefaultMaxToolRuns     = 12
)

// PreferenceManager 偏好读写门面。
// 当 store 为 nil 时，降级为内存存储。
type PreferenceManager struct {
	store    *Store
	fallback sync.Map // nil-store 时的内存降级
}

// NewPreferenceManager 创建偏好管理器。
func NewPreferenceManager(s *Store) *PreferenceManager {
	return &PreferenceManager{store: s}
}

// Get retrieves a single preference.
func (m *PreferenceManager) Get(ctx context.Context, key string) (any, error) {
	if m.store == nil {
		v, _ := m.fallback.Load(key)
		return v, nil
	}
	return m.store.GetPreference(ctx, key)
}

// Set updates a preference.
func (m *PreferenceManager) Set(ctx context.Context, key string, value any) error {
	if m.store == nil {
		m.fallback.Store(key, value)
		return nil
	}
	return m.store.SetPreference(ctx, key, value)
}

// GetAll retrieves all preferences.
func (m *PreferenceManager) GetAll(ctx context.Context) (map[string]any, error) {
	if m.store == nil {
		result := make(map[string]any)
		m.fallback.Range(func(k, v any) bool {
			result[k.(string)] = v
			return true
		})
		return result, nil
	}
	return m.store.AllPreferences(ctx)
}

// GetInt 读取整型偏好, 缺失或类型不符时返回 def。
// JSON 解码后的数字是 float64, 这里统一折回 int。
func (m *PreferenceManager) GetInt(ctx context.Context, key string, def int) int {
	v, err := m.Get(ctx, key)
	if err != nil || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// GetBool 读取布尔偏好, 缺失或类型不符时返回 def。
func (m *PreferenceManager) GetBool(ctx context.Context, key string, def bool) bool {
	v, err := m.Get(ctx, key)
	if err != nil || v == nil {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// GetString 读取字符串偏好, 缺失或类型不符时返回 def。
func (m *PreferenceManager) GetString(ctx context.Context, key string, def string) string {
	v, err := m.Get(ctx, key)
	if err != nil || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}
