// Package store 提供客户端本地持久化: 用户偏好与每分支同步游标。
//
// 底层为单文件 SQLite (纯 Go 驱动, 无 cgo), 打开即迁移。
// 所有写入都是幂等 upsert, 损坏/缺失时上层可降级为内存模式。
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/contentdesk/worksync/pkg/errors"
	"github.com/contentdesk/worksync/pkg/logger"
)

// Store 本地持久层句柄。
type Store struct {
	db *sql.DB
}

// Open 打开 (或创建) 指定路径的数据库并执行迁移。
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(err, "Store.Open", "打开数据库失败")
	}

	// WAL 改善读写并发
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, "Store.Open", "设置 WAL 失败")
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, "Store.Open", "迁移失败")
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS preferences (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS branch_cursors (
			branch_id  TEXT PRIMARY KEY,
			seq        INTEGER NOT NULL DEFAULT 0,
			event_id   TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);
	`)
	return err
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	return s.db.Close()
}

// ========================================
// 偏好 (JSON 编码的任意值)
// ========================================

// GetPreference 读取单个偏好。不存在时返回 (nil, nil)。
func (s *Store) GetPreference(ctx context.Context, key string) (any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "Store.GetPreference", "查询偏好失败")
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, apperrors.Wrap(err, "Store.GetPreference", "偏好值解码失败")
	}
	return value, nil
}

// SetPreference 写入偏好 (upsert)。
func (s *Store) SetPreference(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(err, "Store.SetPreference", "偏好值编码失败")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return apperrors.Wrap(err, "Store.SetPreference", "写入偏好失败")
	}
	return nil
}

// AllPreferences 读取全部偏好。
func (s *Store) AllPreferences(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, apperrors.Wrap(err, "Store.AllPreferences", "查询偏好失败")
	}
	defer rows.Close()

	result := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, apperrors.Wrap(err, "Store.AllPreferences", "扫描偏好失败")
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			continue // 单条损坏不拖垮整表
		}
		result[key] = value
	}
	return result, rows.Err()
}

// ========================================
// 分支游标 (进程重启后续传)
// ========================================

// SaveCursor 持久化分支游标。失败只记日志: 游标丢失的代价
// 不过是多拉一次全量, 不值得让同步路径因此失败。
func (s *Store) SaveCursor(branchID string, seq int64, id string) {
	_, err := s.db.Exec(
		`INSERT INTO branch_cursors (branch_id, seq, event_id, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(branch_id) DO UPDATE SET
			seq = excluded.seq, event_id = excluded.event_id, updated_at = excluded.updated_at`,
		branchID, seq, id, time.Now().UTC(),
	)
	if err != nil {
		logger.Warn("store: cursor save failed",
			logger.FieldBranchID, branchID, logger.FieldError, err)
	}
}

// LoadCursor 读取分支游标。不存在或出错时 ok=false。
func (s *Store) LoadCursor(branchID string) (seq int64, id string, ok bool) {
	err := s.db.QueryRow(
		`SELECT seq, event_id FROM branch_cursors WHERE branch_id = ?`, branchID,
	).Scan(&seq, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false
	}
	if err != nil {
		logger.Warn("store: cursor load failed",
			logger.FieldBranchID, branchID, logger.FieldError, err)
		return 0, "", false
	}
	return seq, id, true
}
