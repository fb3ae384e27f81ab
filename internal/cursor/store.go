// Package cursor 持久化各逻辑流已消费的 offset, 重连时从断点续订。
//
// 写入 best-effort: 持久化失败只降级 "重启后续传" 能力, 不影响本次会话,
// 因此 Set 不向调用方抛错。offset 单调不减 — 本组件从不回退,
// 只有外部重订阅逻辑有权重置一条流的历史。
package cursor

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/multi-agent/runview/pkg/errors"
	"github.com/multi-agent/runview/pkg/logger"
)

// Store 每条逻辑流一个单调 offset 的 KV 存储 (SQLite 落盘 + 内存镜像)。
type Store struct {
	mu     sync.Mutex
	db     *sql.DB // nil = 纯内存降级
	memory map[string]uint64
}

// Open 打开 (或创建) cursor 数据库。
//
// 打开失败不是致命错误 — 返回纯内存 Store, 并记日志。
func Open(path string) *Store {
	s := &Store{memory: map[string]uint64{}}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("cursor: create dir failed, falling back to memory",
				logger.FieldPath, path, logger.FieldError, err)
			return s
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logger.Warn("cursor: open db failed, falling back to memory",
			logger.FieldPath, path, logger.FieldError, err)
		return s
	}
	// 内存 SQLite 多连接各自为政, 保持单连接。
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS stream_cursors (
		stream_id TEXT PRIMARY KEY,
		next_offset INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		logger.Warn("cursor: migrate failed, falling back to memory",
			logger.FieldPath, path, logger.FieldError, err)
		_ = db.Close()
		return s
	}

	s.db = db
	return s
}

// Get 返回流的下一个待消费 offset, 未知流返回 0。
func (s *Store) Get(streamID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.memory[streamID]; ok {
		return v
	}
	if s.db == nil {
		return 0
	}
	var v uint64
	err := s.db.QueryRow(
		`SELECT next_offset FROM stream_cursors WHERE stream_id = ?`, streamID,
	).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		return 0
	case err != nil:
		logger.Warn("cursor: read failed", logger.FieldStream, streamID, logger.FieldError, err)
		return 0
	}
	s.memory[streamID] = v
	return v
}

// Set 推进流 offset。回退方向的写入被忽略; 持久化失败仅记日志。
func (s *Store) Set(streamID string, offset uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.memory[streamID]; ok && offset < prev {
		return
	}
	s.memory[streamID] = offset

	if s.db == nil {
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO stream_cursors (stream_id, next_offset) VALUES (?, ?)
		 ON CONFLICT(stream_id) DO UPDATE SET next_offset = excluded.next_offset
		 WHERE excluded.next_offset > stream_cursors.next_offset`,
		streamID, offset,
	); err != nil {
		logger.Warn("cursor: write failed", logger.FieldStream, streamID, logger.FieldError, err)
	}
}

// Close 关闭底层数据库。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return apperrors.Wrap(err, "cursor.Close", "close db")
	}
	return nil
}
