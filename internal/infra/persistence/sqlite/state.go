// Package sqlite 本地状态库:最近页面列表与持久化的日志尾部
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type StateStore interface {
	SaveRecentPages(ctx context.Context, pages []model.PageResult) error
	LoadRecentPages(ctx context.Context) ([]model.PageResult, error)
	ClearRecentPages(ctx context.Context) error
	SaveLogTail(ctx context.Context, lines []string) error
	LoadLogTail(ctx context.Context) ([]string, error)
	Close() error
}

type stateStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS recent_pages (
	position INTEGER PRIMARY KEY,
	url TEXT NOT NULL,
	success INTEGER NOT NULL,
	crawled_at TEXT NOT NULL,
	screenshot TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS log_tail (
	position INTEGER PRIMARY KEY,
	line TEXT NOT NULL
);
`

// InitStateStore 打开或创建path处的数据库,目录不存在时自动创建
func InitStateStore(path string) (StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("创建状态目录失败: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("打开状态库失败: %w", err)
	}
	// sqlite只有一个写者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("启用WAL失败: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}
	return &stateStore{db: db}, nil
}

func (s *stateStore) Close() error {
	return s.db.Close()
}

// SaveRecentPages 整体替换,pages按最新在前的顺序保存
func (s *stateStore) SaveRecentPages(ctx context.Context, pages []model.PageResult) error {
	return s.replace(ctx, "recent_pages", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO recent_pages (position, url, success, crawled_at, screenshot) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, p := range pages {
			if _, err := stmt.ExecContext(ctx, i, p.URL, p.Success, p.Timestamp.UTC().Format(time.RFC3339Nano), p.Screenshot); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *stateStore) LoadRecentPages(ctx context.Context) ([]model.PageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT url, success, crawled_at, screenshot FROM recent_pages ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("查询最近页面失败: %w", err)
	}
	defer rows.Close()

	pages := []model.PageResult{}
	for rows.Next() {
		var (
			p  model.PageResult
			ts string
		)
		if err := rows.Scan(&p.URL, &p.Success, &ts, &p.Screenshot); err != nil {
			return nil, fmt.Errorf("读取最近页面失败: %w", err)
		}
		if p.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("解析时间失败: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *stateStore) ClearRecentPages(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM recent_pages"); err != nil {
		return fmt.Errorf("清空最近页面失败: %w", err)
	}
	return nil
}

func (s *stateStore) SaveLogTail(ctx context.Context, lines []string) error {
	return s.replace(ctx, "log_tail", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO log_tail (position, line) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, l := range lines {
			if _, err := stmt.ExecContext(ctx, i, l); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *stateStore) LoadLogTail(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT line FROM log_tail ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("查询日志失败: %w", err)
	}
	defer rows.Close()

	lines := []string{}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("读取日志失败: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// replace 在一个事务内清空table并由fill重新写入
func (s *stateStore) replace(ctx context.Context, table string, fill func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()
	if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("清空%s失败: %w", table, err)
	}
	if err = fill(tx); err != nil {
		return fmt.Errorf("写入%s失败: %w", table, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// RecentPagesSubscriber 进度订阅者:每个页面结果后保存最近页面,清空事件时删除持久化副本
func RecentPagesSubscriber(store StateStore, logger *zap.Logger) func(model.ProgressEvent) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("state")
	return func(ev model.ProgressEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		switch {
		case ev.RecentCleared:
			if err := store.ClearRecentPages(ctx); err != nil {
				logger.Warn("清空持久化最近页面失败", zap.Error(err))
				return err
			}
		case ev.Page != nil:
			if err := store.SaveRecentPages(ctx, ev.Recent); err != nil {
				logger.Warn("保存最近页面失败", zap.Error(err))
				return err
			}
		}
		return nil
	}
}
