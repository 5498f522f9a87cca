// Package store 聊天数据访问层（sqlite，读写分离）
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("store: not found")

const defaultDSNParams = "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"

// Options 连接池配置
type Options struct {
	WriteDSN        string
	ReadDSN         string // 为空时读写共用写库
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB 写库连接池 + 读库连接池
type DB struct {
	*sql.DB
	read *sql.DB
}

// Open 打开读写连接池并执行迁移
func Open(opts Options) (*DB, error) {
	if opts.WriteDSN == "" {
		return nil, fmt.Errorf("store: empty write dsn")
	}

	write, err := openPool(opts.WriteDSN, opts)
	if err != nil {
		return nil, err
	}
	// sqlite 单写者
	write.SetMaxOpenConns(1)
	if err := migrate(write); err != nil {
		write.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	read := write
	if opts.ReadDSN != "" && opts.ReadDSN != opts.WriteDSN {
		read, err = openPool(opts.ReadDSN, opts)
		if err != nil {
			write.Close()
			return nil, err
		}
	}
	return &DB{DB: write, read: read}, nil
}

func openPool(dsn string, opts Options) (*sql.DB, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?" + defaultDSNParams
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return db, nil
}

// Read 返回读库连接池
func (db *DB) Read() *sql.DB {
	return db.read
}

// Ping 检查读写库可用
func (db *DB) Ping(ctx context.Context) error {
	if err := db.DB.PingContext(ctx); err != nil {
		return err
	}
	if db.read != db.DB {
		return db.read.PingContext(ctx)
	}
	return nil
}

// Close 关闭连接池
func (db *DB) Close() error {
	err := db.DB.Close()
	if db.read != db.DB {
		if rerr := db.read.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// withTx 在写库事务中执行 fn，fn 返回错误时回滚
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS servers (
			sid INTEGER PRIMARY KEY,
			server_number INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			person_count INTEGER NOT NULL DEFAULT 0,
			created_time TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS users (
			uuid INTEGER PRIMARY KEY,
			uid INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT '',
			server_id INTEGER NOT NULL DEFAULT 0,
			action_points INTEGER NOT NULL DEFAULT 0,
			created_time TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_messages (
			mid INTEGER PRIMARY KEY,
			send_id INTEGER NOT NULL,
			to_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			created_timestamp INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			msg_type INTEGER NOT NULL,
			created_time TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_groups (
			gid INTEGER PRIMARY KEY,
			group_name TEXT NOT NULL DEFAULT '',
			group_thumbnail TEXT NOT NULL DEFAULT '',
			uuid INTEGER NOT NULL,
			person_count INTEGER NOT NULL DEFAULT 0,
			created_time TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_groups_uids (
			guid INTEGER PRIMARY KEY AUTOINCREMENT,
			gid INTEGER NOT NULL REFERENCES chat_groups(gid),
			uuid INTEGER NOT NULL,
			latest_timestamp INTEGER NOT NULL DEFAULT 0,
			unread_count INTEGER NOT NULL DEFAULT 0,
			modify_time TEXT NOT NULL,
			created_time TEXT NOT NULL,
			UNIQUE(gid, uuid)
		);
		CREATE TABLE IF NOT EXISTS chat_user_unread_counts (
			ucid INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid_s INTEGER NOT NULL,
			uuid_d INTEGER NOT NULL,
			latest_timestamp INTEGER NOT NULL DEFAULT 0,
			unread_count INTEGER NOT NULL DEFAULT 0,
			modify_time TEXT NOT NULL,
			created_time TEXT NOT NULL,
			UNIQUE(uuid_s, uuid_d)
		);
		CREATE TABLE IF NOT EXISTS blacklists (
			bid INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid_a INTEGER NOT NULL,
			uuid_b INTEGER NOT NULL,
			created_time TEXT NOT NULL,
			UNIQUE(uuid_a, uuid_b)
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_to ON chat_messages(to_id, kind, created_timestamp);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_send ON chat_messages(send_id, to_id, created_timestamp);
		CREATE INDEX IF NOT EXISTS idx_chat_groups_uids_uuid ON chat_groups_uids(uuid);
		CREATE INDEX IF NOT EXISTS idx_users_server ON users(server_id);
	`)
	return err
}
