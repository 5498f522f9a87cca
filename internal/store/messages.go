package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Message 聊天消息
type Message struct {
	MID              int64
	SendID           int64
	ToID             int64
	Content          string
	CreatedTimestamp int64 // 毫秒
	Kind             int16
	MsgType          int16
}

// 消息排序
const (
	OrderAsc  = 0
	OrderDesc = 1
)

// MessageQuery 历史消息查询条件
//
// Since > 0 时：升序取 created_timestamp > Since，降序取 created_timestamp < Since。
// Order 为其他值时既不过滤时间也不排序。
type MessageQuery struct {
	Since int64
	Limit int
	Order int16
}

const messageColumns = "mid, send_id, to_id, content, created_timestamp, kind, msg_type"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, e execer, m *Message) error {
	_, err := e.ExecContext(ctx,
		"INSERT INTO chat_messages ("+messageColumns+", created_time) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		m.MID, m.SendID, m.ToID, m.Content, m.CreatedTimestamp, m.Kind, m.MsgType, now())
	return err
}

// InsertMessage 写入一条消息（王国频道）
func (db *DB) InsertMessage(ctx context.Context, m *Message) error {
	return insertMessage(ctx, db, m)
}

// InsertGroupMessage 写入群消息并为其他成员累加未读（同一事务）
func (db *DB) InsertGroupMessage(ctx context.Context, m *Message) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertMessage(ctx, tx, m); err != nil {
			return fmt.Errorf("insert group message: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE chat_groups_uids SET unread_count = unread_count + 1, modify_time = ? WHERE gid = ? AND uuid <> ?",
			now(), m.ToID, m.SendID)
		if err != nil {
			return fmt.Errorf("bump group unread: %w", err)
		}
		return nil
	})
}

// InsertP2PMessage 写入私聊消息并累加接收方对发送方的未读（同一事务）
//
// 计数记录不存在时以 unread_count=1、latest_timestamp=0 新建。
func (db *DB) InsertP2PMessage(ctx context.Context, m *Message) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertMessage(ctx, tx, m); err != nil {
			return fmt.Errorf("insert p2p message: %w", err)
		}
		ts := now()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_user_unread_counts (uuid_s, uuid_d, latest_timestamp, unread_count, modify_time, created_time)
			VALUES (?, ?, 0, 1, ?, ?)
			ON CONFLICT(uuid_s, uuid_d) DO UPDATE SET
				unread_count = unread_count + 1,
				modify_time = excluded.modify_time`,
			m.ToID, m.SendID, ts, ts)
		if err != nil {
			return fmt.Errorf("bump p2p unread: %w", err)
		}
		return nil
	})
}

// CountSince 统计频道内晚于 since 的消息数
func (db *DB) CountSince(ctx context.Context, toID int64, kind int16, since int64) (int64, error) {
	var n int64
	err := db.read.QueryRowContext(ctx,
		"SELECT COUNT(mid) FROM chat_messages WHERE to_id = ? AND kind = ? AND created_timestamp > ?",
		toID, kind, since).Scan(&n)
	return n, err
}

// LatestSince 频道内晚于 since 的最新一条消息
func (db *DB) LatestSince(ctx context.Context, toID int64, kind int16, since int64) (*Message, error) {
	return db.queryMessage(ctx,
		"SELECT "+messageColumns+" FROM chat_messages WHERE to_id = ? AND kind = ? AND created_timestamp > ? ORDER BY created_timestamp DESC, mid DESC LIMIT 1",
		toID, kind, since)
}

// LatestP2PSince sender 发给 receiver 的晚于 since 的最新一条私聊
func (db *DB) LatestP2PSince(ctx context.Context, sender, receiver int64, since int64) (*Message, error) {
	return db.queryMessage(ctx,
		"SELECT "+messageColumns+" FROM chat_messages WHERE send_id = ? AND to_id = ? AND kind = 3 AND created_timestamp > ? ORDER BY created_timestamp DESC, mid DESC LIMIT 1",
		sender, receiver, since)
}

// ChannelMessages 王国/群组历史消息
func (db *DB) ChannelMessages(ctx context.Context, toID int64, kind int16, q MessageQuery) ([]Message, error) {
	where := []string{"to_id = ?", "kind = ?"}
	args := []any{toID, kind}
	return db.queryMessages(ctx, where, args, q)
}

// P2PMessages a 与 b 之间的私聊历史
func (db *DB) P2PMessages(ctx context.Context, a, b int64, q MessageQuery) ([]Message, error) {
	where := []string{"send_id IN (?, ?)", "to_id IN (?, ?)", "kind = 3"}
	args := []any{a, b, a, b}
	return db.queryMessages(ctx, where, args, q)
}

func (db *DB) queryMessages(ctx context.Context, where []string, args []any, q MessageQuery) ([]Message, error) {
	orderBy := ""
	switch q.Order {
	case OrderAsc:
		orderBy = " ORDER BY created_timestamp ASC, mid ASC"
		if q.Since > 0 {
			where = append(where, "created_timestamp > ?")
			args = append(args, q.Since)
		}
	case OrderDesc:
		orderBy = " ORDER BY created_timestamp DESC, mid DESC"
		if q.Since > 0 {
			where = append(where, "created_timestamp < ?")
			args = append(args, q.Since)
		}
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf("SELECT %s FROM chat_messages WHERE %s%s LIMIT ?",
		messageColumns, strings.Join(where, " AND "), orderBy)

	rows, err := db.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MID, &m.SendID, &m.ToID, &m.Content, &m.CreatedTimestamp, &m.Kind, &m.MsgType); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (db *DB) queryMessage(ctx context.Context, query string, args ...any) (*Message, error) {
	var m Message
	err := db.read.QueryRowContext(ctx, query, args...).
		Scan(&m.MID, &m.SendID, &m.ToID, &m.Content, &m.CreatedTimestamp, &m.Kind, &m.MsgType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
