package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UnreadCounter 私聊未读计数：Owner 收到 Peer 的未读条数
type UnreadCounter struct {
	Owner           int64
	Peer            int64
	LatestTimestamp int64
	UnreadCount     int32
}

// UnreadCounters owner 名下未读数大于 0 的私聊计数
func (db *DB) UnreadCounters(ctx context.Context, owner int64) ([]UnreadCounter, error) {
	rows, err := db.read.QueryContext(ctx,
		"SELECT uuid_s, uuid_d, latest_timestamp, unread_count FROM chat_user_unread_counts WHERE uuid_s = ? AND unread_count > 0 ORDER BY ucid",
		owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []UnreadCounter
	for rows.Next() {
		var c UnreadCounter
		if err := rows.Scan(&c.Owner, &c.Peer, &c.LatestTimestamp, &c.UnreadCount); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// UnreadCount owner 收到 peer 的未读条数
func (db *DB) UnreadCount(ctx context.Context, owner, peer int64) (int32, error) {
	var n int32
	err := db.read.QueryRowContext(ctx,
		"SELECT unread_count FROM chat_user_unread_counts WHERE uuid_s = ? AND uuid_d = ?", owner, peer).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("unread %d<-%d: %w", owner, peer, ErrNotFound)
	}
	return n, err
}

// ResetUnread 清零私聊未读并记录已读时间戳（毫秒）
func (db *DB) ResetUnread(ctx context.Context, owner, peer, readAt int64) error {
	_, err := db.ExecContext(ctx,
		"UPDATE chat_user_unread_counts SET unread_count = 0, latest_timestamp = ?, modify_time = ? WHERE uuid_s = ? AND uuid_d = ?",
		readAt, now(), owner, peer)
	return err
}
