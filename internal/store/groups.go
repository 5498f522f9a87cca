package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Group 聊天群
type Group struct {
	GID         int64
	Name        string
	Thumbnail   string
	OwnerUUID   int64
	PersonCount int32
}

// GroupMembership 群成员的已读状态
type GroupMembership struct {
	GID             int64
	UUID            int64
	LatestTimestamp int64
	UnreadCount     int32
}

// CreateGroup 新建群并把创建者加入
func (db *DB) CreateGroup(ctx context.Context, g Group) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		ts := now()
		_, err := tx.ExecContext(ctx,
			"INSERT INTO chat_groups (gid, group_name, group_thumbnail, uuid, person_count, created_time) VALUES (?, ?, ?, ?, 1, ?)",
			g.GID, g.Name, g.Thumbnail, g.OwnerUUID, ts)
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		return addMember(ctx, tx, g.GID, g.OwnerUUID)
	})
}

// AddGroupMember 加入群，已在群内时忽略
func (db *DB) AddGroupMember(ctx context.Context, gid, uuid int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return addMember(ctx, tx, gid, uuid)
	})
}

func addMember(ctx context.Context, tx *sql.Tx, gid, uuid int64) error {
	ts := now()
	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO chat_groups_uids (gid, uuid, modify_time, created_time) VALUES (?, ?, ?, ?)",
		gid, uuid, ts, ts)
	if err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE chat_groups SET person_count = (SELECT COUNT(*) FROM chat_groups_uids WHERE gid = ?) WHERE gid = ?",
		gid, gid)
	return err
}

// Group 查群信息
func (db *DB) Group(ctx context.Context, gid int64) (*Group, error) {
	var g Group
	err := db.read.QueryRowContext(ctx,
		"SELECT gid, group_name, group_thumbnail, uuid, person_count FROM chat_groups WHERE gid = ?", gid).
		Scan(&g.GID, &g.Name, &g.Thumbnail, &g.OwnerUUID, &g.PersonCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", gid, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupMemberIDs 群内全部成员 uuid
func (db *DB) GroupMemberIDs(ctx context.Context, gid int64) ([]int64, error) {
	return db.queryIDs(ctx, "SELECT uuid FROM chat_groups_uids WHERE gid = ? ORDER BY guid", gid)
}

// GroupMembership 查用户在群内的已读状态
func (db *DB) GroupMembership(ctx context.Context, gid, uuid int64) (*GroupMembership, error) {
	var m GroupMembership
	err := db.read.QueryRowContext(ctx,
		"SELECT gid, uuid, latest_timestamp, unread_count FROM chat_groups_uids WHERE gid = ? AND uuid = ?", gid, uuid).
		Scan(&m.GID, &m.UUID, &m.LatestTimestamp, &m.UnreadCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d member %d: %w", gid, uuid, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UnreadGroups 用户未读数大于 0 的群
func (db *DB) UnreadGroups(ctx context.Context, uuid int64) ([]GroupMembership, error) {
	rows, err := db.read.QueryContext(ctx,
		"SELECT gid, uuid, latest_timestamp, unread_count FROM chat_groups_uids WHERE uuid = ? AND unread_count > 0 ORDER BY gid",
		uuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []GroupMembership
	for rows.Next() {
		var m GroupMembership
		if err := rows.Scan(&m.GID, &m.UUID, &m.LatestTimestamp, &m.UnreadCount); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// ResetGroupUnread 清零群未读并记录已读时间戳（毫秒）
func (db *DB) ResetGroupUnread(ctx context.Context, gid, uuid, readAt int64) error {
	_, err := db.ExecContext(ctx,
		"UPDATE chat_groups_uids SET unread_count = 0, latest_timestamp = ?, modify_time = ? WHERE gid = ? AND uuid = ?",
		readAt, now(), gid, uuid)
	return err
}
