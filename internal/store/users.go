package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// User 聊天展示所需的用户信息
type User struct {
	UUID         int64
	UID          int32
	Name         string
	Avatar       string
	ServerID     int32
	ActionPoints int32
}

// Server 游戏服（王国）
type Server struct {
	SID          int64
	ServerNumber int32
	Name         string
}

// CreateServer 新增服务器记录
func (db *DB) CreateServer(ctx context.Context, s Server) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO servers (sid, server_number, name, created_time) VALUES (?, ?, ?, ?)",
		s.SID, s.ServerNumber, s.Name, now())
	return err
}

// CreateUser 新增用户记录
func (db *DB) CreateUser(ctx context.Context, u User) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO users (uuid, uid, name, avatar, server_id, action_points, created_time) VALUES (?, ?, ?, ?, ?, ?, ?)",
		u.UUID, u.UID, u.Name, u.Avatar, u.ServerID, u.ActionPoints, now())
	return err
}

// KingdomIDByServerNumber 按服务器编号查王国 id（servers.sid）
func (db *DB) KingdomIDByServerNumber(ctx context.Context, serverNumber int64) (int64, error) {
	var sid int64
	err := db.read.QueryRowContext(ctx,
		"SELECT sid FROM servers WHERE server_number = ?", serverNumber).Scan(&sid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("server number %d: %w", serverNumber, ErrNotFound)
	}
	return sid, err
}

// KingdomIDByUser 查用户所在王国 id
func (db *DB) KingdomIDByUser(ctx context.Context, uuid int64) (int64, error) {
	var sid int64
	err := db.read.QueryRowContext(ctx, `
		SELECT servers.sid FROM users
		INNER JOIN servers ON users.server_id = servers.server_number
		WHERE users.uuid = ?`, uuid).Scan(&sid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("kingdom of user %d: %w", uuid, ErrNotFound)
	}
	return sid, err
}

// ChatUser 查聊天展示用户信息
func (db *DB) ChatUser(ctx context.Context, uuid int64) (*User, error) {
	var u User
	err := db.read.QueryRowContext(ctx,
		"SELECT uuid, uid, name, avatar, server_id, action_points FROM users WHERE uuid = ?", uuid).
		Scan(&u.UUID, &u.UID, &u.Name, &u.Avatar, &u.ServerID, &u.ActionPoints)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", uuid, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// KingdomMemberIDs 王国内全部用户 uuid
func (db *DB) KingdomMemberIDs(ctx context.Context, kingdomID int64) ([]int64, error) {
	return db.queryIDs(ctx, `
		SELECT users.uuid FROM users
		INNER JOIN servers ON users.server_id = servers.server_number
		WHERE servers.sid = ?`, kingdomID)
}

// IsBlacklisted owner 是否拉黑了 target
func (db *DB) IsBlacklisted(ctx context.Context, owner, target int64) (bool, error) {
	var exists bool
	err := db.read.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM blacklists WHERE uuid_a = ? AND uuid_b = ?)", owner, target).Scan(&exists)
	return exists, err
}

// AddBlacklist owner 拉黑 target
func (db *DB) AddBlacklist(ctx context.Context, owner, target int64) error {
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO blacklists (uuid_a, uuid_b, created_time) VALUES (?, ?, ?)", owner, target, now())
	return err
}

func (db *DB) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := db.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
