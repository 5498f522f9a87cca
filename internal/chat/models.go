package chat

import (
	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/store"
)

// ChatUser 聊天展示用户
type ChatUser struct {
	UUID         int64
	UID          int32
	Name         string
	Avatar       string
	ServerID     int32
	ActionPoints int32
}

func chatUserFrom(u *store.User) ChatUser {
	return ChatUser{
		UUID:         u.UUID,
		UID:          u.UID,
		Name:         u.Name,
		Avatar:       u.Avatar,
		ServerID:     u.ServerID,
		ActionPoints: u.ActionPoints,
	}
}

func (u *ChatUser) EncodeFields(w *codec.Writer) {
	w.Int64(u.UUID)
	w.Int32(u.UID)
	w.String(u.Name)
	w.String(u.Avatar)
	w.Int32(u.ServerID)
	w.Int32(u.ActionPoints)
}

func (u *ChatUser) DecodeFields(r *codec.Reader) {
	u.UUID = r.Int64()
	u.UID = r.Int32()
	u.Name = r.String()
	u.Avatar = r.String()
	u.ServerID = r.Int32()
	u.ActionPoints = r.Int32()
}

// SentSummary 发送成功回执 / 未读私聊的最新消息
type SentSummary struct {
	MID              int64
	Content          string
	CreatedTimestamp int64
	Kind             int16
	MsgType          int16
}

func summaryFrom(m *store.Message) SentSummary {
	return SentSummary{
		MID:              m.MID,
		Content:          m.Content,
		CreatedTimestamp: m.CreatedTimestamp,
		Kind:             m.Kind,
		MsgType:          m.MsgType,
	}
}

func (s *SentSummary) EncodeFields(w *codec.Writer) {
	w.Int64(s.MID)
	w.String(s.Content)
	w.Int64(s.CreatedTimestamp)
	w.Int16(s.Kind)
	w.Int16(s.MsgType)
}

func (s *SentSummary) DecodeFields(r *codec.Reader) {
	s.MID = r.Int64()
	s.Content = r.String()
	s.CreatedTimestamp = r.Int64()
	s.Kind = r.Int16()
	s.MsgType = r.Int16()
}

// KingdomMessage 王国频道消息
type KingdomMessage struct {
	MID              int64
	SendUser         ChatUser
	ToID             int64
	Content          string
	CreatedTimestamp int64
	Kind             int16
	MsgType          int16
}

func (m *KingdomMessage) EncodeFields(w *codec.Writer) {
	w.Int64(m.MID)
	w.Record(&m.SendUser)
	w.Int64(m.ToID)
	w.String(m.Content)
	w.Int64(m.CreatedTimestamp)
	w.Int16(m.Kind)
	w.Int16(m.MsgType)
}

func (m *KingdomMessage) DecodeFields(r *codec.Reader) {
	m.MID = r.Int64()
	r.Record(&m.SendUser)
	m.ToID = r.Int64()
	m.Content = r.String()
	m.CreatedTimestamp = r.Int64()
	m.Kind = r.Int16()
	m.MsgType = r.Int16()
}

// GroupMessage 群消息
type GroupMessage struct {
	MID              int64
	SendUser         ChatUser
	GID              int64
	GroupName        string
	GroupThumbnail   string
	Content          string
	CreatedTimestamp int64
	Kind             int16
	MsgType          int16
}

func (m *GroupMessage) EncodeFields(w *codec.Writer) {
	w.Int64(m.MID)
	w.Record(&m.SendUser)
	w.Int64(m.GID)
	w.String(m.GroupName)
	w.String(m.GroupThumbnail)
	w.String(m.Content)
	w.Int64(m.CreatedTimestamp)
	w.Int16(m.Kind)
	w.Int16(m.MsgType)
}

func (m *GroupMessage) DecodeFields(r *codec.Reader) {
	m.MID = r.Int64()
	r.Record(&m.SendUser)
	m.GID = r.Int64()
	m.GroupName = r.String()
	m.GroupThumbnail = r.String()
	m.Content = r.String()
	m.CreatedTimestamp = r.Int64()
	m.Kind = r.Int16()
	m.MsgType = r.Int16()
}

// P2PMessage 私聊消息
type P2PMessage struct {
	MID              int64
	SendUser         ChatUser
	DstUser          ChatUser
	Content          string
	CreatedTimestamp int64
	Kind             int16
	MsgType          int16
}

func (m *P2PMessage) EncodeFields(w *codec.Writer) {
	w.Int64(m.MID)
	w.Record(&m.SendUser)
	w.Record(&m.DstUser)
	w.String(m.Content)
	w.Int64(m.CreatedTimestamp)
	w.Int16(m.Kind)
	w.Int16(m.MsgType)
}

func (m *P2PMessage) DecodeFields(r *codec.Reader) {
	m.MID = r.Int64()
	r.Record(&m.SendUser)
	r.Record(&m.DstUser)
	m.Content = r.String()
	m.CreatedTimestamp = r.Int64()
	m.Kind = r.Int16()
	m.MsgType = r.Int16()
}

// P2PUnread 某个发送者的私聊未读
type P2PUnread struct {
	Sender          ChatUser
	Receiver        ChatUser
	LatestTimestamp int64
	UnreadCount     int16
	LatestMsg       SentSummary
}

func (u *P2PUnread) EncodeFields(w *codec.Writer) {
	w.Record(&u.Sender)
	w.Record(&u.Receiver)
	w.Int64(u.LatestTimestamp)
	w.Int16(u.UnreadCount)
	w.Record(&u.LatestMsg)
}

func (u *P2PUnread) DecodeFields(r *codec.Reader) {
	r.Record(&u.Sender)
	r.Record(&u.Receiver)
	u.LatestTimestamp = r.Int64()
	u.UnreadCount = r.Int16()
	r.Record(&u.LatestMsg)
}

// KingdomUnread 王国频道未读
type KingdomUnread struct {
	UnreadCount int32
	Latest      *KingdomMessage
}

func (u *KingdomUnread) EncodeFields(w *codec.Writer) {
	w.Int32(u.UnreadCount)
	codec.WriteOptional(w, u.Latest)
}

func (u *KingdomUnread) DecodeFields(r *codec.Reader) {
	u.UnreadCount = r.Int32()
	u.Latest = codec.ReadOptional[KingdomMessage](r)
}

// GroupUnread 单个群的未读
type GroupUnread struct {
	UnreadCount int32
	Latest      GroupMessage
}

func (u *GroupUnread) EncodeFields(w *codec.Writer) {
	w.Int32(u.UnreadCount)
	w.Record(&u.Latest)
}

func (u *GroupUnread) DecodeFields(r *codec.Reader) {
	u.UnreadCount = r.Int32()
	r.Record(&u.Latest)
}

// UnreadSummary 未读汇总（2004）
type UnreadSummary struct {
	Kingdom KingdomUnread
	Groups  GroupUnreadList
	P2Ps    P2PUnreadList
}

func (s *UnreadSummary) EncodeFields(w *codec.Writer) {
	w.Record(&s.Kingdom)
	w.Record(&s.Groups)
	w.Record(&s.P2Ps)
}

func (s *UnreadSummary) DecodeFields(r *codec.Reader) {
	r.Record(&s.Kingdom)
	r.Record(&s.Groups)
	r.Record(&s.P2Ps)
}

// ChannelUnread 单频道未读数（2008）
type ChannelUnread struct {
	UnreadCount int16
	Kind        int16
}

func (u *ChannelUnread) EncodeFields(w *codec.Writer) {
	w.Int16(u.UnreadCount)
	w.Int16(u.Kind)
}

func (u *ChannelUnread) DecodeFields(r *codec.Reader) {
	u.UnreadCount = r.Int16()
	u.Kind = r.Int16()
}

// KingdomMessages 2005 响应体
type KingdomMessages = codec.List[KingdomMessage, *KingdomMessage]

// GroupMessages 2006 响应体
type GroupMessages = codec.List[GroupMessage, *GroupMessage]

// P2PMessages 2007 响应体
type P2PMessages = codec.List[P2PMessage, *P2PMessage]

// GroupUnreadList 群未读序列
type GroupUnreadList = codec.List[GroupUnread, *GroupUnread]

// P2PUnreadList 私聊未读序列
type P2PUnreadList = codec.List[P2PUnread, *P2PUnread]
