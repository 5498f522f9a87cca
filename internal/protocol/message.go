// Package protocol 定义聊天协议的帧格式、路由码、状态码与签名
package protocol

import "strconv"

// RouterCode 消息路由码
type RouterCode uint16

// 客户端 ↔ 服务端路由码
const (
	CodeConnectionState        RouterCode = 2001 // 上线声明
	CodeSendMessage            RouterCode = 2002 // 发送消息
	CodePushMessage            RouterCode = 2003 // 服务端推送 / 客户端推送回执
	CodeUnreadMessageCount     RouterCode = 2004 // 未读汇总
	CodeKingdomMessageContent  RouterCode = 2005 // 王国历史消息
	CodeGroupMessageContent    RouterCode = 2006 // 群组历史消息
	CodeP2PMessageContent      RouterCode = 2007 // 私聊历史消息
	CodeChannelChatUnreadCount RouterCode = 2008 // 单频道未读数
)

// RouterCodes 全部已定义路由码，按枚举顺序
var RouterCodes = []RouterCode{
	CodeConnectionState,
	CodeSendMessage,
	CodePushMessage,
	CodeUnreadMessageCount,
	CodeKingdomMessageContent,
	CodeGroupMessageContent,
	CodeP2PMessageContent,
	CodeChannelChatUnreadCount,
}

var routerCodeNames = map[RouterCode]string{
	CodeConnectionState:        "connection_state",
	CodeSendMessage:            "send_message",
	CodePushMessage:            "push_message",
	CodeUnreadMessageCount:     "unread_message_count",
	CodeKingdomMessageContent:  "kingdom_message_content",
	CodeGroupMessageContent:    "group_message_content",
	CodeP2PMessageContent:      "p2p_message_content",
	CodeChannelChatUnreadCount: "channel_chat_unread_count",
}

// Valid 是否为已定义路由码
func (c RouterCode) Valid() bool {
	_, ok := routerCodeNames[c]
	return ok
}

func (c RouterCode) String() string {
	if name, ok := routerCodeNames[c]; ok {
		return name
	}
	return "unknown_" + strconv.Itoa(int(c))
}

// State 响应状态码
type State uint16

const (
	StateOK           State = 200
	StateNoContent    State = 204
	StateNotFound     State = 403
	StateGeneralError State = 503
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "ok"
	case StateNoContent:
		return "no_content"
	case StateNotFound:
		return "not_found"
	case StateGeneralError:
		return "general_error"
	default:
		return "unknown"
	}
}

// 消息频道类型（send_message 的 tid，消息表的 kind）
const (
	KindKingdom  = 1
	KindGroup    = 2
	KindP2P      = 3
	KindAlliance = 4
)

// 消息内容类型（msg_type）
const (
	MsgTypeText     = 1
	MsgTypeSystem   = 2
	MsgTypeImage    = 3
	MsgTypeLocation = 4
	MsgTypeEmoji    = 5
)
