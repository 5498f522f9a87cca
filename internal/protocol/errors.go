package protocol

import (
	"errors"
	"fmt"
)

// 错误分类
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrTimeout          = errors.New("timeout.")
)

// 帧解析失败时返回给客户端的消息
const (
	MsgInvalidCode            = "invalid code."
	MsgInvalidVersion         = "invalid version."
	MsgInvalidSessionID       = "invalid session id."
	MsgInvalidSignatureFormat = "invalid signature format."
	MsgInvalidTimestamp       = "invalid timestamp."
	MsgInvalidBodyLength      = "invalid body length."
	MsgInvalidSignature       = "invalid signature."
)

// FrameError 帧头解析或签名校验失败
//
// Code/SessionID 为失败前已解析出的字段，用于构造错误响应。
type FrameError struct {
	Code      uint16
	SessionID uint64
	Message   string
	Err       error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Message)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Response 由帧错误构造 GeneralError 响应
func (e *FrameError) Response() *Response {
	return &Response{
		Code:      e.Code,
		SessionID: e.SessionID,
		State:     StateGeneralError,
		Message:   e.Message,
	}
}

// Reason 指标标签
func (e *FrameError) Reason() string {
	switch e.Message {
	case MsgInvalidCode:
		return "code"
	case MsgInvalidVersion:
		return "version"
	case MsgInvalidSessionID:
		return "session_id"
	case MsgInvalidSignatureFormat:
		return "signature_format"
	case MsgInvalidTimestamp:
		return "timestamp"
	case MsgInvalidBodyLength:
		return "body_length"
	case MsgInvalidSignature:
		return "signature"
	default:
		return "other"
	}
}

func malformed(code uint16, sessionID uint64, msg string) *FrameError {
	return &FrameError{Code: code, SessionID: sessionID, Message: msg, Err: ErrMalformedFrame}
}
