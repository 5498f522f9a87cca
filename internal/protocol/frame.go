package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

/*
请求帧格式（小端）：
+--------+---------+------------+-----------+-----------+----------+--------+
|  code  | version | session_id | signature | timestamp | body_len |  body  |
| 2 bytes| 1 byte  |  8 bytes   |  8 bytes  |  8 bytes  |  4 bytes |  变长   |
+--------+---------+------------+-----------+-----------+----------+--------+
*/

const (
	HeaderSize   = 31 // 2 + 1 + 8 + 8 + 8 + 4
	MaxFrameSize = 65535

	bodyLenOffset = 27
)

// Request 请求帧
type Request struct {
	Code      uint16
	Version   uint8
	SessionID uint64
	Signature uint64
	Timestamp uint64
	Body      []byte
}

// ParseOptions 帧校验参数
type ParseOptions struct {
	Signer *Signer
	// MaxClockSkew 时间戳与服务器时间（毫秒）允许的最大偏差，0 表示不校验
	MaxClockSkew time.Duration
	Now          func() time.Time
}

// ParseRequest 解析请求帧并校验签名
//
// 字段按线上顺序解析，首个失败字段决定返回的错误消息；body_len 之后的多余字节被忽略。
func ParseRequest(data []byte, opts ParseOptions) (*Request, error) {
	req := &Request{}
	off := 0

	take := func(n int) []byte {
		if len(data)-off < n {
			return nil
		}
		b := data[off : off+n]
		off += n
		return b
	}

	b := take(2)
	if b == nil {
		return nil, malformed(0, 0, MsgInvalidCode)
	}
	req.Code = binary.LittleEndian.Uint16(b)

	b = take(1)
	if b == nil {
		return nil, malformed(req.Code, 0, MsgInvalidVersion)
	}
	req.Version = b[0]

	b = take(8)
	if b == nil {
		return nil, malformed(req.Code, 0, MsgInvalidSessionID)
	}
	req.SessionID = binary.LittleEndian.Uint64(b)

	b = take(8)
	if b == nil {
		return nil, malformed(req.Code, req.SessionID, MsgInvalidSignatureFormat)
	}
	req.Signature = binary.LittleEndian.Uint64(b)

	b = take(8)
	if b == nil {
		return nil, malformed(req.Code, req.SessionID, MsgInvalidTimestamp)
	}
	req.Timestamp = binary.LittleEndian.Uint64(b)

	b = take(4)
	if b == nil {
		return nil, malformed(req.Code, req.SessionID, MsgInvalidBodyLength)
	}
	bodyLen := binary.LittleEndian.Uint32(b)
	if bodyLen > MaxFrameSize || int(bodyLen) > len(data)-off {
		return nil, malformed(req.Code, req.SessionID, MsgInvalidBodyLength)
	}
	req.Body = take(int(bodyLen))

	if opts.MaxClockSkew > 0 {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		skew := now().UnixMilli() - int64(req.Timestamp)
		if skew < 0 {
			skew = -skew
		}
		if time.Duration(skew)*time.Millisecond > opts.MaxClockSkew {
			return nil, malformed(req.Code, req.SessionID, MsgInvalidTimestamp)
		}
	}

	if opts.Signer != nil && !opts.Signer.Verify(req.Timestamp, req.Body, req.Signature) {
		return nil, &FrameError{
			Code:      req.Code,
			SessionID: req.SessionID,
			Message:   MsgInvalidSignature,
			Err:       ErrSignatureInvalid,
		}
	}

	return req, nil
}

// EncodeRequest 编码请求帧，signer 非空时重新计算签名
func EncodeRequest(req *Request, signer *Signer) []byte {
	if signer != nil {
		req.Signature = signer.Sign(req.Timestamp, req.Body)
	}

	buf := make([]byte, HeaderSize+len(req.Body))
	binary.LittleEndian.PutUint16(buf[0:2], req.Code)
	buf[2] = req.Version
	binary.LittleEndian.PutUint64(buf[3:11], req.SessionID)
	binary.LittleEndian.PutUint64(buf[11:19], req.Signature)
	binary.LittleEndian.PutUint64(buf[19:27], req.Timestamp)
	binary.LittleEndian.PutUint32(buf[27:31], uint32(len(req.Body)))
	copy(buf[HeaderSize:], req.Body)
	return buf
}

// ReadFrame 从 reader 读取一个完整请求帧（按帧头 body_len 重组）
//
// maxSize 为整帧（帧头 + body）上限，<= 0 时取 HeaderSize+MaxFrameSize。
// 返回的字节可直接交给 ParseRequest。body_len 超限或对端在帧中途结束时返回 *FrameError，
// 帧开始前的 EOF 原样返回。
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = HeaderSize + MaxFrameSize
	}

	header := make([]byte, HeaderSize)
	if n, err := io.ReadFull(r, header); err != nil {
		return nil, shortRead(header[:n], err)
	}

	bodyLen := binary.LittleEndian.Uint32(header[bodyLenOffset:])
	if bodyLen > MaxFrameSize || HeaderSize+int(bodyLen) > maxSize {
		code := binary.LittleEndian.Uint16(header[0:2])
		sessionID := binary.LittleEndian.Uint64(header[3:11])
		return nil, malformed(code, sessionID, MsgInvalidBodyLength)
	}

	frame := make([]byte, HeaderSize+int(bodyLen))
	copy(frame, header)
	if n, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		return nil, shortRead(frame[:HeaderSize+n], err)
	}
	return frame, nil
}

// shortRead 对端在帧中途关闭：按已读字节定位首个不完整的字段
func shortRead(partial []byte, err error) error {
	if len(partial) == 0 || (!errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF)) {
		return err
	}
	if _, perr := ParseRequest(partial, ParseOptions{}); perr != nil {
		return perr
	}
	return err
}

// WriteRequest 写入一个请求帧到 writer
func WriteRequest(w io.Writer, req *Request, signer *Signer) error {
	_, err := w.Write(EncodeRequest(req, signer))
	return err
}
