package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
)

/*
响应帧格式（小端）：
+--------+------------+--------+-----------+----------+-----------------+
|  code  | session_id | state  | plain_len | zlib_len |  zlib(payload)  |
| 2 bytes|  8 bytes   | 2 bytes|  4 bytes  |  4 bytes |      变长        |
+--------+------------+--------+-----------+----------+-----------------+

payload = msg_len:i16 | msg | body（codec 编码）
*/

const ResponseHeaderSize = 20 // 2 + 8 + 2 + 4 + 4

// emptyBody 无业务数据时的 body：空字符串编码
var emptyBody = []byte{0, 0}

// Response 响应信封
type Response struct {
	Code      uint16
	SessionID uint64
	State     State
	Message   string
	// Body codec 编码后的业务数据，nil 时写入空字符串编码
	Body []byte
}

// Payload 返回压缩前的负载
func (r *Response) Payload() ([]byte, error) {
	if len(r.Message) > math.MaxInt16 {
		return nil, fmt.Errorf("response message too long: %d", len(r.Message))
	}
	body := r.Body
	if body == nil {
		body = emptyBody
	}
	payload := make([]byte, 2, 2+len(r.Message)+len(body))
	binary.LittleEndian.PutUint16(payload, uint16(len(r.Message)))
	payload = append(payload, r.Message...)
	payload = append(payload, body...)
	return payload, nil
}

// Encode 编码响应信封（负载经 zlib 压缩）
func (r *Response) Encode() ([]byte, error) {
	payload, err := r.Payload()
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	buf := make([]byte, ResponseHeaderSize, ResponseHeaderSize+compressed.Len())
	binary.LittleEndian.PutUint16(buf[0:2], r.Code)
	binary.LittleEndian.PutUint64(buf[2:10], r.SessionID)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(r.State))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(compressed.Len()))
	return append(buf, compressed.Bytes()...), nil
}

// DecodeResponse 解码响应信封（客户端与测试使用）
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) < ResponseHeaderSize {
		return nil, fmt.Errorf("%w: short response header", ErrMalformedFrame)
	}
	resp := &Response{
		Code:      binary.LittleEndian.Uint16(data[0:2]),
		SessionID: binary.LittleEndian.Uint64(data[2:10]),
		State:     State(binary.LittleEndian.Uint16(data[10:12])),
	}
	plainLen := binary.LittleEndian.Uint32(data[12:16])
	zlen := binary.LittleEndian.Uint32(data[16:20])
	if int(zlen) > len(data)-ResponseHeaderSize {
		return nil, fmt.Errorf("%w: short compressed body", ErrMalformedFrame)
	}

	zr, err := zlib.NewReader(bytes.NewReader(data[ResponseHeaderSize : ResponseHeaderSize+int(zlen)]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if uint32(len(payload)) != plainLen {
		return nil, fmt.Errorf("%w: plain length %d, want %d", ErrMalformedFrame, len(payload), plainLen)
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: short payload", ErrMalformedFrame)
	}
	msgLen := int(int16(binary.LittleEndian.Uint16(payload)))
	if msgLen < 0 || msgLen > len(payload)-2 {
		return nil, fmt.Errorf("%w: bad message length", ErrMalformedFrame)
	}
	resp.Message = string(payload[2 : 2+msgLen])
	resp.Body = payload[2+msgLen:]
	return resp, nil
}

// ReadResponse 从 reader 读取一个完整响应信封
func ReadResponse(r io.Reader) (*Response, error) {
	header := make([]byte, ResponseHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	zlen := binary.LittleEndian.Uint32(header[16:20])
	if zlen > 16*MaxFrameSize {
		return nil, fmt.Errorf("%w: compressed body too large", ErrMalformedFrame)
	}
	frame := make([]byte, ResponseHeaderSize+int(zlen))
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[ResponseHeaderSize:]); err != nil {
		return nil, err
	}
	return DecodeResponse(frame)
}
