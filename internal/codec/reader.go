package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Reader 顺序读取器，错误粘滞：首个错误之后的读取全部返回零值
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader 创建读取器
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Err 返回首个读取错误
func (r *Reader) Err() error {
	return r.err
}

// Len 剩余未读字节数
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

// Offset 已读字节数
func (r *Reader) Offset() int {
	return r.off
}

// Rest 返回剩余全部字节并移动到末尾
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Len() < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) skip(n int) {
	r.next(n)
}

func (r *Reader) Uint8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Int8() int8 {
	return int8(r.Uint8())
}

func (r *Reader) Uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) Int16() int16 {
	return int16(r.Uint16())
}

func (r *Reader) Uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Uint64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

func (r *Reader) Float64() float64 {
	return math.Float64frombits(r.Uint64())
}

// length 读取 i16 block 长度
func (r *Reader) length() int {
	n := r.Int16()
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.err = ErrInvalidLength
		return 0
	}
	return int(n)
}

// peekLength 读取 block 长度但不移动游标
func (r *Reader) peekLength() int {
	off := r.off
	n := r.length()
	if r.err == nil {
		r.off = off
	}
	return n
}

// Blob 读取 i16 长度 + 原始字节，返回的切片引用底层缓冲
func (r *Reader) Blob() []byte {
	n := r.length()
	return r.next(n)
}

// String 读取 i16 长度 + UTF-8 字节
func (r *Reader) String() string {
	b := r.Blob()
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.err = ErrEncoding
		return ""
	}
	return string(b)
}

// Record 读取记录 block，返回负载长度
//
// 字段解码被限制在 block 范围内；字段未读完的剩余字节被跳过，越界读取报 ErrTruncated。
func (r *Reader) Record(rec Record) int {
	n := r.length()
	payload := r.next(n)
	if r.err != nil {
		return 0
	}
	sub := &Reader{buf: payload}
	rec.DecodeFields(sub)
	if sub.err != nil {
		r.err = sub.err
	}
	return n
}
