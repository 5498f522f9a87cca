package codec

import (
	"encoding/binary"
	"math"
)

// Writer 顺序写入器，错误粘滞：首个错误之后的写入全部忽略
type Writer struct {
	buf []byte
	err error
}

// NewWriter 创建写入器
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes 返回已写入的字节
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len 已写入字节数
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err 返回首个写入错误
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) Uint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *Writer) Int8(v int8) {
	w.Uint8(uint8(v))
}

func (w *Writer) Uint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) Int16(v int16) {
	w.Uint16(uint16(v))
}

func (w *Writer) Uint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) Int32(v int32) {
	w.Uint32(uint32(v))
}

func (w *Writer) Uint64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) Int64(v int64) {
	w.Uint64(uint64(v))
}

func (w *Writer) Float32(v float32) {
	w.Uint32(math.Float32bits(v))
}

func (w *Writer) Float64(v float64) {
	w.Uint64(math.Float64bits(v))
}

// String 写入 i16 长度 + UTF-8 字节
func (w *Writer) String(s string) {
	w.Blob([]byte(s))
}

// Blob 写入 i16 长度 + 原始字节
func (w *Writer) Blob(b []byte) {
	if w.err != nil {
		return
	}
	if len(b) > MaxBlockLen {
		w.err = ErrBlockTooLarge
		return
	}
	w.Int16(int16(len(b)))
	w.buf = append(w.buf, b...)
}

// Raw 直接追加字节，不带长度
func (w *Writer) Raw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

// Record 写入记录 block：预留长度字段，写字段后回填
func (w *Writer) Record(rec Record) {
	if w.err != nil {
		return
	}
	start := len(w.buf)
	w.buf = append(w.buf, 0, 0)
	rec.EncodeFields(w)
	if w.err != nil {
		return
	}
	n := len(w.buf) - start - 2
	if n > MaxBlockLen {
		w.err = ErrBlockTooLarge
		return
	}
	binary.LittleEndian.PutUint16(w.buf[start:], uint16(n))
}
