// Package codec 实现聊天协议的长度前缀二进制编码
//
// 编码单元为 block：
//
//	+-----------+---------------------+
//	| len: i16  |  payload [len]bytes |
//	+-----------+---------------------+
//
// 标量按小端定长直接写入父级 payload；字符串为 i16 长度 + UTF-8 字节；
// 记录为其字段按固定顺序拼接后的 block；序列为外层 block 包裹各元素 block；
// 可选值复用 block，长度 0 表示 None。
package codec

import (
	"errors"
	"math"
)

// MaxBlockLen block 负载最大长度（i16 长度字段）
const MaxBlockLen = math.MaxInt16

var (
	ErrTruncated     = errors.New("codec: truncated input")
	ErrEncoding      = errors.New("codec: invalid utf8 string")
	ErrInvalidLength = errors.New("codec: negative block length")
	ErrBlockTooLarge = errors.New("codec: block too large")
)

// Record 可编码的复合记录
//
// EncodeFields/DecodeFields 只处理字段本身，block 长度由调用方（Writer.Record / Reader.Record）负责，
// 两者的字段顺序即线上协议。
type Record interface {
	EncodeFields(w *Writer)
	DecodeFields(r *Reader)
}

// Marshal 将记录编码为一个完整 block
func Marshal(rec Record) ([]byte, error) {
	w := NewWriter(64)
	w.Record(rec)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Size 记录编码为 block 后的总字节数（含 2 字节长度），无法编码时返回 -1
func Size(rec Record) int {
	w := NewWriter(64)
	w.Record(rec)
	if w.Err() != nil {
		return -1
	}
	return w.Len()
}

// Unmarshal 从 data 头部解码一个 block 到 rec
func Unmarshal(data []byte, rec Record) error {
	r := NewReader(data)
	r.Record(rec)
	return r.Err()
}

// List 同构记录序列
//
// 编码为外层 block，其负载为各元素 block 的拼接。
type List[T any, PT interface {
	*T
	Record
}] []T

// EncodeFields 依次写出每个元素的 block
func (l List[T, PT]) EncodeFields(w *Writer) {
	for i := range l {
		w.Record(PT(&l[i]))
	}
}

// Fit 返回编码负载不超过 budget 字节的最长前缀及其负载字节数
//
// 单个元素无法编码时从该元素处截断。
func (l List[T, PT]) Fit(budget int) (List[T, PT], int) {
	used := 0
	for i := range l {
		n := Size(PT(&l[i]))
		if n < 0 || used+n > budget {
			return l[:i], used
		}
		used += n
	}
	return l, used
}

// DecodeFields 在外层 block 范围内循环解码元素
//
// 每轮读取元素长度 E，按字段解码，累计 consumed += 2+E，直到 consumed >= L。
func (l *List[T, PT]) DecodeFields(r *Reader) {
	total := r.Len()
	consumed := 0
	out := (*l)[:0]
	for consumed < total {
		var item T
		n := r.Record(PT(&item))
		if r.Err() != nil {
			return
		}
		consumed += 2 + n
		out = append(out, item)
	}
	*l = out
}

// WriteOptional 写出可选记录，nil 编码为长度 0 的 block
func WriteOptional[T any, PT interface {
	*T
	Record
}](w *Writer, v PT) {
	if v == nil {
		w.Int16(0)
		return
	}
	w.Record(v)
}

// ReadOptional 读取可选记录，长度 0 返回 nil
func ReadOptional[T any, PT interface {
	*T
	Record
}](r *Reader) PT {
	n := r.peekLength()
	if r.Err() != nil {
		return nil
	}
	if n == 0 {
		r.skip(2)
		return nil
	}
	var v T
	r.Record(PT(&v))
	if r.Err() != nil {
		return nil
	}
	return PT(&v)
}
