package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

type point struct {
	X     int32
	Label string
}

func (p *point) EncodeFields(w *Writer) {
	w.Int32(p.X)
	w.String(p.Label)
}

func (p *point) DecodeFields(r *Reader) {
	p.X = r.Int32()
	p.Label = r.String()
}

type shape struct {
	ID     int64
	Scale  float64
	Origin point
	Points List[point, *point]
	Tag    *point
	Kind   int16
}

func (s *shape) EncodeFields(w *Writer) {
	w.Int64(s.ID)
	w.Float64(s.Scale)
	w.Record(&s.Origin)
	w.Record(&s.Points)
	WriteOptional(w, s.Tag)
	w.Int16(s.Kind)
}

func (s *shape) DecodeFields(r *Reader) {
	s.ID = r.Int64()
	s.Scale = r.Float64()
	r.Record(&s.Origin)
	r.Record(&s.Points)
	s.Tag = ReadOptional[point](r)
	s.Kind = r.Int16()
}

// pointV2 带有旧版本未知的尾部字段
type pointV2 struct {
	point
	Extra int64
}

func (p *pointV2) EncodeFields(w *Writer) {
	p.point.EncodeFields(w)
	w.Int64(p.Extra)
}

func (p *pointV2) DecodeFields(r *Reader) {
	p.point.DecodeFields(r)
	p.Extra = r.Int64()
}

func TestRecordRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   shape
	}{
		{"empty", shape{}},
		{"full", shape{
			ID:     -42,
			Scale:  1.5,
			Origin: point{X: 7, Label: "origin"},
			Points: List[point, *point]{{X: 1, Label: "a"}, {X: -2, Label: ""}, {X: 3, Label: "中文"}},
			Tag:    &point{X: 9, Label: "tag"},
			Kind:   3,
		}},
		{"no tag", shape{ID: 1, Points: List[point, *point]{{X: 1}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Marshal(&tc.in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if got := int(binary.LittleEndian.Uint16(data)); got != len(data)-2 {
				t.Fatalf("block length %d, want %d", got, len(data)-2)
			}

			var out shape
			if err := Unmarshal(data, &out); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(tc.in, out) {
				t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", tc.in, out)
			}
		})
	}
}

func TestEmptyListEncoding(t *testing.T) {
	var l List[point, *point]
	data, err := Marshal(&l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(data, []byte{0, 0}) {
		t.Fatalf("empty list encoded as %v", data)
	}

	var out List[point, *point]
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty list, got %d items", len(out))
	}
}

func TestListConsumesDeclaredLength(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		n := rng.Intn(20)
		items := make(List[point, *point], n)
		for i := range items {
			items[i] = point{X: rng.Int31(), Label: strings.Repeat("x", rng.Intn(40))}
		}

		w := NewWriter(256)
		w.Record(&items)
		w.Int64(0x0102030405060708)
		if err := w.Err(); err != nil {
			t.Fatalf("write: %v", err)
		}
		data := w.Bytes()
		declared := int(binary.LittleEndian.Uint16(data))

		r := NewReader(data)
		var out List[point, *point]
		consumed := r.Record(&out)
		if err := r.Err(); err != nil {
			t.Fatalf("round %d: decode: %v", round, err)
		}
		if consumed != declared || r.Offset() != 2+declared {
			t.Fatalf("round %d: consumed %d (offset %d), declared %d", round, consumed, r.Offset(), declared)
		}
		if len(out) != n {
			t.Fatalf("round %d: got %d items, want %d", round, len(out), n)
		}
		if got := r.Int64(); got != 0x0102030405060708 || r.Err() != nil {
			t.Fatalf("round %d: trailing value desynchronized: %x %v", round, got, r.Err())
		}
	}
}

func TestOptionalNone(t *testing.T) {
	w := NewWriter(8)
	WriteOptional[point](w, nil)
	if !bytes.Equal(w.Bytes(), []byte{0, 0}) {
		t.Fatalf("none encoded as %v", w.Bytes())
	}
	r := NewReader(w.Bytes())
	if v := ReadOptional[point](r); v != nil || r.Err() != nil {
		t.Fatalf("expected nil optional, got %+v %v", v, r.Err())
	}
	if r.Len() != 0 {
		t.Fatalf("optional left %d bytes", r.Len())
	}
}

func TestUnknownTrailingFieldsSkipped(t *testing.T) {
	items := List[pointV2, *pointV2]{
		{point: point{X: 1, Label: "a"}, Extra: 100},
		{point: point{X: 2, Label: "b"}, Extra: 200},
	}
	w := NewWriter(64)
	w.Record(&items)
	w.Int16(77)

	r := NewReader(w.Bytes())
	var old List[point, *point]
	r.Record(&old)
	tail := r.Int16()
	if err := r.Err(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(old) != 2 || old[0].X != 1 || old[1].Label != "b" || tail != 77 {
		t.Fatalf("unexpected decode: %+v tail=%d", old, tail)
	}
}

func TestInvalidUTF8(t *testing.T) {
	w := NewWriter(8)
	w.Blob([]byte{0xff, 0xfe})
	r := NewReader(w.Bytes())
	_ = r.String()
	if !errors.Is(r.Err(), ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", r.Err())
	}
}

func TestTruncatedInput(t *testing.T) {
	in := shape{ID: 5, Origin: point{X: 1, Label: "hello"}}
	data, err := Marshal(&in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	for cut := 0; cut < len(data); cut++ {
		var out shape
		if err := Unmarshal(data[:cut], &out); !errors.Is(err, ErrTruncated) {
			t.Fatalf("cut at %d: expected ErrTruncated, got %v", cut, err)
		}
	}
}

func TestNegativeLength(t *testing.T) {
	r := NewReader([]byte{0xff, 0xff})
	_ = r.Blob()
	if !errors.Is(r.Err(), ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", r.Err())
	}
}

func TestBlockTooLarge(t *testing.T) {
	w := NewWriter(8)
	w.String(strings.Repeat("a", MaxBlockLen+1))
	if !errors.Is(w.Err(), ErrBlockTooLarge) {
		t.Fatalf("expected ErrBlockTooLarge, got %v", w.Err())
	}

	items := make(List[point, *point], 2000)
	for i := range items {
		items[i].Label = strings.Repeat("b", 20)
	}
	if _, err := Marshal(&items); !errors.Is(err, ErrBlockTooLarge) {
		t.Fatalf("expected ErrBlockTooLarge for oversized list, got %v", err)
	}
}

func TestListFit(t *testing.T) {
	items := make(List[point, *point], 100)
	for i := range items {
		items[i] = point{X: int32(i), Label: strings.Repeat("c", 500)}
	}
	// 每个元素 2 + 4 + 2 + 500
	elem := Size(&items[0])
	if elem != 508 {
		t.Fatalf("element size %d", elem)
	}

	kept, used := items.Fit(MaxBlockLen)
	if len(kept) != MaxBlockLen/elem || used != len(kept)*elem {
		t.Fatalf("kept %d used %d", len(kept), used)
	}
	if kept[len(kept)-1].X != int32(len(kept)-1) {
		t.Fatal("fit must keep a prefix")
	}
	data, err := Marshal(&kept)
	if err != nil {
		t.Fatalf("marshal fitted list: %v", err)
	}
	if len(data) != 2+used {
		t.Fatalf("encoded %d bytes, want %d", len(data), 2+used)
	}

	small := items[:3]
	if got, used := small.Fit(MaxBlockLen); len(got) != 3 || used != 3*elem {
		t.Fatalf("small list trimmed: %d %d", len(got), used)
	}
	if got, used := small.Fit(elem - 1); len(got) != 0 || used != 0 {
		t.Fatalf("budget below one element: %d %d", len(got), used)
	}

	huge := List[point, *point]{{Label: strings.Repeat("d", MaxBlockLen+1)}, {Label: "ok"}}
	if Size(&huge[0]) != -1 {
		t.Fatal("oversized element must report -1")
	}
	if got, _ := huge.Fit(MaxBlockLen); len(got) != 0 {
		t.Fatalf("oversized head kept: %d", len(got))
	}
}

func TestScalarsLittleEndian(t *testing.T) {
	w := NewWriter(32)
	w.Uint16(0x0102)
	w.Uint32(0x03040506)
	w.Int8(-1)
	want := []byte{0x02, 0x01, 0x06, 0x05, 0x04, 0x03, 0xff}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("got %v, want %v", w.Bytes(), want)
	}

	r := NewReader(w.Bytes())
	if r.Uint16() != 0x0102 || r.Uint32() != 0x03040506 || r.Int8() != -1 || r.Err() != nil {
		t.Fatalf("scalar decode mismatch: %v", r.Err())
	}
}
