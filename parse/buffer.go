// Package parse provides a growable byte buffer with position/limit cursor
// semantics, used throughout the container parsers to walk wire data without
// re-slicing, and by the reorder queue as its unit of buffered payload.
package parse

import "fmt"

// Buffer wraps a byte slice with a read position and a limit. The readable
// region is data[position:limit]. Read methods advance the position; Reset
// variants rewind it. The backing array may be reallocated by Reset or
// EnsureCapacity, invalidating references previously returned by Data.
type Buffer struct {
	data  []byte
	pos   int
	limit int
}

// NewBuffer creates an empty Buffer with no backing data.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// NewBufferBytes creates a Buffer wrapping data, with position zero and the
// limit at len(data).
func NewBufferBytes(data []byte) *Buffer {
	return &Buffer{data: data, limit: len(data)}
}

// Reset sets the position to zero and the limit to the given value, growing
// the backing array if its capacity is below limit. Existing contents are
// not preserved across a grow.
func (b *Buffer) Reset(limit int) {
	if limit > len(b.data) {
		b.data = make([]byte, limit)
	}
	b.pos = 0
	b.limit = limit
}

// ResetBytes updates the Buffer to wrap data, with position zero and the
// limit at len(data).
func (b *Buffer) ResetBytes(data []byte) {
	b.data = data
	b.pos = 0
	b.limit = len(data)
}

// EnsureCapacity grows the backing array to at least n bytes, preserving
// position, limit, and all existing data.
func (b *Buffer) EnsureCapacity(n int) {
	if n > len(b.data) {
		grown := make([]byte, n)
		copy(grown, b.data)
		b.data = grown
	}
}

// BytesLeft returns the number of bytes yet to be read.
func (b *Buffer) BytesLeft() int {
	if b.limit < b.pos {
		return 0
	}
	return b.limit - b.pos
}

// Position returns the current read offset.
func (b *Buffer) Position() int {
	return b.pos
}

// SetPosition moves the read offset. Positions outside [0, limit] are a
// programming error and panic.
func (b *Buffer) SetPosition(pos int) {
	if pos < 0 || pos > b.limit {
		panic(fmt.Sprintf("parse: position %d outside [0, %d]", pos, b.limit))
	}
	b.pos = pos
}

// Limit returns the limit.
func (b *Buffer) Limit() int {
	return b.limit
}

// SetLimit sets the limit. Limits outside [0, capacity] are a programming
// error and panic.
func (b *Buffer) SetLimit(limit int) {
	if limit < 0 || limit > len(b.data) {
		panic(fmt.Sprintf("parse: limit %d outside [0, %d]", limit, len(b.data)))
	}
	b.limit = limit
}

// Data returns the underlying array. Reads through the cursor methods are
// reflected in this slice. The reference becomes invalid after Reset,
// ResetBytes, or EnsureCapacity.
func (b *Buffer) Data() []byte {
	return b.data
}

// Capacity returns the length of the backing array, which may exceed the limit.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// SkipBytes advances the position by n bytes.
func (b *Buffer) SkipBytes(n int) {
	b.SetPosition(b.pos + n)
}

// ReadBytes copies the next len(dst) bytes into dst and advances the position.
func (b *Buffer) ReadBytes(dst []byte) {
	if len(dst) > b.BytesLeft() {
		panic(fmt.Sprintf("parse: read %d bytes with %d left", len(dst), b.BytesLeft()))
	}
	copy(dst, b.data[b.pos:])
	b.pos += len(dst)
}

// ReadUint8 reads the next byte as an unsigned value.
func (b *Buffer) ReadUint8() uint8 {
	v := b.data[b.pos]
	b.SkipBytes(1)
	return v
}

// PeekUint8 returns the next byte without advancing the position.
func (b *Buffer) PeekUint8() uint8 {
	return b.data[b.pos]
}

// ReadUint16 reads the next two bytes as a big-endian unsigned value.
func (b *Buffer) ReadUint16() uint16 {
	v := uint16(b.data[b.pos])<<8 | uint16(b.data[b.pos+1])
	b.SkipBytes(2)
	return v
}

// ReadUint24 reads the next three bytes as a big-endian unsigned value.
func (b *Buffer) ReadUint24() uint32 {
	v := uint32(b.data[b.pos])<<16 | uint32(b.data[b.pos+1])<<8 | uint32(b.data[b.pos+2])
	b.SkipBytes(3)
	return v
}

// ReadUint32 reads the next four bytes as a big-endian unsigned value.
func (b *Buffer) ReadUint32() uint32 {
	v := uint32(b.data[b.pos])<<24 | uint32(b.data[b.pos+1])<<16 |
		uint32(b.data[b.pos+2])<<8 | uint32(b.data[b.pos+3])
	b.SkipBytes(4)
	return v
}
