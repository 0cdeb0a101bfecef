package parse

import (
	"bytes"
	"testing"
)

func TestBuffer_ResetGrowsCapacity(t *testing.T) {
	t.Parallel()
	b := NewBuffer()
	b.Reset(10)

	if b.Capacity() < 10 {
		t.Fatalf("capacity = %d, want >= 10", b.Capacity())
	}
	if b.Position() != 0 || b.Limit() != 10 || b.BytesLeft() != 10 {
		t.Errorf("pos=%d limit=%d left=%d, want 0/10/10", b.Position(), b.Limit(), b.BytesLeft())
	}

	// Shrinking the limit must not shrink the backing array.
	b.Reset(4)
	if b.Capacity() < 10 {
		t.Errorf("capacity = %d after smaller Reset, want >= 10", b.Capacity())
	}
	if b.Limit() != 4 {
		t.Errorf("limit = %d, want 4", b.Limit())
	}
}

func TestBuffer_ResetBytesWrapsSlice(t *testing.T) {
	t.Parallel()
	data := []byte{1, 2, 3}
	b := NewBuffer()
	b.ResetBytes(data)

	if b.Limit() != 3 || b.Position() != 0 {
		t.Fatalf("pos=%d limit=%d, want 0/3", b.Position(), b.Limit())
	}
	// Wrapping, not copying: mutations through the slice are visible.
	data[0] = 9
	if b.ReadUint8() != 9 {
		t.Error("ResetBytes copied instead of wrapping")
	}
}

func TestBuffer_ReadAdvancesPosition(t *testing.T) {
	t.Parallel()
	b := NewBufferBytes([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A})

	if got := b.ReadUint8(); got != 0x01 {
		t.Errorf("ReadUint8 = %#x, want 0x01", got)
	}
	if got := b.ReadUint16(); got != 0x0203 {
		t.Errorf("ReadUint16 = %#x, want 0x0203", got)
	}
	if got := b.ReadUint24(); got != 0x040506 {
		t.Errorf("ReadUint24 = %#x, want 0x040506", got)
	}
	if got := b.ReadUint32(); got != 0x0708090A {
		t.Errorf("ReadUint32 = %#x, want 0x0708090A", got)
	}
	if b.BytesLeft() != 0 {
		t.Errorf("BytesLeft = %d, want 0", b.BytesLeft())
	}
}

func TestBuffer_PeekDoesNotAdvance(t *testing.T) {
	t.Parallel()
	b := NewBufferBytes([]byte{0x42, 0x43})

	if got := b.PeekUint8(); got != 0x42 {
		t.Errorf("PeekUint8 = %#x, want 0x42", got)
	}
	if b.Position() != 0 {
		t.Errorf("position = %d after peek, want 0", b.Position())
	}
}

func TestBuffer_ReadBytes(t *testing.T) {
	t.Parallel()
	b := NewBufferBytes([]byte{1, 2, 3, 4})
	b.SkipBytes(1)

	dst := make([]byte, 2)
	b.ReadBytes(dst)

	if !bytes.Equal(dst, []byte{2, 3}) {
		t.Errorf("ReadBytes = %v, want [2 3]", dst)
	}
	if b.Position() != 3 {
		t.Errorf("position = %d, want 3", b.Position())
	}
}

func TestBuffer_EnsureCapacityPreservesData(t *testing.T) {
	t.Parallel()
	b := NewBufferBytes([]byte{1, 2, 3})
	b.SkipBytes(1)
	b.EnsureCapacity(16)

	if b.Capacity() < 16 {
		t.Fatalf("capacity = %d, want >= 16", b.Capacity())
	}
	if b.Position() != 1 || b.Limit() != 3 {
		t.Errorf("pos=%d limit=%d after grow, want 1/3", b.Position(), b.Limit())
	}
	if !bytes.Equal(b.Data()[:3], []byte{1, 2, 3}) {
		t.Error("EnsureCapacity lost existing data")
	}
}

func TestBuffer_SetPositionOutOfRangePanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("SetPosition beyond limit did not panic")
		}
	}()
	b := NewBufferBytes([]byte{1, 2})
	b.SetPosition(3)
}

func TestBuffer_SetLimitWithinCapacity(t *testing.T) {
	t.Parallel()
	b := NewBuffer()
	b.Reset(8)
	b.SetLimit(5)

	if b.BytesLeft() != 5 {
		t.Errorf("BytesLeft = %d, want 5", b.BytesLeft())
	}

	defer func() {
		if recover() == nil {
			t.Error("SetLimit beyond capacity did not panic")
		}
	}()
	b.SetLimit(9)
}
