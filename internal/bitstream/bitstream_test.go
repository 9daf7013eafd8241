package bitstream

import "testing"

func TestAdvanceCommitEndOfStream(t *testing.T) {
	s := New([]byte{0xAA, 0xBB}, 0x1000)

	if err := s.Advance(8); err != nil {
		t.Fatalf("Advance(8): %v", err)
	}
	s.Commit()
	if got := s.Cursor(); got != (Position{Byte: 1, Bit: 0}) {
		t.Fatalf("cursor = %+v, want {1 0}", got)
	}

	if err := s.Advance(9); err == nil {
		t.Fatalf("Advance(9) past end of stream: want error, got nil")
	}
}

func TestPeekDoesNotMoveCursor(t *testing.T) {
	s := New([]byte{0b10110000}, 0)
	v, err := s.Peek([]Field{{Offset: 0, Size: 4}})
	if err != nil {
		t.Fatal(err)
	}
	if v != 0b1011 {
		t.Fatalf("peek = %04b, want 1011", v)
	}
	if s.Cursor() != (Position{}) {
		t.Fatalf("Peek moved the cursor: %+v", s.Cursor())
	}
}

func TestPeekConcatenatesMultipleParts(t *testing.T) {
	// 0xD5 = 11010101
	s := New([]byte{0xD5}, 0)
	v, err := s.Peek([]Field{{Offset: 0, Size: 2}, {Offset: 6, Size: 2}})
	if err != nil {
		t.Fatal(err)
	}
	// high 2 bits = 11, low 2 bits = 01 -> 1101
	if v != 0b1101 {
		t.Fatalf("peek = %04b, want 1101", v)
	}
}

func TestValueInRangeBigBit(t *testing.T) {
	s := New([]byte{0x1F, 0x20, 0x03, 0xD5}, 0x1000)
	v, n, err := s.ValueInRange(Position{0, 0}, Position{4, 0}, BigBit)
	if err != nil {
		t.Fatal(err)
	}
	if n != 32 {
		t.Fatalf("n = %d, want 32", n)
	}
	if v != 0x1F2003D5 {
		t.Fatalf("v = %#x, want 0x1F2003D5", v)
	}
}

func TestValueInRangeLittleByteSwapped32(t *testing.T) {
	// The same word, read as a single 32-bit little-endian group, should
	// decode to the AArch64 instruction word 0xD503201F.
	s := New([]byte{0x1F, 0x20, 0x03, 0xD5}, 0x1000)
	v, _, err := s.ValueInRange(Position{0, 0}, Position{4, 0}, LittleByteSwapped32)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xD503201F {
		t.Fatalf("v = %#x, want 0xD503201F", v)
	}
}

func TestValueInRangeLittleByteSwapped32AtNonZeroOffset(t *testing.T) {
	// Same word as TestValueInRangeLittleByteSwapped32, but preceded by an
	// unrelated instruction word: decoding the *second* word must still
	// land on its own bytes, not byte 0 of the buffer.
	s := New([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0x1F, 0x20, 0x03, 0xD5}, 0x1000)
	v, _, err := s.ValueInRange(Position{4, 0}, Position{8, 0}, LittleByteSwapped32)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xD503201F {
		t.Fatalf("v = %#x, want 0xD503201F", v)
	}
}

func TestResetTo(t *testing.T) {
	s := New(make([]byte, 16), 0x2000)
	if err := s.ResetTo(0x2004); err != nil {
		t.Fatal(err)
	}
	if s.Cursor() != (Position{Byte: 4, Bit: 0}) {
		t.Fatalf("cursor = %+v, want {4 0}", s.Cursor())
	}
	if err := s.ResetTo(0x1000); err == nil {
		t.Fatalf("ResetTo before stream start: want error")
	}
	if err := s.ResetTo(0x2100); err == nil {
		t.Fatalf("ResetTo past stream end: want error")
	}
}

func TestResetToNoRollbackWhenSameAddress(t *testing.T) {
	s := New(make([]byte, 8), 0x5000)
	if err := s.ResetTo(0x5000); err != nil {
		t.Fatal(err)
	}
	before := s.Cursor()
	if err := s.ResetTo(0x5000); err != nil {
		t.Fatal(err)
	}
	if s.Cursor() != before {
		t.Fatalf("ResetTo to the same address moved the cursor: %+v -> %+v", before, s.Cursor())
	}
}
