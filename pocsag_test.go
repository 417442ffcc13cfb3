package main

import (
	"math/bits"
	"testing"
	"time"
)

// encodeBCH builds a valid 32-bit BCH(31,21)+parity codeword from a
// 21-bit message, using the same generator the decoder checks against.
// This mirrors how a real POCSAG transmitter would construct the
// codeword and lets the round-trip law be tested without needing a
// captured on-air vector.
func encodeBCH(msg21 uint32) uint32 {
	data31 := (msg21 & 0x1FFFFF) << 10
	remainder := bchSyndrome(data31)
	dataWithCheck := data31 | remainder
	codeword := dataWithCheck << 1
	if bits.OnesCount32(codeword)%2 != 0 {
		codeword |= 1
	}
	return codeword
}

func TestBCH_ValidCodewordPassesCheck(t *testing.T) {
	for _, msg := range []uint32{0, 1, 0x2A5A5, 0x1FFFFF} {
		cw := encodeBCH(msg)
		if !bchCheck(cw) {
			t.Errorf("encodeBCH(%#x) = %#x did not pass bchCheck", msg, cw)
		}
	}
}

func TestBCH_SingleBitFlipIsCorrected(t *testing.T) {
	cw := encodeBCH(0x15555)
	for bit := 0; bit < 32; bit++ {
		flipped := cw ^ (1 << uint(bit))
		corrected, ok := bchCorrect(flipped)
		if !ok {
			t.Errorf("bit %d: bchCorrect failed to correct a single-bit error", bit)
			continue
		}
		if corrected != cw {
			t.Errorf("bit %d: corrected = %#x, want original %#x", bit, corrected, cw)
		}
	}
}

func TestBCH_UncorrectableDoubleErrorIsRejected(t *testing.T) {
	cw := encodeBCH(0x0ABCDE)
	// Flip two widely separated bits, both inside the 31-bit BCH part:
	// no single-bit flip of the result has a zero syndrome, so the
	// codeword must be reported uncorrectable.
	corrupted := cw ^ (1 << 3) ^ (1 << 20)
	corrected, ok := bchCorrect(corrupted)
	if ok {
		t.Errorf("bchCorrect(%#x) = %#x, ok=true; want a double-bit error rejected", corrupted, corrected)
	}
}

func TestBitsToUint32_PacksMSBFirst(t *testing.T) {
	got := bitsToUint32([]byte{1, 0, 1, 1})
	if got != 0b1011 {
		t.Errorf("bitsToUint32 = %#b, want %#b", got, 0b1011)
	}
}

func TestDecodeNumeric_KnownPattern(t *testing.T) {
	// '0' is alphabet index 0; MSB-first nibble 0000 bit-reversed is
	// still 0000, so four zero bits decode to '0'.
	payload := []byte{0, 0, 0, 0}
	if got := decodeNumeric(payload); got != "0" {
		t.Errorf("decodeNumeric(0000) = %q, want \"0\"", got)
	}
}

func TestDecodeAlpha_StopsAtNUL(t *testing.T) {
	// 'A' = 0x41 = 1000001, LSB-first bit order.
	a := []byte{1, 0, 0, 0, 0, 0, 1}
	nul := []byte{0, 0, 0, 0, 0, 0, 0}
	payload := append(append([]byte{}, a...), nul...)
	payload = append(payload, 1, 0, 0, 0, 0, 1, 0) // trailing data after NUL must be ignored
	if got := decodeAlpha(payload); got != "A" {
		t.Errorf("decodeAlpha = %q, want \"A\"", got)
	}
}

func TestTrimSpace(t *testing.T) {
	if got := trimSpace("  hello  "); got != "hello" {
		t.Errorf("trimSpace = %q, want \"hello\"", got)
	}
	if got := trimSpace("   "); got != "" {
		t.Errorf("trimSpace of all-spaces = %q, want \"\"", got)
	}
}

func TestPocsagDecoder_HistoryOrderingAndLimit(t *testing.T) {
	d := NewPocsagDecoder(audioRate, nil)
	now := time.Now()
	for i, addr := range []uint32{10, 20, 30} {
		d.emit(addr, 0, []byte{0, 0, 0, 0}, 1200, now.Add(time.Duration(i)*dupWindow*2))
	}
	hist := d.History(2)
	if len(hist) != 2 {
		t.Fatalf("len(History(2)) = %d, want 2", len(hist))
	}
	if hist[0].Address != 20 || hist[1].Address != 30 {
		t.Errorf("History(2) = %+v, want newest two in chronological order [20,30]", hist)
	}
}

func TestPocsagDecoder_DuplicateSuppressedWithinWindow(t *testing.T) {
	d := NewPocsagDecoder(audioRate, nil)
	now := time.Now()
	_, first := d.emit(42, 0, []byte{0, 0, 0, 0}, 1200, now)
	if !first {
		t.Fatal("first message should be emitted")
	}
	_, dup := d.emit(42, 0, []byte{0, 0, 0, 0}, 1200, now.Add(100*time.Millisecond))
	if dup {
		t.Error("identical message within dupWindow should be suppressed")
	}
	_, later := d.emit(42, 0, []byte{0, 0, 0, 0}, 1200, now.Add(dupWindow*2))
	if !later {
		t.Error("identical message after dupWindow should be emitted again")
	}
}

func TestPocsagDecoder_ResetClearsHistory(t *testing.T) {
	d := NewPocsagDecoder(audioRate, nil)
	d.emit(1, 0, []byte{0, 0, 0, 0}, 1200, time.Now())
	if len(d.History(0)) == 0 {
		t.Fatal("expected history to be non-empty before reset")
	}
	d.Reset()
	if len(d.History(0)) != 0 {
		t.Error("expected history to be empty after Reset")
	}
}
