package types

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestBytesToAddressPads(t *testing.T) {
	a := BytesToAddress([]byte{0x01, 0x02})
	want := Address{18: 0x01, 19: 0x02}
	if a != want {
		t.Fatalf("got %x, want %x", a, want)
	}
}

func TestBytesToAddressTruncatesLowOrder(t *testing.T) {
	b := make([]byte, 30)
	b[29] = 0xAB
	a := BytesToAddress(b)
	if a[AddressLength-1] != 0xAB {
		t.Fatalf("expected low-order byte preserved, got %x", a)
	}
}

func TestWordRoundTripUint256(t *testing.T) {
	u := uint256.NewInt(123456789)
	w := WordFromUint256(u)
	back := w.Uint256()
	if back.Cmp(u) != 0 {
		t.Fatalf("round trip mismatch: %s != %s", back, u)
	}
}

func TestUint64ToWord(t *testing.T) {
	w := Uint64ToWord(0x0102)
	if w[WordLength-1] != 0x02 || w[WordLength-2] != 0x01 {
		t.Fatalf("unexpected encoding: %x", w)
	}
	for i := 0; i < WordLength-2; i++ {
		if w[i] != 0 {
			t.Fatalf("expected zero padding at %d, got %x", i, w[i])
		}
	}
}

func TestWordIsZero(t *testing.T) {
	var w Word
	if !w.IsZero() {
		t.Fatal("expected zero word")
	}
	w[31] = 1
	if w.IsZero() {
		t.Fatal("expected non-zero word")
	}
}

func TestBytesToSelectorTruncates(t *testing.T) {
	s := BytesToSelector([]byte{0x06, 0x66, 0x1a, 0xbd, 0xff, 0xff})
	want := Selector{0x06, 0x66, 0x1a, 0xbd}
	if s != want {
		t.Fatalf("got %x want %x", s, want)
	}
}
