package seqspace

import "testing"

func TestRelativeBounds(t *testing.T) {
	for e := 0; e < N; e += 37 {
		for k := 0; k < half; k++ {
			a := uint16((e + k) % N)
			got := Relative(a, uint16(e))
			if got != k {
				t.Fatalf("Relative((%d+%d)%%N, %d) = %d, want %d", e, k, e, got, k)
			}
		}
	}
}

func TestRelativeSelfIsZero(t *testing.T) {
	for e := 0; e < N; e += 53 {
		if got := Relative(uint16(e), uint16(e)); got != 0 {
			t.Errorf("Relative(%d,%d) = %d, want 0", e, e, got)
		}
	}
}

func TestRelativeRange(t *testing.T) {
	for a := 0; a < N; a += 11 {
		for e := 0; e < N; e += 13 {
			got := Relative(uint16(a), uint16(e))
			if got < -half || got >= half {
				t.Fatalf("Relative(%d,%d) = %d, out of [-%d,%d)", a, e, got, half, half)
			}
		}
	}
}

func TestGTLTAroundWraparound(t *testing.T) {
	// 3 is "ahead" of 1020 once the 1024-wide space has wrapped.
	if !GT(3, 1020) {
		t.Error("GT(3, 1020) = false, want true (wraparound)")
	}
	if !LT(1020, 3) {
		t.Error("LT(1020, 3) = false, want true (wraparound)")
	}
	if !GT(10, 5) {
		t.Error("GT(10, 5) = false, want true (no wraparound)")
	}
}

func TestBitsetSetClear(t *testing.T) {
	var bs Bitset
	bs.Set(5)
	bs.Set(1023)
	if !bs.IsSet(5) || !bs.IsSet(1023) {
		t.Error("expected bits 5 and 1023 set")
	}
	bs.Clear(5)
	if bs.IsSet(5) {
		t.Error("bit 5 should be cleared")
	}
	if !bs.IsSet(1023) {
		t.Error("bit 1023 should remain set")
	}
}
