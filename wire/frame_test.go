package wire

import (
	"testing"

	"github.com/kestrelnet/kestrel/bitio"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	h := FrameHeader{MessageType: UserReliableOrdered(3), Sequence: 1000, IsFragment: true, PayloadBits: 4096}
	data := h.Encode()
	if len(data) != FrameHeaderSize {
		t.Fatalf("Encode length = %d, want %d", len(data), FrameHeaderSize)
	}
	got, err := DecodeFrameHeader(data)
	if err != nil {
		t.Fatalf("DecodeFrameHeader: %v", err)
	}
	if got != h {
		t.Errorf("DecodeFrameHeader = %+v, want %+v", got, h)
	}
}

func TestDecodeFrameHeaderShort(t *testing.T) {
	if _, err := DecodeFrameHeader([]byte{1, 2}); err != ErrShortFrame {
		t.Errorf("err = %v, want ErrShortFrame", err)
	}
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	h := FragmentHeader{Group: 7, TotalBits: 40000, ChunkByteSize: 1100, ChunkNumber: 3}
	buf := bitio.New()
	h.WriteTo(buf)
	r := bitio.NewFromBytes(buf.Bytes(), buf.BitLength())
	got, err := ReadFragmentHeader(r)
	if err != nil {
		t.Fatalf("ReadFragmentHeader: %v", err)
	}
	if got != h {
		t.Errorf("ReadFragmentHeader = %+v, want %+v", got, h)
	}
}

func TestClassifyRoundTrip(t *testing.T) {
	cases := []struct {
		method  DeliveryMethod
		channel int
	}{
		{MethodUnreliable, 0},
		{MethodUnreliableSequenced, 5},
		{MethodReliableUnordered, 0},
		{MethodReliableSequenced, 31},
		{MethodReliableOrdered, 0},
		{MethodStream, 17},
	}
	for _, c := range cases {
		mt, err := MessageTypeFor(c.method, c.channel)
		if err != nil {
			t.Fatalf("MessageTypeFor(%v,%d): %v", c.method, c.channel, err)
		}
		gotMethod, gotChannel, ok := Classify(mt)
		if !ok {
			t.Fatalf("Classify(%d) not ok", mt)
		}
		if gotMethod != c.method || gotChannel != c.channel {
			t.Errorf("Classify(%d) = (%v,%d), want (%v,%d)", mt, gotMethod, gotChannel, c.method, c.channel)
		}
	}
}

func TestClassifyLibraryMessageNotOK(t *testing.T) {
	if _, _, ok := Classify(Ping); ok {
		t.Error("Classify(Ping) reported ok, want false")
	}
}
