package bitio

import "testing"

func BenchmarkWritePrimitives(b *testing.B) {
	buf := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		buf.WriteBool(true)
		buf.WriteU32(uint32(i))
		buf.WriteString("benchmark")
		buf.WriteVarInt64(int64(i))
	}
}

func BenchmarkReadPrimitives(b *testing.B) {
	buf := New()
	buf.WriteBool(true)
	buf.WriteU32(12345)
	buf.WriteString("benchmark")
	buf.WriteVarInt64(98765)
	data := buf.Bytes()
	bitLen := buf.BitLength()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := NewFromBytes(data, bitLen)
		r.ReadBool()
		r.ReadU32()
		r.ReadString()
		r.ReadVarInt64()
	}
}

func BenchmarkCopyBitsUnaligned(b *testing.B) {
	dst := make([]byte, 128)
	src := make([]byte, 128)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copyBits(dst, 3, src, 5, 900)
	}
}
