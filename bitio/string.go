package bitio

import "unicode/utf8"

// WriteString writes varuint(byte_len), then (if non-empty) varuint(char_len)
// and the raw UTF-8 bytes. An empty string is encoded as a single zero byte.
func (b *BitBuffer) WriteString(s string) {
	if len(s) == 0 {
		b.WriteVarUint64(0)
		return
	}
	b.WriteVarUint64(uint64(len(s)))
	b.WriteVarUint64(uint64(utf8.RuneCountInString(s)))
	buf := []byte(s)
	b.WriteBits(buf, 0, len(buf)*8)
}

// ReadString reverses WriteString.
func (b *BitBuffer) ReadString() (string, error) {
	byteLen, err := b.ReadVarUint64()
	if err != nil {
		return "", err
	}
	if byteLen == 0 {
		return "", nil
	}
	if _, err := b.ReadVarUint64(); err != nil { // char_len, unused beyond validation
		return "", err
	}
	buf := make([]byte, byteLen)
	if err := b.ReadBits(buf, int(byteLen)*8); err != nil {
		return "", err
	}
	return string(buf), nil
}
