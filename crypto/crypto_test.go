package crypto

import (
	"bytes"
	"testing"

	"github.com/kestrelnet/kestrel/bitio"
)

func TestSecretBoxRoundTrip(t *testing.T) {
	enc, err := NewSecretBoxEncryptor([]byte("a shared passphrase"))
	if err != nil {
		t.Fatalf("NewSecretBoxEncryptor: %v", err)
	}

	plaintext := []byte("hello, kestrel")
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypted = %q, want %q", got, plaintext)
	}
}

func TestSecretBoxRejectsTamperedCiphertext(t *testing.T) {
	enc, _ := NewSecretBoxEncryptor([]byte("key"))
	ciphertext, _ := enc.Encrypt([]byte("payload"))
	ciphertext[len(ciphertext)-1] ^= 0xff

	if _, err := enc.Decrypt(ciphertext); err != ErrDecryptionFailed {
		t.Errorf("Decrypt on tampered ciphertext = %v, want ErrDecryptionFailed", err)
	}
}

func TestEncodeDecodeEncryptedWireShape(t *testing.T) {
	buf := bitio.New()
	ciphertext := []byte{1, 2, 3, 4, 5}
	EncodeEncrypted(buf, 37, ciphertext)

	buf.Rewind()
	gotLen, gotCipher, err := DecodeEncrypted(buf)
	if err != nil {
		t.Fatalf("DecodeEncrypted: %v", err)
	}
	if gotLen != 37 {
		t.Errorf("plainBitLength = %d, want 37", gotLen)
	}
	if !bytes.Equal(gotCipher, ciphertext) {
		t.Errorf("ciphertext = %v, want %v", gotCipher, ciphertext)
	}
}
