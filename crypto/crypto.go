// Package crypto defines the pluggable encryption hook interposed between
// a connection's channel layer and the wire, plus a usable default
// implementation. Concrete cipher algorithms are an external collaborator
// per spec.md's scope — Encryptor itself names no cipher — but the library
// ships SecretBoxEncryptor so a caller isn't left to write one from scratch.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/kestrelnet/kestrel/bitio"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecryptionFailed is returned by Decrypt when the ciphertext fails
// authentication.
var ErrDecryptionFailed = errors.New("crypto: decryption failed")

// Encryptor transforms a message's plaintext bits before send and its
// ciphertext bytes back to plaintext after receive. The wire shape around
// whatever Encrypt produces is fixed: varuint(plain_bit_length) followed by
// the cipher bytes, so Decrypt can restore the exact plaintext bit length.
type Encryptor interface {
	Encrypt(plaintext []byte) (ciphertext []byte, err error)
	Decrypt(ciphertext []byte) (plaintext []byte, err error)
}

// EncodeEncrypted writes plainBitLength and ciphertext in the fixed wire
// shape shared by every Encryptor implementation.
func EncodeEncrypted(buf *bitio.BitBuffer, plainBitLength int, ciphertext []byte) {
	buf.WriteVarUint64(uint64(plainBitLength))
	buf.WriteBits(ciphertext, 0, len(ciphertext)*8)
}

// DecodeEncrypted reads back the plaintext bit length and remaining
// ciphertext bytes written by EncodeEncrypted.
func DecodeEncrypted(buf *bitio.BitBuffer) (plainBitLength int, ciphertext []byte, err error) {
	n, err := buf.ReadVarUint64()
	if err != nil {
		return 0, nil, err
	}
	ciphertext = make([]byte, buf.Remaining()/8)
	if err := buf.ReadBits(ciphertext, len(ciphertext)*8); err != nil {
		return 0, nil, err
	}
	return int(n), ciphertext, nil
}

// SecretBoxEncryptor is the default Encryptor, built on
// golang.org/x/crypto/nacl/secretbox. Each call to Encrypt draws a fresh
// random nonce and prepends it to the sealed box; Decrypt reads it back
// off the front of the ciphertext.
type SecretBoxEncryptor struct {
	key [32]byte
}

// NewSecretBoxEncryptor derives a 32-byte key by tiling/XOR-folding an
// arbitrary-length key material byte sequence, per spec.md §4.H.
func NewSecretBoxEncryptor(keyMaterial []byte) (*SecretBoxEncryptor, error) {
	if len(keyMaterial) == 0 {
		return nil, errors.New("crypto: key material must be non-empty")
	}
	var key [32]byte
	n := len(keyMaterial)
	if n < len(key) {
		n = len(key) // tile short material across the whole key
	}
	for i := 0; i < n; i++ {
		key[i%len(key)] ^= keyMaterial[i%len(keyMaterial)]
	}
	return &SecretBoxEncryptor{key: key}, nil
}

// Encrypt implements Encryptor.
func (e *SecretBoxEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &e.key)
	return sealed, nil
}

// Decrypt implements Encryptor.
func (e *SecretBoxEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, ErrDecryptionFailed
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plaintext, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &e.key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
