// Package codec implements the flist block codec: convergent encryption,
// compression, and content addressing (spec §4.3).
//
//	content key := Blake2b(plaintext)
//	ciphertext  := AES-256-GCM(key=content key, nonce=key[:12], Snappy(plaintext))
//	content id  := Blake2b(ciphertext)
//
// Because the key is derived from the plaintext, identical plaintexts
// always produce identical ciphertexts and ids: this is what makes
// cross-image deduplication possible without a shared secret.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/golang/snappy"
	"golang.org/x/crypto/blake2b"
)

// KeySize is the size, in bytes, of both the content key and the content
// address.
const KeySize = 32

// nonceSize is the AES-GCM nonce length; the nonce is the first 12 bytes of
// the content key (spec §4.3 step 3).
const nonceSize = 12

// ErrEncryption indicates that decryption or GCM tag verification failed:
// either the wrong key was supplied, or the ciphertext was tampered with.
type ErrEncryption struct {
	cause error
}

func (e *ErrEncryption) Error() string { return fmt.Sprintf("encryption error: %v", e.cause) }
func (e *ErrEncryption) Unwrap() error { return e.cause }

// ErrCompression indicates that the Snappy-compressed payload could not be
// decoded.
type ErrCompression struct {
	cause error
}

func (e *ErrCompression) Error() string { return fmt.Sprintf("compression error: %v", e.cause) }
func (e *ErrCompression) Unwrap() error { return e.cause }

// ErrInvalidBlob indicates the backend returned a zero-length blob for a
// key that is supposed to identify real content.
var ErrInvalidBlob = fmt.Errorf("invalid blob: empty payload")

// Block is the result of encoding a plaintext chunk: the ciphertext to be
// written to a backend under ID, plus the (ID, Key) reference that gets
// recorded in the catalog. Key itself is never written to a backend.
type Block struct {
	// ID is the 32-byte content address: Blake2b(Ciphertext). This is the
	// key the ciphertext is stored under in the backend.
	ID [KeySize]byte

	// Key is the 32-byte content key: Blake2b(plaintext). Needed, along
	// with the ciphertext, to recover the plaintext.
	Key [KeySize]byte

	// Ciphertext is the compressed-then-encrypted payload to hand to a
	// Store.Set call.
	Ciphertext []byte
}

// Encode runs the forward direction of the codec on a plaintext chunk:
// compress, convergently encrypt, and compute the content address.
func Encode(plaintext []byte) (Block, error) {
	key := blake2b.Sum256(plaintext)

	compressed := snappy.Encode(nil, plaintext)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return Block{}, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Block{}, fmt.Errorf("new gcm: %w", err)
	}

	ciphertext := gcm.Seal(nil, key[:nonceSize], compressed, nil)
	id := blake2b.Sum256(ciphertext)

	return Block{ID: id, Key: key, Ciphertext: ciphertext}, nil
}

// Decode runs the inverse direction of the codec: decrypt the ciphertext
// fetched from a backend with key, verify the GCM tag, and decompress.
//
// A tampered or wrong-keyed ciphertext surfaces as *ErrEncryption. A
// corrupt (but correctly decrypted) Snappy payload surfaces as
// *ErrCompression. An empty ciphertext surfaces as ErrInvalidBlob.
func Decode(ciphertext []byte, key [KeySize]byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, ErrInvalidBlob
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	compressed, err := gcm.Open(nil, key[:nonceSize], ciphertext, nil)
	if err != nil {
		return nil, &ErrEncryption{cause: err}
	}

	plaintext, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, &ErrCompression{cause: err}
	}
	return plaintext, nil
}

// ID computes the content address of an already-encoded ciphertext,
// re-deriving it without re-running the full codec.
func ID(ciphertext []byte) [KeySize]byte {
	return blake2b.Sum256(ciphertext)
}
