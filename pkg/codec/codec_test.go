package codec

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestRoundTrip(t *testing.T) {
	plaintext := make([]byte, 100*1024)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	block, err := Encode(plaintext)
	require.NoError(t, err)

	wantKey := blake2b.Sum256(plaintext)
	require.Equal(t, wantKey, block.Key)

	wantID := blake2b.Sum256(block.Ciphertext)
	require.Equal(t, wantID, block.ID)

	got, err := Decode(block.Ciphertext, block.Key)
	require.NoError(t, err)
	require.True(t, bytes.Equal(plaintext, got))
}

func TestConvergence(t *testing.T) {
	plaintext := []byte("identical content across two different images")

	a, err := Encode(plaintext)
	require.NoError(t, err)
	b, err := Encode(plaintext)
	require.NoError(t, err)

	require.Equal(t, a.Key, b.Key)
	require.Equal(t, a.ID, b.ID)
	require.True(t, bytes.Equal(a.Ciphertext, b.Ciphertext))
}

func TestCorruptedBlockFailsDecryption(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	block, err := Encode(plaintext)
	require.NoError(t, err)

	tampered := make([]byte, len(block.Ciphertext))
	copy(tampered, block.Ciphertext)
	tampered[0] ^= 0xff

	_, err = Decode(tampered, block.Key)
	require.Error(t, err)
	var encErr *ErrEncryption
	require.ErrorAs(t, err, &encErr)
}

func TestEmptyBlobIsInvalid(t *testing.T) {
	var key [KeySize]byte
	_, err := Decode(nil, key)
	require.ErrorIs(t, err, ErrInvalidBlob)
}
