package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randBytes(t testing.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func allAlgorithms() []Algorithm {
	return []Algorithm{AlgorithmXChaCha20Poly1305, AlgorithmAES256GCM}
}

func TestContentCipher_RoundTrip(t *testing.T) {
	for _, alg := range allAlgorithms() {
		t.Run(string(alg), func(t *testing.T) {
			c, err := NewContentCipher(alg)
			require.NoError(t, err)

			for _, size := range []int{0, 1, 31, 32, 4096, 64*1024 + 7} {
				key, err := NewDataKey()
				require.NoError(t, err)
				pt := randBytes(t, size)

				ct, err := c.Encrypt(pt, key, []byte("record-7"))
				require.NoError(t, err)
				assert.Equal(t, alg, ct.Algorithm)
				assert.Len(t, ct.Tag(), 16)

				out, err := Decrypt(ct, key, []byte("record-7"))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(pt, out), "size %d", size)
			}
		})
	}
}

func TestContentCipher_FreshNoncePerCall(t *testing.T) {
	c := DefaultContentCipher(false)
	key, err := NewDataKey()
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		ct, err := c.Encrypt([]byte("same plaintext"), key, nil)
		require.NoError(t, err)
		require.False(t, seen[string(ct.Nonce)], "nonce reused")
		seen[string(ct.Nonce)] = true
	}
}

func TestContentCipher_TamperDetection(t *testing.T) {
	for _, alg := range allAlgorithms() {
		t.Run(string(alg), func(t *testing.T) {
			c, err := NewContentCipher(alg)
			require.NoError(t, err)
			key, err := NewDataKey()
			require.NoError(t, err)

			ct, err := c.Encrypt([]byte("born 1990-02-03 04:05, Beijing"), key, nil)
			require.NoError(t, err)

			// Flip every bit of ciphertext and tag in turn.
			for i := 0; i < len(ct.Data)*8; i++ {
				tampered := &Ciphertext{
					Algorithm: ct.Algorithm,
					Nonce:     ct.Nonce,
					Data:      append([]byte(nil), ct.Data...),
				}
				tampered.Data[i/8] ^= 1 << (i % 8)
				out, err := Decrypt(tampered, key, nil)
				require.ErrorIs(t, err, ErrAuthentication, "bit %d", i)
				require.Nil(t, out)
			}

			badNonce := &Ciphertext{Algorithm: ct.Algorithm, Nonce: append([]byte(nil), ct.Nonce...), Data: ct.Data}
			badNonce.Nonce[0] ^= 0x01
			_, err = Decrypt(badNonce, key, nil)
			assert.ErrorIs(t, err, ErrAuthentication)
		})
	}
}

func TestDecrypt_WrongKeyOrAAD(t *testing.T) {
	c := DefaultContentCipher(true)
	key, err := NewDataKey()
	require.NoError(t, err)
	other, err := NewDataKey()
	require.NoError(t, err)

	ct, err := c.Encrypt([]byte("notes"), key, []byte("aad-1"))
	require.NoError(t, err)

	_, err = Decrypt(ct, other, []byte("aad-1"))
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = Decrypt(ct, key, []byte("aad-2"))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDecrypt_MalformedInput(t *testing.T) {
	key, err := NewDataKey()
	require.NoError(t, err)

	_, err = Decrypt(nil, key, nil)
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = Decrypt(&Ciphertext{Algorithm: AlgorithmXChaCha20Poly1305, Nonce: []byte{1, 2}, Data: make([]byte, 32)}, key, nil)
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = Decrypt(&Ciphertext{Algorithm: AlgorithmAES256GCM, Nonce: make([]byte, 12), Data: []byte{1}}, key, nil)
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = Decrypt(&Ciphertext{Algorithm: "ROT13", Nonce: make([]byte, 12), Data: make([]byte, 32)}, key, nil)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestNewContentCipher_UnknownAlgorithm(t *testing.T) {
	_, err := NewContentCipher("DES")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
