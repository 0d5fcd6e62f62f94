package crypto

import (
	"bytes"
	"testing"
)

// FuzzDecrypt checks that arbitrary ciphertexts never decrypt without error.
func FuzzDecrypt(f *testing.F) {
	key, err := NewDataKey()
	if err != nil {
		f.Fatal(err)
	}
	c := DefaultContentCipher(false)
	ct, err := c.Encrypt([]byte("seed plaintext"), key, nil)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(ct.Nonce, ct.Data)
	f.Add(make([]byte, 24), make([]byte, 16))

	f.Fuzz(func(t *testing.T, nonce, data []byte) {
		if bytes.Equal(nonce, ct.Nonce) && bytes.Equal(data, ct.Data) {
			return
		}
		out, err := Decrypt(&Ciphertext{Algorithm: AlgorithmXChaCha20Poly1305, Nonce: nonce, Data: data}, key, nil)
		if err == nil {
			t.Fatalf("forged ciphertext decrypted to %x", out)
		}
	})
}

// FuzzUnsealDataKey checks that arbitrary boxes never open.
func FuzzUnsealDataKey(f *testing.F) {
	kp, err := GenerateKeyPair()
	if err != nil {
		f.Fatal(err)
	}
	f.Add(make([]byte, SealedKeySize))
	f.Add([]byte("short"))

	f.Fuzz(func(t *testing.T, sealed []byte) {
		if _, err := UnsealDataKey(sealed, &kp.Private); err == nil {
			t.Fatalf("forged sealed box opened")
		}
	})
}
