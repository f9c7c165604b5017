package aead

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/Jigsaw-Code/outline-sdk/transport/shadowsocks"
)

// The outline-sdk implementation is an independent reading of the same wire
// format; both directions must interoperate with it.
func TestInteropOutline(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	msg := make([]byte, 2*MaxPayloadSize+1234)
	rng.Read(msg)

	for _, name := range MethodNames() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			m := testMethod(t, name)
			key, err := shadowsocks.NewEncryptionKey(name, "interop")
			if err != nil {
				t.Fatal(err)
			}

			t.Run("outline_to_us", func(t *testing.T) {
				var wire bytes.Buffer
				if _, err := shadowsocks.NewWriter(&wire, key).Write(msg); err != nil {
					t.Fatal(err)
				}

				dec := NewDecryptor(m, DeriveKey("interop", m.KeySize))
				got, err := dec.Decrypt(nil, wire.Bytes())
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, msg) {
					t.Fatalf("got %d bytes want %d", len(got), len(msg))
				}
			})

			t.Run("us_to_outline", func(t *testing.T) {
				c, err := NewCipher(m, "interop")
				if err != nil {
					t.Fatal(err)
				}
				wire := c.Encryptor().Encrypt(nil, msg)

				got, err := io.ReadAll(shadowsocks.NewReader(bytes.NewReader(wire), key))
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, msg) {
					t.Fatalf("got %d bytes want %d", len(got), len(msg))
				}
			})
		})
	}
}
