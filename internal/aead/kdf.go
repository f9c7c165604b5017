package aead

import (
	"crypto/md5" //nolint:gosec // Required for compatibility with the Shadowsocks key derivation.
	"crypto/sha1" //nolint:gosec // HKDF-SHA1 is fixed by the wire protocol.
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var subkeyInfo = []byte("ss-subkey")

// DeriveKey stretches password into a keyLen byte master key using
// OpenSSL's EVP_BytesToKey with MD5 and no salt:
//
//	D_1 = MD5(password), D_i = MD5(D_{i-1} || password)
//
// concatenated and truncated to keyLen.
func DeriveKey(password string, keyLen int) []byte {
	var (
		key  = make([]byte, 0, keyLen+md5.Size)
		prev []byte
	)
	for len(key) < keyLen {
		h := md5.New() //nolint:gosec
		h.Write(prev)
		h.Write([]byte(password))
		prev = h.Sum(nil)
		key = append(key, prev...)
	}
	return key[:keyLen]
}

// Subkey derives the per-stream key from the master key and salt.
func Subkey(key, salt []byte) ([]byte, error) {
	subkey := make([]byte, len(key))
	r := hkdf.New(sha1.New, key, salt, subkeyInfo)
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return subkey, nil
}
