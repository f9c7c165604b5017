package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Method describes one AEAD construction. Salt length equals KeySize.
type Method struct {
	Name    string
	KeySize int

	newAEAD func(key []byte) (cipher.AEAD, error)
}

// DefaultMethod is AES-256-GCM.
const DefaultMethod = "aes-256-gcm"

var methods = map[string]Method{
	"aes-128-gcm":            {Name: "aes-128-gcm", KeySize: 16, newAEAD: newGCM},
	"aes-192-gcm":            {Name: "aes-192-gcm", KeySize: 24, newAEAD: newGCM},
	"aes-256-gcm":            {Name: "aes-256-gcm", KeySize: 32, newAEAD: newGCM},
	"chacha20-ietf-poly1305": {Name: "chacha20-ietf-poly1305", KeySize: chacha20poly1305.KeySize, newAEAD: chacha20poly1305.New},
}

// LookupMethod returns the method registered under name, case-insensitively.
func LookupMethod(name string) (Method, error) {
	m, ok := methods[strings.ToLower(name)]
	if !ok {
		return Method{}, fmt.Errorf("unsupported method %q (supported: %s)", name, strings.Join(MethodNames(), ", "))
	}
	return m, nil
}

// MethodNames returns the supported method names in sorted order.
func MethodNames() []string {
	names := make([]string, 0, len(methods))
	for n := range methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
