// Package aead implements the Shadowsocks AEAD stream framing.
//
// A stream starts with a random salt, followed by chunks of the form
//
//	seal(len:uint16-be) || seal(payload)
//
// where every seal appends a 16 byte tag and consumes one value of a 12 byte
// little-endian nonce counter. The per-stream subkey is derived with
// HKDF-SHA1 from the salt and a master key obtained from the password with
// the legacy EVP_BytesToKey scheme.
//
// Encryptor and Decryptor are not safe for concurrent use. A Cipher holds one
// of each; its encrypt and decrypt directions may be driven from two
// different goroutines.
package aead
