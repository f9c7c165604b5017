package aead

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxPayloadSize is the largest plaintext carried by one chunk.
	MaxPayloadSize = 0x3FFF

	// TagSize is the authentication tag appended by every seal.
	TagSize = 16

	// NonceSize is the width of the nonce counter.
	NonceSize = 12

	lengthSize = 2

	// Overhead is the framing cost of one chunk.
	Overhead = lengthSize + TagSize + TagSize
)

var (
	// ErrAuthFailure reports a tag mismatch. The stream cannot be resynchronized.
	ErrAuthFailure = errors.New("aead: message authentication failed")

	// ErrChunkTooLarge reports a decrypted length field above MaxPayloadSize.
	ErrChunkTooLarge = errors.New("aead: chunk length exceeds maximum")
)

// IsCryptoError reports whether err is fatal to the stream it came from.
func IsCryptoError(err error) bool {
	return errors.Is(err, ErrAuthFailure) || errors.Is(err, ErrChunkTooLarge)
}

// Nonce is a little-endian counter.
type Nonce [NonceSize]byte

// Increment adds one, carrying from the least significant byte.
func (n *Nonce) Increment() {
	for i := range n {
		n[i]++
		if n[i] != 0 {
			return
		}
	}
}

// Uint64 returns the low 64 bits of the counter.
func (n *Nonce) Uint64() uint64 {
	return binary.LittleEndian.Uint64(n[:8])
}

// Encryptor seals one direction of a stream.
type Encryptor struct {
	aead     cipher.AEAD
	salt     []byte
	nonce    Nonce
	saltSent bool
}

// NewEncryptor derives a subkey from key and salt. The salt is emitted in
// front of the first chunk.
func NewEncryptor(m Method, key, salt []byte) (*Encryptor, error) {
	a, err := newStreamAEAD(m, key, salt)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: a, salt: append([]byte(nil), salt...)}, nil
}

// Salt returns the salt this encryptor announces.
func (e *Encryptor) Salt() []byte { return e.salt }

// Nonce returns the current counter value.
func (e *Encryptor) Nonce() Nonce { return e.nonce }

// Encrypt appends the chunks for p to dst. Inputs longer than
// MaxPayloadSize are split. An empty p produces no output.
func (e *Encryptor) Encrypt(dst, p []byte) []byte {
	if len(p) == 0 {
		return dst
	}

	if !e.saltSent {
		e.saltSent = true
		dst = append(dst, e.salt...)
	}

	for len(p) > 0 {
		n := min(len(p), MaxPayloadSize)
		dst = e.sealChunk(dst, p[:n])
		p = p[n:]
	}
	return dst
}

func (e *Encryptor) sealChunk(dst, payload []byte) []byte {
	var l [lengthSize]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(payload)))

	dst = e.aead.Seal(dst, e.nonce[:], l[:], nil)
	e.nonce.Increment()
	dst = e.aead.Seal(dst, e.nonce[:], payload, nil)
	e.nonce.Increment()
	return dst
}

// Decryptor opens one direction of a stream. It accepts input in fragments
// of any size and keeps what it cannot use yet.
type Decryptor struct {
	method Method
	key    []byte

	aead  cipher.AEAD
	nonce Nonce
	buf   []byte
}

// NewDecryptor returns a decryptor that derives its subkey once the salt
// has arrived.
func NewDecryptor(m Method, key []byte) *Decryptor {
	return &Decryptor{method: m, key: key}
}

// Nonce returns the current counter value.
func (d *Decryptor) Nonce() Nonce { return d.nonce }

// Buffered returns the number of received bytes not yet consumed.
func (d *Decryptor) Buffered() int { return len(d.buf) }

// Decrypt feeds p to the decoder and appends every plaintext byte that can
// be recovered to dst. Incomplete chunks are kept for the next call with the
// nonce rolled back. A tag mismatch returns ErrAuthFailure.
func (d *Decryptor) Decrypt(dst, p []byte) ([]byte, error) {
	d.buf = append(d.buf, p...)

	if d.aead == nil {
		saltLen := d.method.KeySize
		if len(d.buf) < saltLen {
			return dst, nil
		}
		a, err := newStreamAEAD(d.method, d.key, d.buf[:saltLen])
		if err != nil {
			return dst, err
		}
		d.aead = a
		d.buf = d.buf[saltLen:]
	}

	off := 0
	for {
		out, n, err := d.openChunk(dst, d.buf[off:])
		if err != nil {
			return dst, err
		}
		if n == 0 {
			break
		}
		dst = out
		off += n
	}

	if off > 0 {
		d.buf = d.buf[:copy(d.buf, d.buf[off:])]
	}
	return dst, nil
}

// openChunk opens one chunk from the front of b. It returns n == 0 when b
// holds less than a full chunk, leaving the nonce as it found it.
func (d *Decryptor) openChunk(dst, b []byte) ([]byte, int, error) {
	const hdrLen = lengthSize + TagSize
	if len(b) < hdrLen {
		return dst, 0, nil
	}

	saved := d.nonce

	var l [lengthSize]byte
	if _, err := d.aead.Open(l[:0], d.nonce[:], b[:hdrLen], nil); err != nil {
		return dst, 0, fmt.Errorf("%w: length", ErrAuthFailure)
	}
	size := int(binary.BigEndian.Uint16(l[:]))
	if size > MaxPayloadSize {
		return dst, 0, fmt.Errorf("%w: %d", ErrChunkTooLarge, size)
	}
	d.nonce.Increment()

	end := hdrLen + size + TagSize
	if len(b) < end {
		d.nonce = saved
		return dst, 0, nil
	}

	out, err := d.aead.Open(dst, d.nonce[:], b[hdrLen:end], nil)
	if err != nil {
		return dst, 0, fmt.Errorf("%w: payload", ErrAuthFailure)
	}
	d.nonce.Increment()
	return out, end, nil
}

// Cipher is the cipher context of one connection: an encryptor created
// eagerly with a fresh salt and a decryptor that starts once the peer's
// salt arrives.
type Cipher struct {
	method Method
	enc    *Encryptor
	dec    *Decryptor
}

// NewCipher derives the master key from password and creates both
// directions. The salt is read from crypto/rand.
func NewCipher(m Method, password string) (*Cipher, error) {
	return newCipher(m, password, rand.Reader)
}

func newCipher(m Method, password string, random io.Reader) (*Cipher, error) {
	if m.newAEAD == nil {
		return nil, errors.New("aead: invalid method")
	}
	key := DeriveKey(password, m.KeySize)

	salt := make([]byte, m.KeySize)
	if _, err := io.ReadFull(random, salt); err != nil {
		return nil, fmt.Errorf("aead: salt: %w", err)
	}

	enc, err := NewEncryptor(m, key, salt)
	if err != nil {
		return nil, err
	}
	return &Cipher{method: m, enc: enc, dec: NewDecryptor(m, key)}, nil
}

// Method returns the cipher's method.
func (c *Cipher) Method() Method { return c.method }

// Encryptor returns the outbound direction.
func (c *Cipher) Encryptor() *Encryptor { return c.enc }

// Decryptor returns the inbound direction.
func (c *Cipher) Decryptor() *Decryptor { return c.dec }

// Encrypt appends the encrypted form of p to dst.
func (c *Cipher) Encrypt(dst, p []byte) ([]byte, error) {
	return c.enc.Encrypt(dst, p), nil
}

// Decrypt appends recovered plaintext to dst.
func (c *Cipher) Decrypt(dst, p []byte) ([]byte, error) {
	return c.dec.Decrypt(dst, p)
}

func newStreamAEAD(m Method, key, salt []byte) (cipher.AEAD, error) {
	subkey, err := Subkey(key, salt)
	if err != nil {
		return nil, err
	}
	a, err := m.newAEAD(subkey)
	if err != nil {
		return nil, fmt.Errorf("aead: %s: %w", m.Name, err)
	}
	return a, nil
}
