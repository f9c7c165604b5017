package aead

import (
	"net"
)

const readBufferSize = 32 * 1024

// Conn encrypts everything written to it and decrypts everything read from
// it. It is used where a plain blocking stream is more convenient than the
// relay, such as reading the target header on the server side.
type Conn struct {
	net.Conn
	cipher *Cipher

	raw     []byte
	pending []byte
	rerr    error
	wbuf    []byte
}

// NewConn wraps c with cipher.
func NewConn(c net.Conn, cipher *Cipher) *Conn {
	return &Conn{Conn: c, cipher: cipher}
}

// Read returns decrypted plaintext.
func (c *Conn) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		if c.rerr != nil {
			return 0, c.rerr
		}
		if c.raw == nil {
			c.raw = make([]byte, readBufferSize)
		}

		n, err := c.Conn.Read(c.raw)
		if n > 0 {
			out, derr := c.cipher.Decrypt(c.pending[:0], c.raw[:n])
			if derr != nil {
				c.rerr = derr
				return 0, derr
			}
			c.pending = out
		}
		if err != nil {
			c.rerr = err
		}
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Buffered returns plaintext that has been decrypted but not yet read. The
// slice is only valid until the next Read.
func (c *Conn) Buffered() []byte { return c.pending }

// Write encrypts p and writes it in one call.
func (c *Conn) Write(p []byte) (int, error) {
	out, err := c.cipher.Encrypt(c.wbuf[:0], p)
	if err != nil {
		return 0, err
	}
	c.wbuf = out[:0]
	if _, err := c.Conn.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseWrite shuts down the write side when the underlying connection
// supports it.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}
