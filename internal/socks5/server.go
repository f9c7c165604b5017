package socks5

import (
	"errors"
	"fmt"
	"io"
	"net"
)

const handshakeReadSize = 512

// ServerHandshake drives s over conn until the client has sent a CONNECT
// request. It returns the request together with any bytes the client sent
// after it, which belong to the relayed stream. Replies produced along the
// way are written to conn, and on failure the write side of conn has been
// shut down where the protocol calls for it.
//
// The caller dials the target and then writes s.Connected() or
// s.Failed(rep).
func ServerHandshake(conn net.Conn, s *Session) (Request, []byte, error) {
	var (
		buf  []byte
		rbuf = make([]byte, handshakeReadSize)
	)

	for {
		for {
			step, err := s.Advance(buf)
			if errors.Is(err, ErrNeedMore) {
				break
			}
			buf = buf[step.Consumed:]

			if len(step.Reply) > 0 {
				if _, werr := conn.Write(step.Reply); werr != nil && err == nil {
					err = fmt.Errorf("write reply: %w", werr)
				}
			}
			if step.Close {
				CloseWrite(conn)
			}
			if err != nil {
				return Request{}, nil, err
			}
			if step.Request != nil {
				return *step.Request, buf, nil
			}
		}

		n, err := conn.Read(rbuf)
		buf = append(buf, rbuf[:n]...)
		if err != nil && n == 0 {
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return Request{}, nil, fmt.Errorf("read %s: %w", s.State(), err)
		}
	}
}

// CloseWrite shuts down the write side of c, or closes c entirely when it
// has no half-close.
func CloseWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}
