package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/die-net/socksrelay/internal/dialer"
	"github.com/die-net/socksrelay/internal/relay"
	"github.com/die-net/socksrelay/internal/socks5"
	"github.com/die-net/socksrelay/internal/socksaddr"
)

const acceptRetryDelay = 50 * time.Millisecond

// HandlerFunc serves one accepted connection. It owns conn.
type HandlerFunc func(conn net.Conn, log *zap.Logger) error

// Serve accepts connections on ln until it is closed and runs handle for
// each one on its own goroutine. Each connection is logged with a trace id.
// It returns nil once ln has been closed.
func Serve(ln net.Listener, log *zap.Logger, name string, handle HandlerFunc) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn("accept", zap.String("listener", name), zap.Error(err))
				time.Sleep(acceptRetryDelay)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		go func() {
			clog := log.With(
				zap.String("conn", uuid.NewString()),
				zap.String("listener", name),
				zap.Stringer("client", c.RemoteAddr()),
			)
			if err := handle(c, clog); err != nil {
				if ce := clog.Check(zap.DebugLevel, "connection error"); ce != nil {
					ce.Write(zap.Error(err))
				}
			}
		}()
	}
}

// DialTarget connects to target through d. When d tunnels through a
// Shadowsocks server, early is carried in the first encrypted chunk and the
// returned options hold the cipher with the peer as the ciphertext side.
// Otherwise early is written to the new connection as-is.
func DialTarget(ctx context.Context, d dialer.Dialer, target socksaddr.Endpoint, early []byte, opts relay.Options) (net.Conn, relay.Options, error) {
	if cd, ok := d.(dialer.CipherDialer); ok {
		peer, c, err := cd.DialCipher(ctx, target, early)
		if err != nil {
			return nil, opts, err
		}
		opts.Cipher = c
		opts.CiphertextSide = relay.Peer
		return peer, opts, nil
	}

	peer, err := d.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return nil, opts, err
	}
	if len(early) > 0 {
		if _, err := peer.Write(early); err != nil {
			_ = peer.Close()
			return nil, opts, fmt.Errorf("write early data: %w", err)
		}
	}
	return peer, opts, nil
}

const lingerTimeout = time.Second

// lingerClose shuts down the write side of conn and discards whatever the
// client still sends for a short while before closing, so a reply written
// just before is not lost to a reset.
func lingerClose(conn net.Conn) {
	socks5.CloseWrite(conn)
	_ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = io.Copy(io.Discard, conn)
	_ = conn.Close()
}

func setDeadline(conn net.Conn, timeout time.Duration) {
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
}
