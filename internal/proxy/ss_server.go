package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/socksrelay/internal/aead"
	"github.com/die-net/socksrelay/internal/relay"
	"github.com/die-net/socksrelay/internal/socksaddr"
)

// ShadowsocksServer accepts Shadowsocks AEAD streams, reads the target
// address from the first decrypted bytes and relays the rest of the stream
// to it through cfg.Dialer.
type ShadowsocksServer struct {
	ctx      context.Context
	cfg      Config
	method   aead.Method
	password string
	arena    *relay.Arena
	log      *zap.Logger
}

func NewShadowsocksServer(ctx context.Context, cfg Config, method aead.Method, password string) *ShadowsocksServer {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ShadowsocksServer{
		ctx:      ctx,
		cfg:      cfg,
		method:   method,
		password: password,
		arena:    cfg.arena(),
		log:      cfg.logger(),
	}
}

func (s *ShadowsocksServer) Serve(ln net.Listener) error {
	return Serve(ln, s.log, "shadowsocks", s.handle)
}

func (s *ShadowsocksServer) handle(conn net.Conn, log *zap.Logger) error {
	c, err := aead.NewCipher(s.method, s.password)
	if err != nil {
		_ = conn.Close()
		return err
	}

	setDeadline(conn, s.cfg.NegotiationTimeout)

	ac := aead.NewConn(conn, c)
	target, err := socksaddr.ReadFrom(ac)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read target: %w", err)
	}

	if ce := log.Check(zap.DebugLevel, "connect"); ce != nil {
		ce.Write(zap.Stringer("target", target), zap.Int("early", len(ac.Buffered())))
	}

	peer, err := s.cfg.Dialer.DialContext(s.ctx, "tcp", target.String())
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("connect %s: %w", target, err)
	}
	if early := ac.Buffered(); len(early) > 0 {
		if _, err := peer.Write(early); err != nil {
			_ = conn.Close()
			_ = peer.Close()
			return fmt.Errorf("write early data: %w", err)
		}
	}
	_ = conn.SetDeadline(time.Time{})

	// The decryptor has consumed exactly the chunks read so far and the
	// relay carries on from there.
	opts := s.cfg.Relay
	opts.Cipher = c
	opts.CiphertextSide = relay.Local
	opts.Logger = log
	return s.arena.Relay(s.ctx, conn, peer, opts)
}
