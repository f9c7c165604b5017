package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/socksrelay/internal/relay"
	"github.com/die-net/socksrelay/internal/socks5"
)

// SOCKS5Server accepts SOCKS5 CONNECT requests and relays each one to its
// target through cfg.Dialer.
type SOCKS5Server struct {
	ctx   context.Context
	cfg   Config
	arena *relay.Arena
	log   *zap.Logger
}

func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SOCKS5Server{ctx: ctx, cfg: cfg, arena: cfg.arena(), log: cfg.logger()}
}

func (s *SOCKS5Server) Serve(ln net.Listener) error {
	return Serve(ln, s.log, "socks5", s.handle)
}

func (s *SOCKS5Server) handle(conn net.Conn, log *zap.Logger) error {
	setDeadline(conn, s.cfg.NegotiationTimeout)

	sess := socks5.NewSession(s.cfg.Auth)
	req, early, err := socks5.ServerHandshake(conn, sess)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	if ce := log.Check(zap.DebugLevel, "connect"); ce != nil {
		ce.Write(zap.Stringer("target", req.Target), zap.Int("early", len(early)))
	}

	peer, opts, err := DialTarget(s.ctx, s.cfg.Dialer, req.Target, early, s.cfg.Relay)
	if err != nil {
		rep := socks5.ReplyForDialError(err)
		if _, werr := conn.Write(sess.Failed(rep)); werr == nil {
			lingerClose(conn)
		} else {
			_ = conn.Close()
		}
		return fmt.Errorf("connect %s: %s: %w", req.Target, socks5.ReplyText(rep), err)
	}

	if _, err := conn.Write(sess.Connected()); err != nil {
		_ = conn.Close()
		_ = peer.Close()
		return fmt.Errorf("write reply: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	opts.Logger = log
	return s.arena.Relay(s.ctx, conn, peer, opts)
}
